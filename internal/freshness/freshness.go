// Package freshness implements the monotonic "last observed change"
// clocks used to gate delta queries over a mirrored subtree.
package freshness

import (
	"time"

	"go.uber.org/atomic"
)

// Clock is a monotonic non-decreasing millisecond timestamp, advanced on
// every observed mutation of the mirror it is attached to.
type Clock struct {
	millis atomic.Int64
}

// NowFunc is overridable in tests; defaults to wall-clock milliseconds.
var NowFunc = func() int64 { return time.Now().UnixMilli() }

// Advance bumps the clock to the current time, unless a later value has
// already been recorded (monotonic non-decreasing per the spec).
func (c *Clock) Advance() int64 {
	now := NowFunc()
	for {
		cur := c.millis.Load()
		if now <= cur {
			return cur
		}
		if c.millis.CompareAndSwap(cur, now) {
			return now
		}
	}
}

// Value returns the clock's current millisecond value.
func (c *Clock) Value() int64 {
	return c.millis.Load()
}

// HasNoveltySince reports whether the clock has advanced past sinceMillis,
// i.e. whether a delta query with that watermark should produce a
// response at all.
func (c *Clock) HasNoveltySince(sinceMillis int64) bool {
	return c.Value() > sinceMillis
}
