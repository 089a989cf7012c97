package freshness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_AdvanceIsMonotonic(t *testing.T) {
	var c Clock

	ticks := []int64{100, 250, 200, 250, 400}
	restore := stubNow(ticks)
	defer restore()

	var last int64
	for _, want := range []int64{100, 250, 250, 250, 400} {
		got := c.Advance()
		require.GreaterOrEqual(t, got, last)
		assert.Equal(t, want, got)
		last = got
	}
	assert.Equal(t, int64(400), c.Value())
}

func TestClock_HasNoveltySince(t *testing.T) {
	var c Clock
	restore := stubNow([]int64{1000})
	defer restore()

	c.Advance()
	assert.True(t, c.HasNoveltySince(999))
	assert.False(t, c.HasNoveltySince(1000))
	assert.False(t, c.HasNoveltySince(1001))
}

func stubNow(values []int64) func() {
	orig := NowFunc
	i := 0
	NowFunc = func() int64 {
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v
	}
	return func() { NowFunc = orig }
}
