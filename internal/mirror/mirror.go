// Package mirror maintains a local, eventually-consistent shadow of a
// ZooKeeper path, in one of two modes: Subtree (a full recursive shadow
// of every descendant) or SingleLevel (children plus their data, no
// recursion). It is grounded on the watch-get-rearm recursion used by
// Kafka-adjacent ZooKeeper watchers in the wild (see
// samuel/go-zookeeper/zk consumers such as Burrow's KafkaZkClient),
// generalized into the two generic shapes this component needs.
package mirror

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/samuel/go-zookeeper/zk"

	"github.com/grafana/dskit/backoff"
	"github.com/grafana/kafka-cartographer/clusterobserver/model"
	"github.com/grafana/kafka-cartographer/internal/freshness"
)

// Mode selects whether a Mirror recursively shadows every descendant
// (Subtree) or only the immediate children of Root (SingleLevel).
type Mode int

const (
	Subtree Mode = iota
	SingleLevel
)

// EventKind enumerates the lifecycle notifications a Mirror emits.
type EventKind int

const (
	Initialized EventKind = iota
	NodeAdded
	NodeRemoved
	NodeUpdated
	ChildAdded
	ChildUpdated
	ChildRemoved
)

// Event is delivered to a Mirror's OnEvent callback. Path is relative to
// the mirror's Root ("" for the root itself).
type Event struct {
	Kind EventKind
	Path string
}

// Conn is the subset of *zk.Conn a Mirror needs; satisfied by *zk.Conn
// and by the in-memory fake used in tests (internal/zktest).
type Conn interface {
	Get(path string) ([]byte, *zk.Stat, error)
	GetW(path string) ([]byte, *zk.Stat, <-chan zk.Event, error)
	Children(path string) ([]string, *zk.Stat, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
}

type node struct {
	version  int32
	data     []byte
	mtime    int64
	children map[string]bool
}

// Mirror shadows one ZooKeeper path.
type Mirror struct {
	conn    Conn
	root    string
	mode    Mode
	logger  log.Logger
	clock   *freshness.Clock
	onEvent func(Event)
	backoff backoff.Config

	mu    sync.RWMutex
	nodes map[string]*node // relative path ("" == root) -> node

	stopped chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Mirror at construction.
type Option func(*Mirror)

// WithBackoff overrides the default resync backoff.
func WithBackoff(cfg backoff.Config) Option {
	return func(m *Mirror) { m.backoff = cfg }
}

// New creates a Mirror for root, in the given Mode. onEvent is invoked
// from the mirror's internal goroutine(s); callers that need
// serialised processing (the observer's single-writer actor) must
// enqueue the event rather than act on it inline.
func New(conn Conn, root string, mode Mode, clock *freshness.Clock, logger log.Logger, onEvent func(Event), opts ...Option) *Mirror {
	m := &Mirror{
		conn:    conn,
		root:    root,
		mode:    mode,
		logger:  log.With(logger, "mirror", root),
		clock:   clock,
		onEvent: onEvent,
		nodes:   make(map[string]*node),
		stopped: make(chan struct{}),
		backoff: backoff.Config{MinBackoff: 100 * time.Millisecond, MaxBackoff: 10 * time.Second, MaxRetries: 0},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start performs the initial sync and arms all watches. It returns once
// the root and (for Subtree mode) every descendant has been read once.
func (m *Mirror) Start() error {
	if err := m.syncNode(""); err != nil {
		return fmt.Errorf("mirror %s: initial sync failed: %w", m.root, err)
	}
	m.emit(Event{Kind: Initialized, Path: ""})
	return nil
}

// Stop releases the mirror. In-flight watch goroutines observe the
// closed channel and exit on their next event or reconnect attempt.
func (m *Mirror) Stop() {
	select {
	case <-m.stopped:
	default:
		close(m.stopped)
	}
	m.wg.Wait()
}

func (m *Mirror) absPath(rel string) string {
	if rel == "" {
		return m.root
	}
	return m.root + "/" + rel
}

// syncNode fetches data+children for rel (re)arms its watches, and for
// Subtree mode recurses into any children not yet known.
func (m *Mirror) syncNode(rel string) error {
	path := m.absPath(rel)

	data, stat, dataEvents, err := m.conn.GetW(path)
	if err != nil {
		return err
	}

	var childNames []string
	var childEvents <-chan zk.Event
	if rel == "" || m.mode == Subtree {
		childNames, _, childEvents, err = m.conn.ChildrenW(path)
		if err != nil {
			return err
		}
	}

	m.mu.Lock()
	n, existed := m.nodes[rel]
	if !existed {
		n = &node{children: make(map[string]bool)}
		m.nodes[rel] = n
	}
	n.version = stat.Version
	n.data = data
	n.mtime = stat.Mtime
	m.mu.Unlock()

	m.wg.Add(1)
	go m.watchData(rel, dataEvents)

	if childEvents != nil {
		m.wg.Add(1)
		go m.watchChildren(rel, childEvents)
	}

	if rel == "" || m.mode == Subtree {
		return m.reconcileChildren(rel, childNames)
	}
	return nil
}

// reconcileChildren diffs the freshly listed children of rel against
// what the mirror already knows, emitting Added/Removed events and (for
// Subtree mode) recursing into newly discovered children.
func (m *Mirror) reconcileChildren(rel string, childNames []string) error {
	seen := make(map[string]bool, len(childNames))
	for _, name := range childNames {
		seen[name] = true

		childRel := name
		if rel != "" {
			childRel = rel + "/" + name
		}

		m.mu.RLock()
		_, known := m.nodes[childRel]
		m.mu.RUnlock()
		if known {
			continue
		}

		if m.mode == Subtree {
			if err := m.syncNode(childRel); err != nil {
				level.Warn(m.logger).Log("msg", "failed to sync child node", "path", childRel, "err", err)
				continue
			}
			m.emit(Event{Kind: NodeAdded, Path: childRel})
		} else {
			data, stat, dataEvents, err := m.conn.GetW(m.absPath(childRel))
			if err != nil {
				level.Warn(m.logger).Log("msg", "failed to read child node", "path", childRel, "err", err)
				continue
			}
			m.mu.Lock()
			m.nodes[childRel] = &node{version: stat.Version, data: data, mtime: stat.Mtime}
			m.mu.Unlock()
			m.wg.Add(1)
			go m.watchData(childRel, dataEvents)
			m.emit(Event{Kind: ChildAdded, Path: childRel})
		}
	}

	m.mu.Lock()
	n := m.nodes[rel]
	var removed []string
	for name := range n.children {
		if !seen[name] {
			removed = append(removed, name)
		}
	}
	n.children = seen
	m.mu.Unlock()

	for _, name := range removed {
		childRel := name
		if rel != "" {
			childRel = rel + "/" + name
		}
		m.removeSubtree(childRel)
		if m.mode == Subtree {
			m.emit(Event{Kind: NodeRemoved, Path: childRel})
		} else {
			m.emit(Event{Kind: ChildRemoved, Path: childRel})
		}
	}

	m.clock.Advance()
	return nil
}

// removeSubtree purges rel and every descendant known to the mirror,
// recursing through each node's own children bookkeeping rather than
// deleting only one level: a topic or consumer group is several
// levels deep (.../partitions/<p>/state, .../offsets/<t>/<p>), and a
// one-level purge would orphan grandchildren that a subsequent
// reconcileChildren would then mistake for already-known, stale, data.
func (m *Mirror) removeSubtree(rel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeSubtreeLocked(rel)
}

func (m *Mirror) removeSubtreeLocked(rel string) {
	n, ok := m.nodes[rel]
	if !ok {
		return
	}
	for name := range n.children {
		childRel := name
		if rel != "" {
			childRel = rel + "/" + name
		}
		m.removeSubtreeLocked(childRel)
	}
	delete(m.nodes, rel)
}

func (m *Mirror) watchData(rel string, events <-chan zk.Event) {
	defer m.wg.Done()
	select {
	case <-m.stopped:
		return
	case ev, ok := <-events:
		if !ok {
			return
		}
		m.handleDataEvent(rel, ev)
	}
}

func (m *Mirror) handleDataEvent(rel string, ev zk.Event) {
	if ev.Type == zk.EventSession {
		m.handleSessionEvent(ev)
		return
	}
	if ev.Type == zk.EventNodeDeleted {
		return
	}

	data, stat, dataEvents, err := m.conn.GetW(m.absPath(rel))
	if err != nil {
		level.Warn(m.logger).Log("msg", "failed to refresh node data", "path", rel, "err", err)
		return
	}

	m.mu.Lock()
	n, ok := m.nodes[rel]
	if !ok {
		// The node was purged from the mirror after this watch was armed.
		// Dropping the event keeps it from coming back as an orphan; if the
		// path was recreated, its parent's child reconcile adds it again.
		m.mu.Unlock()
		return
	}
	n.version = stat.Version
	n.data = data
	n.mtime = stat.Mtime
	m.mu.Unlock()

	m.wg.Add(1)
	go m.watchData(rel, dataEvents)

	m.clock.Advance()
	if m.mode == Subtree {
		m.emit(Event{Kind: NodeUpdated, Path: rel})
	} else {
		m.emit(Event{Kind: ChildUpdated, Path: rel})
	}
}

func (m *Mirror) watchChildren(rel string, events <-chan zk.Event) {
	defer m.wg.Done()
	select {
	case <-m.stopped:
		return
	case ev, ok := <-events:
		if !ok {
			return
		}
		if ev.Type == zk.EventSession {
			m.handleSessionEvent(ev)
			return
		}
		if err := m.resyncChildren(rel); err != nil {
			level.Warn(m.logger).Log("msg", "failed to resync children", "path", rel, "err", err)
		}
	}
}

func (m *Mirror) resyncChildren(rel string) error {
	names, _, events, err := m.conn.ChildrenW(m.absPath(rel))
	if err != nil {
		return err
	}
	m.wg.Add(1)
	go m.watchChildren(rel, events)
	return m.reconcileChildren(rel, names)
}

// handleSessionEvent reacts to ZooKeeper session-state notifications
// delivered alongside data/child watches. On reconnection the mirror
// performs a full resync of the root so that the snapshot is never
// torn, per the mirror's eventual-consistency contract.
func (m *Mirror) handleSessionEvent(ev zk.Event) {
	if ev.State != zk.StateHasSession && ev.State != zk.StateConnected {
		return
	}
	b := backoff.New(context.Background(), m.backoff)
	for b.Ongoing() {
		if err := m.syncNode(""); err == nil {
			return
		}
		b.Wait()
	}
}

// CurrentDataAt returns the (version, bytes) stored at path (relative to
// Root), if the mirror currently has it. In SingleLevel mode only the
// root and its immediate children are known.
func (m *Mirror) CurrentDataAt(path string) (model.VersionedBytes, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[path]
	if !ok {
		return model.VersionedBytes{}, false
	}
	return model.VersionedBytes{Version: n.version, Data: n.data, MtimeMillis: n.mtime}, true
}

// CurrentChildrenOf returns the known children of path (relative to
// Root) with their (version, bytes), or false if path itself is unknown.
func (m *Mirror) CurrentChildrenOf(path string) (map[string]model.VersionedBytes, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[path]
	if !ok {
		return nil, false
	}
	out := make(map[string]model.VersionedBytes, len(n.children))
	for name := range n.children {
		childRel := name
		if path != "" {
			childRel = path + "/" + name
		}
		if child, ok := m.nodes[childRel]; ok {
			out[name] = model.VersionedBytes{Version: child.version, Data: child.data, MtimeMillis: child.mtime}
		}
	}
	return out, true
}

// PathSnapshot is one entry of a SingleLevel mirror's Snapshot.
type PathSnapshot struct {
	Path string
	model.VersionedBytes
}

// Snapshot returns every currently known child of Root, with its
// (version, bytes). SingleLevel mode only.
func (m *Mirror) Snapshot() []PathSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PathSnapshot, 0, len(m.nodes))
	for path, n := range m.nodes {
		if path == "" {
			continue
		}
		out = append(out, PathSnapshot{Path: path, VersionedBytes: model.VersionedBytes{Version: n.version, Data: n.data, MtimeMillis: n.mtime}})
	}
	return out
}

func (m *Mirror) emit(ev Event) {
	if m.onEvent != nil {
		m.onEvent(ev)
	}
}
