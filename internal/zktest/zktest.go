// Package zktest provides an in-memory fake implementing mirror.Conn,
// so internal/mirror can be exercised without a real ZooKeeper
// ensemble. It mirrors the role the teacher's pkg/ingest tests get from
// kfake for the Kafka wire protocol, but hand-rolled against
// samuel/go-zookeeper/zk's Stat/Event shapes since no ZooKeeper fake of
// that kind exists in the corpus.
package zktest

import (
	"sync"

	"github.com/samuel/go-zookeeper/zk"
)

type znode struct {
	data     []byte
	version  int32
	mtime    int64
	children map[string]bool
}

// watcher is a one-shot channel armed against a single path, fired and
// discarded on the next mutation that affects it, matching real
// ZooKeeper watch semantics.
type watcher struct {
	ch   chan zk.Event
	kind watchKind
}

type watchKind int

const (
	dataWatch watchKind = iota
	childWatch
)

// FakeConn is a minimal in-memory ZooKeeper tree. The zero value is not
// usable; construct with New. Safe for concurrent use.
type FakeConn struct {
	mu       sync.Mutex
	nodes    map[string]*znode
	watchers map[string][]watcher
	clock    int64
}

// New returns a FakeConn containing only the root path "".
func New() *FakeConn {
	return &FakeConn{
		nodes:    map[string]*znode{"": {children: make(map[string]bool)}},
		watchers: make(map[string][]watcher),
	}
}

// Create adds path with the given data. Like ZooKeeper's own Create, it
// does not create missing parents: a path whose parent does not exist
// is stored but never listed as anyone's child, so tests call Create in
// parent-first order.
func (c *FakeConn) Create(path string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createLocked(path, data)
}

func (c *FakeConn) createLocked(path string, data []byte) {
	c.clock++
	n, existed := c.nodes[path]
	if !existed {
		n = &znode{children: make(map[string]bool)}
		c.nodes[path] = n
	}
	n.data = data
	n.version++
	n.mtime = c.clock

	parent, name := splitPath(path)
	if name != "" {
		if pn, ok := c.nodes[parent]; ok {
			pn.children[name] = true
			c.fireChildWatchersLocked(parent)
		}
	}
	c.fireDataWatchersLocked(path, zk.EventNodeDataChanged)
}

// SetData overwrites the data at an existing path and fires its data
// watchers.
func (c *FakeConn) SetData(path string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock++
	n, ok := c.nodes[path]
	if !ok {
		n = &znode{children: make(map[string]bool)}
		c.nodes[path] = n
	}
	n.data = data
	n.version++
	n.mtime = c.clock
	c.fireDataWatchersLocked(path, zk.EventNodeDataChanged)
}

// Delete removes path (and, recursively, everything beneath it) and
// fires the appropriate watchers: a data-deleted event at path, and a
// child-changed event at its parent.
func (c *FakeConn) Delete(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock++

	for p := range c.nodes {
		if p == path || (len(p) > len(path) && p[:len(path)+1] == path+"/") {
			delete(c.nodes, p)
		}
	}

	parent, name := splitPath(path)
	if pn, ok := c.nodes[parent]; ok {
		delete(pn.children, name)
		c.fireChildWatchersLocked(parent)
	}
	c.fireDataWatchersLocked(path, zk.EventNodeDeleted)
}

func splitPath(path string) (parent, name string) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return "", path
}

func (c *FakeConn) fireDataWatchersLocked(path string, evType zk.EventType) {
	for _, w := range c.watchers[path] {
		if w.kind == dataWatch {
			w.ch <- zk.Event{Type: evType, Path: path}
			close(w.ch)
		}
	}
	delete(c.watchers, path)
}

func (c *FakeConn) fireChildWatchersLocked(path string) {
	remaining := c.watchers[path][:0]
	for _, w := range c.watchers[path] {
		if w.kind == childWatch {
			w.ch <- zk.Event{Type: zk.EventNodeChildrenChanged, Path: path}
			close(w.ch)
		} else {
			remaining = append(remaining, w)
		}
	}
	if len(remaining) == 0 {
		delete(c.watchers, path)
	} else {
		c.watchers[path] = remaining
	}
}

// Get implements mirror.Conn.
func (c *FakeConn) Get(path string) ([]byte, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[path]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return n.data, &zk.Stat{Version: n.version, Mtime: n.mtime}, nil
}

// GetW implements mirror.Conn.
func (c *FakeConn) GetW(path string) ([]byte, *zk.Stat, <-chan zk.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[path]
	if !ok {
		return nil, nil, nil, zk.ErrNoNode
	}
	ch := make(chan zk.Event, 1)
	c.watchers[path] = append(c.watchers[path], watcher{ch: ch, kind: dataWatch})
	return n.data, &zk.Stat{Version: n.version, Mtime: n.mtime}, ch, nil
}

// Children implements mirror.Conn.
func (c *FakeConn) Children(path string) ([]string, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[path]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	return names, &zk.Stat{Version: n.version, Mtime: n.mtime}, nil
}

// ChildrenW implements mirror.Conn.
func (c *FakeConn) ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[path]
	if !ok {
		return nil, nil, nil, zk.ErrNoNode
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	ch := make(chan zk.Event, 1)
	c.watchers[path] = append(c.watchers[path], watcher{ch: ch, kind: childWatch})
	return names, &zk.Stat{Version: n.version, Mtime: n.mtime}, ch, nil
}
