// Package btree implements the copy-on-write B-tree map (C2): a tree of
// immutable Leaf/Node/Remote pages whose root reference is swung only after
// a replacement subtree has been fully constructed, giving readers a
// lock-free, always-consistent view while structural writes are serialised
// through the page-operation engine (pkg/pageop).
package btree

import (
	"sort"
	"sync"
	"sync/atomic"

	"lealone/pkg/clock"
	"lealone/pkg/dberrors"
	"lealone/pkg/metrics"
	"lealone/pkg/page"
	"lealone/pkg/pageop"
	"lealone/pkg/types"
)

const (
	defaultMaxLeafSize    = 32
	defaultMaxNodeFanout  = 32
)

// Map is a single COW B-tree keyed by types.Value under an injected
// Comparator. It is the generic storage structure used both directly
// (simple key/value maps) and beneath the transaction engine, which keeps
// its lock/visibility cells in a separate table (pkg/txn) and stores only
// committed values here.
type Map struct {
	Name string

	cmp types.Comparator
	ser types.Serializer

	root *page.Reference

	size   atomic.Int64
	maxKey *clock.Seq

	// mu serialises structural writes across the whole map, standing in for
	// the per-leaf mutual exclusion the page-operation handler pool would
	// otherwise provide (see DESIGN.md).
	mu sync.Mutex
	// latch isolates whole-tree operations (Clear, Close) from concurrent
	// single-key writes and leaf moves, which take its read side; readers
	// never take it.
	latch sync.RWMutex

	handlers *pageop.Factory

	maxLeafSize   int
	maxNodeFanout int

	replicas []string

	closed atomic.Bool

	metrics metrics.Collector

	// onLeafSplit is invoked after a leaf split publishes, carrying the new
	// separator key, per spec.md §4.1's fireLeafPageSplit hook. Under
	// sharding mode the replication layer (C7) uses this to schedule a move
	// of the right half.
	onLeafSplit func(splitKey types.Value)
}

// WithSplitListener installs fn as the leaf-split hook.
func WithSplitListener(fn func(splitKey types.Value)) Option {
	return func(m *Map) { m.onLeafSplit = fn }
}

// Option configures a Map at construction time.
type Option func(*Map)

func WithMaxLeafSize(n int) Option {
	return func(m *Map) {
		if n > 1 {
			m.maxLeafSize = n
		}
	}
}

func WithMaxNodeFanout(n int) Option {
	return func(m *Map) {
		if n > 2 {
			m.maxNodeFanout = n
		}
	}
}

// WithReplicas sets the initial replica-host list stamped onto newly
// created pages, required non-empty once sharding mode is active (I3).
func WithReplicas(hosts []string) Option {
	return func(m *Map) { m.replicas = hosts }
}

func WithMetrics(c metrics.Collector) Option {
	return func(m *Map) {
		if c != nil {
			m.metrics = c
		}
	}
}

// New builds an empty Map: a single empty Leaf as root, matching the empty
// / boundary policy in spec.md §4.1.
func New(name string, cmp types.Comparator, ser types.Serializer, handlers *pageop.Factory, opts ...Option) *Map {
	m := &Map{
		Name:          name,
		cmp:           cmp,
		ser:           ser,
		handlers:      handlers,
		maxKey:        clock.NewSeq(0),
		maxLeafSize:   defaultMaxLeafSize,
		maxNodeFanout: defaultMaxNodeFanout,
		metrics:       metrics.NoopCollector{},
	}
	for _, opt := range opts {
		opt(m)
	}
	empty := page.NewLeaf(nil, nil, m.replicas)
	m.root = page.NewReference(empty, nil, page.Key{})
	return m
}

// Restore installs a root page image, size, and max-key sequence recovered
// from the page store (C1), replacing the empty root New built. Callers must
// call this before any other goroutine can observe m, matching the "load,
// then publish" sequencing of the teacher's own store-open path; Restore
// itself takes no latch.
func (m *Map) Restore(root *page.Page, size int64, maxKey uint64) {
	m.root.Swing(root)
	m.size.Store(size)
	m.maxKey.Set(maxKey)
}

// findLeaf descends the current root snapshot to the leaf that would hold
// key. Readers take no latch: the snapshot they walk is always internally
// consistent because pages are immutable once published (I4).
func (m *Map) findLeaf(root *page.Page, key types.Value) *page.Page {
	p := root
	for p.IsNode() {
		idx := p.PageIndex(key, m.cmp)
		p = p.Children[idx].Page()
	}
	return p
}

// Get returns the value stored at key and true, or the zero Value and false
// if absent or the owning leaf is Remote (not resolvable without the
// replication layer).
func (m *Map) Get(key types.Value) (types.Value, bool) {
	leaf := m.findLeaf(m.root.Page(), key)
	if leaf.IsRemote() {
		return types.Value{}, false
	}
	idx, found := leaf.Find(key, m.cmp)
	if !found {
		return types.Value{}, false
	}
	return leaf.Values[idx], true
}

// Size returns the current key count (I1).
func (m *Map) Size() int64 { return m.size.Load() }

// Serializer returns the Serializer this map was constructed with, used by
// the replication layer (C7) to encode a leaf image for shipping.
func (m *Map) Serializer() types.Serializer { return m.ser }

// LeafAt returns the locally held Leaf page that would own key, or false if
// that leaf's ownership has moved to another replica (a Remote page). Used
// by the replication layer to serve readRemotePage.
func (m *Map) LeafAt(key types.Value) (*page.Page, bool) {
	leaf := m.findLeaf(m.root.Page(), key)
	if leaf.IsRemote() {
		return nil, false
	}
	return leaf, true
}

// collectLeaves walks a page snapshot left to right, appending every Leaf
// or Remote page reached. There is no maintained linked list of leaves, so
// boundary/neighbour queries pay an O(leaves) walk; acceptable for the
// scale this map targets.
func collectLeaves(p *page.Page, out *[]*page.Page) {
	if p.IsNode() {
		for _, c := range p.Children {
			collectLeaves(c.Page(), out)
		}
		return
	}
	*out = append(*out, p)
}

func (m *Map) sortedKeys() []types.Value {
	var leaves []*page.Page
	collectLeaves(m.root.Page(), &leaves)
	var keys []types.Value
	for _, l := range leaves {
		if l.IsLeaf() {
			keys = append(keys, l.Keys...)
		}
	}
	return keys
}

// FirstKey returns the smallest key in the map.
func (m *Map) FirstKey() (types.Value, bool) {
	keys := m.sortedKeys()
	if len(keys) == 0 {
		return types.Value{}, false
	}
	return keys[0], true
}

// LastKey returns the largest key in the map.
func (m *Map) LastKey() (types.Value, bool) {
	keys := m.sortedKeys()
	if len(keys) == 0 {
		return types.Value{}, false
	}
	return keys[len(keys)-1], true
}

// FloorKey returns the largest key <= key.
func (m *Map) FloorKey(key types.Value) (types.Value, bool) {
	keys := m.sortedKeys()
	idx := sort.Search(len(keys), func(i int) bool { return m.cmp.Compare(keys[i], key) > 0 })
	if idx == 0 {
		return types.Value{}, false
	}
	return keys[idx-1], true
}

// CeilingKey returns the smallest key >= key.
func (m *Map) CeilingKey(key types.Value) (types.Value, bool) {
	keys := m.sortedKeys()
	idx := sort.Search(len(keys), func(i int) bool { return m.cmp.Compare(keys[i], key) >= 0 })
	if idx == len(keys) {
		return types.Value{}, false
	}
	return keys[idx], true
}

// HigherKey returns the smallest key > key.
func (m *Map) HigherKey(key types.Value) (types.Value, bool) {
	keys := m.sortedKeys()
	idx := sort.Search(len(keys), func(i int) bool { return m.cmp.Compare(keys[i], key) > 0 })
	if idx == len(keys) {
		return types.Value{}, false
	}
	return keys[idx], true
}

// LowerKey returns the largest key < key.
func (m *Map) LowerKey(key types.Value) (types.Value, bool) {
	keys := m.sortedKeys()
	idx := sort.Search(len(keys), func(i int) bool { return m.cmp.Compare(keys[i], key) >= 0 })
	if idx == 0 {
		return types.Value{}, false
	}
	return keys[idx-1], true
}

// Clear resets the map to a single empty leaf root. Whole-tree operation:
// takes the write side of the latch, excluding any in-flight single-key
// write.
func (m *Map) Clear() error {
	m.latch.Lock()
	defer m.latch.Unlock()

	if m.closed.Load() {
		return dberrors.ErrClosed
	}
	empty := page.NewLeaf(nil, nil, m.replicas)
	m.root.Swing(empty)
	m.size.Store(0)
	return nil
}

// Close marks the map unusable for further writes. Idempotent.
func (m *Map) Close() error {
	m.latch.Lock()
	defer m.latch.Unlock()
	m.closed.Store(true)
	return nil
}

func (m *Map) IsClosed() bool { return m.closed.Load() }

// Root returns the current root page snapshot, used by the page store (C1)
// to persist and by Stats.
func (m *Map) Root() *page.Page { return m.root.Page() }

// MaxKeySeq exposes the append key sequence so the page store can persist
// and restore it.
func (m *Map) MaxKeySeq() *clock.Seq { return m.maxKey }
