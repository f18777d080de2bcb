package btree

import (
	"lealone/pkg/page"
	"lealone/pkg/types"
)

// entry is one (key, value) pair yielded by a Cursor.
type entry struct {
	Key   types.Value
	Value types.Value
}

// Cursor is a single-pass, forward iterator over (key, value) pairs in key
// order. It is not lazy: the constructor walks a single root snapshot and
// copies every matching pair up front, so nothing written after the cursor
// is built is visible through it, and Next only steps through that copy.
type Cursor struct {
	cmp types.Comparator

	from, to *types.Value

	entries []entry
	pos     int
}

// Cursor returns a new Cursor over [from, to) in key order. from and to may
// be nil for an unbounded start/end. If pageKeys is non-empty, the cursor
// iterates only those leaf pages, in the given order, restricted to the
// given keys set membership by first flag (used by sharding to iterate a
// specific subset of leaves without walking the whole tree).
func (m *Map) Cursor(from, to *types.Value, pageKeys []page.Key) *Cursor {
	root := m.root.Page()

	var leaves []*page.Page
	if len(pageKeys) > 0 {
		leaves = leavesMatching(root, pageKeys, m.cmp)
	} else {
		collectLeaves(root, &leaves)
	}

	c := &Cursor{cmp: m.cmp, from: from, to: to}
	for _, leaf := range leaves {
		if !leaf.IsLeaf() {
			continue
		}
		for i, k := range leaf.Keys {
			if from != nil && m.cmp.Compare(k, *from) < 0 {
				continue
			}
			if to != nil && m.cmp.Compare(k, *to) >= 0 {
				continue
			}
			c.entries = append(c.entries, entry{Key: k, Value: leaf.Values[i]})
		}
	}
	return c
}

// leavesMatching restricts the snapshot's leaves to those whose first
// separator key (recorded at construction) matches one of the requested
// PageKeys, preserving the caller's requested order.
func leavesMatching(root *page.Page, pageKeys []page.Key, cmp types.Comparator) []*page.Page {
	var all []*page.Page
	collectLeaves(root, &all)

	keyed := make([]struct {
		key page.Key
		pg  *page.Page
	}, 0, len(all))
	for _, l := range all {
		if !l.IsLeaf() || len(l.Keys) == 0 {
			continue
		}
		keyed = append(keyed, struct {
			key page.Key
			pg  *page.Page
		}{key: page.Key{K: l.Keys[0], First: true}, pg: l})
	}

	out := make([]*page.Page, 0, len(pageKeys))
	for _, pk := range pageKeys {
		for _, kp := range keyed {
			if page.Equal(kp.key, pk, cmp) {
				out = append(out, kp.pg)
				break
			}
		}
	}
	return out
}

// Next advances the cursor and reports whether a pair was produced.
func (c *Cursor) Next() bool {
	if c.pos >= len(c.entries) {
		return false
	}
	c.pos++
	return true
}

// Key returns the key at the cursor's current position. Valid only after a
// call to Next returned true.
func (c *Cursor) Key() types.Value { return c.entries[c.pos-1].Key }

// Value returns the value at the cursor's current position.
func (c *Cursor) Value() types.Value { return c.entries[c.pos-1].Value }
