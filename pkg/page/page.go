// Package page defines the copy-on-write page types that make up a B-tree
// map: Leaf (sorted keys with parallel values), Node (sorted separator keys
// with child references) and Remote (a placeholder for a leaf owned by
// another replica, carrying only its replica-host list). A Page is
// immutable once published: every mutation builds a brand new Page and
// swings the owning Reference, never edits in place.
package page

import (
	"sort"

	"lealone/pkg/types"
)

// Kind discriminates the three page variants.
type Kind uint8

const (
	KindLeaf Kind = iota
	KindNode
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "Leaf"
	case KindNode:
		return "Node"
	case KindRemote:
		return "Remote"
	default:
		return "Unknown"
	}
}

// Key is a separator key paired with the `first` flag that distinguishes
// the left child (first=true) from the right child that share it, and the
// `pos` the separator pointed at when it was recorded. Equality between two
// Keys ignores pos.
type Key struct {
	K     types.Value
	First bool
	Pos   uint64
}

// Equal compares two PageKeys ignoring Pos, per spec.
func Equal(a, b Key, cmp types.Comparator) bool {
	return a.First == b.First && cmp.Compare(a.K, b.K) == 0
}

// Page is one immutable page image. Exactly one of the Leaf or Node field
// groups is populated, selected by Kind.
type Page struct {
	Kind Kind

	// Pos is the chunk+offset the page was last persisted at, or 0 while
	// the page only exists in memory.
	Pos uint64

	// ReplicationHostIds is the ordered replica set for this page. Non-empty
	// for any page once sharding mode is active (I3).
	ReplicationHostIds []string

	// Leaf fields: Keys and Values are parallel, sorted ascending by Keys.
	Keys   []types.Value
	Values []types.Value

	// Node fields: Separators has len(Children)-1 entries; Children[i] holds
	// keys < Separators[i] and (for i > 0) >= Separators[i-1]; the last
	// child holds every key >= the last separator.
	Separators []types.Value
	Children   []*Reference
}

// NewLeaf builds a new Leaf page from already-sorted parallel key/value
// slices. Callers must ensure the slices are sorted by the map's comparator.
func NewLeaf(keys, values []types.Value, replicas []string) *Page {
	return &Page{
		Kind:               KindLeaf,
		Keys:               keys,
		Values:             values,
		ReplicationHostIds: replicas,
	}
}

// NewNode builds a new Node page. len(children) must equal len(separators)+1.
func NewNode(separators []types.Value, children []*Reference, replicas []string) *Page {
	return &Page{
		Kind:               KindNode,
		Separators:         separators,
		Children:           children,
		ReplicationHostIds: replicas,
	}
}

// NewRemote builds a placeholder page for a leaf owned elsewhere.
func NewRemote(replicas []string) *Page {
	return &Page{
		Kind:               KindRemote,
		ReplicationHostIds: replicas,
	}
}

func (p *Page) IsLeaf() bool   { return p.Kind == KindLeaf }
func (p *Page) IsNode() bool   { return p.Kind == KindNode }
func (p *Page) IsRemote() bool { return p.Kind == KindRemote }

// KeyCount returns the number of live keys in a Leaf page, or the number of
// separators in a Node page.
func (p *Page) KeyCount() int {
	if p.IsLeaf() {
		return len(p.Keys)
	}
	return len(p.Separators)
}

// Find returns the index of key within a Leaf's Keys slice via binary
// search, and whether it was found. When not found, index is the position
// key would be inserted at (the standard Go sort.Search insertion-point
// convention), matching the Java source's negative-index encoding without
// the sign trick.
func (p *Page) Find(key types.Value, cmp types.Comparator) (index int, found bool) {
	keys := p.Keys
	idx := sort.Search(len(keys), func(i int) bool {
		return cmp.Compare(keys[i], key) >= 0
	})
	if idx < len(keys) && cmp.Compare(keys[idx], key) == 0 {
		return idx, true
	}
	return idx, false
}

// PageIndex returns the child index a Node page would descend into for key:
// the smallest i such that key < Separators[i], or len(Children)-1 if key is
// greater than or equal to every separator.
func (p *Page) PageIndex(key types.Value, cmp types.Comparator) int {
	seps := p.Separators
	idx := sort.Search(len(seps), func(i int) bool {
		return cmp.Compare(key, seps[i]) < 0
	})
	return idx
}

// CloneLeaf returns a shallow copy of a Leaf page's key/value slices,
// detached from the original backing arrays, ready for in-place mutation
// before being published as a new immutable Page.
func (p *Page) CloneLeaf() (keys, values []types.Value) {
	keys = make([]types.Value, len(p.Keys))
	values = make([]types.Value, len(p.Values))
	copy(keys, p.Keys)
	copy(values, p.Values)
	return keys, values
}

// CloneNode returns a shallow copy of a Node page's separator/children
// slices, detached from the original backing arrays.
func (p *Page) CloneNode() (separators []types.Value, children []*Reference) {
	separators = make([]types.Value, len(p.Separators))
	children = make([]*Reference, len(p.Children))
	copy(separators, p.Separators)
	copy(children, p.Children)
	return separators, children
}
