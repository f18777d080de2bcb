package btree

import (
	"lealone/pkg/page"
	"lealone/pkg/types"
)

// frame is one level of the descent stack collected while resolving the
// leaf that owns a write's key. childIdx is the index into page.Children
// that was followed to reach the next frame (-1 for the leaf frame itself).
type frame struct {
	ref      *page.Reference
	page     *page.Page
	childIdx int
}

// descend walks from the root to the leaf that would hold key, recording
// each node frame so a structural change can be rebuilt bottom-up without
// re-descending or relying on parent back-pointers.
func (m *Map) descend(key types.Value) []frame {
	stack := make([]frame, 0, 4)
	ref := m.root
	p := ref.Page()
	for p.IsNode() {
		idx := p.PageIndex(key, m.cmp)
		stack = append(stack, frame{ref: ref, page: p, childIdx: idx})
		ref = p.Children[idx]
		p = ref.Page()
	}
	stack = append(stack, frame{ref: ref, page: p, childIdx: -1})
	return stack
}

// splitLeaf divides a leaf's sorted key/value slices into two new Leaf
// pages around the median key, per the "leaf exceeds the fanout" rule in
// spec.md §4.1.
func (m *Map) splitLeaf(keys, values []types.Value, replicas []string) (left, right *page.Page, splitKey types.Value) {
	mid := len(keys) / 2

	leftKeys := append([]types.Value(nil), keys[:mid]...)
	leftValues := append([]types.Value(nil), values[:mid]...)
	rightKeys := append([]types.Value(nil), keys[mid:]...)
	rightValues := append([]types.Value(nil), values[mid:]...)

	left = page.NewLeaf(leftKeys, leftValues, replicas)
	right = page.NewLeaf(rightKeys, rightValues, replicas)
	splitKey = rightKeys[0]
	return left, right, splitKey
}

// commitLeaf publishes a single replacement leaf with no structural
// growth.
func (m *Map) commitLeaf(stack []frame, newLeaf *page.Page) {
	ref := page.NewReference(newLeaf, nil, page.Key{})
	m.swingAncestors(stack, len(stack)-1, []*page.Reference{ref}, nil)
}

// commitSplit publishes a leaf split as two replacement leaves joined by
// splitKey in the parent, propagating upward (and growing the root) as
// needed.
func (m *Map) commitSplit(stack []frame, left, right *page.Page, splitKey types.Value) {
	leftRef := page.NewReference(left, nil, page.Key{})
	rightRef := page.NewReference(right, nil, page.Key{})
	m.swingAncestors(stack, len(stack)-1, []*page.Reference{leftRef, rightRef}, &splitKey)
}

// swingAncestors rebuilds every ancestor of the frame at frameIdx (which has
// already been replaced by newChildRefs, joined by newSepKey if it is a
// split) up to and including the root reference. One new Page/Reference is
// built per level touched; pages outside the path are untouched and shared
// between the old and new tree, which is the defining COW property.
func (m *Map) swingAncestors(stack []frame, frameIdx int, newChildRefs []*page.Reference, newSepKey *types.Value) {
	if frameIdx == 0 {
		if len(newChildRefs) == 1 {
			m.root.Swing(newChildRefs[0].Page())
			return
		}
		newRoot := page.NewNode([]types.Value{*newSepKey}, newChildRefs, m.replicas)
		m.root.Swing(newRoot)
		return
	}

	parentFrame := stack[frameIdx-1]
	seps, children := parentFrame.page.CloneNode()
	idx := parentFrame.childIdx

	if len(newChildRefs) == 1 {
		children[idx] = newChildRefs[0]
		newParent := page.NewNode(seps, children, parentFrame.page.ReplicationHostIds)
		m.swingAncestors(stack, frameIdx-1, []*page.Reference{page.NewReference(newParent, nil, page.Key{})}, nil)
		return
	}

	newChildren := make([]*page.Reference, 0, len(children)+1)
	newChildren = append(newChildren, children[:idx]...)
	newChildren = append(newChildren, newChildRefs[0], newChildRefs[1])
	newChildren = append(newChildren, children[idx+1:]...)

	newSeps := make([]types.Value, 0, len(seps)+1)
	newSeps = append(newSeps, seps[:idx]...)
	newSeps = append(newSeps, *newSepKey)
	newSeps = append(newSeps, seps[idx:]...)

	if len(newChildren) <= m.maxNodeFanout {
		newParent := page.NewNode(newSeps, newChildren, parentFrame.page.ReplicationHostIds)
		m.swingAncestors(stack, frameIdx-1, []*page.Reference{page.NewReference(newParent, nil, page.Key{})}, nil)
		return
	}

	mid := len(newChildren) / 2
	leftChildren := newChildren[:mid]
	rightChildren := newChildren[mid:]
	leftSeps := newSeps[:mid-1]
	rightSeps := newSeps[mid:]
	medianSep := newSeps[mid-1]

	leftPage := page.NewNode(leftSeps, leftChildren, parentFrame.page.ReplicationHostIds)
	rightPage := page.NewNode(rightSeps, rightChildren, parentFrame.page.ReplicationHostIds)

	m.swingAncestors(
		stack, frameIdx-1,
		[]*page.Reference{page.NewReference(leftPage, nil, page.Key{}), page.NewReference(rightPage, nil, page.Key{})},
		&medianSep,
	)
}
