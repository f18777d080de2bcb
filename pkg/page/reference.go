package page

import "sync/atomic"

// Reference is the slot through which a parent points at a child page; it
// is also the identity a child uses to find its way back to its parent
// without the page itself owning a back-pointer. The distinguished root
// Reference is observed by the map and swung atomically whenever the root
// changes (structural mutation under the tree's write latch; lockless read).
type Reference struct {
	page atomic.Pointer[Page]

	// Parent records this reference's ancestor at construction time. It is
	// not kept consistent across later mutations of sibling subtrees (a
	// reused, unmodified child keeps the Parent it was built with, which a
	// subsequent sibling split can make stale), so tree traversal must not
	// rely on it; no code in this module reads it after construction. Nil
	// for the root reference.
	Parent *Reference

	// PKey is the separator key (and first/pos) this reference occupied in
	// its parent's Separators at construction time.
	PKey Key
}

// NewReference creates a Reference holding p, optionally under parent.
func NewReference(p *Page, parent *Reference, key Key) *Reference {
	ref := &Reference{Parent: parent, PKey: key}
	ref.page.Store(p)
	return ref
}

// Page returns the currently published page for this reference. Safe to
// call from any goroutine without synchronization; readers never observe a
// partially constructed page because Swing only runs after the replacement
// is fully built.
func (r *Reference) Page() *Page {
	return r.page.Load()
}

// Swing atomically replaces the page published at this reference. Callers
// must hold the tree's write latch (or, for the root reference, be the sole
// writer coordinated by the page-operation handler that owns this subtree).
func (r *Reference) Swing(p *Page) {
	r.page.Store(p)
}

// CompareAndSwing swings the reference from old to new iff it is currently
// old, matching the append path's maxKey-reservation style optimistic
// update for reference slots that may be concurrently replaced by a sibling
// split.
func (r *Reference) CompareAndSwing(old, new *Page) bool {
	return r.page.CompareAndSwap(old, new)
}
