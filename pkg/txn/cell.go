package txn

import (
	"sync"

	"lealone/pkg/types"
)

// cell is the MVCC lock/visibility record for one (mapName, key) pair.
// Committed values live in the underlying btree.Map; a cell is created the
// first time a transaction writes the key and stays in the engine's table
// afterwards, carrying pending state only while some transaction owns it —
// readers never consult it except through Map.Get's isolation check.
type cell struct {
	mu sync.Mutex

	// owner is the transaction currently holding the write lock on this
	// key, or nil if unlocked.
	owner *Transaction

	// uncommitted is the value owner would publish on commit; valid only
	// while owner != nil. uncommittedRemove marks a pending delete rather
	// than a pending put.
	uncommitted       types.Value
	hasUncommitted    bool
	uncommittedRemove bool

	// waiters is the FIFO queue of WaitingTransaction entries blocked on
	// owner releasing this cell.
	waiters []*waitEntry
}

type waitEntry struct {
	txn    *Transaction
	wakeCh chan struct{}
}

// enqueueWaiter appends a WaitingTransaction to the cell's FIFO, per
// spec.md §4.4 ("enqueues WaitingTransaction{key, self, listener} on the
// owner"). Caller must hold c.mu.
func (c *cell) enqueueWaiter(t *Transaction) *waitEntry {
	w := &waitEntry{txn: t, wakeCh: make(chan struct{})}
	c.waiters = append(c.waiters, w)
	return w
}

// wakeAllLocked releases every queued waiter in FIFO order (they all
// become eligible to retry; the first to re-acquire the cell wins).
// Caller must hold c.mu.
func (c *cell) wakeAllLocked() {
	waiters := c.waiters
	c.waiters = nil
	for _, w := range waiters {
		close(w.wakeCh)
	}
}
