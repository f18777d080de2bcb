package txn

import (
	"lealone/pkg/btree"
	"lealone/pkg/dberrors"
	"lealone/pkg/types"
)

// Map is a transactional view over a pkg/btree.Map: reads are
// read-committed (a transaction sees its own pending writes, never
// another's), and writes acquire a per-key lock cell shared by every
// Transaction touching this Engine, blocking on conflict rather than
// failing outright.
type Map struct {
	name   string
	store  *btree.Map
	engine *Engine
	ser    types.Serializer
}

func (m *Map) Name() string { return m.name }

// Get returns key's visible value for t: its own uncommitted write if it
// holds one, otherwise the last committed value.
func (m *Map) Get(t *Transaction, key types.Value) (types.Value, bool) {
	if c, ok := m.engine.peekCell(m.name, key, m.ser); ok {
		c.mu.Lock()
		if c.owner == t && c.hasUncommitted {
			remove := c.uncommittedRemove
			v := c.uncommitted
			c.mu.Unlock()
			if remove {
				return types.Value{}, false
			}
			return v, true
		}
		c.mu.Unlock()
	}
	return m.store.Get(key)
}

// Put buffers a write to key under t's lock, blocking (with deadlock
// detection) if another transaction currently owns the key's cell. The
// write is not visible to other transactions until t.Commit.
func (m *Map) Put(t *Transaction, key, value types.Value) error {
	return m.write(t, key, value, false, false)
}

// PutForUpdate is Put but tags the undo record as acquired by a read lock
// rather than a write, matching UndoLogRecord.forUpdate.
func (m *Map) PutForUpdate(t *Transaction, key, value types.Value) error {
	return m.write(t, key, value, false, true)
}

// Remove buffers a delete of key under t's lock.
func (m *Map) Remove(t *Transaction, key types.Value) error {
	return m.write(t, key, types.Value{}, true, false)
}

func (m *Map) write(t *Transaction, key, value types.Value, remove, forUpdate bool) error {
	c := m.engine.cellFor(m.name, key, m.ser)

	for {
		c.mu.Lock()

		switch {
		case c.owner == nil:
			committed, hadCommitted := m.store.Get(key)
			c.owner = t
			c.uncommitted = value
			c.hasUncommitted = true
			c.uncommittedRemove = remove
			c.mu.Unlock()

			t.appendUndo(&UndoLogRecord{
				MapName: m.name, Key: key, HadOld: hadCommitted, OldValue: committed,
				ForUpdate: forUpdate, releasesLock: true, cell: c,
			})
			return nil

		case c.owner == t:
			prevValue := c.uncommitted
			prevHad := c.hasUncommitted && !c.uncommittedRemove
			c.uncommitted = value
			c.uncommittedRemove = remove
			c.hasUncommitted = true
			c.mu.Unlock()

			t.appendUndo(&UndoLogRecord{
				MapName: m.name, Key: key, HadOld: prevHad, OldValue: prevValue,
				ForUpdate: forUpdate, releasesLock: false, cell: c,
			})
			return nil

		default:
			owner := c.owner
			if lockedByChain(owner, t) {
				c.mu.Unlock()
				return dberrors.ErrDeadlock
			}
			w := c.enqueueWaiter(t)
			c.mu.Unlock()

			t.beginWait(owner)
			<-w.wakeCh
			t.endWait()
		}
	}
}

func (t *Transaction) appendUndo(r *UndoLogRecord) {
	t.mu.Lock()
	t.undo.add(r)
	t.mu.Unlock()
}

func (t *Transaction) beginWait(owner *Transaction) {
	t.lockedByMu.Lock()
	t.lockedBy = owner
	t.lockedByMu.Unlock()
	t.setState(StateWaiting)
}

func (t *Transaction) endWait() {
	t.lockedByMu.Lock()
	t.lockedBy = nil
	t.lockedByMu.Unlock()
	t.setState(StateOpen)
}
