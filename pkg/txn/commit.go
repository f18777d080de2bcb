package txn

import "lealone/pkg/dberrors"

// Commit converts every cell this transaction owns into its committed
// value, in undo-log order, then releases the cells and wakes any waiters
// queued on them, matching UndoLog.commit followed by
// wakeUpWaitingTransaction.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return dberrors.ErrSessionClosed
	}
	records := make([]*UndoLogRecord, len(t.undo.records))
	copy(records, t.undo.records)
	participants := t.participants
	t.state = StateCommitting
	t.mu.Unlock()

	seen := make(map[*cell]bool, len(records))
	var cells []*cell
	for _, r := range records {
		if !seen[r.cell] {
			seen[r.cell] = true
			cells = append(cells, r.cell)
		}
		if err := t.applyRecord(r); err != nil {
			return err
		}
	}

	for _, c := range cells {
		c.mu.Lock()
		c.owner = nil
		c.hasUncommitted = false
		c.uncommittedRemove = false
		c.wakeAllLocked()
		c.mu.Unlock()
	}

	for _, p := range participants {
		p.CommitFinal()
	}

	t.mu.Lock()
	t.undo = UndoLog{}
	t.savepoints = nil
	t.state = StateClosed
	t.mu.Unlock()
	return nil
}

// applyRecord publishes the current pending value of r's cell into the
// underlying pkg/btree.Map. Several records in one transaction can share a
// cell (repeated writes to the same key); applying more than once is
// redundant but harmless since the cell always holds the latest value.
func (t *Transaction) applyRecord(r *UndoLogRecord) error {
	t.engine.mapsMu.RLock()
	m, ok := t.engine.maps[r.MapName]
	t.engine.mapsMu.RUnlock()
	if !ok {
		return nil
	}

	r.cell.mu.Lock()
	remove := r.cell.uncommittedRemove
	value := r.cell.uncommitted
	r.cell.mu.Unlock()

	if remove {
		_, _, err := m.store.Remove(r.Key)
		return err
	}
	_, _, err := m.store.Put(r.Key, value)
	return err
}

// AsyncCommit runs Commit and then task, matching Transaction.asyncCommit;
// the underlying Map writes it triggers already run on the page-operation
// pool, so this simply defers the caller-visible completion.
func (t *Transaction) AsyncCommit(task func()) {
	go func() {
		t.Commit()
		if task != nil {
			task()
		}
	}()
}

// Rollback undoes every write this transaction made and releases its
// locks, matching Transaction.rollback via UndoLog.rollbackTo(0).
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return nil
	}
	participants := t.participants
	t.mu.Unlock()

	t.rollbackToID(0)

	for _, p := range participants {
		p.RollbackTransaction()
	}

	t.mu.Lock()
	t.savepoints = nil
	t.state = StateClosed
	t.mu.Unlock()
	return nil
}
