package txn

import (
	"sync/atomic"

	"lealone/pkg/types"
)

// UndoLogRecord is one entry of a transaction's undo log: the (map, key)
// written, whether it previously existed and what it held, and whether
// this write was for-update (a lock acquired by a plain read, not a
// write). UndoLogRecord is a type UndoLog.java (original_source/
// lealone-aote) references throughout but never defines in a retrieved
// file, so the field shape here is this module's own, sized to what
// UndoLog's commit/rollback/rollbackTo calls need.
type UndoLogRecord struct {
	MapName   string
	Key       types.Value
	HadOld    bool
	OldValue  types.Value
	ForUpdate bool

	// releasesLock is true when this record was the write that first
	// acquired the cell (the owner transitioned from nil to this
	// transaction); undoing it must release the cell entirely rather than
	// just restoring a previous pending value, since before this record
	// the transaction held no lock on the key at all.
	releasesLock bool

	cell *cell
}

// UndoLog is an ordered sequence of UndoLogRecords with a monotonically
// increasing logId, exactly mirroring UndoLog.java: append grows logId,
// rollbackTo pops from the tail back down to a target id.
type UndoLog struct {
	logID   int
	records []*UndoLogRecord
}

// LogID returns the current log position (the next record's would-be
// index).
func (u *UndoLog) LogID() int { return u.logID }

// IsEmpty reports whether any records have been appended.
func (u *UndoLog) IsEmpty() bool { return len(u.records) == 0 }

// add appends a new record and advances logId, matching UndoLog.add.
func (u *UndoLog) add(r *UndoLogRecord) int {
	u.records = append(u.records, r)
	u.logID++
	return u.logID
}

// rollbackTo pops every record with index >= toLogID, restoring the cell's
// visibility to what it held immediately before that record was written,
// walking from the most recent record backward (UndoLog.rollbackTo).
func (u *UndoLog) rollbackTo(toLogID int) {
	for u.logID > toLogID {
		r := u.records[len(u.records)-1]
		u.records = u.records[:len(u.records)-1]
		u.logID--
		r.undo()
	}
}

// undo restores the cell to the state it held immediately before this
// record was written. When this record is the one that first acquired the
// lock, undoing it releases the cell and wakes anyone waiting on it;
// otherwise it restores the transaction's own previous pending value and
// keeps the lock held.
func (r *UndoLogRecord) undo() {
	r.cell.mu.Lock()
	if r.releasesLock {
		r.cell.owner = nil
		r.cell.hasUncommitted = false
		r.cell.uncommittedRemove = false
		r.cell.wakeAllLocked()
	} else {
		r.cell.uncommitted = r.OldValue
		r.cell.hasUncommitted = true
		r.cell.uncommittedRemove = !r.HadOld
	}
	r.cell.mu.Unlock()
}

// toRedoBuffer serialises every record's key/value pair into one buffer
// using ser, matching UndoLog.toRedoLogRecordBuffer's size-hint-capped
// allocation (capped at 1 KiB, mirroring the Java source's lastCapacity
// field clamp).
func (u *UndoLog) toRedoBuffer(ser types.Serializer) []byte {
	if len(u.records) == 0 {
		return nil
	}
	buf := make([]byte, 0, redoBufferHint.Load())
	for _, r := range u.records {
		buf = append(buf, ser.Encode(r.Key)...)
		if r.cell.hasUncommitted && !r.cell.uncommittedRemove {
			buf = append(buf, ser.Encode(r.cell.uncommitted)...)
		} else {
			buf = append(buf, ser.Encode(types.Null())...)
		}
	}
	if n := int64(len(buf)); n < maxRedoBufferHint {
		redoBufferHint.Store(n)
	} else {
		redoBufferHint.Store(maxRedoBufferHint)
	}
	return buf
}

const maxRedoBufferHint = 1024

// redoBufferHint retains the previous redo buffer's size across calls to
// avoid repeated reallocation, capped at 1 KiB (UndoLog.lastCapacity).
var redoBufferHint atomic.Int64

func init() { redoBufferHint.Store(maxRedoBufferHint) }
