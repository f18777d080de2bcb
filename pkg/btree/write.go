package btree

import (
	"context"
	"hash/fnv"

	"lealone/pkg/dberrors"
	"lealone/pkg/page"
	"lealone/pkg/pageop"
	"lealone/pkg/types"
)

// AsyncResult is delivered to the completion handler of an async write,
// matching the external "AsyncResult{value, throwable}" contract of §6.
type AsyncResult struct {
	Value types.Value
	Found bool
	Err   error
}

func affinityOf(key types.Value) uint64 {
	h := fnv.New64a()
	h.Write(types.BinarySerializer{}.Encode(key))
	return h.Sum64()
}

// writeOp is the single pageop.SingleWrite implementation backing Put,
// PutIfAbsent, Replace, Remove and Append. mode selects which of the
// spec's five single-key operations this instance performs.
type writeOp struct {
	m   *Map
	ctx context.Context

	mode        writeMode
	key         types.Value
	value       types.Value
	expectedOld types.Value

	// outputs, valid once Run has returned a terminal result.
	resultValue types.Value
	resultFound bool
	resultKey   types.Value
	err         error
}

type writeMode int

const (
	modePut writeMode = iota
	modePutIfAbsent
	modeReplace
	modeRemove
	modeAppend
)

func (op *writeOp) Affinity() uint64 {
	if op.mode == modeAppend {
		return affinityOf(types.Int64(int64(op.m.maxKey.Val())))
	}
	return affinityOf(op.key)
}

func (op *writeOp) Run() pageop.Result {
	m := op.m
	if !m.mu.TryLock() {
		return pageop.Retry
	}
	defer m.mu.Unlock()

	m.latch.RLock()
	defer m.latch.RUnlock()

	if m.closed.Load() {
		op.err = dberrors.ErrClosed
		return pageop.Succeeded
	}

	key := op.key
	if op.mode == modeAppend {
		key = types.Int64(int64(m.maxKey.Next()))
		op.resultKey = key
	}
	if op.mode != modeRemove && op.value.IsNull() {
		op.err = dberrors.ErrNullValue
		return pageop.Succeeded
	}

	stack := m.descend(key)
	leaf := stack[len(stack)-1].page
	if leaf.IsRemote() {
		// Ownership of this key's leaf moved to another replica (spec.md
		// §4.5's leaf-page move); the caller must re-resolve and retry
		// through the replication layer rather than locally.
		op.err = dberrors.ErrShifted
		return pageop.Shifted
	}
	idx, found := leaf.Find(key, m.cmp)

	switch op.mode {
	case modePutIfAbsent:
		if found {
			op.resultValue = leaf.Values[idx]
			op.resultFound = true
			return pageop.Succeeded
		}
	case modeReplace:
		if !found || m.cmp.Compare(leaf.Values[idx], op.expectedOld) != 0 {
			op.resultFound = false
			return pageop.Succeeded
		}
	case modeRemove:
		if !found {
			op.resultFound = false
			return pageop.Succeeded
		}
	}

	keys, values := leaf.CloneLeaf()

	switch op.mode {
	case modeRemove:
		op.resultValue = values[idx]
		op.resultFound = true
		keys = append(keys[:idx], keys[idx+1:]...)
		values = append(values[:idx], values[idx+1:]...)
		m.size.Add(-1)
		m.commitLeaf(stack, page.NewLeaf(keys, values, leaf.ReplicationHostIds))
		return pageop.Succeeded
	case modePut, modePutIfAbsent, modeReplace, modeAppend:
		if found {
			op.resultValue = values[idx]
			op.resultFound = true
			values[idx] = op.value
		} else {
			keys = insertValue(keys, idx, key)
			values = insertValue(values, idx, op.value)
			op.resultFound = false
			m.size.Add(1)
		}
	}

	if len(keys) <= m.maxLeafSize {
		m.commitLeaf(stack, page.NewLeaf(keys, values, leaf.ReplicationHostIds))
		return pageop.Succeeded
	}

	left, right, splitKey := m.splitLeaf(keys, values, leaf.ReplicationHostIds)
	m.commitSplit(stack, left, right, splitKey)
	if m.onLeafSplit != nil {
		m.onLeafSplit(splitKey)
	}
	return pageop.Succeeded
}

func insertValue(s []types.Value, idx int, v types.Value) []types.Value {
	s = append(s, types.Value{})
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}

func (m *Map) submit(op pageop.SingleWrite) pageop.Result {
	ctx := context.Background()
	if wo, ok := op.(*writeOp); ok {
		ctx = wo.ctx
	}
	return m.handlers.Submit(ctx, op)
}

// Put inserts or replaces key's value, returning the previous value if any.
func (m *Map) Put(key, value types.Value) (old types.Value, hadOld bool, err error) {
	op := &writeOp{m: m, ctx: context.Background(), mode: modePut, key: key, value: value}
	m.submit(op)
	return op.resultValue, op.resultFound, op.err
}

// PutIfAbsent stores value only if key is absent; otherwise leaves the map
// unchanged and returns the existing value (S8 invariant 3).
func (m *Map) PutIfAbsent(key, value types.Value) (existing types.Value, existed bool, err error) {
	op := &writeOp{m: m, ctx: context.Background(), mode: modePutIfAbsent, key: key, value: value}
	m.submit(op)
	return op.resultValue, op.resultFound, op.err
}

// Replace sets key's value to newValue iff the current value equals
// oldValue by the map's comparator (invariant 4).
func (m *Map) Replace(key, oldValue, newValue types.Value) (ok bool, err error) {
	op := &writeOp{m: m, ctx: context.Background(), mode: modeReplace, key: key, value: newValue, expectedOld: oldValue}
	m.submit(op)
	return op.resultFound, op.err
}

// Remove deletes key, returning its previous value if present.
func (m *Map) Remove(key types.Value) (old types.Value, hadOld bool, err error) {
	op := &writeOp{m: m, ctx: context.Background(), mode: modeRemove, key: key}
	m.submit(op)
	return op.resultValue, op.resultFound, op.err
}

// Append reserves the next value of maxKey as the key and stores value
// there, returning the assigned key. It is the only operation that mutates
// maxKey.
func (m *Map) Append(value types.Value) (key types.Value, err error) {
	op := &writeOp{m: m, ctx: context.Background(), mode: modeAppend, value: value}
	m.submit(op)
	return op.resultKey, op.err
}

// PutAsync is Put's async counterpart: it returns immediately, runs the
// write on the pool handler owning the key, and then invokes done on a
// separate goroutine (not on that handler's goroutine).
func (m *Map) PutAsync(key, value types.Value, done func(AsyncResult)) {
	op := &writeOp{m: m, ctx: context.Background(), mode: modePut, key: key, value: value}
	m.handlers.SubmitAsync(op, func(pageop.Result) {
		done(AsyncResult{Value: op.resultValue, Found: op.resultFound, Err: op.err})
	})
}

func (m *Map) PutIfAbsentAsync(key, value types.Value, done func(AsyncResult)) {
	op := &writeOp{m: m, ctx: context.Background(), mode: modePutIfAbsent, key: key, value: value}
	m.handlers.SubmitAsync(op, func(pageop.Result) {
		done(AsyncResult{Value: op.resultValue, Found: op.resultFound, Err: op.err})
	})
}

func (m *Map) ReplaceAsync(key, oldValue, newValue types.Value, done func(AsyncResult)) {
	op := &writeOp{m: m, ctx: context.Background(), mode: modeReplace, key: key, value: newValue, expectedOld: oldValue}
	m.handlers.SubmitAsync(op, func(pageop.Result) {
		done(AsyncResult{Found: op.resultFound, Err: op.err})
	})
}

func (m *Map) RemoveAsync(key types.Value, done func(AsyncResult)) {
	op := &writeOp{m: m, ctx: context.Background(), mode: modeRemove, key: key}
	m.handlers.SubmitAsync(op, func(pageop.Result) {
		done(AsyncResult{Value: op.resultValue, Found: op.resultFound, Err: op.err})
	})
}

func (m *Map) AppendAsync(value types.Value, done func(AsyncResult)) {
	op := &writeOp{m: m, ctx: context.Background(), mode: modeAppend, value: value}
	m.handlers.SubmitAsync(op, func(pageop.Result) {
		done(AsyncResult{Value: op.resultKey, Err: op.err})
	})
}
