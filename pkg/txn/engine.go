// Package txn implements the MVCC transaction engine (C4): transactional
// values realised as a lock/visibility cell layered over committed values
// in a pkg/btree.Map, an undo log with savepoints and rollback, row-level
// waiter queues with FIFO wakeup, and deadlock-cycle detection.
package txn

import (
	"sync"

	"lealone/pkg/btree"
	"lealone/pkg/clock"
	"lealone/pkg/pageop"
	"lealone/pkg/types"
)

// Engine owns the shared cell table and the registry of opened maps; every
// Transaction it produces shares both.
type Engine struct {
	idSeq    *clock.Seq
	handlers *pageop.Factory

	mapsMu sync.RWMutex
	maps   map[string]*Map

	cellsMu sync.Mutex
	cells   map[string]*cell
}

// NewEngine builds a transaction engine sharing handlers with every map it
// opens, so transactional and non-transactional writes against the same
// map contend through the same page-operation pool.
func NewEngine(handlers *pageop.Factory) *Engine {
	return &Engine{
		idSeq:    clock.NewSeq(0),
		handlers: handlers,
		maps:     make(map[string]*Map),
		cells:    make(map[string]*cell),
	}
}

// Begin starts a new OPEN transaction.
func (e *Engine) Begin() *Transaction {
	return &Transaction{
		id:         e.idSeq.Next(),
		engine:     e,
		state:      StateOpen,
		isolation:  IsolationReadCommitted,
		autoCommit: true,
	}
}

// OpenMap returns the transactional map named name, creating its backing
// pkg/btree.Map on first use, matching Transaction.openMap.
func (e *Engine) OpenMap(name string, cmp types.Comparator, ser types.Serializer, opts ...btree.Option) *Map {
	e.mapsMu.RLock()
	m, ok := e.maps[name]
	e.mapsMu.RUnlock()
	if ok {
		return m
	}

	e.mapsMu.Lock()
	defer e.mapsMu.Unlock()
	if m, ok := e.maps[name]; ok {
		return m
	}
	store := btree.New(name, cmp, ser, e.handlers, opts...)
	m = &Map{name: name, store: store, engine: e, ser: ser}
	e.maps[name] = m
	return m
}

func cellKey(mapName string, key types.Value, ser types.Serializer) string {
	return mapName + "\x00" + string(ser.Encode(key))
}

// cellFor returns the shared lock cell for (mapName, key), creating it on
// first access. Cells are never removed once created; an unlocked cell
// with no waiters is a cheap, mostly-zero struct, and removal would need
// careful coordination with the enqueue race it is meant to avoid.
func (e *Engine) cellFor(mapName string, key types.Value, ser types.Serializer) *cell {
	ck := cellKey(mapName, key, ser)

	e.cellsMu.Lock()
	defer e.cellsMu.Unlock()
	c, ok := e.cells[ck]
	if !ok {
		c = &cell{}
		e.cells[ck] = c
	}
	return c
}

// peekCell returns (mapName, key)'s cell without creating one, so a plain
// read against a never-written key never allocates lock state.
func (e *Engine) peekCell(mapName string, key types.Value, ser types.Serializer) (*cell, bool) {
	ck := cellKey(mapName, key, ser)

	e.cellsMu.Lock()
	defer e.cellsMu.Unlock()
	c, ok := e.cells[ck]
	return c, ok
}
