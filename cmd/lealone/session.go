package main

import (
	"sync/atomic"

	"lealone/pkg/session"
	"lealone/pkg/txn"
)

// embeddedConn is a session.Conn backed directly by a transaction engine
// running in this same process: no network hop, matching the note in
// pkg/session.Conn's doc comment that "a real client session additionally
// owns a Transaction". It is the seam pkg/session.Factory.CreateAsync
// describes, filled in here rather than left abstract.
type embeddedConn struct {
	url    string
	tx     *txn.Transaction
	closed atomic.Bool
}

func (c *embeddedConn) ID() uint64 { return c.tx.ID() }

func (c *embeddedConn) URL() string { return c.url }

func (c *embeddedConn) IsClosed() bool { return c.closed.Load() }

// Close rolls back any work the transaction never committed, mirroring
// the teacher's habit of never leaving a session's writes half-applied on
// disconnect.
func (c *embeddedConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.tx.State() == txn.StateClosed {
		return nil
	}
	return c.tx.Rollback()
}

// Transaction exposes the embedded transaction to callers that obtained
// this Conn through the pool and need to read/write through it.
func (c *embeddedConn) Transaction() *txn.Transaction { return c.tx }

// embeddedFactory implements session.Factory by beginning a new
// transaction against engine for every requested connection. CreateAsync
// never blocks the caller: the transaction itself is cheap to create
// (engine.Begin only allocates a Transaction and reserves an id), but the
// factory still defers to its own goroutine per the Factory contract.
type embeddedFactory struct {
	engine *txn.Engine
}

func newEmbeddedFactory(engine *txn.Engine) *embeddedFactory {
	return &embeddedFactory{engine: engine}
}

func (f *embeddedFactory) CreateAsync(url string, done func(session.Conn, error)) {
	go func() {
		tx := f.engine.Begin()
		done(&embeddedConn{url: url, tx: tx}, nil)
	}()
}
