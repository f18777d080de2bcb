// Package pageop implements the per-handler page-operation engine (C3): a
// fixed pool of PageOperationHandlers, each a dedicated goroutine draining
// a FIFO of single-key write operations, plus the dummy-inline-first
// selection policy that keeps the hot, uncontended path off the pool.
package pageop

import (
	"context"
	"sync"
)

// Result is the outcome of one PageOperation.Run attempt.
type Result int

const (
	// Succeeded: the operation completed and should not be retried.
	Succeeded Result = iota
	// Shifted: the handler responsible for the target changed mid-operation;
	// the caller must retry, re-resolving the owning handler.
	Shifted
	// Retry: the page latch was held; the handler re-enqueues and tries
	// again on its own thread.
	Retry
	// Locked: a row-level conflict was found; the caller has registered a
	// waiter and must not retry until woken.
	Locked
)

func (r Result) String() string {
	switch r {
	case Succeeded:
		return "SUCCEEDED"
	case Shifted:
		return "SHIFTED"
	case Retry:
		return "RETRY"
	case Locked:
		return "LOCKED"
	default:
		return "UNKNOWN"
	}
}

// Operation is one unit of work a PageOperationHandler executes on its own
// thread. Run may be called more than once for the same submission when it
// returns Retry; implementations must tolerate re-execution.
type Operation interface {
	Run() Result
}

// SingleWrite is a write targeting one key; Affinity is the value the
// factory routes it by, so the same value reaches the same pool handler on
// every retry. pkg/btree's write operation hashes the key itself, not the
// owning leaf, so writes to different keys of one leaf can be routed to
// different handlers.
type SingleWrite interface {
	Operation
	Affinity() uint64
}

// Runnable is opaque work with no natural key affinity (leaf move, replica
// reconfiguration); it is always routed by explicit handler id.
type Runnable interface {
	Operation
}

type handlerCtxKey struct{}

// WithHandler tags ctx as already running on h, so a nested submission from
// inside h's own operation body is recognised as already on a handler
// thread per the §4.3 selection policy's rule (1).
func WithHandler(ctx context.Context, h *Handler) context.Context {
	return context.WithValue(ctx, handlerCtxKey{}, h)
}

func handlerFromContext(ctx context.Context) (*Handler, bool) {
	h, ok := ctx.Value(handlerCtxKey{}).(*Handler)
	return h, ok
}

type job struct {
	op     Operation
	result chan Result
}

// Handler owns one FIFO of operations, run on its own dedicated goroutine.
type Handler struct {
	id    int
	queue chan job
	done  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	periodic []func()
}

func newHandler(id, queueSize int) *Handler {
	h := &Handler{
		id:    id,
		queue: make(chan job, queueSize),
		done:  make(chan struct{}),
	}
	h.wg.Add(1)
	go h.loop()
	return h
}

// ID identifies the handler within its factory's pool; the dummy handler
// reports id -1.
func (h *Handler) ID() int { return h.id }

func (h *Handler) loop() {
	defer h.wg.Done()
	for {
		select {
		case j := <-h.queue:
			j.result <- h.execute(j.op)
		case <-h.done:
			h.drainPeriodic()
			return
		}
	}
}

// execute runs op, looping locally on Retry (the handler's own re-enqueue),
// but returns immediately on Succeeded, Shifted or Locked: those are
// terminal from this handler's point of view.
func (h *Handler) execute(op Operation) Result {
	for {
		res := op.Run()
		if res != Retry {
			return res
		}
	}
}

// Submit enqueues op and blocks the calling goroutine until it completes.
// Used by the pool path; the dummy and already-on-handler paths call
// execute directly without going through the channel.
func (h *Handler) Submit(op Operation) Result {
	j := job{op: op, result: make(chan Result, 1)}
	h.queue <- j
	return <-j.result
}

// SubmitAsync runs op on this handler's goroutine (through Submit) and then
// invokes done with the result on a separate goroutine; done does not run
// on the handler's goroutine.
func (h *Handler) SubmitAsync(op Operation, done func(Result)) {
	go func() {
		res := h.Submit(op)
		done(res)
	}()
}

// AddPeriodicTask registers fn to be run by RunPeriodicTasks; the handler's
// own loop never runs it.
func (h *Handler) AddPeriodicTask(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.periodic = append(h.periodic, fn)
}

// RunPeriodicTasks executes a snapshot of the registered periodic tasks on
// the calling goroutine. Neither the handler loop nor pkg/scheduler calls
// it; the tasks run only when a caller invokes it explicitly.
func (h *Handler) RunPeriodicTasks() {
	h.mu.Lock()
	tasks := make([]func(), len(h.periodic))
	copy(tasks, h.periodic)
	h.mu.Unlock()

	for _, t := range tasks {
		t()
	}
}

func (h *Handler) drainPeriodic() {
	h.mu.Lock()
	h.periodic = nil
	h.mu.Unlock()
}

// Stop ends the handler's goroutine. Pending queued operations are
// abandoned; callers should drain in-flight Submit calls first.
func (h *Handler) Stop() {
	close(h.done)
	h.wg.Wait()
}

// dummyHandler runs an operation inline on the calling goroutine, with no
// queue of its own. It reports Succeeded only when Run itself reports
// Succeeded on the first attempt; anything else is treated as contention
// and escalated to the pool.
type dummyHandler struct{}

func (dummyHandler) tryInline(op Operation) Result {
	return op.Run()
}

// Factory owns the fixed pool of handlers plus the dummy inline path.
type Factory struct {
	handlers []*Handler
	dummy    dummyHandler
}

// NewFactory builds a pool of poolSize handlers, each with a queue of
// queueSize pending operations.
func NewFactory(poolSize, queueSize int) *Factory {
	if poolSize < 1 {
		poolSize = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	f := &Factory{handlers: make([]*Handler, poolSize)}
	for i := range f.handlers {
		f.handlers[i] = newHandler(i, queueSize)
	}
	return f
}

// HandlerFor returns the pool handler owning affinity, by hash modulo pool
// size — the same handler on every call with the same affinity value.
func (f *Factory) HandlerFor(affinity uint64) *Handler {
	return f.handlers[affinity%uint64(len(f.handlers))]
}

// HandlerByID returns the pool handler with the given index, used by
// Runnable work addressed to a specific handler (leaf move, reconfig).
func (f *Factory) HandlerByID(id int) *Handler {
	return f.handlers[id%len(f.handlers)]
}

// Count returns the number of pool handlers.
func (f *Factory) Count() int { return len(f.handlers) }

// Submit implements the full §4.3 handler-selection policy for a
// SingleWrite: (1) already on a handler thread, run there; (2) else try the
// dummy inline path; (3) else route to the pool handler owning op's
// affinity.
func (f *Factory) Submit(ctx context.Context, op SingleWrite) Result {
	if h, ok := handlerFromContext(ctx); ok {
		return h.execute(op)
	}
	if res := f.dummy.tryInline(op); res == Succeeded {
		return res
	}
	h := f.HandlerFor(op.Affinity())
	return h.Submit(op)
}

// SubmitAsync is the async counterpart of Submit: op always runs on the
// pool handler owning its affinity (never inline, with no dummy attempt),
// and done is then invoked on a separate goroutine, not on that handler's.
func (f *Factory) SubmitAsync(op SingleWrite, done func(Result)) {
	h := f.HandlerFor(op.Affinity())
	h.SubmitAsync(op, done)
}

// Close stops every pool handler.
func (f *Factory) Close() {
	for _, h := range f.handlers {
		h.Stop()
	}
}
