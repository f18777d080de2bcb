package pageop

import (
	"context"
	"sync/atomic"
	"testing"
)

type counterOp struct {
	n       *atomic.Int64
	retries int32
}

func (c *counterOp) Run() Result {
	if c.retries > 0 {
		c.retries--
		return Retry
	}
	c.n.Add(1)
	return Succeeded
}

func (c *counterOp) Affinity() uint64 { return 7 }

func TestFactorySubmitDummyInlineFastPath(t *testing.T) {
	f := NewFactory(2, 4)
	defer f.Close()

	var n atomic.Int64
	op := &counterOp{n: &n}
	if res := f.Submit(context.Background(), op); res != Succeeded {
		t.Fatalf("expected Succeeded, got %v", res)
	}
	if n.Load() != 1 {
		t.Fatalf("expected op to run exactly once, ran %d times", n.Load())
	}
}

func TestFactorySubmitEscalatesToPoolOnContention(t *testing.T) {
	f := NewFactory(2, 4)
	defer f.Close()

	var n atomic.Int64
	op := &counterOp{n: &n, retries: 3}
	if res := f.Submit(context.Background(), op); res != Succeeded {
		t.Fatalf("expected Succeeded, got %v", res)
	}
	if n.Load() != 1 {
		t.Fatalf("expected op to eventually succeed exactly once, ran %d times", n.Load())
	}
}

func TestFactoryRoutesSameAffinityToSameHandler(t *testing.T) {
	f := NewFactory(4, 4)
	defer f.Close()

	h1 := f.HandlerFor(42)
	h2 := f.HandlerFor(42)
	if h1 != h2 {
		t.Fatalf("expected identical affinity to route to the same handler")
	}
}

type lockedOp struct{}

func (lockedOp) Run() Result    { return Locked }
func (lockedOp) Affinity() uint64 { return 1 }

func TestFactorySubmitPropagatesLocked(t *testing.T) {
	f := NewFactory(1, 1)
	defer f.Close()

	if res := f.Submit(context.Background(), lockedOp{}); res != Locked {
		t.Fatalf("expected Locked to propagate from dummy path, got %v", res)
	}
}

func TestSubmitAsyncRunsOnHandlerGoroutine(t *testing.T) {
	f := NewFactory(2, 4)
	defer f.Close()

	var n atomic.Int64
	op := &counterOp{n: &n}
	done := make(chan Result, 1)
	f.SubmitAsync(op, func(r Result) { done <- r })

	if res := <-done; res != Succeeded {
		t.Fatalf("expected Succeeded, got %v", res)
	}
}

func TestHandlerPeriodicTasks(t *testing.T) {
	f := NewFactory(1, 1)
	defer f.Close()

	h := f.HandlerByID(0)
	var ran atomic.Bool
	h.AddPeriodicTask(func() { ran.Store(true) })
	h.RunPeriodicTasks()

	if !ran.Load() {
		t.Fatalf("expected periodic task to run")
	}
}

func TestWithHandlerRunsInlineOnOwningHandler(t *testing.T) {
	f := NewFactory(1, 1)
	defer f.Close()
	h := f.HandlerByID(0)

	var n atomic.Int64
	op := &counterOp{n: &n}
	ctx := WithHandler(context.Background(), h)

	if res := f.Submit(ctx, op); res != Succeeded {
		t.Fatalf("expected Succeeded, got %v", res)
	}
	if n.Load() != 1 {
		t.Fatalf("expected single execution, got %d", n.Load())
	}
}
