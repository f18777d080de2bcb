package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lealone/pkg/pageop"
)

func runLoop(t *testing.T, s *Scheduler) {
	t.Helper()
	go s.Loop()
	t.Cleanup(func() {
		s.End()
		s.Wait()
	})
}

func TestSessionInitTaskRuns(t *testing.T) {
	s := New(1, 5*time.Millisecond, 8)
	runLoop(t, s)

	var ran atomic.Bool
	done := make(chan struct{})
	s.SubmitSessionInit(func() { ran.Store(true); close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session init task never ran")
	}
	if !ran.Load() {
		t.Fatal("expected task to have run")
	}
}

func TestPriorityQueuesRunInOrder(t *testing.T) {
	s := New(1, 5*time.Millisecond, 8)

	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	done := make(chan struct{})
	// Queue all three before starting the loop so one iteration's
	// max-then-norm-then-min drain order is what determines the outcome,
	// not goroutine scheduling between submissions.
	s.SubmitTask(PriorityMin, record("min"))
	s.SubmitTask(PriorityNorm, record("norm"))
	s.SubmitTask(PriorityMax, func() { record("max")(); close(done) })
	runLoop(t, s)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tasks never ran")
	}
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("expected 3 tasks to run, got %v", order)
	}
	if order[0] != "max" || order[1] != "norm" || order[2] != "min" {
		t.Fatalf("expected max,norm,min order, got %v", order)
	}
}

type fakeOp struct {
	attempts *atomic.Int32
	succeedAt int32
}

func (f *fakeOp) Run() pageop.Result {
	n := f.attempts.Add(1)
	if n >= f.succeedAt {
		return pageop.Succeeded
	}
	return pageop.Retry
}

func TestPageOperationRetriesUntilSucceeded(t *testing.T) {
	s := New(1, 2*time.Millisecond, 8)
	runLoop(t, s)

	attempts := &atomic.Int32{}
	op := &fakeOp{attempts: attempts, succeedAt: 3}
	s.SubmitPageOp(op)

	deadline := time.Now().Add(time.Second)
	for attempts.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := attempts.Load(); got < 3 {
		t.Fatalf("expected at least 3 attempts, got %d", got)
	}
}

func TestExecuteNextStatementPrefersHighestPriority(t *testing.T) {
	s := New(1, 5*time.Millisecond, 8)
	runLoop(t, s)

	var mu sync.Mutex
	var order []string

	lowDone := make(chan struct{})
	lowSI := NewSessionInfo(1, nil)
	lowSI.SetCommand(&Command{Priority: PriorityMin, Run: func() bool {
		mu.Lock()
		order = append(order, "low")
		mu.Unlock()
		close(lowDone)
		return true
	}})

	highDone := make(chan struct{})
	highSI := NewSessionInfo(2, nil)
	highSI.SetCommand(&Command{Priority: PriorityMax, Run: func() bool {
		mu.Lock()
		order = append(order, "high")
		mu.Unlock()
		close(highDone)
		return true
	}})

	s.RegisterSession(lowSI)
	s.RegisterSession(highSI)

	<-highDone
	<-lowDone

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "high" {
		t.Fatalf("expected high-priority command to run first, got %v", order)
	}
}

func TestExecuteNextStatementPromotesStarvedLoser(t *testing.T) {
	s := New(1, 5*time.Millisecond, 8)

	loserCmd := &Command{Priority: PriorityMin, Run: func() bool { return false }}
	loserSI := NewSessionInfo(1, nil)
	loserSI.SetCommand(loserCmd)

	winnerCmd := &Command{Priority: PriorityMax, Run: func() bool { return false }}
	winnerSI := NewSessionInfo(2, nil)
	winnerSI.SetCommand(winnerCmd)

	s.RegisterSession(loserSI)
	s.RegisterSession(winnerSI)

	// Drive the scan directly rather than through Loop, so the loss count
	// is exact: the winner always takes the scan, so the loser's command
	// never runs and only accumulates losses via noteLoss.
	for i := 0; i < yieldThreshold; i++ {
		if !s.executeNextStatement() {
			t.Fatalf("expected a statement to run on scan %d", i)
		}
	}

	if loserCmd.Priority != PriorityNorm {
		t.Fatalf("expected the starved command to be promoted to PriorityNorm after %d losing scans, got %v", yieldThreshold, loserCmd.Priority)
	}
	if winnerCmd.Priority != PriorityMax {
		t.Fatalf("expected the winning command's priority to stay unchanged, got %v", winnerCmd.Priority)
	}
}

func TestRemoveSessionRevokesPendingTasks(t *testing.T) {
	s := New(1, 5*time.Millisecond, 8)

	si := NewSessionInfo(1, nil)
	var ran atomic.Bool
	si.AddTask(func() { ran.Store(true) })
	s.RegisterSession(si)
	s.RemoveSession(1)

	si.drainTasks()
	if ran.Load() {
		t.Fatal("expected task to be revoked by session removal")
	}
}

func TestSessionTimeoutInvokesCallback(t *testing.T) {
	s := New(1, 2*time.Millisecond, 8)
	runLoop(t, s)

	done := make(chan struct{})
	si := NewSessionInfo(1, func() { close(done) })
	si.SetDeadline(time.Now().Add(-time.Millisecond))
	s.RegisterSession(si)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected timeout callback to fire")
	}
}

func TestEndStopsLoop(t *testing.T) {
	s := New(1, 2*time.Millisecond, 8)
	go s.Loop()

	s.End()
	s.End() // idempotent

	select {
	case <-s.loopDone:
	case <-time.After(time.Second):
		t.Fatal("expected loop to stop after End")
	}
}
