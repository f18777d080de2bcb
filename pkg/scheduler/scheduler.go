// Package scheduler implements the cooperative per-thread event loop (C5):
// each Scheduler is a single dedicated goroutine multiplexing session init
// tasks, priority task queues, page-operation retries, per-session tasks,
// and statement execution, waking on whichever arrives first. Grounded on
// the teacher's pkg/raftadapter.Node.Run loop (a single goroutine select-ing
// over a ticker and several channels, looping "for { select { ... } }"
// until its context is cancelled) generalized from one raft tick source to
// the several named queues spec.md §4.6 lists explicitly.
package scheduler

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"lealone/pkg/pageop"
)

// DefaultLoopInterval is doAwait's timeout when nothing wakes the loop
// sooner, matching the teacher's raft tick interval role.
const DefaultLoopInterval = 100 * time.Millisecond

// Scheduler is one cooperative event loop, intended to run on its own
// goroutine via Loop.
type Scheduler struct {
	ID           int
	loopInterval time.Duration

	sessionInit chan func()
	maxQ        chan func()
	normQ       chan func()
	minQ        chan func()
	pageOps     chan pageop.Runnable

	sessionsMu sync.RWMutex
	sessions   map[uint64]*SessionInfo

	wake     chan struct{}
	ended    atomic.Bool
	loopDone chan struct{}
}

// New builds a Scheduler with the given queue depth for each internal
// queue. loopInterval of 0 uses DefaultLoopInterval.
func New(id int, loopInterval time.Duration, queueSize int) *Scheduler {
	if loopInterval <= 0 {
		loopInterval = DefaultLoopInterval
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Scheduler{
		ID:           id,
		loopInterval: loopInterval,
		sessionInit:  make(chan func(), queueSize),
		maxQ:         make(chan func(), queueSize),
		normQ:        make(chan func(), queueSize),
		minQ:         make(chan func(), queueSize),
		pageOps:      make(chan pageop.Runnable, queueSize),
		sessions:     make(map[uint64]*SessionInfo),
		wake:         make(chan struct{}, 1),
		loopDone:     make(chan struct{}),
	}
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Load reports the total depth of every internal queue plus the number of
// sessions with a pending command, a cheap proxy for how backed up this
// scheduler is. No other package in this module calls it.
func (s *Scheduler) Load() int {
	s.sessionsMu.RLock()
	pending := 0
	for _, si := range s.sessions {
		if _, _, ok := si.peekPending(); ok {
			pending++
		}
	}
	s.sessionsMu.RUnlock()
	return len(s.sessionInit) + len(s.maxQ) + len(s.normQ) + len(s.minQ) + len(s.pageOps) + pending
}

// SubmitSessionInit enqueues a session-admission task, run ahead of every
// other queue each loop iteration.
func (s *Scheduler) SubmitSessionInit(task func()) bool {
	if s.ended.Load() {
		return false
	}
	select {
	case s.sessionInit <- task:
		s.signalWake()
		return true
	default:
		return false
	}
}

// SubmitTask enqueues a priority-queue task (background work with no
// per-session statement semantics: checkpoints, async callback resumption).
func (s *Scheduler) SubmitTask(p Priority, task func()) bool {
	if s.ended.Load() {
		return false
	}
	var q chan func()
	switch p {
	case PriorityMax:
		q = s.maxQ
	case PriorityMin:
		q = s.minQ
	default:
		q = s.normQ
	}
	select {
	case q <- task:
		s.signalWake()
		return true
	default:
		return false
	}
}

// SubmitPageOp enqueues a page-operation retry, run after the priority
// queues and before per-session tasks each loop iteration.
func (s *Scheduler) SubmitPageOp(op pageop.Runnable) bool {
	if s.ended.Load() {
		return false
	}
	select {
	case s.pageOps <- op:
		s.signalWake()
		return true
	default:
		return false
	}
}

// RegisterSession adds si to this scheduler's session set.
func (s *Scheduler) RegisterSession(si *SessionInfo) {
	s.sessionsMu.Lock()
	s.sessions[si.ID] = si
	s.sessionsMu.Unlock()
	s.signalWake()
}

// RemoveSession revokes a session's pending work and drops it from the
// registry, matching "session removal revokes its pending session tasks".
func (s *Scheduler) RemoveSession(id uint64) {
	s.sessionsMu.Lock()
	si, ok := s.sessions[id]
	delete(s.sessions, id)
	s.sessionsMu.Unlock()
	if ok {
		si.end()
	}
}

// End is idempotent; it stops the loop after its current iteration and
// unblocks any pending doAwait.
func (s *Scheduler) End() {
	if s.ended.CompareAndSwap(false, true) {
		s.signalWake()
	}
}

// Wait blocks until Loop has returned after End.
func (s *Scheduler) Wait() {
	<-s.loopDone
}

// Loop runs the cooperative event loop until End is called. It is meant to
// be the sole goroutine touching this Scheduler's internal drain order;
// submissions from other goroutines only ever enqueue.
func (s *Scheduler) Loop() {
	defer close(s.loopDone)
	for !s.ended.Load() {
		ranInit := s.drainFuncs(s.sessionInit)
		ranMax := s.drainFuncs(s.maxQ)
		ranNorm := s.drainFuncs(s.normQ)
		ranMin := s.drainFuncs(s.minQ)
		ranPageOps := s.drainPageOps()
		ranSessionTasks := s.runSessionTasks()
		s.checkSessionTimeouts()
		executed := s.executeNextStatement()

		if !ranInit && !ranMax && !ranNorm && !ranMin && !ranPageOps && !ranSessionTasks && !executed {
			s.doAwait()
		}
	}
}

func (s *Scheduler) drainFuncs(q chan func()) bool {
	ran := false
	for {
		select {
		case task := <-q:
			task()
			ran = true
		default:
			return ran
		}
	}
}

func (s *Scheduler) drainPageOps() bool {
	ran := false
	for {
		select {
		case op := <-s.pageOps:
			ran = true
			if op.Run() == pageop.Retry {
				// Re-enqueue for the next iteration rather than busy-loop
				// inline; another queue may need to run first.
				select {
				case s.pageOps <- op:
				default:
					slog.Warn("scheduler: page operation queue full on retry re-enqueue", "scheduler", s.ID)
				}
			}
		default:
			return ran
		}
	}
}

func (s *Scheduler) runSessionTasks() bool {
	s.sessionsMu.RLock()
	sessions := make([]*SessionInfo, 0, len(s.sessions))
	for _, si := range s.sessions {
		sessions = append(sessions, si)
	}
	s.sessionsMu.RUnlock()

	ran := false
	for _, si := range sessions {
		if si.drainTasks() {
			ran = true
		}
	}
	return ran
}

func (s *Scheduler) checkSessionTimeouts() {
	now := time.Now()
	s.sessionsMu.RLock()
	sessions := make([]*SessionInfo, 0, len(s.sessions))
	for _, si := range s.sessions {
		sessions = append(sessions, si)
	}
	s.sessionsMu.RUnlock()

	for _, si := range sessions {
		si.CheckTimeout(now)
	}
}

// executeNextStatement scans every registered session's pending command and
// runs the one with the highest priority, matching spec.md §4.6. Every other
// session with a pending command loses this scan and has its loss streak
// advanced via noteLoss, so a command that keeps getting passed over by
// higher-priority newcomers is the one that eventually gets promoted, not
// whichever command happens to already be winning.
func (s *Scheduler) executeNextStatement() bool {
	s.sessionsMu.RLock()
	var best *SessionInfo
	var bestCmd *Command
	bestPriority := Priority(-1)
	type pendingEntry struct {
		si  *SessionInfo
		cmd *Command
	}
	var pending []pendingEntry
	for _, si := range s.sessions {
		cmd, p, ok := si.peekPending()
		if !ok {
			continue
		}
		pending = append(pending, pendingEntry{si, cmd})
		if p > bestPriority {
			best, bestCmd, bestPriority = si, cmd, p
		}
	}
	s.sessionsMu.RUnlock()

	if best == nil {
		return false
	}
	for _, e := range pending {
		if e.si == best {
			continue
		}
		e.si.noteLoss(e.cmd)
	}
	best.runPending(bestCmd)
	return true
}

// doAwait blocks until something wakes the loop or loopInterval elapses,
// the direct analogue of a blocking semaphore acquire with a bounded
// timeout when no I/O multiplexer is attached.
func (s *Scheduler) doAwait() {
	timer := time.NewTimer(s.loopInterval)
	defer timer.Stop()
	select {
	case <-s.wake:
	case <-timer.C:
	}
}
