// Package clock provides lock-free monotonic counters used for maxKey
// reservation (append), undo-log ids, and replication name counters.
package clock

import "sync/atomic"

// Seq is an atomic monotonically increasing counter.
type Seq struct {
	v atomic.Uint64
}

func NewSeq(init uint64) *Seq {
	s := &Seq{}
	s.Set(init)
	return s
}

func (s *Seq) Val() uint64 {
	return s.v.Load()
}

// Next atomically increments and returns the new value, matching the
// teacher's pre-increment AtomicClock.Next semantics.
func (s *Seq) Next() uint64 {
	return s.v.Add(1)
}

func (s *Seq) Set(t uint64) {
	s.v.Store(t)
}

// CompareAndSwap advances the sequence to new only if it currently equals
// old, matching sync/atomic.CompareAndSwap.
func (s *Seq) CompareAndSwap(old, new uint64) bool {
	return s.v.CompareAndSwap(old, new)
}
