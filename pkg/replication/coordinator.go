package replication

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/zhangyunhao116/fastrand"
	"github.com/zhangyunhao116/skipmap"
	"github.com/zhangyunhao116/skipset"

	"lealone/pkg/clock"
	"lealone/pkg/dberrors"
	"lealone/pkg/types"
)

// Coordinator fans a read or write out to a key's replica set and applies
// spec.md §4.5's quorum rule: a read picks one replica at random and, on
// failure, tries others, up to MaxTries attempts in all (executeGet); a
// write addresses
// every replica and succeeds once W = floor(N/2)+1 have acknowledged
// (executePut/executeAppend/executeReplace/executeRemove).
type Coordinator struct {
	Self     types.NodeID
	Sources  CandidateSource
	Dial     Directory
	N        int
	MaxTries int

	seq *clock.Seq

	// conns caches dialed replica clients. Concurrent quorumWrite rounds
	// dial from several goroutines at once, so this is a concurrent
	// skipmap rather than a mutex-guarded map, the same structure the
	// pack's memtable uses for its concurrently-written key space.
	conns *skipmap.FuncMap[types.NodeID, Replica]
}

// NewCoordinator builds a Coordinator. n is the replication factor; if
// maxTries <= 0 it defaults to n.
func NewCoordinator(self types.NodeID, sources CandidateSource, dial Directory, n, maxTries int) *Coordinator {
	if maxTries <= 0 {
		maxTries = n
	}
	return &Coordinator{
		Self:     self,
		Sources:  sources,
		Dial:     dial,
		N:        n,
		MaxTries: maxTries,
		seq:      clock.NewSeq(0),
		conns:    skipmap.NewFunc[types.NodeID, Replica](func(a, b types.NodeID) bool { return a < b }),
	}
}

// nextName produces a monotonically increasing ReplicationName tagged with
// this coordinator's host id, the Go analogue of
// ReplicationSession.createReplicationName().
func (c *Coordinator) nextName() types.ReplicationName {
	return types.ReplicationName{Counter: c.seq.Next(), Coordinator: c.Self}
}

func (c *Coordinator) replicaSet(key string) ([]Replica, error) {
	hosts := c.Sources.Candidates(key, c.N)
	if len(hosts) == 0 {
		return nil, fmt.Errorf("replication: no candidate hosts for key %q", key)
	}
	out := make([]Replica, 0, len(hosts))
	for _, h := range hosts {
		r, err := c.dial(h)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *Coordinator) dial(host types.NodeID) (Replica, error) {
	if r, ok := c.conns.Load(host); ok {
		return r, nil
	}
	r, err := c.Dial.Dial(host)
	if err != nil {
		return nil, fmt.Errorf("replication: dial %s: %w", host, err)
	}
	c.conns.Store(host, r)
	return r, nil
}

// Get performs executeGet: pick one replica at random (fastrand, matching
// the teacher's pack's fastrand.Intn usage) and retry a different one on
// failure, up to MaxTries attempts.
func (c *Coordinator) Get(mapName string, key types.Value) (types.Value, bool, error) {
	replicas, err := c.replicaSet(key.Describe())
	if err != nil {
		return types.Value{}, false, err
	}

	tried := map[int]struct{}{}
	var lastErr error
	for attempt := 0; attempt < c.MaxTries && attempt < len(replicas); attempt++ {
		idx := pickUntried(replicas, tried)
		tried[idx] = struct{}{}
		v, found, err := replicas[idx].Get(mapName, key)
		if err == nil {
			return v, found, nil
		}
		lastErr = err
		slog.Warn("replication: get attempt failed", "attempt", attempt+1, "err", err)
	}
	if lastErr == nil {
		lastErr = dberrors.ErrQuorumUnreachable
	}
	return types.Value{}, false, lastErr
}

func pickUntried(replicas []Replica, tried map[int]struct{}) int {
	if len(tried) >= len(replicas) {
		return fastrand.Intn(len(replicas))
	}
	for {
		idx := fastrand.Intn(len(replicas))
		if _, done := tried[idx]; !done {
			return idx
		}
	}
}

// writeAck is one replica's response to a fanned-out write.
type writeAck struct {
	host  types.NodeID
	value types.Value
	found bool
	err   error
}

// quorumWrite fans fn out to every replica of key concurrently and blocks
// until W acks succeed or every replica has answered and quorum is
// unreachable, the generalized shape shared by Put/Replace/Remove/Append.
// When onIncomplete is non-nil and quorum was reached before every replica
// answered, the remaining acks are drained on a background goroutine and
// onIncomplete is handed the completed lastKnown map so the caller can
// Reconcile whichever replicas never acked, without making the client wait
// on that round trip.
func (c *Coordinator) quorumWrite(key string, rn types.ReplicationName, fn func(Replica) (types.Value, bool, error), onIncomplete func(map[types.NodeID]types.ReplicationName)) (types.Value, bool, error) {
	replicas, err := c.replicaSet(key)
	if err != nil {
		return types.Value{}, false, err
	}
	w := quorum(len(replicas))
	opID := uuid.New()

	acked := skipset.New[types.NodeID]()
	results := make(chan writeAck, len(replicas))
	for _, r := range replicas {
		r := r
		go func() {
			v, found, err := fn(r)
			results <- writeAck{host: r.HostID(), value: v, found: found, err: err}
		}()
	}

	lastKnown := make(map[types.NodeID]types.ReplicationName, len(replicas))
	var first writeAck
	haveFirst := false
	for i := 0; i < len(replicas); i++ {
		ack := <-results
		if ack.err != nil {
			slog.Warn("replication: write ack failed", "op", opID, "host", ack.host, "err", ack.err)
			continue
		}
		acked.Add(ack.host)
		lastKnown[ack.host] = rn
		if !haveFirst {
			first, haveFirst = ack, true
		}
		if acked.Len() >= w {
			if onIncomplete != nil {
				if remaining := len(replicas) - (i + 1); remaining > 0 {
					// Replicas that haven't answered yet might still ack;
					// finish collecting them before deciding who to Reconcile.
					go c.drainStragglers(opID, results, remaining, rn, lastKnown, onIncomplete)
				} else if len(lastKnown) < len(replicas) {
					// Every replica has already answered (some with errors
					// that arrived before the last successful ack) and at
					// least one never acked; nothing left to drain.
					go onIncomplete(lastKnown)
				}
			}
			return first.value, first.found, nil
		}
	}
	return types.Value{}, false, fmt.Errorf("replication: quorum unreachable for op %s (%d/%d acked): %w",
		opID, acked.Len(), len(replicas), dberrors.ErrQuorumUnreachable)
}

// drainStragglers collects the acks quorumWrite returned before seeing, so a
// replica answering after quorum already settled still lands in lastKnown,
// then hands the finished map to onIncomplete — ordinarily a closure over
// Coordinator.Reconcile — to push the settled value at whichever replicas
// never acked at all.
func (c *Coordinator) drainStragglers(opID uuid.UUID, results <-chan writeAck, remaining int, rn types.ReplicationName, lastKnown map[types.NodeID]types.ReplicationName, onIncomplete func(map[types.NodeID]types.ReplicationName)) {
	for i := 0; i < remaining; i++ {
		ack := <-results
		if ack.err != nil {
			slog.Warn("replication: write ack failed", "op", opID, "host", ack.host, "err", ack.err)
			continue
		}
		lastKnown[ack.host] = rn
	}
	onIncomplete(lastKnown)
}

// Put performs executePut, fanning a replicated put out to every replica
// tagged with a freshly minted ReplicationName.
func (c *Coordinator) Put(mapName string, key, value types.Value, addIfAbsent bool) (types.Value, bool, error) {
	rn := c.nextName()
	onIncomplete := func(lastKnown map[types.NodeID]types.ReplicationName) {
		if err := c.Reconcile(mapName, key, value, rn, false, lastKnown); err != nil {
			slog.Warn("replication: post-write reconcile failed", "key", key.Describe(), "err", err)
		}
	}
	return c.quorumWrite(key.Describe(), rn, func(r Replica) (types.Value, bool, error) {
		return r.Put(rn, mapName, key, value, addIfAbsent)
	}, onIncomplete)
}

// Replace performs executeReplace.
func (c *Coordinator) Replace(mapName string, key, oldValue, newValue types.Value) (bool, error) {
	rn := c.nextName()
	onIncomplete := func(lastKnown map[types.NodeID]types.ReplicationName) {
		if err := c.Reconcile(mapName, key, newValue, rn, false, lastKnown); err != nil {
			slog.Warn("replication: post-write reconcile failed", "key", key.Describe(), "err", err)
		}
	}
	_, ok, err := c.quorumWrite(key.Describe(), rn, func(r Replica) (types.Value, bool, error) {
		ok, err := r.Replace(rn, mapName, key, oldValue, newValue)
		return types.Value{}, ok, err
	}, onIncomplete)
	return ok, err
}

// Remove performs executeRemove.
func (c *Coordinator) Remove(mapName string, key types.Value) (types.Value, bool, error) {
	rn := c.nextName()
	onIncomplete := func(lastKnown map[types.NodeID]types.ReplicationName) {
		if err := c.Reconcile(mapName, key, types.Value{}, rn, true, lastKnown); err != nil {
			slog.Warn("replication: post-write reconcile failed", "key", key.Describe(), "err", err)
		}
	}
	return c.quorumWrite(key.Describe(), rn, func(r Replica) (types.Value, bool, error) {
		return r.Remove(rn, mapName, key)
	}, onIncomplete)
}

// Append performs executeAppend: the replicated key is not known until a
// replica assigns it, so the replica set is chosen by the fixed placement
// key mapName+":append" rather than by the not-yet-existing key; a straggler can't be reconciled by key the way Put/Replace/Remove
// are, since each replica would have picked its own key independently, so
// Append passes no onIncomplete.
func (c *Coordinator) Append(mapName string, value types.Value) (types.Value, error) {
	rn := c.nextName()
	key, _, err := c.quorumWrite(mapName+":append", rn, func(r Replica) (types.Value, bool, error) {
		k, err := r.Append(rn, mapName, value)
		return k, true, err
	}, nil)
	return key, err
}
