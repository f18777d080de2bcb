package replication

import (
	"sync"

	"lealone/pkg/types"
)

// NameGate is the replica side of spec.md §4.5's total order: it remembers,
// per (mapName, key), the newest ReplicationName applied so far and refuses
// to let an older or duplicate one through. Without it a replica that
// receives two conflicting writes out of arrival order (a slow coordinator
// retry landing after a newer write already applied) would let the stale
// one win; the original source's receiving side for executeReplicaPut/
// executeReplicaReplace/executeReplicaRemove isn't in the retrieved
// sources, so this gate is this module's own, sized to what
// Coordinator.Reconcile's ReplicationCommit and the direct RPC handlers
// both need to stay consistent with each other.
type NameGate struct {
	mu    sync.Mutex
	known map[string]types.ReplicationName
}

// NewNameGate builds an empty gate.
func NewNameGate() *NameGate {
	return &NameGate{known: make(map[string]types.ReplicationName)}
}

// Admit reports whether rn is newer than the last name recorded for
// mapName/key (ties broken by ReplicationName.Compare's Counter-then-
// Coordinator rule) and, if so, records rn as the new high-water mark. A
// rn that loses the comparison is a stale or duplicate write and must not
// be applied.
//
// The zero ReplicationName (Counter 0, no Coordinator) bypasses the gate
// entirely: Coordinator.nextName never produces it (clock.Seq.Next starts
// at 1), so it only shows up on a write addressed directly at a node with
// no Coordinator in front of it — a plain, unreplicated client request,
// which has no sibling replica to race against and nothing to order.
func (g *NameGate) Admit(mapName string, key types.Value, rn types.ReplicationName) bool {
	if rn == (types.ReplicationName{}) {
		return true
	}
	k := mapName + "\x00" + key.Describe()
	g.mu.Lock()
	defer g.mu.Unlock()
	if last, ok := g.known[k]; ok && last.Compare(rn) >= 0 {
		return false
	}
	g.known[k] = rn
	return true
}
