package replication

import (
	"log/slog"

	"lealone/pkg/types"
)

// ReplicationCommit is the logical replicationCommit(validKey, autoCommit,
// retryReplicationNames) RPC of spec.md §6: after a quorum write, the
// coordinator tells each replica whose last acknowledged name is older
// (see Reconcile) which value settled for a key and which
// of its own earlier replication names (if any) should be treated as
// superseded, letting a replica that missed the original fan-out (S5's "one
// replica times out") catch up on its next contact rather than diverging
// forever.
type ReplicationCommit struct {
	Key                   types.Value
	Value                 types.Value
	Name                  types.ReplicationName
	AutoCommit            bool
	Removed               bool
	RetryReplicationNames []types.ReplicationName
}

// Reconcile sends a ReplicationCommit to every replica whose last
// acknowledged ReplicationName for key is older than rn, matching
// invariant 8 (a later write's value must win on every replica that
// eventually catches up) and S5's "eventual retry ... reads the same value
// via replication-name reconciliation". lastKnown is the coordinator's best
// record of what each replica last acked for this key; a replica absent
// from the map is always sent the commit. quorumWrite calls this from a
// background goroutine for any replica that didn't ack within the round
// that already reached quorum, so a straggler catches up without the
// client waiting on it.
func (c *Coordinator) Reconcile(mapName string, key, value types.Value, rn types.ReplicationName, removed bool, lastKnown map[types.NodeID]types.ReplicationName) error {
	replicas, err := c.replicaSet(key.Describe())
	if err != nil {
		return err
	}

	commit := ReplicationCommit{Key: key, Value: value, Name: rn, AutoCommit: true, Removed: removed}

	for _, r := range replicas {
		known, ok := lastKnown[r.HostID()]
		if ok && known.Compare(rn) >= 0 {
			continue
		}
		retry := commit
		if ok {
			retry.RetryReplicationNames = []types.ReplicationName{known}
		}
		if err := r.ReplicationCommit(mapName, retry); err != nil {
			slog.Warn("replication: reconcile commit failed", "host", r.HostID(), "err", err)
			continue
		}
		if lastKnown != nil {
			lastKnown[r.HostID()] = rn
		}
	}
	return nil
}
