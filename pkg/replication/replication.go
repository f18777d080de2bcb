// Package replication implements quorum reads/writes and leaf-page move
// negotiation (C7): replica placement via a consistent-hash ring or a
// static fallback, ZooKeeper-backed membership, and the coordinator that
// fans a write out to every replica of a key and declares success once
// W = floor(N/2)+1 have acknowledged. Grounded on the teacher's
// pkg/cluster (HashRing, ZKMembership, Placement, Router) generalized from
// "route to one owner" to "fan out to N replicas and collect a quorum", and
// on original_source's ReplicationStorageCommand (executeGet/executePut/
// executeAppend's retry-on-failure loop and getValidPlan's leaf-move quorum
// rule).
package replication

import (
	"lealone/pkg/types"
)

// Replica is the RPC surface the coordinator needs against one remote node
// owning (one of) a key's replicas, the Go analogue of ReplicaStorageCommand.
// A concrete implementation lives in pkg/rpc as an HTTP client.
type Replica interface {
	HostID() types.NodeID

	Get(mapName string, key types.Value) (types.Value, bool, error)
	Put(rn types.ReplicationName, mapName string, key, value types.Value, addIfAbsent bool) (types.Value, bool, error)
	Replace(rn types.ReplicationName, mapName string, key, oldValue, newValue types.Value) (bool, error)
	Remove(rn types.ReplicationName, mapName string, key types.Value) (types.Value, bool, error)
	Append(rn types.ReplicationName, mapName string, value types.Value) (types.Value, error)

	PrepareMoveLeafPage(mapName string, plan LeafPageMovePlan) (LeafPageMovePlan, error)
	MoveLeafPage(mapName string, pageKey types.Value, page []byte, addPage bool) error
	RemoveLeafPage(mapName string, pageKey types.Value) error
	ReadRemotePage(mapName string, pageKey types.Value) ([]byte, error)

	// ReplicationCommit is the logical replicationCommit(validKey,
	// autoCommit, retryReplicationNames) RPC: tell a replica the value that
	// settled for key so it can adopt it directly rather than wait on
	// another quorum round, the Go analogue of the coordinator's NoAckPacket
	// commit notification.
	ReplicationCommit(mapName string, commit ReplicationCommit) error
}

// Directory resolves a Replica client for a host id, caching connections
// the way pkg/session.Pool caches sessions; a concrete implementation lives
// in pkg/rpc.
type Directory interface {
	Dial(host types.NodeID) (Replica, error)
}

func quorum(n int) int { return n/2 + 1 }
