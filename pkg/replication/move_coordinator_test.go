package replication

import (
	"sync"
	"testing"

	"lealone/pkg/types"
)

func newTestMoveCoordinator(t *testing.T, self types.NodeID, hosts []types.NodeID, failing map[types.NodeID]bool) (*MoveCoordinator, *fakeDirectory) {
	t.Helper()
	var mu sync.Mutex
	dir := &fakeDirectory{replicas: make(map[types.NodeID]*fakeReplica)}
	for _, h := range hosts {
		dir.replicas[h] = &fakeReplica{host: h, fail: failing[h], data: make(map[string]types.Value), mu: &mu}
	}
	return NewMoveCoordinator(self, dir, 3), dir
}

func TestNegotiateReachesQuorumWhenAllReplicasAgree(t *testing.T) {
	hosts := []types.NodeID{"a", "b", "c"}
	mc, _ := newTestMoveCoordinator(t, "a", hosts, nil)

	plan := LeafPageMovePlan{
		MoverHostID: "a",
		NewReplicas: []types.NodeID{"a", "b"},
		PageKey:     types.Int64(7),
	}

	winner, err := mc.Negotiate("m", plan, hosts)
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if winner.MoverHostID != "a" {
		t.Fatalf("expected mover a to win, got %v", winner.MoverHostID)
	}
}

func TestNegotiateFailsWhenQuorumUnreachable(t *testing.T) {
	hosts := []types.NodeID{"a", "b", "c"}
	// Only "a" is dialable; b and c aren't registered with the directory,
	// so every round collects a single plan, short of quorum(3)=2.
	mc, _ := newTestMoveCoordinator(t, "a", []types.NodeID{"a"}, nil)

	plan := LeafPageMovePlan{
		MoverHostID: "a",
		NewReplicas: []types.NodeID{"a", "b"},
		PageKey:     types.Int64(7),
	}

	if _, err := mc.Negotiate("m", plan, hosts); err == nil {
		t.Fatalf("expected negotiate to fail when quorum is unreachable")
	}
}

func TestAdoptPlanDemotesWhenSelfDropped(t *testing.T) {
	mc, _ := newTestMoveCoordinator(t, "a", nil, nil)

	var gotKey types.Value
	var gotHosts []string
	mc.LocalDemote = func(pageKey types.Value, newReplicas []string) {
		gotKey = pageKey
		gotHosts = newReplicas
	}

	winner := LeafPageMovePlan{
		MoverHostID: "b",
		NewReplicas: []types.NodeID{"b", "c"},
		PageKey:     types.Int64(42),
	}
	mc.adoptPlan(winner)

	if gotKey.I64 != 42 {
		t.Fatalf("expected demote to fire with pageKey 42, got %v", gotKey)
	}
	if len(gotHosts) != 2 || gotHosts[0] != "b" || gotHosts[1] != "c" {
		t.Fatalf("expected demote to carry the winning replica set, got %v", gotHosts)
	}
}

func TestAdoptPlanDoesNotDemoteWhenSelfKept(t *testing.T) {
	mc, _ := newTestMoveCoordinator(t, "a", nil, nil)

	called := false
	mc.LocalDemote = func(types.Value, []string) { called = true }

	winner := LeafPageMovePlan{
		MoverHostID: "b",
		NewReplicas: []types.NodeID{"a", "b"},
		PageKey:     types.Int64(42),
	}
	mc.adoptPlan(winner)

	if called {
		t.Fatalf("expected no demote when self remains in the replica set")
	}
}

func TestExecuteSkipsShipmentWhenSelfIsNotMover(t *testing.T) {
	// No replicas registered at all; Execute must not attempt to dial.
	mc, _ := newTestMoveCoordinator(t, "a", nil, nil)

	winner := LeafPageMovePlan{MoverHostID: "b", NewReplicas: []types.NodeID{"b", "c"}, PageKey: types.Int64(1)}
	if err := mc.Execute("m", winner, []byte("page")); err != nil {
		t.Fatalf("expected no-op execute to succeed, got %v", err)
	}
}

func TestExecuteShipsPageWhenSelfIsMover(t *testing.T) {
	hosts := []types.NodeID{"a", "b", "c"}
	mc, _ := newTestMoveCoordinator(t, "a", hosts, nil)

	winner := LeafPageMovePlan{MoverHostID: "a", NewReplicas: hosts, PageKey: types.Int64(1)}
	if err := mc.Execute("m", winner, []byte("page")); err != nil {
		t.Fatalf("execute: %v", err)
	}
}

func TestExecuteFailsWhenReplicaUnreachable(t *testing.T) {
	mc, _ := newTestMoveCoordinator(t, "a", []types.NodeID{"a"}, nil)

	winner := LeafPageMovePlan{MoverHostID: "a", NewReplicas: []types.NodeID{"a", "missing"}, PageKey: types.Int64(1)}
	if err := mc.Execute("m", winner, []byte("page")); err == nil {
		t.Fatalf("expected execute to fail against an unreachable replica")
	}
}

func TestRemoveStaleReplica(t *testing.T) {
	mc, _ := newTestMoveCoordinator(t, "a", []types.NodeID{"a"}, nil)

	if err := mc.RemoveStaleReplica("m", "a", types.Int64(1)); err != nil {
		t.Fatalf("expected removal against a known replica to succeed, got %v", err)
	}
	if err := mc.RemoveStaleReplica("m", "missing", types.Int64(1)); err == nil {
		t.Fatalf("expected removal against an unknown replica to fail")
	}
}

func TestReadRemotePageFallsThroughOnDialFailure(t *testing.T) {
	mc, _ := newTestMoveCoordinator(t, "self", []types.NodeID{"b"}, nil)

	data, err := mc.ReadRemotePage("m", types.Int64(1), []types.NodeID{"missing", "b"})
	if err != nil {
		t.Fatalf("expected fallthrough to reachable replica b to succeed, got %v", err)
	}
	_ = data
}

func TestReadRemotePageFailsWhenNoHostReachable(t *testing.T) {
	mc, _ := newTestMoveCoordinator(t, "self", nil, nil)

	if _, err := mc.ReadRemotePage("m", types.Int64(1), []types.NodeID{"missing"}); err == nil {
		t.Fatalf("expected failure when no candidate host is reachable")
	}
}
