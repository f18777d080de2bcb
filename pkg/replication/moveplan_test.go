package replication

import (
	"testing"

	"lealone/pkg/types"
)

func TestValidPlanPicksMajorityMoverHost(t *testing.T) {
	plans := []LeafPageMovePlan{
		{MoverHostID: "a", Index: 1},
		{MoverHostID: "a", Index: 1},
		{MoverHostID: "b", Index: 1},
	}
	winner, ok := validPlan(plans, 2)
	if !ok || winner.MoverHostID != "a" {
		t.Fatalf("expected host a to win by majority, got %v ok=%v", winner, ok)
	}
}

func TestValidPlanFallsBackToLexicographicMax(t *testing.T) {
	plans := []LeafPageMovePlan{
		{MoverHostID: "a", Index: 1},
		{MoverHostID: "b", Index: 1},
		{MoverHostID: "c", Index: 1},
	}
	winner, ok := validPlan(plans, 2)
	if !ok || winner.MoverHostID != "c" {
		t.Fatalf("expected lexicographically largest host c to win, got %v ok=%v", winner, ok)
	}
}

func TestValidPlanFailsBelowQuorum(t *testing.T) {
	plans := []LeafPageMovePlan{
		{MoverHostID: "a", Index: 1},
	}
	if _, ok := validPlan(plans, 2); ok {
		t.Fatalf("expected no valid plan below quorum")
	}
}

func TestPlanStoreKeepsHighestIndex(t *testing.T) {
	s := newPlanStore()
	key := types.Int64(42)

	first := s.Prepare(LeafPageMovePlan{MoverHostID: "a", PageKey: key, Index: 1})
	if first.MoverHostID != "a" {
		t.Fatalf("expected first plan to be recorded, got %v", first)
	}

	stale := s.Prepare(LeafPageMovePlan{MoverHostID: "b", PageKey: key, Index: 0})
	if stale.MoverHostID != "a" {
		t.Fatalf("expected stale lower-index plan to be rejected in favor of stored plan, got %v", stale)
	}

	fresher := s.Prepare(LeafPageMovePlan{MoverHostID: "c", PageKey: key, Index: 2})
	if fresher.MoverHostID != "c" {
		t.Fatalf("expected higher-index plan to replace the stored one, got %v", fresher)
	}
}

func TestPlanStoreForgetClearsKey(t *testing.T) {
	s := newPlanStore()
	key := types.Int64(7)
	s.Prepare(LeafPageMovePlan{MoverHostID: "a", PageKey: key, Index: 1})
	s.Forget(key)

	got := s.Prepare(LeafPageMovePlan{MoverHostID: "b", PageKey: key, Index: 0})
	if got.MoverHostID != "b" {
		t.Fatalf("expected forgotten key to accept a fresh low-index plan, got %v", got)
	}
}
