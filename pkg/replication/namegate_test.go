package replication

import (
	"testing"

	"lealone/pkg/types"
)

func TestNameGateRejectsOlderName(t *testing.T) {
	g := NewNameGate()
	n1 := types.ReplicationName{Counter: 1, Coordinator: "a"}
	n2 := types.ReplicationName{Counter: 2, Coordinator: "a"}

	if !g.Admit("m", types.Int64(1), n2) {
		t.Fatalf("expected the first write admitted for a key to be accepted")
	}
	if g.Admit("m", types.Int64(1), n1) {
		t.Fatalf("expected an older name arriving after a newer one to be rejected")
	}
	if g.Admit("m", types.Int64(1), n2) {
		t.Fatalf("expected a duplicate of the current name to be rejected")
	}
}

func TestNameGateTracksKeysIndependently(t *testing.T) {
	g := NewNameGate()
	n1 := types.ReplicationName{Counter: 1, Coordinator: "a"}

	if !g.Admit("m", types.Int64(1), n1) {
		t.Fatalf("expected write to key 1 to be admitted")
	}
	if !g.Admit("m", types.Int64(2), n1) {
		t.Fatalf("expected the same name to be admitted for an unrelated key")
	}
}

func TestNameGateBypassesZeroName(t *testing.T) {
	g := NewNameGate()
	if !g.Admit("m", types.Int64(1), types.ReplicationName{}) {
		t.Fatalf("expected the zero ReplicationName to always be admitted")
	}
	if !g.Admit("m", types.Int64(1), types.ReplicationName{}) {
		t.Fatalf("expected repeated zero-name writes (unreplicated local traffic) to never be gated")
	}
}
