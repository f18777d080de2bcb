package replication

import (
	"log/slog"

	"lealone/pkg/btree"
	"lealone/pkg/pagestore"
	"lealone/pkg/types"
)

// SplitMover wires pkg/btree.Map's leaf-split hook (WithSplitListener) to
// the move negotiation: every leaf split under sharding mode proposes
// relocating the newly created right half onto its ring-assigned replica
// set, per spec.md §4.5's "Leaf-page move" triggered by "split in sharding
// mode". The negotiation runs on its own goroutine so the triggering write
// (already holding the map's write lock) never blocks on it.
type SplitMover struct {
	MapName  string
	Sources  CandidateSource
	N        int
	Mover    *MoveCoordinator
	CurHosts func() []types.NodeID

	// Map is the owning map, used to fetch the split leaf's page image
	// once this node wins the negotiation, the same Serializer/LeafAt pair
	// pkg/rpc's handleReadRemote uses to serve a remote page read.
	Map *btree.Map
}

// OnLeafSplit returns the closure to pass to btree.WithSplitListener.
func (sm *SplitMover) OnLeafSplit() func(splitKey types.Value) {
	return func(splitKey types.Value) {
		go sm.negotiate(splitKey)
	}
}

func (sm *SplitMover) negotiate(splitKey types.Value) {
	oldHosts := sm.CurHosts()
	if len(oldHosts) == 0 {
		return
	}
	newHosts := sm.Sources.Candidates(splitKey.Describe(), sm.N)
	if len(newHosts) == 0 {
		return
	}

	plan := LeafPageMovePlan{
		MoverHostID: sm.Mover.Self,
		NewReplicas: newHosts,
		PageKey:     splitKey,
		Index:       0,
	}
	winner, err := sm.Mover.Negotiate(sm.MapName, plan, oldHosts)
	if err != nil {
		slog.Warn("replication: leaf move negotiation failed", "key", splitKey.Describe(), "err", err)
		return
	}
	if winner.MoverHostID != sm.Mover.Self {
		// Another replica won the round; nothing to ship from here.
		return
	}

	notMoved := subtractHosts(oldHosts, winner.NewReplicas)
	if sm.Map == nil {
		slog.Warn("replication: leaf move won but no map wired to fetch the page image", "key", splitKey.Describe())
		return
	}
	leaf, ok := sm.Map.LeafAt(splitKey)
	if !ok {
		// adoptPlan already demoted our own copy to Remote in Negotiate;
		// nothing left locally to ship.
		return
	}
	image, err := pagestore.EncodeLeaf(leaf, sm.Map.Serializer())
	if err != nil {
		slog.Warn("replication: encode leaf image for move failed", "key", splitKey.Describe(), "err", err)
		return
	}
	if err := sm.Mover.Execute(sm.MapName, winner, image); err != nil {
		slog.Warn("replication: leaf move image transfer failed", "key", splitKey.Describe(), "err", err)
		return
	}
	sm.Mover.NotifyStale(sm.MapName, notMoved, splitKey)
	slog.Info("replication: leaf move executed", "key", splitKey.Describe(), "replicas", winner.NewReplicas)
}

// subtractHosts returns the hosts in all that are not in keep, preserving
// all's order.
func subtractHosts(all, keep []types.NodeID) []types.NodeID {
	keepSet := make(map[types.NodeID]struct{}, len(keep))
	for _, h := range keep {
		keepSet[h] = struct{}{}
	}
	var out []types.NodeID
	for _, h := range all {
		if _, ok := keepSet[h]; !ok {
			out = append(out, h)
		}
	}
	return out
}
