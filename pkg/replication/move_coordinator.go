package replication

import (
	"fmt"
	"log/slog"

	"lealone/pkg/types"
)

// MoveCoordinator drives the leaf-page move negotiation of spec.md §4.5,
// steps 1-5: propose a plan, broadcast prepareMoveLeafPage to the old
// replica set, settle on a winner by quorum, then ship the page image if
// this node is the winner. The replica side of the negotiation (step 2,
// remembering the highest-Index plan seen per key) is planStore, exposed
// here as PrepareMoveLeafPage so pkg/rpc can call it for inbound requests.
type MoveCoordinator struct {
	Self     types.NodeID
	Dial     Directory
	MaxTries int

	// LocalDemote, if set, is invoked whenever a winning plan drops this
	// node from a page's replica set: the Go analogue of step 4's
	// "coordinator yields and only updates its local replica-host list
	// from the plan", generalized to every replica (not just the
	// coordinator) and to an actual local page swap rather than metadata
	// bookkeeping. Wired to pkg/btree.Map.SwapLeafToRemote.
	LocalDemote func(pageKey types.Value, newReplicas []string)

	store *planStore
}

func NewMoveCoordinator(self types.NodeID, dial Directory, maxTries int) *MoveCoordinator {
	if maxTries <= 0 {
		maxTries = 3
	}
	return &MoveCoordinator{Self: self, Dial: dial, MaxTries: maxTries, store: newPlanStore()}
}

// PrepareMoveLeafPage is the replica-side handler: record plan if it is the
// newest seen for its page key, and return whichever plan (this one or an
// earlier coordinator's) is currently held.
func (mc *MoveCoordinator) PrepareMoveLeafPage(mapName string, plan LeafPageMovePlan) LeafPageMovePlan {
	return mc.store.Prepare(plan)
}

// ForgetPlan drops the remembered plan for pageKey once a move has been
// committed or abandoned for it.
func (mc *MoveCoordinator) ForgetPlan(pageKey types.Value) {
	mc.store.Forget(pageKey)
}

// Negotiate implements steps 2-3: broadcast plan to oldReplicas, validate
// with quorum, and on failure retry with an incremented index, up to
// MaxTries rounds.
func (mc *MoveCoordinator) Negotiate(mapName string, plan LeafPageMovePlan, oldReplicas []types.NodeID) (LeafPageMovePlan, error) {
	w := quorum(len(oldReplicas))
	for round := 0; round < mc.MaxTries; round++ {
		plans := make([]LeafPageMovePlan, 0, len(oldReplicas))
		for _, host := range oldReplicas {
			if host == mc.Self {
				plans = append(plans, mc.PrepareMoveLeafPage(mapName, plan))
				continue
			}
			r, err := mc.Dial.Dial(host)
			if err != nil {
				continue
			}
			resp, err := r.PrepareMoveLeafPage(mapName, plan)
			if err != nil {
				continue
			}
			plans = append(plans, resp)
		}

		if winner, ok := validPlan(plans, w); ok {
			mc.adoptPlan(winner)
			return winner, nil
		}
		plan = plan.IncrementIndex()
	}
	return LeafPageMovePlan{}, fmt.Errorf("replication: no leaf-page move plan reached quorum for key %v", plan.PageKey)
}

// adoptPlan demotes this node's local copy to Remote if winner's replica
// set no longer includes it.
func (mc *MoveCoordinator) adoptPlan(winner LeafPageMovePlan) {
	if mc.LocalDemote == nil {
		return
	}
	for _, h := range winner.NewReplicas {
		if h == mc.Self {
			return
		}
	}
	hosts := make([]string, 0, len(winner.NewReplicas))
	for _, h := range winner.NewReplicas {
		hosts = append(hosts, string(h))
	}
	mc.LocalDemote(winner.PageKey, hosts)
}

// Execute implements step 4-5: if winner didn't name this node as mover,
// it returns without shipping anything (Negotiate's adoptPlan has already
// applied the plan locally). Otherwise it ships pageImage to every new
// replica with addPage=true, matching
// the Java source's moveLeafPage(data, addPage) call.
func (mc *MoveCoordinator) Execute(mapName string, winner LeafPageMovePlan, pageImage []byte) error {
	if winner.MoverHostID != mc.Self {
		return nil
	}
	for _, host := range winner.NewReplicas {
		r, err := mc.Dial.Dial(host)
		if err != nil {
			return fmt.Errorf("replication: dial %s for move: %w", host, err)
		}
		if err := r.MoveLeafPage(mapName, winner.PageKey, pageImage, true); err != nil {
			return fmt.Errorf("replication: move leaf page to %s: %w", host, err)
		}
	}
	return nil
}

// NotifyStale broadcasts the addPage=false half of moveLeafPage to every
// host that held pageKey's old replica set but is not part of the winning
// plan: no page bytes travel, it is a bare settlement notice so a stale
// candidate drops any plan it remembered for pageKey rather than waiting on
// a round that already finished elsewhere. Matches the Java source's
// otherNodes moveLeafPage(data, addPage) call, generalized from "other
// prepareMoveLeafPage candidates" to "hosts dropped from the replica set".
// Failures are logged and otherwise ignored: a host that misses this notice
// keeps its remembered plan until a plan with a higher Index replaces it
// or ForgetPlan is called for the key.
func (mc *MoveCoordinator) NotifyStale(mapName string, hosts []types.NodeID, pageKey types.Value) {
	for _, host := range hosts {
		if host == mc.Self {
			mc.store.Forget(pageKey)
			continue
		}
		r, err := mc.Dial.Dial(host)
		if err != nil {
			slog.Warn("replication: dial stale replica for move notice", "host", host, "err", err)
			continue
		}
		if err := r.MoveLeafPage(mapName, pageKey, nil, false); err != nil {
			slog.Warn("replication: notify stale replica of move failed", "host", host, "err", err)
		}
	}
}

// RemoveStaleReplica tells host to drop its copy of pageKey once it is no
// longer in the replica set, matching the Java source's removeLeafPage.
func (mc *MoveCoordinator) RemoveStaleReplica(mapName string, host types.NodeID, pageKey types.Value) error {
	r, err := mc.Dial.Dial(host)
	if err != nil {
		return fmt.Errorf("replication: dial %s for removal: %w", host, err)
	}
	return r.RemoveLeafPage(mapName, pageKey)
}

// ReadRemotePage fetches a Remote-owned leaf's image from the first
// reachable replica, matching readRemotePage's "ask commands[0]" shape
// generalized to fall through to the next candidate on failure.
func (mc *MoveCoordinator) ReadRemotePage(mapName string, pageKey types.Value, hosts []types.NodeID) ([]byte, error) {
	var lastErr error
	for _, host := range hosts {
		r, err := mc.Dial.Dial(host)
		if err != nil {
			lastErr = err
			continue
		}
		data, err := r.ReadRemotePage(mapName, pageKey)
		if err != nil {
			lastErr = err
			continue
		}
		return data, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("replication: no replica available for page %v", pageKey)
	}
	return nil, lastErr
}
