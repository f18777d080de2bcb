package replication

import (
	"sort"
	"sync"

	"lealone/pkg/types"
)

// LeafPageMovePlan is one coordinator's proposal for relocating a leaf,
// ported from the Java source's LeafPageMovePlan: MoverHostID is the
// candidate chosen to actually hold and ship the page image, NewReplicas is
// the replica set it proposes, and Index is bumped each retried round so
// replicas can tell a fresher proposal from a stale one.
type LeafPageMovePlan struct {
	MoverHostID types.NodeID
	NewReplicas []types.NodeID
	PageKey     types.Value
	Index       int
}

func (p LeafPageMovePlan) IncrementIndex() LeafPageMovePlan {
	p.Index++
	return p
}

// planStore is the replica side of the negotiation: it remembers, per page
// key, the plan with the largest Index seen so far and returns it on every
// prepareMoveLeafPage call, matching step 2 of spec.md §4.5. Guarded by a
// mutex rather than a concurrent map: Prepare's read-then-maybe-write must
// be atomic, which a bare concurrent map's Load/Store pair would not give
// it without a compare-and-swap retry loop.
type planStore struct {
	mu    sync.Mutex
	byKey map[string]LeafPageMovePlan
}

func newPlanStore() *planStore { return &planStore{byKey: make(map[string]LeafPageMovePlan)} }

func pageKeyString(k types.Value) string { return k.Describe() }

// Prepare records plan if it is newer (or first) for its page key and
// returns the plan currently held, which may be a prior coordinator's.
func (s *planStore) Prepare(plan LeafPageMovePlan) LeafPageMovePlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pageKeyString(plan.PageKey)
	cur, ok := s.byKey[k]
	if !ok || plan.Index > cur.Index {
		s.byKey[k] = plan
		return plan
	}
	return cur
}

func (s *planStore) Forget(pageKey types.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byKey, pageKeyString(pageKey))
}

// validPlan implements the Java source's getValidPlan: group the returned
// plans by MoverHostID; a group with >= w members wins outright; failing
// that, among hosts with >= w total acknowledgements (here: all responses,
// since every replica answers with *some* plan) the lexicographically
// largest MoverHostID wins; otherwise no plan is valid this round.
func validPlan(plans []LeafPageMovePlan, w int) (LeafPageMovePlan, bool) {
	if len(plans) == 0 {
		return LeafPageMovePlan{}, false
	}

	groups := make(map[types.NodeID][]LeafPageMovePlan)
	for _, p := range plans {
		groups[p.MoverHostID] = append(groups[p.MoverHostID], p)
	}
	for _, group := range groups {
		if len(group) >= w {
			return group[0], true
		}
	}

	if len(plans) < w {
		return LeafPageMovePlan{}, false
	}
	sorted := append([]LeafPageMovePlan(nil), plans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MoverHostID > sorted[j].MoverHostID })
	return sorted[0], true
}
