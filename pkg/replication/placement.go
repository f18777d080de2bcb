package replication

import (
	"hash/fnv"

	"lealone/pkg/types"
)

// Placement is a fixed, modulo-based replica assignment, ported from the
// teacher's pkg/cluster.Placement. It satisfies CandidateSource like Ring;
// cmd/lealone builds its coordinator on the membership Ring and does not
// construct a Placement.
type Placement struct {
	Nodes             []types.NodeID
	ReplicationFactor int
}

// Candidates implements the same selection interface as Ring so the
// coordinator can be built against either without caring which is backing
// it.
func (p *Placement) Candidates(key string, n int) []types.NodeID {
	if len(p.Nodes) == 0 || p.ReplicationFactor == 0 {
		return nil
	}
	if n <= 0 || n > p.ReplicationFactor {
		n = p.ReplicationFactor
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	start := int(h.Sum32()) % len(p.Nodes)
	if start < 0 {
		start += len(p.Nodes)
	}
	out := make([]types.NodeID, 0, n)
	for i := 0; i < n && i < len(p.Nodes); i++ {
		out = append(out, p.Nodes[(start+i)%len(p.Nodes)])
	}
	return out
}

// CandidateSource is the common interface Ring and Placement both satisfy;
// the coordinator depends on this rather than either concrete type.
type CandidateSource interface {
	Candidates(key string, n int) []types.NodeID
}
