package btree

import (
	"lealone/pkg/page"
	"lealone/pkg/pageop"
	"lealone/pkg/types"
)

// remoteSwap is the pageop.SingleWrite behind SwapLeafToRemote: it replaces
// the leaf owning key with a Remote placeholder, the concrete mechanism
// spec.md §4.5 step 5 calls "rewires the parent to a Remote reference".
type remoteSwap struct {
	m        *Map
	key      types.Value
	replicas []string
}

func (op *remoteSwap) Affinity() uint64 { return affinityOf(op.key) }

func (op *remoteSwap) Run() pageop.Result {
	m := op.m
	if !m.mu.TryLock() {
		return pageop.Retry
	}
	defer m.mu.Unlock()

	m.latch.RLock()
	defer m.latch.RUnlock()

	stack := m.descend(op.key)
	leaf := stack[len(stack)-1].page
	if leaf.IsRemote() {
		return pageop.Succeeded
	}
	replicas := op.replicas
	if replicas == nil {
		replicas = leaf.ReplicationHostIds
	}
	m.commitLeaf(stack, page.NewRemote(replicas))
	return pageop.Succeeded
}

// SwapLeafToRemote replaces the leaf owning key with a Remote placeholder
// carrying replicas, or the leaf's own current replica list when replicas is
// nil. The replication layer (C7) calls this once a leaf-page move completes
// and this node is no longer one of the leaf's replicas, or once a replica
// set change drops this node entirely (the Go analogue of removeLeafPage,
// which has nothing left to point at but the replica set it was just cut
// from).
func (m *Map) SwapLeafToRemote(key types.Value, replicas []string) {
	op := &remoteSwap{m: m, key: key, replicas: replicas}
	m.submit(op)
}

// adoptLeaf is the pageop.SingleWrite behind AdoptRemoteLeaf: it installs an
// inbound leaf image at the position owning key, the receiving side of
// moveLeafPage(data, addPage=true).
type adoptLeaf struct {
	m    *Map
	key  types.Value
	leaf *page.Page
}

func (op *adoptLeaf) Affinity() uint64 { return affinityOf(op.key) }

func (op *adoptLeaf) Run() pageop.Result {
	m := op.m
	if !m.mu.TryLock() {
		return pageop.Retry
	}
	defer m.mu.Unlock()

	m.latch.RLock()
	defer m.latch.RUnlock()

	stack := m.descend(op.key)
	before := stack[len(stack)-1].page
	delta := int64(len(op.leaf.Keys))
	if before.IsLeaf() {
		delta -= int64(len(before.Keys))
	}
	m.commitLeaf(stack, op.leaf)
	m.size.Add(delta)
	return pageop.Succeeded
}

// AdoptRemoteLeaf installs leaf as the page owning key, used when this node
// becomes (or remains) a replica receiving a shipped leaf image via
// moveLeafPage. key must fall within the range the Remote placeholder it
// replaces (or the leaf it refines) already covers.
func (m *Map) AdoptRemoteLeaf(key types.Value, leaf *page.Page) {
	op := &adoptLeaf{m: m, key: key, leaf: leaf}
	m.submit(op)
}
