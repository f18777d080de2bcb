package rpc

import (
	"net/http/httptest"
	"testing"

	"lealone/pkg/btree"
	"lealone/pkg/page"
	"lealone/pkg/pageop"
	"lealone/pkg/pagestore"
	"lealone/pkg/replication"
	"lealone/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *btree.Map, *httptest.Server) {
	t.Helper()
	f := pageop.NewFactory(4, 8)
	t.Cleanup(f.Close)
	m := btree.New("kv", types.DefaultComparator{}, types.BinarySerializer{}, f, btree.WithMaxLeafSize(8))

	s := NewServer("0")
	s.RegisterMap("kv", m)

	hs := httptest.NewServer(s.createRouter())
	t.Cleanup(hs.Close)
	return s, m, hs
}

func TestHandleGetPutRoundTrip(t *testing.T) {
	_, m, hs := newTestServer(t)
	client := NewClient("self", hs.URL)

	if _, _, err := client.Put(types.ReplicationName{}, "kv", types.Int64(1), types.String("v1"), false); err != nil {
		t.Fatalf("put: %v", err)
	}

	v, found, err := client.Get("kv", types.Int64(1))
	if err != nil || !found || v.Str != "v1" {
		t.Fatalf("expected v1, got v=%v found=%v err=%v", v, found, err)
	}

	// value must have actually landed in the local map, not just round-tripped
	// through the HTTP envelope.
	direct, ok := m.Get(types.Int64(1))
	if !ok || direct.Str != "v1" {
		t.Fatalf("expected local map to hold put value, got %v ok=%v", direct, ok)
	}
}

func TestHandleGetUnknownMapReturnsError(t *testing.T) {
	_, _, hs := newTestServer(t)
	client := NewClient("self", hs.URL)

	_, _, err := client.Get("nosuch", types.Int64(1))
	if err == nil {
		t.Fatalf("expected error for unknown map")
	}
}

func TestHandleReplaceAndRemove(t *testing.T) {
	_, _, hs := newTestServer(t)
	client := NewClient("self", hs.URL)

	client.Put(types.ReplicationName{}, "kv", types.String("k"), types.String("old"), false)

	ok, err := client.Replace(types.ReplicationName{}, "kv", types.String("k"), types.String("wrong"), types.String("new"))
	if err != nil || ok {
		t.Fatalf("expected replace to fail on mismatched old value, ok=%v err=%v", ok, err)
	}
	ok, err = client.Replace(types.ReplicationName{}, "kv", types.String("k"), types.String("old"), types.String("new"))
	if err != nil || !ok {
		t.Fatalf("expected replace to succeed, ok=%v err=%v", ok, err)
	}

	old, had, err := client.Remove(types.ReplicationName{}, "kv", types.String("k"))
	if err != nil || !had || old.Str != "new" {
		t.Fatalf("expected remove to report prior value new, got old=%v had=%v err=%v", old, had, err)
	}

	_, found, _ := client.Get("kv", types.String("k"))
	if found {
		t.Fatalf("expected key absent after remove")
	}
}

func TestHandleAppendAssignsKey(t *testing.T) {
	_, _, hs := newTestServer(t)
	client := NewClient("self", hs.URL)

	k1, err := client.Append(types.ReplicationName{}, "kv", types.String("a"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	k2, err := client.Append(types.ReplicationName{}, "kv", types.String("b"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if k2.I64 <= k1.I64 {
		t.Fatalf("expected strictly increasing append keys, got %v then %v", k1, k2)
	}
}

func TestHandleReplicationCommitAppliesValue(t *testing.T) {
	_, m, hs := newTestServer(t)
	client := NewClient("self", hs.URL)

	commit := replication.ReplicationCommit{
		Key:   types.Int64(7),
		Value: types.String("settled"),
	}
	if err := client.ReplicationCommit("kv", commit); err != nil {
		t.Fatalf("replicationCommit: %v", err)
	}

	v, ok := m.Get(types.Int64(7))
	if !ok || v.Str != "settled" {
		t.Fatalf("expected replicationCommit to apply the settled value, got %v ok=%v", v, ok)
	}
}

func TestHandlePutRejectsOutOfOrderReplicationName(t *testing.T) {
	_, m, hs := newTestServer(t)
	client := NewClient("self", hs.URL)

	n1 := types.ReplicationName{Counter: 1, Coordinator: "coord-a"}
	n2 := types.ReplicationName{Counter: 2, Coordinator: "coord-a"}

	// W2 (the newer write) arrives first...
	if _, _, err := client.Put(n2, "kv", types.Int64(1), types.String("newer"), false); err != nil {
		t.Fatalf("put n2: %v", err)
	}
	// ...then W1 (a stale retry or a race from a second coordinator) arrives
	// after it. The replica must keep W2's value rather than let the older
	// name clobber it.
	if _, _, err := client.Put(n1, "kv", types.Int64(1), types.String("older"), false); err != nil {
		t.Fatalf("put n1: %v", err)
	}

	v, ok := m.Get(types.Int64(1))
	if !ok || v.Str != "newer" {
		t.Fatalf("expected the replica to keep the newer-named write, got %v ok=%v", v, ok)
	}
}

func TestHandleReplicationCommitRejectsStaleCommit(t *testing.T) {
	_, m, hs := newTestServer(t)
	client := NewClient("self", hs.URL)

	n1 := types.ReplicationName{Counter: 1, Coordinator: "coord-a"}
	n2 := types.ReplicationName{Counter: 2, Coordinator: "coord-a"}

	if err := client.ReplicationCommit("kv", replication.ReplicationCommit{
		Key: types.Int64(9), Value: types.String("settled"), Name: n2,
	}); err != nil {
		t.Fatalf("commit n2: %v", err)
	}
	if err := client.ReplicationCommit("kv", replication.ReplicationCommit{
		Key: types.Int64(9), Value: types.String("stale"), Name: n1,
	}); err != nil {
		t.Fatalf("commit n1: %v", err)
	}

	v, ok := m.Get(types.Int64(9))
	if !ok || v.Str != "settled" {
		t.Fatalf("expected the settled value to survive a stale reconcile commit, got %v ok=%v", v, ok)
	}
}

func TestHandleMoveLeafInstallsAdoptedImage(t *testing.T) {
	_, m, hs := newTestServer(t)
	client := NewClient("self", hs.URL)

	m.SwapLeafToRemote(types.Int64(3), []string{"host-a"})

	leaf := btreeLeafWithOneKey(t, types.Int64(3), types.String("shipped"))
	image, err := pagestore.EncodeLeaf(leaf, m.Serializer())
	if err != nil {
		t.Fatalf("encode leaf: %v", err)
	}

	if err := client.MoveLeafPage("kv", types.Int64(3), image, true); err != nil {
		t.Fatalf("moveLeafPage: %v", err)
	}

	v, ok := m.Get(types.Int64(3))
	if !ok || v.Str != "shipped" {
		t.Fatalf("expected adopted leaf value visible locally, got %v ok=%v", v, ok)
	}
}

func TestHandleRemoveLeafDemotesToRemote(t *testing.T) {
	_, m, hs := newTestServer(t)
	client := NewClient("self", hs.URL)

	m.Put(types.Int64(4), types.String("v"))

	if err := client.RemoveLeafPage("kv", types.Int64(4)); err != nil {
		t.Fatalf("removeLeafPage: %v", err)
	}

	if _, ok := m.Get(types.Int64(4)); ok {
		t.Fatalf("expected key absent after removeLeafPage demotes the leaf to remote")
	}
}

func TestHandleReadRemoteReturnsEncodedLeaf(t *testing.T) {
	_, m, hs := newTestServer(t)
	client := NewClient("self", hs.URL)

	m.Put(types.Int64(5), types.String("v5"))

	data, err := client.ReadRemotePage("kv", types.Int64(5))
	if err != nil {
		t.Fatalf("readRemotePage: %v", err)
	}
	leaf, err := pagestore.DecodeLeaf(data, m.Serializer())
	if err != nil {
		t.Fatalf("decode returned page image: %v", err)
	}
	idx, found := leaf.Find(types.Int64(5), types.DefaultComparator{})
	if !found || leaf.Values[idx].Str != "v5" {
		t.Fatalf("expected decoded leaf to contain key 5 -> v5")
	}
}

func TestHandlePrepareMoveWithoutCoordinatorFails(t *testing.T) {
	_, _, hs := newTestServer(t)
	client := NewClient("self", hs.URL)

	_, err := client.PrepareMoveLeafPage("kv", replication.LeafPageMovePlan{PageKey: types.Int64(1)})
	if err == nil {
		t.Fatalf("expected prepareMoveLeafPage to fail without a configured move coordinator")
	}
}

func TestHandlePrepareMoveWithCoordinatorReturnsHighestIndexPlan(t *testing.T) {
	s, _, hs := newTestServer(t)
	mc := replication.NewMoveCoordinator("self", nil, 3)
	s.SetMoveCoordinator(mc)
	client := NewClient("self", hs.URL)

	plan := replication.LeafPageMovePlan{PageKey: types.Int64(1), MoverHostID: "a", Index: 1}
	got, err := client.PrepareMoveLeafPage("kv", plan)
	if err != nil {
		t.Fatalf("prepareMoveLeafPage: %v", err)
	}
	if got.MoverHostID != "a" || got.Index != 1 {
		t.Fatalf("expected the submitted plan to be echoed back, got %+v", got)
	}

	stale := replication.LeafPageMovePlan{PageKey: types.Int64(1), MoverHostID: "b", Index: 0}
	got, err = client.PrepareMoveLeafPage("kv", stale)
	if err != nil {
		t.Fatalf("prepareMoveLeafPage: %v", err)
	}
	if got.MoverHostID != "a" {
		t.Fatalf("expected the higher-index plan to still win, got %+v", got)
	}
}

func TestHandleHealth(t *testing.T) {
	_, _, hs := newTestServer(t)

	resp, err := hs.Client().Get(hs.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 from health, got %d", resp.StatusCode)
	}
}

// btreeLeafWithOneKey builds a standalone Leaf page via a throwaway map, the
// simplest way to get a *page.Page without importing pkg/page's constructors
// directly into this package.
func btreeLeafWithOneKey(t *testing.T, key, value types.Value) *page.Page {
	t.Helper()
	f := pageop.NewFactory(4, 8)
	t.Cleanup(f.Close)
	m := btree.New("tmp", types.DefaultComparator{}, types.BinarySerializer{}, f, btree.WithMaxLeafSize(8))
	m.Put(key, value)
	leaf, ok := m.LeafAt(key)
	if !ok {
		t.Fatalf("expected freshly inserted key to resolve to a local leaf")
	}
	return leaf
}
