package page

import (
	"testing"

	"lealone/pkg/types"
)

func TestLeafFind(t *testing.T) {
	cmp := types.DefaultComparator{}
	leaf := NewLeaf(
		[]types.Value{types.Int64(10), types.Int64(20), types.Int64(30)},
		[]types.Value{types.String("a"), types.String("b"), types.String("c")},
		nil,
	)

	idx, found := leaf.Find(types.Int64(20), cmp)
	if !found || idx != 1 {
		t.Fatalf("expected found=true idx=1, got found=%v idx=%d", found, idx)
	}

	idx, found = leaf.Find(types.Int64(15), cmp)
	if found || idx != 1 {
		t.Fatalf("expected found=false insertion idx=1, got found=%v idx=%d", found, idx)
	}

	idx, found = leaf.Find(types.Int64(99), cmp)
	if found || idx != 3 {
		t.Fatalf("expected found=false insertion idx=3, got found=%v idx=%d", found, idx)
	}
}

func TestNodePageIndex(t *testing.T) {
	cmp := types.DefaultComparator{}
	node := NewNode(
		[]types.Value{types.Int64(10), types.Int64(20)},
		[]*Reference{NewReference(NewLeaf(nil, nil, nil), nil, Key{}), NewReference(NewLeaf(nil, nil, nil), nil, Key{}), NewReference(NewLeaf(nil, nil, nil), nil, Key{})},
		nil,
	)

	if got := node.PageIndex(types.Int64(5), cmp); got != 0 {
		t.Fatalf("expected child 0, got %d", got)
	}
	if got := node.PageIndex(types.Int64(10), cmp); got != 1 {
		t.Fatalf("expected child 1, got %d", got)
	}
	if got := node.PageIndex(types.Int64(25), cmp); got != 2 {
		t.Fatalf("expected child 2, got %d", got)
	}
}

func TestReferenceSwingIsVisibleImmediately(t *testing.T) {
	oldPage := NewLeaf([]types.Value{types.Int64(1)}, []types.Value{types.String("a")}, nil)
	ref := NewReference(oldPage, nil, Key{})

	newPage := NewLeaf([]types.Value{types.Int64(1), types.Int64(2)}, []types.Value{types.String("a"), types.String("b")}, nil)
	ref.Swing(newPage)

	if ref.Page() != newPage {
		t.Fatalf("expected swung reference to observe new page")
	}
}

func TestReferenceCompareAndSwing(t *testing.T) {
	p1 := NewLeaf(nil, nil, nil)
	p2 := NewLeaf(nil, nil, nil)
	p3 := NewLeaf(nil, nil, nil)
	ref := NewReference(p1, nil, Key{})

	if !ref.CompareAndSwing(p1, p2) {
		t.Fatalf("expected CAS from p1 to p2 to succeed")
	}
	if ref.CompareAndSwing(p1, p3) {
		t.Fatalf("expected stale CAS from p1 to fail after swing")
	}
	if ref.Page() != p2 {
		t.Fatalf("expected page to remain p2")
	}
}
