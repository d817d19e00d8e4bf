package analyzer

import "testing"

func TestUnionFind_MergesConnectedAccounts(t *testing.T) {
	uf := newUnionFind()
	uf.union("acc-a", "acc-b")
	uf.union("acc-b", "acc-c")
	uf.add("acc-d") // isolated

	if uf.find("acc-a") != uf.find("acc-c") {
		t.Errorf("expected acc-a and acc-c to share a component")
	}
	if uf.find("acc-a") == uf.find("acc-d") {
		t.Errorf("expected acc-d to remain in its own component")
	}
	if uf.componentSize("acc-a") != 3 {
		t.Errorf("expected component size 3, got %d", uf.componentSize("acc-a"))
	}
}

func TestUnionFind_ComponentsGroupsEveryTrackedID(t *testing.T) {
	uf := newUnionFind()
	uf.union("a", "b")
	uf.add("c")

	comps := uf.components()
	total := 0
	for _, members := range comps {
		total += len(members)
	}
	if total != 3 {
		t.Errorf("expected 3 total tracked accounts across components, got %d", total)
	}
	if len(comps) != 2 {
		t.Errorf("expected 2 distinct components, got %d", len(comps))
	}
}

func TestUnionFind_UnionReturnsFalseWhenAlreadyMerged(t *testing.T) {
	uf := newUnionFind()
	if !uf.union("x", "y") {
		t.Fatal("expected first union of x,y to report a merge")
	}
	if uf.union("x", "y") {
		t.Error("expected second union of already-merged x,y to report no merge")
	}
}
