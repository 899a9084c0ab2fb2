package models

import (
	"sort"
	"strings"
	"testing"
)

func TestNewIDHasNoSeparator(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := NewID()
		if len(id) != 32 {
			t.Fatalf("id length = %d, want 32", len(id))
		}
		if strings.Contains(id, SortKeySeparator) {
			t.Fatalf("id %q contains separator", id)
		}
	}
}

func TestSetAncestry(t *testing.T) {
	root := &Comment{ID: "aaa"}
	root.SetAncestry(nil)
	if root.Depth != 0 || root.SortKey != "aaa" || len(root.ParentIDs) != 0 {
		t.Fatalf("root ancestry wrong: %+v", root)
	}

	child := &Comment{ID: "bbb"}
	child.SetAncestry(root)
	if child.Depth != 1 {
		t.Errorf("child depth = %d, want 1", child.Depth)
	}
	if child.SortKey != "aaa-bbb" {
		t.Errorf("child sort key = %q", child.SortKey)
	}
	if child.ParentID != "aaa" {
		t.Errorf("child parent id = %q", child.ParentID)
	}

	grand := &Comment{ID: "ccc"}
	grand.SetAncestry(child)
	if grand.Depth != 2 || grand.SortKey != "aaa-bbb-ccc" {
		t.Fatalf("grandchild ancestry wrong: %+v", grand)
	}
	want := []string{"aaa", "bbb"}
	if len(grand.ParentIDs) != 2 || grand.ParentIDs[0] != want[0] || grand.ParentIDs[1] != want[1] {
		t.Fatalf("grandchild parent ids = %v, want %v", grand.ParentIDs, want)
	}
}

func TestAncestorIDs(t *testing.T) {
	if got := AncestorIDs("aaa"); len(got) != 0 {
		t.Fatalf("root has ancestors: %v", got)
	}
	got := AncestorIDs("aaa-bbb-ccc")
	if len(got) != 2 || got[0] != "aaa" || got[1] != "bbb" {
		t.Fatalf("ancestors = %v", got)
	}
}

// 排好序的 sort_key 应该是树的先序遍历：父节点紧跟着它的整棵子树，
// 不会被兄弟节点的子树插队。
func TestSortKeyLexicalOrderIsPreorder(t *testing.T) {
	a := &Comment{ID: NewID()}
	a.SetAncestry(nil)
	b := &Comment{ID: NewID()}
	b.SetAncestry(nil)
	if b.ID < a.ID {
		a, b = b, a
	}
	aChild := &Comment{ID: NewID()}
	aChild.SetAncestry(a)
	aGrand := &Comment{ID: NewID()}
	aGrand.SetAncestry(aChild)
	bChild := &Comment{ID: NewID()}
	bChild.SetAncestry(b)

	keys := []string{b.SortKey, aGrand.SortKey, bChild.SortKey, a.SortKey, aChild.SortKey}
	sort.Strings(keys)

	want := []string{a.SortKey, aChild.SortKey, aGrand.SortKey, b.SortKey, bChild.SortKey}
	for i := range keys {
		if keys[i] != want[i] {
			t.Fatalf("order[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestVotesRecompute(t *testing.T) {
	v := Votes{Up: []string{"u1", "u2"}, Down: []string{"u3"}, UpCount: 99, Point: 99}
	v.Recompute()
	if v.UpCount != 2 || v.DownCount != 1 || v.Count != 3 || v.Point != 1 {
		t.Fatalf("recompute wrong: %+v", v)
	}
	if v.Holds("u1") != "up" || v.Holds("u3") != "down" || v.Holds("u4") != "" {
		t.Fatal("Holds wrong")
	}
}

func TestNewVotesIsEmpty(t *testing.T) {
	v := NewVotes()
	if v.Up == nil || v.Down == nil || v.Count != 0 || v.Point != 0 {
		t.Fatalf("fresh votes wrong: %+v", v)
	}
}
