package sizeindex

import (
	"testing"
	"time"

	"github.com/dupd-go/dupd/internal/arena"
	"github.com/dupd-go/dupd/internal/pathlist"
)

func TestFirstFileStaysInlineNoHead(t *testing.T) {
	lists := pathlist.NewLists(16)
	ix := New(lists)

	res := ix.Insert(100, arena.NoRef, "a", 1, 1, 1, time.Now())
	if res.Head != arena.NoRef {
		t.Fatalf("first file of a size must not create a head yet")
	}
	if len(ix.Heads()) != 0 {
		t.Fatalf("expected zero heads before promotion")
	}
}

func TestSecondFilePromotesHead(t *testing.T) {
	lists := pathlist.NewLists(16)
	ix := New(lists)

	ix.Insert(100, arena.NoRef, "a", 1, 1, 1, time.Now())
	res := ix.Insert(100, arena.NoRef, "b", 1, 2, 1, time.Now())

	if !res.Promoted {
		t.Fatalf("expected promotion on second file of same size")
	}
	if res.Head == arena.NoRef {
		t.Fatalf("expected a head ref on promotion")
	}
	head := lists.Heads.Get(res.Head)
	if head.ListSize != 2 {
		t.Fatalf("ListSize = %d, want 2", head.ListSize)
	}
	heads := ix.Heads()
	if len(heads) != 1 || heads[0] != res.Head {
		t.Fatalf("Heads() = %v", heads)
	}
}

func TestThirdFileAppendsOnly(t *testing.T) {
	lists := pathlist.NewLists(16)
	ix := New(lists)

	ix.Insert(100, arena.NoRef, "a", 1, 1, 1, time.Now())
	res2 := ix.Insert(100, arena.NoRef, "b", 1, 2, 1, time.Now())
	res3 := ix.Insert(100, arena.NoRef, "c", 1, 3, 1, time.Now())

	if res3.Promoted {
		t.Fatalf("third file must not be reported as a promotion")
	}
	if res3.Head != res2.Head {
		t.Fatalf("third file should join the same head")
	}
	if got := lists.Heads.Get(res3.Head).ListSize; got != 3 {
		t.Fatalf("ListSize = %d, want 3", got)
	}
}

func TestDistinctSizesStayIndependent(t *testing.T) {
	lists := pathlist.NewLists(16)
	ix := New(lists)

	ix.Insert(100, arena.NoRef, "a", 1, 1, 1, time.Now())
	ix.Insert(200, arena.NoRef, "b", 1, 2, 1, time.Now())
	ix.Insert(200, arena.NoRef, "c", 1, 3, 1, time.Now())

	heads := ix.Heads()
	if len(heads) != 1 {
		t.Fatalf("only size 200 should have been promoted, got %d heads", len(heads))
	}
	if lists.Heads.Get(heads[0]).Size != 200 {
		t.Fatalf("promoted head has wrong size")
	}
}

func TestDismantleDropsTreeNotArenaData(t *testing.T) {
	lists := pathlist.NewLists(16)
	ix := New(lists)
	ix.Insert(100, arena.NoRef, "a", 1, 1, 1, time.Now())
	res := ix.Insert(100, arena.NoRef, "b", 1, 2, 1, time.Now())

	ix.Dismantle()
	if len(ix.Heads()) != 0 {
		t.Fatalf("expected empty tree after Dismantle")
	}
	// The head itself, reachable independently via res.Head, must still be valid.
	if got := lists.Heads.Get(res.Head).ListSize; got != 2 {
		t.Fatalf("head data should survive Dismantle, got ListSize=%d", got)
	}
}
