package round1

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/dupd-go/dupd/internal/arena"
	"github.com/dupd-go/dupd/internal/config"
	"github.com/dupd-go/dupd/internal/digest"
	"github.com/dupd-go/dupd/internal/dirtree"
	"github.com/dupd-go/dupd/internal/pathlist"
	"github.com/dupd-go/dupd/internal/publish"
	"github.com/dupd-go/dupd/internal/readlist"
)

func mustAlgo(t *testing.T) *digest.Algorithm {
	t.Helper()
	algo, err := digest.New(config.HashMD5)
	if err != nil {
		t.Fatal(err)
	}
	return algo
}

type fakeSink struct {
	groups  []publish.Group
	uniques []string
}

func (f *fakeSink) Duplicates(g publish.Group) error {
	sort.Strings(g.Paths)
	f.groups = append(f.groups, g)
	return nil
}

func (f *fakeSink) Unique(path string) error {
	f.uniques = append(f.uniques, path)
	return nil
}

// setup creates a head with the given file contents (all same size by
// construction, since they share a path-list head) and returns the
// ingredients Run needs.
func setup(t *testing.T, contents []string) (*pathlist.Lists, *dirtree.Tree, arena.Ref, []readlist.Entry) {
	t.Helper()
	dir := t.TempDir()
	tree := dirtree.New()
	dirRef := tree.Insert(tree.Root(), dir[1:])
	lists := pathlist.NewLists(16)

	size := int64(len(contents[0]))
	head := lists.NewHead(size)

	var reads []readlist.Entry
	for i, c := range contents {
		if int64(len(c)) != size {
			t.Fatalf("fixture files must share a size")
		}
		name := string(rune('a' + i))
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(c), 0o644); err != nil {
			t.Fatal(err)
		}
		var ref arena.Ref
		if i == 0 {
			ref = lists.InsertFirstPath(head, dirRef, name, 1, uint64(i+1), 1, time.Time{})
		} else {
			ref = lists.InsertEndPath(head, dirRef, name, 1, uint64(i+1), 1, time.Time{})
		}
		reads = append(reads, readlist.Entry{Head: head, Self: ref, Size: size, SetSize: len(contents)})
	}
	return lists, tree, head, reads
}

func TestRotationalPublishesFullyReadDuplicates(t *testing.T) {
	lists, tree, head, reads := setup(t, []string{"aaaa", "aaaa", "bbbb"})
	cfg := config.New()
	cfg.FirstBlockSize = 64
	cfg.FirstBlocks = 1 // prefix window covers whole 4-byte file

	sink := &fakeSink{}
	e := New(cfg, tree, lists, mustAlgo(t), sink, nil)
	e.Run(reads, nil)

	if len(sink.groups) != 1 {
		t.Fatalf("expected 1 duplicate group, got %+v", sink.groups)
	}
	if len(sink.groups[0].Paths) != 2 {
		t.Fatalf("expected 2 members, got %+v", sink.groups[0].Paths)
	}
	if len(sink.uniques) != 0 && cfg.SaveUniques {
		t.Fatalf("unexpected uniques: %v", sink.uniques)
	}
	if lists.Heads.Get(head).State != pathlist.HeadDone {
		t.Fatalf("expected head DONE, got %v", lists.Heads.Get(head).State)
	}
}

func TestRotationalAllUniqueMarksHeadDone(t *testing.T) {
	lists, tree, head, reads := setup(t, []string{"aaaa", "bbbb", "cccc"})
	cfg := config.New()
	cfg.FirstBlockSize = 64
	cfg.FirstBlocks = 1
	cfg.SaveUniques = true

	sink := &fakeSink{}
	e := New(cfg, tree, lists, mustAlgo(t), sink, nil)
	e.Run(reads, nil)

	if len(sink.groups) != 0 {
		t.Fatalf("expected no duplicate groups, got %+v", sink.groups)
	}
	if len(sink.uniques) != 3 {
		t.Fatalf("expected 3 uniques recorded, got %v", sink.uniques)
	}
	if lists.Heads.Get(head).State != pathlist.HeadDone {
		t.Fatalf("expected head DONE once every entry is unique")
	}
}

func TestRotationalPartialReadSurvivesToRound2(t *testing.T) {
	lists, tree, head, reads := setup(t, []string{"aaaaaaaa", "aaaaaaaa"})
	cfg := config.New()
	cfg.FirstBlockSize = 4
	cfg.FirstBlocks = 1 // prefix window (4 bytes) shorter than the 8-byte files

	sink := &fakeSink{}
	e := New(cfg, tree, lists, mustAlgo(t), sink, nil)
	e.Run(reads, nil)

	if len(sink.groups) != 0 {
		t.Fatalf("expected no publish yet (not fully read), got %+v", sink.groups)
	}
	if lists.Heads.Get(head).State != pathlist.HeadR2Needed {
		t.Fatalf("expected head R2_NEEDED, got %v", lists.Heads.Get(head).State)
	}
}

func TestNonRotationalSSDPathDispatchesWholeHead(t *testing.T) {
	lists, tree, head, _ := setup(t, []string{"xxxx", "xxxx"})
	cfg := config.New()
	cfg.SSD = true
	cfg.FirstBlockSize = 64
	cfg.FirstBlocks = 1

	sink := &fakeSink{}
	e := New(cfg, tree, lists, mustAlgo(t), sink, nil)
	e.Run(nil, []arena.Ref{head})

	if len(sink.groups) != 1 {
		t.Fatalf("expected 1 duplicate group via SSD path, got %+v", sink.groups)
	}
}
