package stats

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dupd-go/dupd/internal/publish"
)

type fakeSink struct {
	groups  []publish.Group
	uniques []string
}

func (f *fakeSink) Duplicates(g publish.Group) error {
	f.groups = append(f.groups, g)
	return nil
}

func (f *fakeSink) Unique(path string) error {
	f.uniques = append(f.uniques, path)
	return nil
}

func TestWrapCountsDuplicatesAndUniques(t *testing.T) {
	inner := &fakeSink{}
	c := New(nil, nil, nil)
	sink := c.Wrap(inner)

	if err := sink.Duplicates(publish.Group{Size: 10, Paths: []string{"/a", "/b", "/c"}}); err != nil {
		t.Fatal(err)
	}
	if err := sink.Unique("/d"); err != nil {
		t.Fatal(err)
	}

	if c.DuplicateGroups.Load() != 1 {
		t.Fatalf("expected 1 duplicate group, got %d", c.DuplicateGroups.Load())
	}
	if c.DuplicateFiles.Load() != 3 {
		t.Fatalf("expected 3 duplicate files, got %d", c.DuplicateFiles.Load())
	}
	if c.UniqueFiles.Load() != 1 {
		t.Fatalf("expected 1 unique file, got %d", c.UniqueFiles.Load())
	}
	if len(inner.groups) != 1 || len(inner.uniques) != 1 {
		t.Fatalf("expected the wrapped sink to still forward through: %+v %+v", inner.groups, inner.uniques)
	}
}

func TestReportGatedByVerboseLevel(t *testing.T) {
	c := New(nil, nil, nil)
	c.DuplicateFiles.Store(4)
	c.DuplicateGroups.Store(2)

	base := c.Report(0)
	if !strings.Contains(base, "4 files in 2 groups") {
		t.Fatalf("unexpected base report: %q", base)
	}
	if strings.Contains(base, "Round 1") {
		t.Fatalf("level 0 should not include per-phase detail: %q", base)
	}
}

func TestSaveAppendsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.txt")

	c1 := New(nil, nil, nil)
	c1.DuplicateFiles.Store(2)
	c1.DuplicateGroups.Store(1)
	if err := c1.Save(path); err != nil {
		t.Fatal(err)
	}

	c2 := New(nil, nil, nil)
	c2.DuplicateFiles.Store(5)
	c2.DuplicateGroups.Store(1)
	if err := c2.Save(path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if strings.Count(content, "duplicate_files 2") != 1 || strings.Count(content, "duplicate_files 5") != 1 {
		t.Fatalf("expected both runs' records to be preserved, got:\n%s", content)
	}
}
