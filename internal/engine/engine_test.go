package engine

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/dupd-go/dupd/internal/config"
	"github.com/dupd-go/dupd/internal/publish"
)

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

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunFindsDuplicatesAcrossDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a", "1.txt"), "the quick brown fox")
	writeFile(t, filepath.Join(dir, "b", "2.txt"), "the quick brown fox")
	writeFile(t, filepath.Join(dir, "c", "3.txt"), "something else entirely")

	cfg := config.New()
	cfg.Paths = []string{dir}
	cfg.HashFunction = config.HashMD5

	sink := &fakeSink{}
	e, err := New(cfg, sink, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	counters, err := e.Run()
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if len(sink.groups) != 1 {
		t.Fatalf("expected 1 duplicate group, got %+v", sink.groups)
	}
	if len(sink.groups[0].Paths) != 2 {
		t.Fatalf("expected 2 duplicate members, got %+v", sink.groups[0].Paths)
	}
	if counters.DuplicateFiles.Load() != 2 || counters.DuplicateGroups.Load() != 1 {
		t.Fatalf("unexpected counters: %+v", counters)
	}
}

func TestRunSkipsHardlinksWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "1.txt")
	writeFile(t, original, "identical content")
	linked := filepath.Join(dir, "2.txt")
	if err := os.Link(original, linked); err != nil {
		t.Skipf("hardlinks unsupported on this filesystem: %v", err)
	}

	cfg := config.New()
	cfg.Paths = []string{dir}
	cfg.HardlinkIsUnique = true

	sink := &fakeSink{}
	e, err := New(cfg, sink, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(); err != nil {
		t.Fatal(err)
	}

	if len(sink.groups) != 0 {
		t.Fatalf("expected hardlinked copies to collapse to one file, got %+v", sink.groups)
	}
}

func TestRunSavesUniquesWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "1.txt"), "aaaa")
	writeFile(t, filepath.Join(dir, "2.txt"), "bbbb")

	cfg := config.New()
	cfg.Paths = []string{dir}
	cfg.SaveUniques = true

	sink := &fakeSink{}
	e, err := New(cfg, sink, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(); err != nil {
		t.Fatal(err)
	}

	if len(sink.uniques) != 2 {
		t.Fatalf("expected 2 unique files recorded, got %+v", sink.uniques)
	}
}

func TestRunSavesSingletonSizeAsUnique(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a", "1.txt"), "the quick brown fox")
	writeFile(t, filepath.Join(dir, "b", "2.txt"), "the quick brown fox")
	writeFile(t, filepath.Join(dir, "c", "3.txt"), "something else entirely, and a size nothing else shares")

	cfg := config.New()
	cfg.Paths = []string{dir}
	cfg.SaveUniques = true

	sink := &fakeSink{}
	e, err := New(cfg, sink, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(); err != nil {
		t.Fatal(err)
	}

	if len(sink.groups) != 1 {
		t.Fatalf("expected 1 duplicate group, got %+v", sink.groups)
	}
	if len(sink.uniques) != 1 || !strings.HasSuffix(sink.uniques[0], "3.txt") {
		t.Fatalf("expected the size-unique file to be recorded, got %+v", sink.uniques)
	}
}

func TestValidateDetectsNoViolationOnCleanRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "1.txt"), "same")
	writeFile(t, filepath.Join(dir, "2.txt"), "same")

	cfg := config.New()
	cfg.Paths = []string{dir}

	e, err := New(cfg, &fakeSink{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(); err != nil {
		t.Fatal(err)
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("unexpected invariant violation: %v", err)
	}
}
