package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dupd-go/dupd/internal/config"
	"github.com/dupd-go/dupd/internal/dirtree"
)

func drain(t *testing.T, w *Walker) []FileEntry {
	t.Helper()
	var all []FileEntry
	var sawFinal bool
	for buf := range w.Run() {
		if sawFinal {
			t.Fatalf("received a buffer after the Final one")
		}
		all = append(all, buf.Entries...)
		sawFinal = buf.Final
		w.Release(buf)
	}
	if !sawFinal {
		t.Fatalf("walk completed without a Final buffer")
	}
	return all
}

func TestWalkSkipsHiddenFilesByDefault(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "visible.txt"), "a")
	mustWrite(t, filepath.Join(dir, ".hidden"), "b")

	cfg := config.New()
	cfg.Paths = []string{dir}
	tree := dirtree.New()
	w := New(cfg, tree, nil, 8)

	entries := drain(t, w)
	if len(entries) != 1 || entries[0].Name != "visible.txt" {
		t.Fatalf("expected only visible.txt, got %+v", entries)
	}
}

func TestWalkIncludesHiddenWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, ".hidden"), "b")

	cfg := config.New()
	cfg.Paths = []string{dir}
	cfg.Hidden = true
	tree := dirtree.New()
	w := New(cfg, tree, nil, 8)

	entries := drain(t, w)
	if len(entries) != 1 || entries[0].Name != ".hidden" {
		t.Fatalf("expected .hidden, got %+v", entries)
	}
}

func TestWalkSkipsNamesContainingPathSep(t *testing.T) {
	dir := t.TempDir()
	badName := "bad" + string(rune(0x1C)) + "name"
	mustWrite(t, filepath.Join(dir, badName), "x")
	mustWrite(t, filepath.Join(dir, "ok.txt"), "x")

	cfg := config.New()
	cfg.Paths = []string{dir}
	tree := dirtree.New()
	w := New(cfg, tree, nil, 8)

	entries := drain(t, w)
	if len(entries) != 1 || entries[0].Name != "ok.txt" {
		t.Fatalf("expected only ok.txt, got %+v", entries)
	}
}

func TestWalkRespectsMinimumSize(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "small"), "x")
	mustWrite(t, filepath.Join(dir, "big"), "xxxxxxxxxx")

	cfg := config.New()
	cfg.Paths = []string{dir}
	cfg.MinimumSize = 5
	tree := dirtree.New()
	w := New(cfg, tree, nil, 8)

	entries := drain(t, w)
	if len(entries) != 1 || entries[0].Name != "big" {
		t.Fatalf("expected only big, got %+v", entries)
	}
}

func TestWalkDescendsSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(sub, "nested.txt"), "x")

	cfg := config.New()
	cfg.Paths = []string{dir}
	tree := dirtree.New()
	w := New(cfg, tree, nil, 8)

	entries := drain(t, w)
	if len(entries) != 1 {
		t.Fatalf("expected one nested file, got %+v", entries)
	}
	got := tree.FullPath(entries[0].Dir, entries[0].Name)
	want := filepath.Join(sub, "nested.txt")
	if got != want {
		t.Fatalf("FullPath = %q, want %q", got, want)
	}
}

func TestWalkEmitsFinalBufferEvenWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	cfg := config.New()
	cfg.Paths = []string{dir}
	tree := dirtree.New()
	w := New(cfg, tree, nil, 8)

	entries := drain(t, w)
	if len(entries) != 0 {
		t.Fatalf("expected no entries in an empty directory, got %+v", entries)
	}
}

func TestWalkRotatesAcrossMultipleBuffers(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 20; i++ {
		mustWrite(t, filepath.Join(dir, "f"+string(rune('a'+i))), "x")
	}

	cfg := config.New()
	cfg.Paths = []string{dir}
	tree := dirtree.New()
	w := New(cfg, tree, nil, 4) // forces several buffer rotations

	var bufCount int
	var total int
	for buf := range w.Run() {
		bufCount++
		total += len(buf.Entries)
		w.Release(buf)
	}
	if total != 20 {
		t.Fatalf("total entries = %d, want 20", total)
	}
	if bufCount < 5 {
		t.Fatalf("expected at least 5 buffer handoffs for 20 files at bufSize 4, got %d", bufCount)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
