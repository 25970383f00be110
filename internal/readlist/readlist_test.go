package readlist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dupd-go/dupd/internal/arena"
	"github.com/dupd-go/dupd/internal/config"
	"github.com/dupd-go/dupd/internal/extent"
)

func okResult(block uint64) extent.Result { return extent.Result{OK: true, Block: block} }
func zeroResult() extent.Result           { return extent.Result{OK: true, Zero: true} }

func newTestFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuildAssignsBandsBySizeAndSetSize(t *testing.T) {
	cfg := config.New()
	dir := t.TempDir()
	l := New(cfg)

	small := newTestFile(t, dir, "small", int(cfg.FirstBlockSize)-1)
	medium := newTestFile(t, dir, "medium", int(cfg.PrefixWindow())-1)
	large := newTestFile(t, dir, "large", int(cfg.PrefixWindow())+1)

	l.Add(arena.Ref(1), arena.Ref(1), int64(cfg.FirstBlockSize)-1, 2, small, 101)
	l.Add(arena.Ref(2), arena.Ref(2), int64(cfg.PrefixWindow())-1, 2, medium, 102)
	l.Add(arena.Ref(3), arena.Ref(3), int64(cfg.PrefixWindow())+1, 2, large, 103)

	built := l.Build()
	if len(built) != 3 {
		t.Fatalf("Build() returned %d entries, want 3", len(built))
	}
	// Band order: band1 (small) before band2 (medium) before band4 (large).
	if built[0].Self != arena.Ref(1) {
		t.Fatalf("expected band1 entry first, got %+v", built[0])
	}
	if built[1].Self != arena.Ref(2) {
		t.Fatalf("expected band2 entry second, got %+v", built[1])
	}
	if built[2].Self != arena.Ref(3) {
		t.Fatalf("expected band4 entry third, got %+v", built[2])
	}
}

func TestBuildSplitsLargeSetsIntoLaterBand(t *testing.T) {
	cfg := config.New()
	dir := t.TempDir()
	l := New(cfg)

	smallSet := newTestFile(t, dir, "a", int(cfg.PrefixWindow())-1)
	bigSet := newTestFile(t, dir, "b", int(cfg.PrefixWindow())-1)

	l.Add(arena.Ref(1), arena.Ref(1), int64(cfg.PrefixWindow())-1, 2, smallSet, 1)
	l.Add(arena.Ref(2), arena.Ref(2), int64(cfg.PrefixWindow())-1, config.SmallGroupSmallFilesLimit+1, bigSet, 2)

	built := l.Build()
	if len(built) != 2 {
		t.Fatalf("Build() returned %d entries, want 2", len(built))
	}
	// The band-2 (small set) entry must precede the band-3 (large set) entry.
	if built[0].Self != arena.Ref(1) || built[1].Self != arena.Ref(2) {
		t.Fatalf("expected small-set entry before large-set entry, got %+v", built)
	}
}

func TestSSDPolicySkipsExtentQuery(t *testing.T) {
	cfg := config.New()
	cfg.SSD = true
	dir := t.TempDir()
	l := New(cfg)

	path := newTestFile(t, dir, "f", 10)
	l.Add(arena.Ref(1), arena.Ref(1), 10, 2, path, 55)

	built := l.Build()
	if len(built) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(built))
	}
	if built[0].orderingKey(l.ExtentOrderingDisabled()) != 55 {
		t.Fatalf("SSD policy should order by inode, got key %d", built[0].orderingKey(l.ExtentOrderingDisabled()))
	}
}

func TestFiemapZeroThresholdLatches(t *testing.T) {
	cfg := config.New()
	l := New(cfg)

	// Force observations directly: 95 nonzero, then 6 zero, crossing 100
	// files with a zero fraction > 5% (6/101).
	for i := 0; i < 95; i++ {
		l.observe(okResult(uint64(i + 1)))
	}
	for i := 0; i < 6; i++ {
		l.observe(zeroResult())
	}
	if !l.ExtentOrderingDisabled() {
		t.Fatalf("expected extent ordering to be disabled once zero fraction exceeds threshold")
	}
}
