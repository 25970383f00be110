//go:build unix && !e2e

package engine

import (
	"fmt"
	"testing"

	"github.com/dupd-go/dupd/internal/config"
	"github.com/dupd-go/dupd/internal/testfs"
)

// TestRunHardlinkFarmCollapsesToOneFile builds one file under a dozen names
// sharing a single inode and checks that hardlink-is-unique collapses the
// whole farm to zero duplicate groups and exactly one recorded unique (the
// surviving inode), rather than just the two-name case engine_test.go
// already covers.
func TestRunHardlinkFarmCollapsesToOneFile(t *testing.T) {
	const farmSize = 12

	names := make([]string, farmSize)
	names[0] = "original.dat"
	for i := 1; i < farmSize; i++ {
		names[i] = fmt.Sprintf("name-%02d.dat", i)
	}

	given := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/farm",
				Files: []testfs.File{
					{Path: names, Chunks: []testfs.Chunk{{Pattern: 'F', Size: "4KiB"}}},
				},
			},
		},
	}
	h := testfs.New(t, given)

	cfg := config.New()
	cfg.Paths = []string{h.Root()}
	cfg.HardlinkIsUnique = true
	cfg.SaveUniques = true

	sink := &fakeSink{}
	e, err := New(cfg, sink, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if _, err := e.Run(); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if len(sink.groups) != 0 {
		t.Fatalf("expected a single-inode farm to produce no duplicate groups, got %+v", sink.groups)
	}
	if len(sink.uniques) != 1 {
		t.Fatalf("expected the farm to contribute exactly one unique entry, got %+v", sink.uniques)
	}

	h.Assert(given)
}
