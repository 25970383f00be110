//go:build e2e

package internal

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/dupd-go/dupd/internal/catalog"
	"github.com/dupd-go/dupd/internal/testfs"
)

// TestE2EFiemapZeroFallback exercises the rotational reader's extent-ordering
// fallback: tmpfs reports a zero first-block extent for every file, so once
// enough files have been observed the read list latches onto inode order
// instead and the run must still complete and find the one duplicate pair
// hiding among a same-size set large enough to cross that threshold.
func TestE2EFiemapZeroFallback(t *testing.T) {
	const (
		setSize  = 140 // comfortably over the observed-files threshold
		chunkLen = "8KiB"
		dbPath   = "/tmp/fiemap.db"
	)

	// files[0] and files[1] share a pattern byte (the one duplicate pair);
	// every other file gets its own distinct pattern byte so the set doesn't
	// collapse into one giant group.
	var files []testfs.File
	for i := 0; i < setSize; i++ {
		pattern := rune(33 + i)
		if i == 1 {
			pattern = rune(33) // matches files[0]
		}
		files = append(files, testfs.File{
			Path:   []string{fmt.Sprintf("f%03d.bin", i)},
			Chunks: []testfs.Chunk{{Pattern: pattern, Size: chunkLen}},
		})
	}

	given := testfs.FileTree{
		Volumes: []testfs.Volume{
			{MountPoint: "/data", Files: files},
		},
	}

	h := testfs.New(t, given)
	h.RunDupd("scan", "-p", "/data", "--db", dbPath)
	res := h.RunDupd("report", "--db", dbPath, "--report-format", "json")

	if res.ExitCode != 0 {
		t.Fatalf("report exit code %d, stderr: %s", res.ExitCode, res.Stderr)
	}

	var groups []catalog.DuplicateGroup
	if err := json.Unmarshal([]byte(res.Stdout), &groups); err != nil {
		t.Fatalf("parse report JSON: %v\nstdout: %s", err, res.Stdout)
	}

	if len(groups) != 1 {
		t.Fatalf("got %d duplicate groups, want 1: %+v", len(groups), groups)
	}
	if groups[0].Count != 2 {
		t.Fatalf("got group count %d, want 2: %+v", groups[0].Count, groups[0])
	}
}
