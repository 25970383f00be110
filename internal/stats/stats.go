// Package stats aggregates the per-phase atomic counters of internal/scanner,
// internal/round1, and internal/round2 into the end-of-run report and
// stats-file dump driven by the "stats-file", "verbose"/"verbose-level", and
// "quiet" CLI flags — built on the same per-field sync/atomic counter
// pattern as scanner.Stats, round1.Stats, and round2.Stats, alongside the
// two-tier report_stats/save_stats style of src/stats.c.
package stats

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dupd-go/dupd/internal/publish"
	"github.com/dupd-go/dupd/internal/round1"
	"github.com/dupd-go/dupd/internal/round2"
	"github.com/dupd-go/dupd/internal/scanner"
	"github.com/dupd-go/dupd/internal/types"
)

// Counters is the run-wide aggregate. It holds pointers into the phase
// engines' own Stats (never copies them) plus the totals only knowable by
// observing what actually reaches the catalog: duplicate groups/files and
// confirmed uniques.
type Counters struct {
	Scan   *scanner.Stats
	Round1 *round1.Stats
	Round2 *round2.Stats

	// Budget is the shared read-buffer byte ceiling, set by the engine once
	// it is constructed. InUse() is the read_buffers_allocated gauge: bytes
	// currently reserved by live round-1/round-2 buffers.
	Budget *types.BufferBudget

	DuplicateGroups atomic.Int64
	DuplicateFiles  atomic.Int64
	UniqueFiles     atomic.Int64

	startTime time.Time
}

// New creates a Counters tied to the three phase engines' live Stats. Pass
// nil for any phase not yet run (e.g. before round1.New is called); its
// fields report as zero.
func New(scan *scanner.Stats, r1 *round1.Stats, r2 *round2.Stats) *Counters {
	return &Counters{Scan: scan, Round1: r1, Round2: r2, startTime: time.Now()}
}

// Wrap returns a publish.Sink that forwards to next and counts every
// duplicate group/file and unique file that passes through it. The engine
// should run with the wrapped sink rather than the raw catalog so the
// counters reflect confirmed results, not round-1/round-2 internal tallies.
func (c *Counters) Wrap(next publish.Sink) publish.Sink {
	return &countingSink{next: next, c: c}
}

type countingSink struct {
	next publish.Sink
	c    *Counters
}

func (s *countingSink) Duplicates(g publish.Group) error {
	if err := s.next.Duplicates(g); err != nil {
		return err
	}
	s.c.DuplicateGroups.Add(1)
	s.c.DuplicateFiles.Add(int64(len(g.Paths)))
	return nil
}

func (s *countingSink) Unique(path string) error {
	if err := s.next.Unique(path); err != nil {
		return err
	}
	s.c.UniqueFiles.Add(1)
	return nil
}

// Summary is the one-line, always-shown report: duplicate totals and
// elapsed time.
func (c *Counters) Summary() string {
	return fmt.Sprintf("Total duplicates: %d files in %d groups in %s",
		c.DuplicateFiles.Load(), c.DuplicateGroups.Load(), time.Since(c.startTime).Round(time.Millisecond))
}

// Report renders the full breakdown, gated by verboseLevel the way the
// original's LOG_MORE tier gates its extra detail beyond LOG_BASE: level 0
// returns just Summary, level >= 1 appends per-phase counters.
func (c *Counters) Report(verboseLevel int) string {
	out := c.Summary()
	if verboseLevel < 1 {
		return out
	}
	if c.Scan != nil {
		out += "\n" + c.Scan.String()
	}
	if c.Round1 != nil {
		out += fmt.Sprintf("\nRound 1: read %d, published %d, unique %d, survived to round 2 %d",
			c.Round1.Read.Load(), c.Round1.Published.Load(), c.Round1.Unique.Load(), c.Round1.Survived.Load())
	}
	if c.Round2 != nil {
		out += fmt.Sprintf("\nRound 2: compacted %d, fast-path(2) %d, fast-path(3) %d, streamed %d, published %d, unique %d",
			c.Round2.Compacted.Load(), c.Round2.FastPathTwo.Load(), c.Round2.FastPathThree.Load(),
			c.Round2.Streamed.Load(), c.Round2.Published.Load(), c.Round2.Unique.Load())
	}
	if c.Budget != nil {
		out += fmt.Sprintf("\nRead buffers allocated: %s", ByteSize(c.Budget.InUse()))
	}
	return out
}

// Save appends a key/value dump to path, one run per call, the way the
// original's save_stats opens its stats-file with "a" and never truncates
// it — a stats-file accumulates one block per run.
func (c *Counters) Save(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("stats: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	type kv struct {
		key string
		val int64
	}
	lines := []kv{
		{"duplicate_files", c.DuplicateFiles.Load()},
		{"duplicate_groups", c.DuplicateGroups.Load()},
		{"unique_files", c.UniqueFiles.Load()},
	}
	if c.Scan != nil {
		lines = append(lines,
			kv{"scanned_files", c.Scan.ScannedFiles.Load()},
			kv{"matched_files", c.Scan.MatchedFiles.Load()},
			kv{"ignored_entries", c.Scan.IgnoredEntries.Load()},
			kv{"scanned_bytes", c.Scan.ScannedBytes.Load()},
		)
	}
	if c.Round1 != nil {
		lines = append(lines,
			kv{"round1_read", c.Round1.Read.Load()},
			kv{"round1_survived", c.Round1.Survived.Load()},
		)
	}
	if c.Round2 != nil {
		lines = append(lines,
			kv{"round2_fastpath_two", c.Round2.FastPathTwo.Load()},
			kv{"round2_fastpath_three", c.Round2.FastPathThree.Load()},
			kv{"round2_streamed", c.Round2.Streamed.Load()},
		)
	}
	if c.Budget != nil {
		lines = append(lines, kv{"read_buffers_allocated", c.Budget.InUse()})
	}

	for _, l := range lines {
		if _, err := fmt.Fprintf(f, "%s %d\n", l.key, l.val); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(f)
	return err
}

// ByteSize is a convenience formatter for the report text, matching the
// teacher's use of humanize.IBytes for every byte-count string.
func ByteSize(n int64) string { return humanize.IBytes(uint64(n)) }
