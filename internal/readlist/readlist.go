// Package readlist implements the read-list: an I/O-ordering
// pass over every candidate file, reorganized after the scan into five
// priority bands, each sorted by physical block (or inode, as a fallback)
// within itself.
package readlist

import (
	"sort"

	"github.com/dupd-go/dupd/internal/arena"
	"github.com/dupd-go/dupd/internal/config"
	"github.com/dupd-go/dupd/internal/extent"
)

// Entry is one scheduling record: a candidate file plus its ordering key.
// A file with N recorded extents would contribute N entries in the original
// design; this port only ever queries the first extent, so
// there is exactly one Entry per candidate file.
type Entry struct {
	Head arena.Ref // owning pathlist.Head
	Self arena.Ref // the pathlist.Entry this entry schedules a read for

	Size    int64
	SetSize int // owning head's ListSize at the time this entry was added

	Inode       uint64
	extentOK    bool
	extentZero  bool
	extentBlock uint64
}

// orderingKey returns the key this entry sorts by, honoring the global
// extent-ordering disable latch.
func (e *Entry) orderingKey(extentOrderingDisabled bool) uint64 {
	if !extentOrderingDisabled && e.extentOK {
		return e.extentBlock
	}
	return e.Inode
}

// List accumulates entries during the scan and reorganizes them into bands
// once the scan completes.
type List struct {
	cfg *config.Config

	entries []Entry

	filesObserved   int
	zeroBlockCount  int
	extentDisabled bool
}

// New creates an empty read list governed by cfg (min size thresholds,
// SSD policy).
func New(cfg *config.Config) *List {
	return &List{cfg: cfg}
}

// Add registers one candidate file. path is used once, to query the file's
// first physical block; it is not retained. setSize is the owning head's
// ListSize at insertion time, used later to classify bands 2/3 and 4/5.
func (l *List) Add(head, self arena.Ref, size int64, setSize int, path string, inode uint64) {
	e := Entry{Head: head, Self: self, Size: size, SetSize: setSize, Inode: inode}

	if !l.cfg.SSD {
		res := extent.FirstBlockOpen(path)
		if res.OK {
			e.extentOK = true
			e.extentZero = res.Zero
			e.extentBlock = res.Block
			l.observe(res)
		}
	}

	l.entries = append(l.entries, e)
}

// observe updates the running zero-block fraction and latches the global
// extent-ordering disable once the fraction exceeds 5% with >=100 files
// observed (taken literally: ">=100 files", "exceeds 5%" — see
// DESIGN.md for the exact tie-break rationale).
func (l *List) observe(res extent.Result) {
	l.filesObserved++
	if res.Zero {
		l.zeroBlockCount++
	}
	if l.extentDisabled || l.filesObserved < config.FiemapZeroThresholdMinFiles {
		return
	}
	if float64(l.zeroBlockCount)/float64(l.filesObserved) > config.FiemapZeroThresholdFraction {
		l.extentDisabled = true
	}
}

// Len reports the number of scheduled entries.
func (l *List) Len() int { return len(l.entries) }

// Build reorganizes the accumulated entries into the five priority bands of
// returns them concatenated in band order, each band sorted
// independently by ordering key (and, within bands 3/5, grouped one set at a
// time to bound buffer residency).
func (l *List) Build() []Entry {
	prefixBlock := l.cfg.FirstBlockSize
	prefixWindow := l.cfg.PrefixWindow()

	var band1, band2, band3, band4, band5 []Entry
	for _, e := range l.entries {
		switch {
		case e.Size <= prefixBlock:
			band1 = append(band1, e)
		case e.Size <= prefixWindow && e.SetSize <= config.SmallGroupSmallFilesLimit:
			band2 = append(band2, e)
		case e.Size <= prefixWindow:
			band3 = append(band3, e)
		case e.SetSize <= config.SmallGroupLargeFilesLimit:
			band4 = append(band4, e)
		default:
			band5 = append(band5, e)
		}
	}

	disabled := l.extentDisabled
	sortByKey := func(s []Entry) {
		sort.SliceStable(s, func(i, j int) bool {
			return s[i].orderingKey(disabled) < s[j].orderingKey(disabled)
		})
	}
	sortByKey(band1)
	sortByKey(band2)
	sortBySet(band3, disabled)
	sortByKey(band4)
	sortBySet(band5, disabled)

	out := make([]Entry, 0, len(l.entries))
	out = append(out, band1...)
	out = append(out, band2...)
	out = append(out, band3...)
	out = append(out, band4...)
	out = append(out, band5...)
	return out
}

// sortBySet groups entries by owning head (Head ref) so a pathological
// same-size crowd is emitted one set at a time, sorted by key within the
// set, rather than interleaved with other sets' entries (band-3/5
// "to bound buffer residency" rationale).
func sortBySet(entries []Entry, extentOrderingDisabled bool) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Head != entries[j].Head {
			return entries[i].Head < entries[j].Head
		}
		return entries[i].orderingKey(extentOrderingDisabled) < entries[j].orderingKey(extentOrderingDisabled)
	})
}

// ExtentOrderingDisabled reports whether the fiemap-zero threshold has
// latched, forcing inode ordering for every entry (for stats/diagnostics).
func (l *List) ExtentOrderingDisabled() bool { return l.extentDisabled }
