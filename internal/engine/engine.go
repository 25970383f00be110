// Package engine is the top-level orchestrator: the single
// immutable-config-plus-mutable-runtime-state value that owns the arenas,
// the size index (until dismantled), the size list, the read list, and the
// stats counters, and sequences scan -> size-index -> read-list sort ->
// round 1 -> round 2 -> publish. Grounded on cmd/dupedog/dedupe.go's
// runDedupe, which drives its own scan -> screen -> verify -> dedupe
// pipeline the same way: one function per phase, an errCh drained
// concurrently, and a single terminal error out of Run.
package engine

import (
	"fmt"
	"os"

	"github.com/dupd-go/dupd/internal/arena"
	"github.com/dupd-go/dupd/internal/config"
	"github.com/dupd-go/dupd/internal/digest"
	"github.com/dupd-go/dupd/internal/dirtree"
	"github.com/dupd-go/dupd/internal/pathlist"
	"github.com/dupd-go/dupd/internal/publish"
	"github.com/dupd-go/dupd/internal/readlist"
	"github.com/dupd-go/dupd/internal/round1"
	"github.com/dupd-go/dupd/internal/round2"
	"github.com/dupd-go/dupd/internal/scanner"
	"github.com/dupd-go/dupd/internal/sizeindex"
	"github.com/dupd-go/dupd/internal/sizelist"
	"github.com/dupd-go/dupd/internal/stats"
	"github.com/dupd-go/dupd/internal/types"
)

// Engine holds one run's state, built fresh by New for every invocation.
type Engine struct {
	cfg   *config.Config
	sink  publish.Sink
	errCh chan error

	tree   *dirtree.Tree
	lists  *pathlist.Lists
	index  *sizeindex.Index
	reads  *readlist.List
	algo   *digest.Algorithm
	scan   *scanner.Walker
	budget *types.BufferBudget

	heads []arena.Ref // candidate-set heads as of the last Run, kept for Validate after the size index is dismantled

	Counters *stats.Counters
}

// expectedFiles seeds the arena/index sizing; it is a starting guess, not a
// ceiling (arenas grow by doubling slabs on exhaustion, see internal/arena).
const expectedFiles = 1 << 16

// New builds a fresh Engine for one run. errCh receives non-fatal,
// recoverable errors (open/stat/read failures on individual files); callers
// are expected to drain it concurrently, matching drainErrors in
// cmd/dupedog/dedupe.go.
func New(cfg *config.Config, sink publish.Sink, errCh chan error) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	algo, err := digest.New(cfg.HashFunction)
	if err != nil {
		return nil, err
	}

	tree := dirtree.New()
	lists := pathlist.NewLists(expectedFiles)
	scan := scanner.New(cfg, tree, errCh, 0)
	budget := types.NewBufferBudget(cfg.BufferLimit)
	lists.Budget = budget

	// Scan is set up front (construction only starts the walk once Run calls
	// scan.Run) so a caller can poll Counters.Scan for live progress on
	// another goroutine without racing its assignment.
	counters := stats.New(scan.Stats, nil, nil)
	counters.Budget = budget

	return &Engine{
		cfg:      cfg,
		sink:     sink,
		errCh:    errCh,
		tree:     tree,
		lists:    lists,
		index:    sizeindex.New(lists),
		reads:    readlist.New(cfg),
		algo:     algo,
		scan:     scan,
		budget:   budget,
		Counters: counters,
	}, nil
}

// hardlinkKey identifies a file's underlying inode for the
// hardlink-is-unique policy: treat every name sharing one inode as a single
// file rather than N duplicates.
type hardlinkKey struct {
	dev, ino uint64
}

// Run drives the whole pipeline to completion and returns the aggregate
// counters. It returns an error, before scanning anything, when a scan root
// is missing or is not a directory. Per-file problems and sink write
// failures go to errCh and do not stop the run.
func (e *Engine) Run() (*stats.Counters, error) {
	for _, root := range e.cfg.Paths {
		info, err := os.Stat(root)
		if err != nil {
			return e.Counters, fmt.Errorf("scan root: %w", err)
		}
		if !info.IsDir() {
			return e.Counters, fmt.Errorf("scan root %s: not a directory", root)
		}
	}

	e.consumeScan(e.scan)

	heads := e.index.Heads()
	e.heads = heads
	singles := e.index.Singles()
	e.index.Dismantle()

	sl := sizelist.New(len(heads))
	for _, headRef := range heads {
		head := e.lists.Heads.Get(headRef)
		node := sl.Append(headRef, head.Size)
		head.SizelistBack = node
	}

	sink := e.Counters.Wrap(e.sink)

	// Size classes that never gained a second member never reach round 1 or
	// round 2, so they are reported here: every file that passed the size
	// and type filters must end up published, recorded unique, or
	// ignored/errored, and these would otherwise vanish silently.
	if e.cfg.SaveUniques {
		for _, s := range singles {
			path := e.tree.FullPath(s.Dir, s.Filename)
			if err := sink.Unique(path); err != nil {
				if e.errCh != nil {
					e.errCh <- err
				}
			}
		}
	}

	r1 := round1.New(e.cfg, e.tree, e.lists, e.algo, sink, e.errCh)
	r1.SetBudget(e.budget)
	e.Counters.Round1 = &r1.Stats
	r1.Run(e.reads.Build(), heads)

	r2 := round2.New(e.cfg, e.tree, e.lists, e.algo, sink, e.errCh)
	r2.SetBudget(e.budget)
	e.Counters.Round2 = &r2.Stats
	r2.Run(sl)

	return e.Counters, nil
}

// consumeScan drains the scanner's buffer channel: every regular file is
// inserted into the size index, and every file that becomes (or already
// is) part of a >=2-file candidate set is registered with the read list
// for round-1 ordering.
func (e *Engine) consumeScan(scan *scanner.Walker) {
	seen := make(map[hardlinkKey]struct{})

	for buf := range scan.Run() {
		for _, fe := range buf.Entries {
			if e.cfg.HardlinkIsUnique && fe.Nlink > 1 {
				key := hardlinkKey{fe.Dev, fe.Ino}
				if _, dup := seen[key]; dup {
					scan.Stats.IgnoredEntries.Add(1)
					continue
				}
				seen[key] = struct{}{}
			}

			res := e.index.Insert(fe.Size, fe.Dir, fe.Name, fe.Dev, fe.Ino, fe.Nlink, fe.ModTime)
			e.registerRead(fe, res)
		}
		scan.Release(buf)
	}
}

// registerRead adds the entries an Insert just created (if any) to the read
// list, using each entry's own recorded size class for the read-list's
// band-2/3-vs-4/5 split (owning head's live ListSize at insertion time).
func (e *Engine) registerRead(fe scanner.FileEntry, res sizeindex.InsertResult) {
	switch {
	case res.Promoted:
		first := e.lists.Entries.Get(res.PromotedFirstEntry)
		firstPath := first.FullPath(e.tree)
		setSize := e.lists.Heads.Get(res.Head).ListSize
		e.reads.Add(res.Head, res.PromotedFirstEntry, fe.Size, setSize, firstPath, first.Ino)
		e.reads.Add(res.Head, res.NewEntry, fe.Size, setSize, e.tree.FullPath(fe.Dir, fe.Name), fe.Ino)
	case res.Head != arena.NoRef:
		setSize := e.lists.Heads.Get(res.Head).ListSize
		path := e.tree.FullPath(fe.Dir, fe.Name)
		e.reads.Add(res.Head, res.NewEntry, fe.Size, setSize, path, fe.Ino)
	default:
		// First file of a previously-unseen size: not yet a candidate set,
		// nothing to schedule.
	}
}

// Validate checks that every head the last Run touched which isn't in
// state DONE still has LiveCount == ListSize, returning an InvariantError
// carrying a state dump on the first violation found. It is not called
// automatically, and the CLI does not call it; tests invoke it explicitly
// after Run.
func (e *Engine) Validate() error {
	for _, ref := range e.heads {
		head := e.lists.Heads.Get(ref)
		if head.State == pathlist.HeadDone {
			continue
		}
		live := e.lists.LiveCount(ref)
		if live != head.ListSize {
			return &InvariantError{
				Invariant: "live-count-matches-list-size",
				Message:   fmt.Sprintf("head size=%d state=%s: live count %d != ListSize %d", head.Size, head.State, live, head.ListSize),
			}
		}
	}
	return nil
}
