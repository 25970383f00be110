// Package round1 implements the prefix-hash pass: two reader
// strategies (rotational, reading in read-list order; non-rotational,
// reading in size-list order) feeding a fixed pool of hasher goroutines.
package round1

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dupd-go/dupd/internal/arena"
	"github.com/dupd-go/dupd/internal/config"
	"github.com/dupd-go/dupd/internal/digest"
	"github.com/dupd-go/dupd/internal/dirtree"
	"github.com/dupd-go/dupd/internal/pathlist"
	"github.com/dupd-go/dupd/internal/publish"
	"github.com/dupd-go/dupd/internal/readlist"
	"github.com/dupd-go/dupd/internal/types"
)

// Engine drives round 1 over one run's path lists.
type Engine struct {
	cfg   *config.Config
	tree  *dirtree.Tree
	lists *pathlist.Lists
	algo  *digest.Algorithm
	sink  publish.Sink
	errCh chan error

	// budget is the shared read-buffer byte ceiling. Nil (the default,
	// unless SetBudget is called) disables accounting.
	budget *types.BufferBudget

	Stats Stats
}

// SetBudget installs the shared read-buffer budget this engine's round-1
// reads draw from. Leaving it unset disables the ceiling.
func (e *Engine) SetBudget(b *types.BufferBudget) {
	e.budget = b
}

// Stats counts round-1 outcomes for progress reporting. Hasher goroutines
// run concurrently across heads, so every field is updated atomically.
type Stats struct {
	Read      atomic.Int64
	Published atomic.Int64
	Unique    atomic.Int64
	Survived  atomic.Int64 // heads handed off to round 2 (R2_NEEDED)
}

// New creates a round-1 engine.
func New(cfg *config.Config, tree *dirtree.Tree, lists *pathlist.Lists, algo *digest.Algorithm, sink publish.Sink, errCh chan error) *Engine {
	return &Engine{cfg: cfg, tree: tree, lists: lists, algo: algo, sink: sink, errCh: errCh}
}

// Run executes round 1. On rotational storage (cfg.SSD == false) it drains
// sorted, in read-list order; otherwise it walks heads in size-list order.
// Both feed the same hasher pool. Run blocks until every head this round
// touches has reached a terminal round-1 outcome (DONE or R2_NEEDED).
func (e *Engine) Run(sortedReads []readlist.Entry, heads []arena.Ref) {
	hasherQueues := make([]chan arena.Ref, config.Round1HasherThreads)
	for i := range hasherQueues {
		hasherQueues[i] = make(chan arena.Ref, 64)
	}

	var wg sync.WaitGroup
	wg.Add(len(hasherQueues))
	for _, q := range hasherQueues {
		q := q
		go func() {
			defer wg.Done()
			for headRef := range q {
				e.hashHead(headRef)
			}
		}()
	}

	next := 0
	dispatch := func(headRef arena.Ref) {
		hasherQueues[next] <- headRef
		next = (next + 1) % len(hasherQueues)
	}

	if e.cfg.SSD {
		e.runNonRotational(heads, dispatch)
	} else {
		e.runRotational(sortedReads, dispatch)
	}

	for _, q := range hasherQueues {
		close(q)
	}
	wg.Wait()
}

// runRotational walks the sorted read list, filling one buffer per entry
// and dispatching a head to the hasher pool as soon as every live entry in
// it has a filled buffer. The dispatch check runs whether fillBuffer
// succeeds or fails: a failure shrinks ListSize (pathlist.Demote), and if
// that shrink is what brings BuffersFilled up to the new, smaller ListSize,
// the head must still be dispatched here — it has no other entries left to
// trigger the check on.
func (e *Engine) runRotational(sortedReads []readlist.Entry, dispatch func(arena.Ref)) {
	for _, re := range sortedReads {
		head := e.lists.Heads.Get(re.Head)
		if head.State == pathlist.HeadDone {
			continue
		}
		entry := e.lists.Entries.Get(re.Self)
		if entry.State == pathlist.EntryInvalid {
			continue
		}

		e.fillBuffer(re.Head, re.Self)

		head = e.lists.Heads.Get(re.Head)
		if head.State == pathlist.HeadDone {
			continue
		}
		if head.BuffersFilled == head.ListSize {
			head.State = pathlist.HeadR1BuffersFull
			dispatch(re.Head)
		}
	}
}

// runNonRotational walks heads in size-list order (SSD policy: extent
// ordering is pointless), filling every entry's buffer in one pass per
// head before dispatching it.
func (e *Engine) runNonRotational(heads []arena.Ref, dispatch func(arena.Ref)) {
	for _, headRef := range heads {
		head := e.lists.Heads.Get(headRef)
		if head.State == pathlist.HeadDone {
			continue
		}
		for _, entryRef := range e.lists.EntryRefs(headRef) {
			if e.lists.Heads.Get(headRef).State == pathlist.HeadDone {
				break
			}
			entry := e.lists.Entries.Get(entryRef)
			if entry.State == pathlist.EntryInvalid {
				continue
			}
			e.fillBuffer(headRef, entryRef)
		}
		head = e.lists.Heads.Get(headRef)
		if head.State == pathlist.HeadDone {
			continue
		}
		head.State = pathlist.HeadR1BuffersFull
		dispatch(headRef)
	}
}

// fillBuffer performs the one-shot round-1 read for a single entry. On
// success it increments the head's BuffersFilled and returns true. On
// failure the entry is invalidated and the head's ListSize is decremented
// (on read failure the entry becomes INVALID).
func (e *Engine) fillBuffer(headRef, entryRef arena.Ref) bool {
	head := e.lists.Heads.Get(headRef)
	entry := e.lists.Entries.Get(entryRef)

	want := entry.Size
	if pw := e.cfg.PrefixWindow(); want > pw {
		want = pw
	}

	path := entry.FullPath(e.tree)
	f, err := os.Open(path)
	if err != nil {
		e.sendError(err)
		e.lists.Demote(headRef, entryRef, pathlist.EntryInvalid)
		e.resolveOrphans(headRef)
		return false
	}
	defer func() { _ = f.Close() }()

	if e.budget != nil {
		e.budget.Acquire(want)
	}
	buf := make([]byte, want)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		e.sendError(err)
		if e.budget != nil {
			e.budget.Release(want)
		}
		e.lists.Demote(headRef, entryRef, pathlist.EntryInvalid)
		e.resolveOrphans(headRef)
		return false
	}

	entry.Buffer = buf[:n]
	entry.DataInBuffer = int64(n)
	entry.State = pathlist.EntryR1BufferFilled
	head.BuffersFilled++
	return true
}

// resolveOrphans handles a head that pathlist.Demote just marked DONE (its
// live member count dropped to <=1) while one of its other entries already
// had a round-1 buffer filled. That entry will never reach hashHead now —
// its head won't be dispatched — so it is released and reported the same
// way a confirmed singleton is: this size class no longer has a duplicate
// candidate for it.
func (e *Engine) resolveOrphans(headRef arena.Ref) {
	head := e.lists.Heads.Get(headRef)
	if head.State != pathlist.HeadDone {
		return
	}
	for _, ref := range e.lists.EntryRefs(headRef) {
		entry := e.lists.Entries.Get(ref)
		if entry.State.Terminal() {
			continue
		}
		path := entry.FullPath(e.tree)
		e.lists.Demote(headRef, ref, pathlist.EntryUnique)
		e.Stats.Unique.Add(1)
		if e.cfg.SaveUniques {
			if err := e.sink.Unique(path); err != nil {
				e.sendError(err)
			}
		}
	}
}

// hashHead computes a prefix digest for every filled entry in head, skims
// uniques, and either publishes confirmed duplicates (fully-read sets) or
// hands the head off to round 2 (the hasher-thread logic). Each
// entry keeps its incremental context alive in HashCtx: hash.Hash's Sum is
// non-destructive, so the digest computed here is only a peek — if the
// entry survives to round 2, that same context is fed the remainder of the
// file instead of restarting from byte zero.
func (e *Engine) hashHead(headRef arena.Ref) {
	head := e.lists.Heads.Get(headRef)
	table := pathlist.NewHashTable()
	fullyRead := true

	for _, ref := range e.lists.EntryRefs(headRef) {
		entry := e.lists.Entries.Get(ref)
		if entry.State != pathlist.EntryR1BufferFilled {
			continue
		}
		ctx := e.algo.NewIncremental()
		ctx.Update(entry.Buffer[:entry.DataInBuffer])
		sum := ctx.Finalize()
		if entry.DataInBuffer < entry.Size {
			fullyRead = false
		}
		if e.budget != nil {
			e.budget.Release(int64(cap(entry.Buffer)))
		}
		entry.Buffer = nil
		entry.HashCtx = ctx
		entry.State = pathlist.EntryR1Done
		table.Add(sum, ref)
		e.Stats.Read.Add(1)
	}

	for _, ref := range table.Singletons() {
		entry := e.lists.Entries.Get(ref)
		path := entry.FullPath(e.tree)
		e.lists.Demote(headRef, ref, pathlist.EntryUnique)
		e.Stats.Unique.Add(1)
		if e.cfg.SaveUniques {
			if err := e.sink.Unique(path); err != nil {
				e.sendError(err)
			}
		}
	}

	if !table.AnyMultiMember() {
		e.lists.SetHeadState(headRef, pathlist.HeadDone)
		return
	}

	if !fullyRead {
		e.lists.SetHeadState(headRef, pathlist.HeadR2Needed)
		e.Stats.Survived.Add(1)
		return
	}

	for _, chain := range table.DuplicateChains() {
		e.publishGroup(head.Size, chain)
		for _, ref := range chain {
			e.lists.Demote(headRef, ref, pathlist.EntryDone)
		}
	}
	e.lists.SetHeadState(headRef, pathlist.HeadDone)
}

// publishGroup reports one confirmed duplicate group to the sink.
func (e *Engine) publishGroup(size int64, chain []arena.Ref) {
	paths := make([]string, 0, len(chain))
	for _, ref := range chain {
		paths = append(paths, e.lists.Entries.Get(ref).FullPath(e.tree))
	}
	if err := e.sink.Duplicates(publish.Group{Size: size, Paths: paths}); err != nil {
		e.sendError(err)
		return
	}
	e.Stats.Published.Add(1)
}

func (e *Engine) sendError(err error) {
	if e.errCh != nil {
		e.errCh <- err
	}
}
