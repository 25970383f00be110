// Package round2 implements the streaming-hash pass: survivors
// of round 1 (heads in state R2_NEEDED) are compacted out of the size list,
// then resolved either via a direct byte-compare fast path (2 or 3 live
// files) or via chunked incremental hashing under a bounded open-file
// ceiling.
package round2

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dupd-go/dupd/internal/arena"
	"github.com/dupd-go/dupd/internal/config"
	"github.com/dupd-go/dupd/internal/digest"
	"github.com/dupd-go/dupd/internal/dirtree"
	"github.com/dupd-go/dupd/internal/filecompare"
	"github.com/dupd-go/dupd/internal/pathlist"
	"github.com/dupd-go/dupd/internal/publish"
	"github.com/dupd-go/dupd/internal/sizelist"
	"github.com/dupd-go/dupd/internal/types"
)

// Engine drives round 2 over the size list's surviving nodes. Every entry
// it touches already carries a HashCtx seeded with round 1's prefix bytes
// (hash.Hash's Sum is non-destructive, so that context can keep accepting
// Update calls); round 2 continues it rather than rehashing from byte 0, so
// the final digest always covers the whole file, not just the remainder.
type Engine struct {
	cfg   *config.Config
	tree  *dirtree.Tree
	lists *pathlist.Lists
	algo  *digest.Algorithm // bootstrap for entries that reach round 2 without a HashCtx (defensive; round 1 always sets one)
	sink  publish.Sink
	errCh chan error

	openFiles types.Semaphore

	// budget is the shared read-buffer byte ceiling. Nil (the default,
	// unless SetBudget is called) disables accounting.
	budget *types.BufferBudget

	Stats Stats
}

// SetBudget installs the shared read-buffer budget this engine's streaming
// reads draw from. Leaving it unset disables the ceiling.
func (e *Engine) SetBudget(b *types.BufferBudget) {
	e.budget = b
}

// Stats counts round-2 outcomes. Several heads stream concurrently (bounded
// by the open-file semaphore), so every field is updated atomically.
type Stats struct {
	Compacted     atomic.Int64
	FastPathTwo   atomic.Int64
	FastPathThree atomic.Int64
	Streamed      atomic.Int64
	Published     atomic.Int64
	Unique        atomic.Int64
}

// New creates a round-2 engine driven by algo.
func New(cfg *config.Config, tree *dirtree.Tree, lists *pathlist.Lists, algo *digest.Algorithm, sink publish.Sink, errCh chan error) *Engine {
	return &Engine{
		cfg:       cfg,
		tree:      tree,
		lists:     lists,
		algo:      algo,
		sink:      sink,
		errCh:     errCh,
		openFiles: types.NewSemaphore(config.MaxOpenFilesRound2),
	}
}

// Run compacts sl (dropping every non-head node whose path-list head is
// already DONE), then resolves every remaining candidate set.
func (e *Engine) Run(sl *sizelist.List) {
	for _, ref := range sl.Items() {
		if ref == sl.Head {
			continue
		}
		node := sl.Get(ref)
		if e.lists.Heads.Get(node.PathList).State == pathlist.HeadDone {
			if sl.Unlink(ref) {
				e.Stats.Compacted.Add(1)
			}
		}
	}

	var wg sync.WaitGroup
	for _, ref := range sl.Items() {
		node := sl.Get(ref)
		headRef := node.PathList
		head := e.lists.Heads.Get(headRef)
		if head.State == pathlist.HeadDone {
			continue
		}

		live := e.liveEntries(headRef)
		switch {
		case !e.cfg.SkipTwoFileFastPath && len(live) == 2:
			e.Stats.FastPathTwo.Add(1)
			e.fastPath(headRef, live)
		case !e.cfg.SkipThreeFileFastPath && len(live) == 3:
			e.Stats.FastPathThree.Add(1)
			e.fastPath(headRef, live)
		case len(live) >= 2:
			wg.Add(1)
			go func(headRef arena.Ref, live []arena.Ref) {
				defer wg.Done()
				e.streamHead(headRef, live)
			}(headRef, live)
		}
	}
	wg.Wait()
}

// liveEntries returns the non-terminal entries of headRef in list order.
func (e *Engine) liveEntries(headRef arena.Ref) []arena.Ref {
	var out []arena.Ref
	for _, ref := range e.lists.EntryRefs(headRef) {
		if !e.lists.Entries.Get(ref).State.Terminal() {
			out = append(out, ref)
		}
	}
	return out
}

// fastPath resolves a 2- or 3-file candidate set via direct byte comparison
// , skipping the hash machinery entirely.
func (e *Engine) fastPath(headRef arena.Ref, live []arena.Ref) {
	head := e.lists.Heads.Get(headRef)
	files := make([]*os.File, 0, len(live))
	paths := make([]string, 0, len(live))
	for _, ref := range live {
		entry := e.lists.Entries.Get(ref)
		path := entry.FullPath(e.tree)
		f, err := os.Open(path)
		if err != nil {
			e.sendError(err)
			e.closeAll(files)
			e.lists.Demote(headRef, ref, pathlist.EntryInvalid)
			return
		}
		files = append(files, f)
		paths = append(paths, path)
	}

	res, err := filecompare.Compare(files, int(e.cfg.FilecmpBlockSize))
	e.closeAll(files)
	if err != nil {
		e.sendError(err)
		for _, ref := range live {
			e.lists.Demote(headRef, ref, pathlist.EntryInvalid)
		}
		return
	}

	if res.Equal {
		e.publishGroup(head.Size, paths)
		for _, ref := range live {
			e.lists.Demote(headRef, ref, pathlist.EntryDone)
		}
		return
	}

	// Not all identical: fall back to per-file streaming (under the
	// open-file semaphore, fds here already closed) so any subset that does
	// match is still found (a byte mismatch only rules out the
	// full-set match, individual pairs may still be duplicates).
	e.streamHead(headRef, live)
}

func (e *Engine) closeAll(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// streamHead resolves a candidate set by chunked incremental hashing of
// every live entry, continuing from the byte offset round 1 already
// covered, under the shared open-file semaphore.
func (e *Engine) streamHead(headRef arena.Ref, live []arena.Ref) {
	e.Stats.Streamed.Add(1)
	var wg sync.WaitGroup
	for _, ref := range live {
		wg.Add(1)
		e.openFiles.Acquire()
		go func(ref arena.Ref) {
			defer wg.Done()
			defer e.openFiles.Release()
			e.streamEntry(headRef, ref)
		}(ref)
	}
	wg.Wait()
	e.finishHead(headRef, live)
}

// streamEntry drives one entry's full round-2 read+hash cycle: seek past
// whatever round 1 already consumed, then read/update the continuing
// HashCtx in BlockSize chunks until EOF, so the eventual Finalize reflects
// the whole file.
func (e *Engine) streamEntry(headRef, ref arena.Ref) {
	entry := e.lists.Entries.Get(ref)
	path := entry.FullPath(e.tree)

	f, err := os.Open(path)
	if err != nil {
		e.sendError(err)
		e.lists.Demote(headRef, ref, pathlist.EntryInvalid)
		return
	}
	defer func() { _ = f.Close() }()

	skip := entry.DataInBuffer
	if skip > 0 {
		if _, err := f.Seek(skip, io.SeekStart); err != nil {
			e.sendError(err)
			e.lists.Demote(headRef, ref, pathlist.EntryInvalid)
			return
		}
	}

	ctx := entry.HashCtx
	if ctx == nil {
		ctx = e.algo.NewIncremental()
	}

	if e.budget != nil {
		e.budget.Acquire(e.cfg.BlockSize)
	}
	info := &pathlist.Round2Info{
		FD:     f,
		Buffer: make([]byte, e.cfg.BlockSize),
		Cursor: skip,
		State:  pathlist.R2ReadMore,
	}
	entry.Round2 = info

	for {
		n, err := f.Read(info.Buffer)
		if n > 0 {
			ctx.Update(info.Buffer[:n])
			info.Cursor += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			e.sendError(err)
			e.lists.Demote(headRef, ref, pathlist.EntryInvalid)
			return
		}
	}

	info.Digest = ctx.Finalize()
	info.State = pathlist.R2HashDone
	entry.HashCtx = nil
	entry.State = pathlist.EntryR1Done
}

// finishHead groups live entries by their finished round-2 digest and
// publishes/demotes exactly like round 1's hashHead, but keyed on the
// streaming digest instead of the prefix digest.
func (e *Engine) finishHead(headRef arena.Ref, live []arena.Ref) {
	head := e.lists.Heads.Get(headRef)
	groups := map[string][]arena.Ref{}
	for _, ref := range live {
		entry := e.lists.Entries.Get(ref)
		if entry.Round2 == nil || entry.Round2.State != pathlist.R2HashDone {
			continue
		}
		key := string(entry.Round2.Digest)
		groups[key] = append(groups[key], ref)
	}

	for _, refs := range groups {
		if len(refs) == 1 {
			ref := refs[0]
			entry := e.lists.Entries.Get(ref)
			path := entry.FullPath(e.tree)
			e.lists.Demote(headRef, ref, pathlist.EntryUnique)
			e.Stats.Unique.Add(1)
			if e.cfg.SaveUniques {
				if err := e.sink.Unique(path); err != nil {
					e.sendError(err)
				}
			}
			continue
		}

		paths := make([]string, 0, len(refs))
		for _, ref := range refs {
			paths = append(paths, e.lists.Entries.Get(ref).FullPath(e.tree))
		}
		e.publishGroup(head.Size, paths)
		for _, ref := range refs {
			e.lists.Demote(headRef, ref, pathlist.EntryDone)
		}
	}
	e.lists.SetHeadState(headRef, pathlist.HeadDone)
}

func (e *Engine) publishGroup(size int64, paths []string) {
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
