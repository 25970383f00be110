// Package pathlist implements the path-list head/entry data model: one head
// per distinct file size with >=2 files (a size class promoted by the size
// index), each head owning a linked list (via
// arena Refs, not pointers) of entries describing one file each. Heads and
// entries live in their own arenas and are never individually freed — only
// reclaimed in bulk when the owning Lists value is discarded.
package pathlist

import (
	"os"
	"time"

	"github.com/dupd-go/dupd/internal/arena"
	"github.com/dupd-go/dupd/internal/digest"
	"github.com/dupd-go/dupd/internal/dirtree"
	"github.com/dupd-go/dupd/internal/types"
)

// HeadState is the path-list head state machine.
type HeadState int

const (
	HeadNeedData HeadState = iota
	HeadR1BuffersFull
	HeadR2Needed
	HeadDone
)

func (s HeadState) String() string {
	switch s {
	case HeadNeedData:
		return "NEED_DATA"
	case HeadR1BuffersFull:
		return "R1_BUFFERS_FULL"
	case HeadR2Needed:
		return "R2_NEEDED"
	case HeadDone:
		return "DONE"
	default:
		return "UNKNOWN_HEAD_STATE"
	}
}

// EntryState is the path-list entry state machine. An entry is
// created exactly once and transitions monotonically forward.
type EntryState int

const (
	EntryNeedData EntryState = iota
	EntryR1BufferFilled
	EntryR1Done
	EntryDone
	EntryUnique
	EntryInvalid
)

func (s EntryState) String() string {
	switch s {
	case EntryNeedData:
		return "NEED_DATA"
	case EntryR1BufferFilled:
		return "R1_BUFFER_FILLED"
	case EntryR1Done:
		return "R1_DONE"
	case EntryDone:
		return "DONE"
	case EntryUnique:
		return "UNIQUE"
	case EntryInvalid:
		return "INVALID"
	default:
		return "UNKNOWN_ENTRY_STATE"
	}
}

// Terminal reports whether an entry in this state no longer counts toward
// its head's live list_size.
func (s EntryState) Terminal() bool {
	switch s {
	case EntryUnique, EntryInvalid, EntryDone:
		return true
	default:
		return false
	}
}

// Round2State is the inner state of an entry's round-2 streaming work.
type Round2State int

const (
	R2ReadMore Round2State = iota
	R2HashDone
)

// Round2Info holds the scoped resources for an entry's round-2 streaming
// hash: an open fd, an incremental digest context, a working buffer, and a
// read cursor. It is allocated when round 2 starts streaming the entry (at
// most config.MaxOpenFilesRound2 entries hold an open fd at once) and stays
// attached after R2HashDone until Demote releases it.
type Round2Info struct {
	FD     *os.File
	Ctx    *digest.Incremental
	Buffer []byte
	Cursor int64
	State  Round2State
	Digest []byte
}

// Entry describes one candidate file. Dir+Filename replace a full path
// string (Dir's cumulative path + Filename is a path the
// OS accepts for open).
type Entry struct {
	Next arena.Ref // next entry in the owning head's list

	Dir      arena.Ref // directory node (see internal/dirtree)
	Filename string

	Size    int64
	Dev     uint64
	Ino     uint64
	Nlink   uint32
	ModTime time.Time

	Buffer       []byte
	HashCtx      *digest.Incremental
	DataInBuffer int64
	FD           *os.File

	State EntryState

	// Discarded resolves the open question on the 3-file fast path: rather
	// than coupling path-string state with entry state (checking
	// path[...][0]==0 as the original does), an explicit sentinel marks an
	// entry that was already classified unique and removed from further
	// comparison within the current job.
	Discarded bool

	Round2 *Round2Info
}

// FullPath rebuilds this entry's full path via the owning tree.
func (e *Entry) FullPath(tree *dirtree.Tree) string {
	return tree.FullPath(e.Dir, e.Filename)
}

// Head is one size class's candidate set: a path-list head with its linked
// entries. Becomes a candidate set once ListSize>=2.
type Head struct {
	Size int64 // the distinct file size this head represents

	FirstEntry arena.Ref
	LastEntry  arena.Ref

	ListSize      int
	BuffersFilled int

	State HeadState

	// SizelistBack references this head's size-list node, modeled as an
	// index rather than a true pointer cycle (design note "cyclic-looking
	// backpointers").
	SizelistBack arena.Ref
}

// Lists owns the arenas for heads and entries for one engine run. Heads and
// entries are released in bulk via Reset, never individually.
type Lists struct {
	Heads   *arena.Arena[Head]
	Entries *arena.Arena[Entry]

	// Budget is the shared read-buffer byte ceiling, set by the engine after
	// construction. Nil disables accounting (unit tests that exercise round1/
	// round2 directly never set it).
	Budget *types.BufferBudget
}

// NewLists creates empty head/entry arenas sized for an expected file count.
func NewLists(expectedFiles int) *Lists {
	return &Lists{
		Heads:   arena.New[Head](expectedFiles / 16),
		Entries: arena.New[Entry](expectedFiles),
	}
}

// NewHead allocates a fresh head for a newly-promoted size class.
func (l *Lists) NewHead(size int64) arena.Ref {
	ref := l.Heads.Alloc()
	*l.Heads.Get(ref) = Head{
		Size:       size,
		FirstEntry: arena.NoRef,
		LastEntry:  arena.NoRef,
		State:      HeadNeedData,
	}
	return ref
}

// InsertFirstPath inserts the first entry into a newly-promoted head (the
// size-index's previously inline first file).
func (l *Lists) InsertFirstPath(headRef arena.Ref, dir arena.Ref, filename string, dev, ino uint64, nlink uint32, modTime time.Time) arena.Ref {
	return l.insert(headRef, dir, filename, dev, ino, nlink, modTime, true)
}

// InsertEndPath appends an entry at the tail of head's list (
// insert-end-path): second and later files of a given size.
func (l *Lists) InsertEndPath(headRef arena.Ref, dir arena.Ref, filename string, dev, ino uint64, nlink uint32, modTime time.Time) arena.Ref {
	return l.insert(headRef, dir, filename, dev, ino, nlink, modTime, false)
}

func (l *Lists) insert(headRef arena.Ref, dir arena.Ref, filename string, dev, ino uint64, nlink uint32, modTime time.Time, first bool) arena.Ref {
	head := l.Heads.Get(headRef)

	entryRef := l.Entries.Alloc()
	*l.Entries.Get(entryRef) = Entry{
		Next:     arena.NoRef,
		Dir:      dir,
		Filename: filename,
		Size:     head.Size,
		Dev:      dev,
		Ino:      ino,
		Nlink:    nlink,
		ModTime:  modTime,
		State:    EntryNeedData,
	}

	if head.FirstEntry == arena.NoRef {
		head.FirstEntry = entryRef
		head.LastEntry = entryRef
	} else if first {
		// Re-inserting the promoted-first file ahead of whatever was
		// already appended (normally nothing yet, but keep order stable).
		l.Entries.Get(entryRef).Next = head.FirstEntry
		head.FirstEntry = entryRef
	} else {
		l.Entries.Get(head.LastEntry).Next = entryRef
		head.LastEntry = entryRef
	}
	head.ListSize++
	return entryRef
}

// EntryRefs returns the Refs of every entry of head in list order,
// including entries already in a terminal state.
func (l *Lists) EntryRefs(headRef arena.Ref) []arena.Ref {
	head := l.Heads.Get(headRef)
	var out []arena.Ref
	for ref := head.FirstEntry; ref != arena.NoRef; ref = l.Entries.Get(ref).Next {
		out = append(out, ref)
	}
	return out
}

// LiveCount returns the number of entries not yet in a terminal state,
// which must equal ListSize for any head whose
// own State != Done.
func (l *Lists) LiveCount(headRef arena.Ref) int {
	n := 0
	for _, ref := range l.EntryRefs(headRef) {
		if !l.Entries.Get(ref).State.Terminal() {
			n++
		}
	}
	return n
}

// SetHeadState transitions head directly, for the whole-set transitions
// round 1/round 2 make that are not tied to a single entry's Demote (e.g.
// R1_BUFFERS_FULL -> R2_NEEDED, or DONE once a fully-read set publishes).
func (l *Lists) SetHeadState(headRef arena.Ref, state HeadState) {
	l.Heads.Get(headRef).State = state
}

// Demote marks an entry terminal (UNIQUE/INVALID/DONE) and
// decrements its head's ListSize, releasing the entry's scoped resources
// (buffer, hash context, open fd).
func (l *Lists) Demote(headRef arena.Ref, entryRef arena.Ref, state EntryState) {
	entry := l.Entries.Get(entryRef)
	entry.State = state
	if l.Budget != nil {
		// Covers buffers that were filled but never reached their normal
		// release point: round 1's hashHead releases entry.Buffer itself as
		// part of hashing, but an entry demoted straight from fillBuffer's
		// error path, or stranded when a sibling's failure already shrank
		// the head below 2 members, still holds one here.
		if entry.Buffer != nil {
			l.Budget.Release(int64(cap(entry.Buffer)))
		}
		if entry.Round2 != nil && entry.Round2.Buffer != nil {
			l.Budget.Release(int64(cap(entry.Round2.Buffer)))
		}
	}
	entry.Buffer = nil
	entry.HashCtx = nil
	if entry.FD != nil {
		_ = entry.FD.Close()
		entry.FD = nil
	}
	if entry.Round2 != nil {
		if entry.Round2.FD != nil {
			_ = entry.Round2.FD.Close()
		}
		entry.Round2 = nil
	}
	head := l.Heads.Get(headRef)
	head.ListSize--
	if head.ListSize <= 1 {
		head.State = HeadDone
	}
}
