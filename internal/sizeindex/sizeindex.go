// Package sizeindex implements the size index: a binary search
// tree keyed by file size. Insertion-order tie-break on equal sizes has no
// meaning (each size is a single node). The index is dismantled before
// round 1 completes so it does not need rebalancing, and unlike
// the path-list/entry data it is not arena-backed — it is discarded in bulk
// once every file has been scanned.
package sizeindex

import (
	"time"

	"github.com/dupd-go/dupd/internal/arena"
	"github.com/dupd-go/dupd/internal/pathlist"
)

// inlineFile is the metadata kept directly in a size-index node for the
// first file seen of a given size, before a second file promotes the node
// into a real path-list head.
type inlineFile struct {
	dir      arena.Ref
	filename string
	dev, ino uint64
	nlink    uint32
	modTime  time.Time
}

type node struct {
	size  int64
	left  *node
	right *node

	// Exactly one of (inline != nil) or (head != arena.NoRef) holds, except
	// momentarily during promotion.
	inline *inlineFile
	head   arena.Ref
}

// Index is the size->path-list-head BST. Not safe for concurrent use by
// more than one writer; this producer/consumer design has exactly one
// size-index worker goroutine mutating it.
type Index struct {
	root  *node
	lists *pathlist.Lists
}

// New creates an empty size index backed by lists for promoted heads.
func New(lists *pathlist.Lists) *Index {
	return &Index{lists: lists}
}

// InsertResult reports what Insert did, so the caller (the size-index
// worker) knows whether to register a new candidate set with the size list
// and read list.
type InsertResult struct {
	// Promoted is true exactly when this insert created the second file of
	// a size class, turning a previously-inline entry into a two-entry
	// path-list head.
	Promoted bool
	// Head is the path-list head Ref once a size class has >=2 files;
	// arena.NoRef while only one file of this size has been seen.
	Head arena.Ref
	// PromotedFirstEntry and NewEntry are populated on promotion, giving the
	// caller both entries that now need read-list registration.
	PromotedFirstEntry arena.Ref
	NewEntry           arena.Ref
}

// Insert adds one file of size `size` to the index, returning what
// happened. Callers are expected to have already filtered by minimum size.
func (ix *Index) Insert(size int64, dir arena.Ref, filename string, dev, ino uint64, nlink uint32, modTime time.Time) InsertResult {
	n := ix.find(size)
	if n == nil {
		n = ix.insertNode(size)
	}

	if n.head != arena.NoRef {
		// Third and later file of this size: insert-end-path only.
		entry := ix.lists.InsertEndPath(n.head, dir, filename, dev, ino, nlink, modTime)
		return InsertResult{Head: n.head, NewEntry: entry}
	}

	if n.inline == nil {
		// First file of this size: stored inline, no path-list head yet.
		n.inline = &inlineFile{dir: dir, filename: filename, dev: dev, ino: ino, nlink: nlink, modTime: modTime}
		return InsertResult{Head: arena.NoRef}
	}

	// Second file of this size: promote. Create the head, re-insert the
	// first (previously inline) file via insert-first-path, then append
	// the second via insert-end-path.
	head := ix.lists.NewHead(size)
	first := n.inline
	firstEntry := ix.lists.InsertFirstPath(head, first.dir, first.filename, first.dev, first.ino, first.nlink, first.modTime)
	secondEntry := ix.lists.InsertEndPath(head, dir, filename, dev, ino, nlink, modTime)

	n.inline = nil
	n.head = head

	return InsertResult{Promoted: true, Head: head, PromotedFirstEntry: firstEntry, NewEntry: secondEntry}
}

func (ix *Index) find(size int64) *node {
	cur := ix.root
	for cur != nil {
		switch {
		case size == cur.size:
			return cur
		case size < cur.size:
			cur = cur.left
		default:
			cur = cur.right
		}
	}
	return nil
}

func (ix *Index) insertNode(size int64) *node {
	n := &node{size: size, head: arena.NoRef}
	if ix.root == nil {
		ix.root = n
		return n
	}
	cur := ix.root
	for {
		if size < cur.size {
			if cur.left == nil {
				cur.left = n
				return n
			}
			cur = cur.left
		} else {
			if cur.right == nil {
				cur.right = n
				return n
			}
			cur = cur.right
		}
	}
}

// Heads walks the whole tree and returns every promoted head's Ref
// (list_size >= 2), in ascending-size order. Used once at the end of the
// scan to dismantle the index into the size list.
func (ix *Index) Heads() []arena.Ref {
	var out []arena.Ref
	var walk func(n *node)
	walk = func(n *node) {
		if n == nil {
			return
		}
		walk(n.left)
		if n.head != arena.NoRef {
			out = append(out, n.head)
		}
		walk(n.right)
	}
	walk(ix.root)
	return out
}

// Single identifies a size class that never gained a second member: a file
// whose size is unique across the whole scan.
type Single struct {
	Dir      arena.Ref
	Filename string
}

// Singles walks the whole tree and returns every still-inline file, in
// ascending-size order. Used once at the end of the scan, before Dismantle,
// so a caller that records known-unique files doesn't miss the size classes
// that never got visited by round 1 or round 2.
func (ix *Index) Singles() []Single {
	var out []Single
	var walk func(n *node)
	walk = func(n *node) {
		if n == nil {
			return
		}
		walk(n.left)
		if n.inline != nil {
			out = append(out, Single{Dir: n.inline.dir, Filename: n.inline.filename})
		}
		walk(n.right)
	}
	walk(ix.root)
	return out
}

// Dismantle drops the BST's reference to its root, allowing the index's
// (non-arena) node allocations to be garbage collected. Every live
// reference the nodes held (heads, entries) is still reachable from the
// size list, so this is safe.
func (ix *Index) Dismantle() {
	ix.root = nil
}
