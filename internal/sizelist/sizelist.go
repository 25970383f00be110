// Package sizelist implements the size-list: a linked list of
// every size class containing >=2 files, the unit of work handed from the
// size index to the read-list/round-1/round-2 pipeline. Nodes are shared
// between the round-2 reader and hasher goroutines; each node carries its
// own lock, and unlinking a node requires non-blocking acquisition of its
// predecessor's lock to avoid deadlock.
package sizelist

import (
	"sync"

	"github.com/dupd-go/dupd/internal/arena"
)

// Node is one size class on the size list. The PathList backpointer and this
// node's own position are modeled as arena indices rather than a true
// pointer cycle (design note "cyclic-looking backpointers").
type Node struct {
	mu sync.Mutex

	PathList arena.Ref // the pathlist.Head this node represents
	Next     arena.Ref // next size-list node, or arena.NoRef
	Prev     arena.Ref // previous size-list node, or arena.NoRef (for O(1) unlink)

	Size          int64
	FullyRead     bool
	BuffersFilled int
	BytesRead     int64
}

// Lock/Unlock expose the per-node lock to round-2's reader/hasher pair.
func (n *Node) Lock()   { n.mu.Lock() }
func (n *Node) Unlock() { n.mu.Unlock() }

// List is the arena-backed linked list plus head/tail Refs. Inserted in
// arrival order.
type List struct {
	nodes *arena.Arena[Node]
	Head  arena.Ref
	Tail  arena.Ref
	count int
}

// New creates an empty size list.
func New(expectedSizeClasses int) *List {
	return &List{
		nodes: arena.New[Node](expectedSizeClasses),
		Head:  arena.NoRef,
		Tail:  arena.NoRef,
	}
}

// Get returns the node for ref.
func (l *List) Get(ref arena.Ref) *Node { return l.nodes.Get(ref) }

// Append inserts a new size-list node at the tail, referencing pathListHead.
func (l *List) Append(pathListHead arena.Ref, size int64) arena.Ref {
	ref := l.nodes.Alloc()
	*l.nodes.Get(ref) = Node{
		PathList: pathListHead,
		Next:     arena.NoRef,
		Prev:     l.Tail,
		Size:     size,
	}
	if l.Tail != arena.NoRef {
		l.nodes.Get(l.Tail).Next = ref
	} else {
		l.Head = ref
	}
	l.Tail = ref
	l.count++
	return ref
}

// Len returns the number of nodes currently linked (including DONE nodes
// not yet unlinked).
func (l *List) Len() int { return l.count }

// Items returns every linked node Ref in list order. Safe to call only when
// no concurrent Unlink is in flight (used for the initial round-1/round-2
// handoff and for tests).
func (l *List) Items() []arena.Ref {
	out := make([]arena.Ref, 0, l.count)
	for ref := l.Head; ref != arena.NoRef; ref = l.nodes.Get(ref).Next {
		out = append(out, ref)
	}
	return out
}

// Unlink removes ref from the list if its predecessor's lock can be acquired
// without blocking. Unlinking a node requires locks on the
// node, its predecessor, and its successor, in that order; failure to
// acquire predecessor non-blockingly aborts the unlink and defers it." The
// head node is never unlinked (kept even if DONE, "to simplify pointer
// logic) — callers must not pass l.Head.
func (l *List) Unlink(ref arena.Ref) (unlinked bool) {
	node := l.nodes.Get(ref)
	node.Lock()
	defer node.Unlock()

	prevRef := node.Prev
	if prevRef == arena.NoRef {
		// This is the list head; it is never unlinked directly.
		return false
	}
	prevNode := l.nodes.Get(prevRef)
	if !prevNode.mu.TryLock() {
		return false
	}
	defer prevNode.Unlock()

	nextRef := node.Next
	if nextRef != arena.NoRef {
		nextNode := l.nodes.Get(nextRef)
		nextNode.Lock()
		defer nextNode.Unlock()
		nextNode.Prev = prevRef
	} else {
		l.Tail = prevRef
	}
	prevNode.Next = nextRef
	l.count--
	return true
}
