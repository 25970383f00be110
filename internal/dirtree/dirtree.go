// Package dirtree implements the reverse-linked directory tree described in
// each node holds a reference to its parent and its own name
// segment, so a file only needs to store one parent Ref plus its filename
// instead of a full path string. Nodes are created by the scanner, never
// mutated after creation, and freed as a block with the owning arena.
package dirtree

import "github.com/dupd-go/dupd/internal/arena"

// Node is one directory in the tree. Name is not NUL-terminated; NameLen is
// redundant with len(Name) but kept to mirror the original layout (and to
// make the cumulative length arithmetic self-documenting).
type Node struct {
	Parent          arena.Ref
	Name            []byte
	NameLen         int
	CumulativePathLen int // parent.CumulativePathLen + 1 (separator) + NameLen
}

// Tree owns the arena of directory nodes and the root node's Ref.
type Tree struct {
	nodes *arena.Arena[Node]
	root  arena.Ref
}

// New creates a Tree with a root node (null parent, empty name).
func New() *Tree {
	t := &Tree{nodes: arena.New[Node](1024)}
	root := t.nodes.Alloc()
	*t.nodes.Get(root) = Node{Parent: arena.NoRef, Name: nil, NameLen: 0, CumulativePathLen: 0}
	t.root = root
	return t
}

// Root returns the Ref of the tree's root node.
func (t *Tree) Root() arena.Ref { return t.root }

// Get returns the node for ref.
func (t *Tree) Get(ref arena.Ref) *Node { return t.nodes.Get(ref) }

// Insert creates a child node of parent named name and returns its Ref.
// name is copied into the arena's backing slab's own byte slice (a fresh
// slice, since the caller's buffer may be reused by the walker).
func (t *Tree) Insert(parent arena.Ref, name string) arena.Ref {
	p := t.nodes.Get(parent)
	nameBytes := []byte(name)

	ref := t.nodes.Alloc()
	*t.nodes.Get(ref) = Node{
		Parent:            parent,
		Name:              nameBytes,
		NameLen:           len(nameBytes),
		CumulativePathLen: p.CumulativePathLen + 1 + len(nameBytes),
	}
	return ref
}

// FullPath materializes the full path of dir plus a trailing filename in a
// single reverse walk, using one output buffer sized from CumulativePathLen
// (lets a full path be materialized in one reverse walk with a single
// output buffer of known size").
func (t *Tree) FullPath(dir arena.Ref, filename string) string {
	node := t.nodes.Get(dir)
	totalLen := node.CumulativePathLen + 1 + len(filename)
	buf := make([]byte, totalLen)

	pos := totalLen
	pos -= len(filename)
	copy(buf[pos:], filename)
	pos--
	buf[pos] = '/'

	cur := dir
	for cur != t.root {
		n := t.nodes.Get(cur)
		pos -= n.NameLen
		copy(buf[pos:], n.Name)
		pos--
		buf[pos] = '/'
		cur = n.Parent
	}
	return string(buf[pos:])
}

// Len returns the number of nodes allocated (for diagnostics).
func (t *Tree) Len() int64 { return t.nodes.Len() }
