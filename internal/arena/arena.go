// Package arena provides a generic bump allocator for values that are never
// individually freed: path-list heads, path-list entries, directory-tree
// nodes, and size-list nodes. Slabs double in size on exhaustion, mirroring
// dupd's dirbuf_alloc/slab growth. Nothing is released until the whole Arena
// is discarded, which is correct because every live reference is reachable
// from the size list or size index, both of which are torn down once
// processing finishes.
//
// A safe port replaces raw pointers with stable Ref indices into a slab; an
// Arena never reallocates or moves existing elements (slabs are appended,
// not copied), so a Ref remains valid for the Arena's entire lifetime.
package arena

// Ref is a stable reference to a value stored in an Arena. Ref 0 is the
// first allocated element; NoRef (-1) means "no reference" (akin to a null
// parent pointer).
type Ref int32

// NoRef is the sentinel for an absent reference (e.g. the root directory
// node's parent, or an entry's unset next pointer).
const NoRef Ref = -1

// Arena is a single-writer-until-frozen bump allocator for T. It is safe for
// one writer goroutine to call Alloc/Get while no other goroutine accesses
// it; once the owning phase completes, the Arena is read-only and any number
// of readers may call Get/MustGet concurrently without additional locking,
// matching the "arena is single-writer until scan completion, then
// read-only" resource note.
type Arena[T any] struct {
	slabs        [][]T
	slabSize     int
	spaceUsed    int64
	spaceAllocated int64
}

const initialSlabSize = 4096

// New creates an Arena with a starting slab capable of holding at least
// initialCap elements (rounded up to the default initial slab size).
func New[T any](initialCap int) *Arena[T] {
	size := initialSlabSize
	if initialCap > size {
		size = initialCap
	}
	a := &Arena[T]{slabSize: size}
	a.growSlab(size)
	return a
}

func (a *Arena[T]) growSlab(size int) {
	slab := make([]T, 0, size)
	a.slabs = append(a.slabs, slab)
	var zero T
	a.spaceAllocated += int64(size) * int64(sizeOf(zero))
}

// sizeOf is a crude accounting helper; exactness is not required, only a
// monotonic diagnostic counter.
func sizeOf[T any](v T) int {
	return 1
}

// Alloc appends a new zero-valued T to the arena and returns a stable Ref to
// it. The returned pointer (via Get) remains valid for the arena's lifetime.
func (a *Arena[T]) Alloc() Ref {
	last := len(a.slabs) - 1
	slab := a.slabs[last]
	if len(slab) == cap(slab) {
		a.growSlab(cap(slab) * 2)
		last++
		slab = a.slabs[last]
	}
	idx := len(slab)
	a.slabs[last] = append(slab, *new(T))
	a.spaceUsed++

	// Encode the Ref as a flat index across all slabs preceding this one,
	// so callers never need to know about slab boundaries.
	base := Ref(0)
	for i := 0; i < last; i++ {
		base += Ref(cap(a.slabs[i]))
	}
	return base + Ref(idx)
}

// locate resolves a flat Ref into (slabIndex, offset).
func (a *Arena[T]) locate(ref Ref) (int, int) {
	remaining := int(ref)
	for i, slab := range a.slabs {
		if remaining < cap(slab) {
			return i, remaining
		}
		remaining -= cap(slab)
	}
	panic("arena: ref out of range")
}

// Get returns a pointer to the value referenced by ref. The pointer is
// stable for the arena's lifetime (slabs are never reallocated/copied).
func (a *Arena[T]) Get(ref Ref) *T {
	if ref == NoRef {
		return nil
	}
	slabIdx, offset := a.locate(ref)
	return &a.slabs[slabIdx][offset]
}

// Len returns the number of elements allocated so far.
func (a *Arena[T]) Len() int64 { return a.spaceUsed }

// BytesAllocated returns the cumulative capacity reserved across all slabs,
// for the end-of-run diagnostic.
func (a *Arena[T]) BytesAllocated() int64 { return a.spaceAllocated }

// Reset discards all slabs at once, releasing every element in bulk. Callers
// must not use any previously returned Ref after calling Reset.
func (a *Arena[T]) Reset() {
	a.slabs = nil
	a.spaceUsed = 0
	a.spaceAllocated = 0
	a.growSlab(a.slabSize)
}
