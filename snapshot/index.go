// ABOUTME: One-shot sorted index of nursery object starts
// ABOUTME: Answers exact membership and interior-pointer owner queries

// Package snapshot indexes the objects of a bump-allocated area so that
// interior and conservative pointers can be mapped back to object starts.
package snapshot

import (
	"golang.org/x/exp/slices"

	"github.com/prateek/heapcheck/heap"
	"github.com/prateek/heapcheck/object"
)

// Index holds object starts in ascending order with their aligned sizes.
// An Index describes memory as it was when Build ran; it must be rebuilt
// after any mutation of the indexed area.
type Index struct {
	starts []heap.Addr
	sizes  []uint64
	err    error
}

// Build walks [start, end) forward and records every object it finds.
// A walk stopped by an object running past end keeps the objects before it.
func Build(m *object.Model, start, end heap.Addr, guarded bool) *Index {
	idx := &Index{}
	idx.err = m.WalkArea(start, end, guarded, func(obj heap.Addr, size uint64) {
		idx.starts = append(idx.starts, obj)
		idx.sizes = append(idx.sizes, size)
	})
	return idx
}

// Err returns the error that cut the indexing walk short, if any
func (idx *Index) Err() error {
	return idx.err
}

// Len returns the number of indexed objects
func (idx *Index) Len() int {
	return len(idx.starts)
}

// Objects returns a copy of the indexed object starts
func (idx *Index) Objects() []heap.Addr {
	return slices.Clone(idx.starts)
}

// ForEach visits indexed objects in address order
func (idx *Index) ForEach(fn func(obj heap.Addr, size uint64)) {
	for i, s := range idx.starts {
		fn(s, idx.sizes[i])
	}
}

// Contains reports whether addr is exactly the start of an indexed object
func (idx *Index) Contains(addr heap.Addr) bool {
	_, found := slices.BinarySearch(idx.starts, addr)
	return found
}

// Owner returns the start of the object whose [start, start+size) holds ptr.
// ok is false when ptr lies in an unused hole or outside the indexed area.
func (idx *Index) Owner(ptr heap.Addr) (owner heap.Addr, ok bool) {
	i, found := slices.BinarySearch(idx.starts, ptr)
	if found {
		return ptr, true
	}
	if i == 0 {
		return 0, false
	}
	i--
	if ptr >= idx.starts[i].Add(idx.sizes[i]) {
		return 0, false
	}
	return idx.starts[i], true
}

// Size returns the aligned size of the indexed object starting at obj
func (idx *Index) Size(obj heap.Addr) (uint64, bool) {
	i, found := slices.BinarySearch(idx.starts, obj)
	if !found {
		return 0, false
	}
	return idx.sizes[i], true
}
