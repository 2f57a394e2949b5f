// ABOUTME: Address primitives shared by every heap walker
// ABOUTME: Defines Addr, machine word geometry and the read-only Memory view

// Package heap models the collector's address space at word granularity.
// Verification passes only ever read through Memory; mutation helpers exist
// for the collaborators that own the regions.
package heap

import "fmt"

// Addr is a byte address in the collector's address space
type Addr uint64

const (
	// WordSize is the size of a machine word in bytes
	WordSize = 8
	// AllocAlign is the alignment every object start and size is rounded to
	AllocAlign = 8
)

// AlignUp rounds n up to the allocation alignment
func AlignUp(n uint64) uint64 {
	return (n + AllocAlign - 1) &^ (AllocAlign - 1)
}

// Add returns the address off bytes past a
func (a Addr) Add(off uint64) Addr {
	return a + Addr(off)
}

// Sub returns the distance in bytes from b to a
func (a Addr) Sub(b Addr) uint64 {
	return uint64(a - b)
}

// Aligned reports whether a is word aligned
func (a Addr) Aligned() bool {
	return a%WordSize == 0
}

func (a Addr) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// Memory is a read-only view of mapped words.
// Loads from unmapped or unaligned addresses yield zero.
type Memory interface {
	Load(a Addr) uint64
}

// Extent is implemented by memories that can report the contiguous mapped
// run [start, end) holding an address
type Extent interface {
	Extent(a Addr) (start, end Addr, ok bool)
}
