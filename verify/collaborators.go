// ABOUTME: Interfaces of the collector parts the verifier reads from
// ABOUTME: Nursery, major heap, LOS, remembered set, cement set, roots, threads

package verify

import (
	"github.com/prateek/heapcheck/descr"
	"github.com/prateek/heapcheck/heap"
	"github.com/prateek/heapcheck/object"
)

// IterateMode selects which major-heap objects an iteration yields
type IterateMode uint8

const (
	// IterateSweepAll yields every object that survived the last sweep
	IterateSweepAll IterateMode = iota
	// IterateAll yields every allocated object, swept or not
	IterateAll
)

// ObjectVisitor receives an object start and its size in bytes
type ObjectVisitor func(obj heap.Addr, size uint64)

// MajorCollector is the old-generation collector
type MajorCollector interface {
	IterateObjects(mode IterateMode, visit ObjectVisitor)
	IsValidObject(p heap.Addr) bool
	IsObjectLive(obj heap.Addr) bool
	// PtrIsInNonPinnedSpace returns the start of the object holding p, or
	// zero when p is in the space but not inside an allocated object
	PtrIsInNonPinnedSpace(p heap.Addr) (start heap.Addr, ok bool)
	ObjIsFromPinnedAlloc(p heap.Addr) bool
	// ModUnionForObject returns nil when obj has no mod-union cards
	ModUnionForObject(obj heap.Addr) heap.Cards
	// DescribePointer returns the vtable of the object at p
	DescribePointer(p heap.Addr) heap.Addr
}

// LargeObject is one record of the large-object list
type LargeObject struct {
	Start heap.Addr
	Size  uint64
}

// LargeObjectSpace holds objects above the small-object threshold
type LargeObjectSpace interface {
	IterateObjects(visit ObjectVisitor)
	IsValidObject(p heap.Addr) bool
	IsPinned(obj heap.Addr) bool
	ModUnionForObject(obj heap.Addr) heap.Cards
	PtrIsInLOS(p heap.Addr) (start heap.Addr, ok bool)
	Objects() []LargeObject
}

// RememberedSet records old-to-young slot addresses
type RememberedSet interface {
	Contains(slot heap.Addr) bool
	// ContainsWithCards looks slot up in the card bitmap of the object
	// or region starting at start
	ContainsWithCards(start heap.Addr, cards heap.Cards, slot heap.Addr) bool
}

// CementSet holds objects pinned in an earlier cycle
type CementSet interface {
	Contains(obj heap.Addr) bool
}

// Nursery is the bump-allocated young generation
type Nursery interface {
	Start() heap.Addr
	End() heap.Addr
	Contains(p heap.Addr) bool
	ScanStarts() []heap.Addr
	CanariesEnabled() bool
}

// RootType classifies registered root ranges
type RootType uint8

const (
	RootNormal RootType = iota
	RootWBarrier
	RootPinned
)

func (t RootType) String() string {
	switch t {
	case RootNormal:
		return "normal"
	case RootWBarrier:
		return "wbarrier"
	case RootPinned:
		return "pinned"
	default:
		return "unknown"
	}
}

// RootRecord is a registered root range [Start, End)
type RootRecord struct {
	Start heap.Addr
	End   heap.Addr
	Desc  descr.RootDescriptor
	Type  RootType
	// Owned marks ranges belonging to the bookkeeping of domain Owner,
	// which may reference objects of that domain
	Owned bool
	Owner object.DomainID
}

// RootRegistry enumerates registered roots by type
type RootRegistry interface {
	ForEachRoot(t RootType, fn func(r *RootRecord))
}

// Thread is a stopped mutator thread
type Thread struct {
	ID         uint64
	StackStart heap.Addr
	StackEnd   heap.Addr
	Regs       []uint64
	// Skip marks threads whose stack must not be scanned
	Skip bool
}

// ThreadRegistry enumerates live threads
type ThreadRegistry interface {
	ForEachThread(fn func(t *Thread))
}

// Heap bundles everything a verification pass reads
type Heap struct {
	Model   *object.Model
	Nursery Nursery
	Major   MajorCollector
	LOS     LargeObjectSpace
	Remset  RememberedSet
	Cement  CementSet
	Roots   RootRegistry
	Threads ThreadRegistry
}
