// ABOUTME: Layout of the simulated heap's regions
// ABOUTME: Region bases and sizes, canaries and scan-start placement

// Package simheap is an in-memory generational heap: a bump nursery, a
// major heap with a pinned-chunk area, a large-object space, a remembered
// set with a write barrier, cementing, registered roots and stopped
// threads. It implements every collaborator the verifier reads and offers
// helpers to corrupt the heap on purpose.
package simheap

import (
	"github.com/prateek/heapcheck/heap"
	"github.com/prateek/heapcheck/object"
	"github.com/prateek/heapcheck/verify"
)

// Config places the regions of a simulated heap
type Config struct {
	NurseryStart heap.Addr `json:"nursery_start"`
	NurserySize  uint64    `json:"nursery_size"`
	MajorStart   heap.Addr `json:"major_start"`
	MajorSize    uint64    `json:"major_size"`
	PinnedStart  heap.Addr `json:"pinned_start"`
	PinnedSize   uint64    `json:"pinned_size"`
	LOSStart     heap.Addr `json:"los_start"`
	LOSSize      uint64    `json:"los_size"`
	StaticStart  heap.Addr `json:"static_start"`
	StaticSize   uint64    `json:"static_size"`
	StackStart   heap.Addr `json:"stack_start"`
	StackSize    uint64    `json:"stack_size"`
	VTableBase   heap.Addr `json:"vtable_base"`

	// Canaries places a guard word after every non-filler nursery object
	Canaries bool `json:"canaries"`
	// ScanStartStride records a scan start for the first object allocated
	// in each stride of the nursery; zero disables scan starts
	ScanStartStride uint64 `json:"scan_start_stride"`
	// MaxSmallObjectSize separates major objects from large objects
	MaxSmallObjectSize uint64 `json:"max_small_object_size"`
}

// DefaultConfig returns a small heap suitable for tests
func DefaultConfig() Config {
	return Config{
		NurseryStart:       0x1000_0000,
		NurserySize:        64 << 10,
		MajorStart:         0x2000_0000,
		MajorSize:          256 << 10,
		PinnedStart:        0x2800_0000,
		PinnedSize:         64 << 10,
		LOSStart:           0x3000_0000,
		LOSSize:            1 << 20,
		StaticStart:        0x4000_0000,
		StaticSize:         16 << 10,
		StackStart:         0x5000_0000,
		StackSize:          16 << 10,
		VTableBase:         object.DefaultVTableBase,
		ScanStartStride:    4 << 10,
		MaxSmallObjectSize: verify.DefaultMaxSmallObjectSize,
	}
}
