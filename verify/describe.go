// ABOUTME: Classification of arbitrary addresses for diagnostics
// ABOUTME: Resolves region, owner object, forwarding chain and vtable health

package verify

import (
	"fmt"
	"strings"

	"github.com/prateek/heapcheck/descr"
	"github.com/prateek/heapcheck/heap"
)

// Region names where an address lives
type Region uint8

const (
	RegionUnknown Region = iota
	RegionNursery
	RegionLOS
	RegionMajor
	RegionPinnedChunk
)

func (r Region) String() string {
	switch r {
	case RegionNursery:
		return "nursery"
	case RegionLOS:
		return "los"
	case RegionMajor:
		return "oldspace"
	case RegionPinnedChunk:
		return "pinned chunk"
	default:
		return "unknown"
	}
}

// maxDescribeHops bounds the forwarding chain a description follows
const maxDescribeHops = 8

// Description explains what an address points at
type Description struct {
	Pointer heap.Addr
	Region  Region
	// Object is the start of the object holding Pointer, zero if none
	Object      heap.Addr
	Offset      uint64
	Unallocated bool
	Pinned      bool
	// Forwarding lists the copies the object was forwarded to, in order
	Forwarding    []heap.Addr
	VTable        heap.Addr
	VTableProblem string
	Class         string
	Descriptor    descr.Descriptor
	Size          uint64
}

func (d *Description) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", d.Pointer, d.Region)
	switch {
	case d.Unallocated:
		b.WriteString(" (unallocated)")
	case d.Object != 0 && d.Offset == 0:
		fmt.Fprintf(&b, " object %s", d.Object)
	case d.Object != 0:
		fmt.Fprintf(&b, " offset %#x of object %s", d.Offset, d.Object)
	}
	if d.Pinned {
		b.WriteString(", pinned")
	}
	for _, f := range d.Forwarding {
		fmt.Fprintf(&b, ", forwarded to %s", f)
	}
	if d.Region == RegionUnknown || d.Unallocated {
		return b.String()
	}
	fmt.Fprintf(&b, ", vtable %s", d.VTable)
	if d.VTableProblem != "" {
		fmt.Fprintf(&b, " (invalid: %s)", d.VTableProblem)
		return b.String()
	}
	fmt.Fprintf(&b, ", class %s, descriptor %s, size %d", d.Class, d.Descriptor, d.Size)
	return b.String()
}

// DescribePointer classifies ptr against a fresh nursery snapshot
func (v *Verifier) DescribePointer(ptr heap.Addr) *Description {
	p := v.begin("describe")
	defer p.end()
	d := p.describe(ptr)
	p.log.WithField("pointer", ptr.String()).Info(d.String())
	return d
}

func (p *pass) describe(ptr heap.Addr) *Description {
	h := p.v.heap
	d := &Description{Pointer: ptr}

	for hop := 0; ; hop++ {
		region, start, ok := p.locate(ptr)
		if hop == 0 {
			d.Region = region
			if region == RegionUnknown {
				return d
			}
			if !ok {
				d.Unallocated = true
				return d
			}
			d.Object, d.Offset = start, ptr.Sub(start)
		} else if !ok {
			// forwarded into nothing; the copy cannot be described
			d.VTableProblem = "forwarded to unallocated memory"
			return d
		}
		ptr = start

		d.Pinned = d.Pinned || h.Model.IsPinned(ptr)
		if dst, fwd := h.Model.Forwarded(ptr); fwd && hop < maxDescribeHops {
			d.Forwarding = append(d.Forwarding, dst)
			ptr = dst
			continue
		}

		if region == RegionMajor {
			d.VTable = h.Major.DescribePointer(ptr)
		} else {
			d.VTable = h.Model.Header(ptr).VTable()
		}
		p.describeVTable(d, ptr)
		return d
	}
}

// locate finds the region of ptr and the start of the object holding it
func (p *pass) locate(ptr heap.Addr) (Region, heap.Addr, bool) {
	h := p.v.heap
	if h.Nursery.Contains(ptr) {
		start, ok := p.nurseryIndex().Owner(ptr)
		return RegionNursery, start, ok
	}
	if start, ok := h.LOS.PtrIsInLOS(ptr); ok {
		return RegionLOS, start, true
	}
	if start, ok := h.Major.PtrIsInNonPinnedSpace(ptr); ok {
		return RegionMajor, start, start != 0
	}
	if h.Major.ObjIsFromPinnedAlloc(ptr) {
		return RegionPinnedChunk, ptr, true
	}
	return RegionUnknown, 0, false
}

func (p *pass) describeVTable(d *Description, obj heap.Addr) {
	h := p.v.heap
	switch {
	case d.VTable == 0:
		d.VTableProblem = "empty"
		return
	case h.Nursery.Contains(d.VTable):
		d.VTableProblem = "points inside nursery"
		return
	}
	c, ok := h.Model.Types.Lookup(d.VTable)
	if !ok {
		d.VTableProblem = "not registered"
		return
	}
	d.Class = c.FullName()
	d.Descriptor = c.Desc
	d.Size = h.Model.Size(obj)
}
