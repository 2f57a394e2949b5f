// ABOUTME: Pointer and object validity predicates
// ABOUTME: Classifies addresses against the nursery snapshot, major heap and LOS

package verify

import "github.com/prateek/heapcheck/heap"

// IsValidObject reports whether p is the exact start of a live object.
// Nursery objects are resolved against a fresh snapshot.
func (v *Verifier) IsValidObject(p heap.Addr) bool {
	ps := v.begin("oracle")
	defer ps.end()
	return ps.isValidObject(p)
}

// PtrInHeap reports whether p lies in the nursery or starts a valid major
// or LOS object
func (v *Verifier) PtrInHeap(p heap.Addr) bool {
	ps := v.begin("oracle")
	defer ps.end()
	return ps.ptrInHeap(p)
}

func (p *pass) isValidObject(addr heap.Addr) bool {
	h := p.v.heap
	if h.Nursery.Contains(addr) {
		return p.nurseryIndex().Contains(addr)
	}
	return h.LOS.IsValidObject(addr) || h.Major.IsValidObject(addr)
}

func (p *pass) ptrInHeap(addr heap.Addr) bool {
	h := p.v.heap
	if h.Nursery.Contains(addr) {
		return true
	}
	return h.LOS.IsValidObject(addr) || h.Major.IsValidObject(addr)
}

// isMarked reports whether a major or LOS object was marked this cycle.
// Large objects are marked by pinning them.
func (p *pass) isMarked(obj heap.Addr) bool {
	h := p.v.heap
	if h.Model.Size(obj) > p.v.maxSmall {
		return h.LOS.IsPinned(obj)
	}
	return h.Major.IsObjectLive(obj)
}
