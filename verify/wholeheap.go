// ABOUTME: Whole-heap pointer verification and post-mark reachability checks
// ABOUTME: Every reference must hit a valid object; old-to-young ones must be remembered

package verify

import "github.com/prateek/heapcheck/heap"

// Leniency relaxes the remembered-set part of the whole-heap check
type Leniency uint8

const (
	// StrictRemsets requires a remset entry or cementing for every
	// old-to-young reference
	StrictRemsets Leniency = iota
	// AllowMissingPinned also accepts a missing entry when the target is
	// pinned, as happens right after stack pinning
	AllowMissingPinned
)

// CheckWholeHeap verifies every reference of every nursery, major and LOS
// object against the validity oracle and the remembered set
func (v *Verifier) CheckWholeHeap(leniency Leniency) error {
	p := v.begin("whole-heap")
	h := v.heap

	visit := func(obj heap.Addr, _ uint64) {
		p.scan(obj, func(slot, target heap.Addr) {
			if target == 0 {
				return
			}
			if !p.isValidObject(target) {
				viol := p.slotViolation(InvalidPointer, obj, slot, target, "invalid object pointer")
				viol.Description = p.describe(target)
				viol.Detail += ": " + viol.Description.String()
				p.report(viol)
				return
			}
			if h.Nursery.Contains(obj) || !h.Nursery.Contains(target) {
				return
			}
			if h.Remset.Contains(slot) || h.Cement.Contains(target) {
				return
			}
			if leniency == AllowMissingPinned && h.Model.IsPinned(target) {
				return
			}
			p.report(p.slotViolation(MissingRemset, obj, slot, target, "old to young reference not found in remembered set"))
		})
	}

	p.nurseryIndex().ForEach(visit)
	h.Major.IterateObjects(IterateSweepAll, visit)
	h.LOS.IterateObjects(visit)
	return p.finish()
}

// CheckObjRef checks that ref points into the heap
func (v *Verifier) CheckObjRef(ref heap.Addr) error {
	p := v.begin("objref")
	if !p.ptrInHeap(ref) {
		viol := &Violation{Kind: InvalidPointer, Target: ref, Description: p.describe(ref)}
		viol.Detail = "reference outside the heap: " + viol.Description.String()
		p.report(viol)
	}
	return p.finish()
}

// CheckHeapMarked runs after marking. Every reference held by a nursery
// object, a live major object or a pinned LOS object must point at a
// non-forwarded nursery object, a live major object or a pinned (marked)
// LOS object. With nurseryMustBePinned every nursery object must be pinned.
func (v *Verifier) CheckHeapMarked(nurseryMustBePinned bool) error {
	p := v.begin("heap-marked")
	h := v.heap

	check := func(obj heap.Addr) {
		p.safeScan(obj, func(slot, target heap.Addr) {
			if target == 0 {
				return
			}
			if h.Nursery.Contains(target) {
				if h.Model.Header(target).IsForwarded() {
					p.report(p.slotViolation(ForwardedInNursery, obj, slot, target, "reference to a forwarded nursery object"))
				}
				return
			}
			if !p.isMarked(target) {
				p.report(p.slotViolation(UnmarkedTarget, obj, slot, target, "reference to an unmarked object"))
			}
		})
	}

	p.nurseryIndex().ForEach(func(obj heap.Addr, _ uint64) {
		if nurseryMustBePinned && !h.Model.IsPinned(obj) {
			p.report(p.objectViolation(UnpinnedInNursery, obj, "objects remaining in the nursery must be pinned"))
		}
		check(obj)
	})
	h.Major.IterateObjects(IterateSweepAll, func(obj heap.Addr, _ uint64) {
		if h.Major.IsObjectLive(obj) {
			check(obj)
		}
	})
	h.LOS.IterateObjects(func(obj heap.Addr, _ uint64) {
		if h.LOS.IsPinned(obj) {
			check(obj)
		}
	})
	return p.finish()
}
