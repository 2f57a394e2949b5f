// ABOUTME: Remembered-set consistency and old-generation reference checks
// ABOUTME: Old-to-young slots must be remembered unless the target cannot move

package verify

import (
	"github.com/sirupsen/logrus"

	"github.com/prateek/heapcheck/heap"
)

// CheckConsistency checks that every slot of a major or LOS object that
// points into the nursery is in the remembered set. Cemented targets are
// exempt. A pinned target is logged but tolerated, since the store may
// have raced the remset insertion without the target moving.
func (v *Verifier) CheckConsistency() error {
	p := v.begin("consistency")
	h := v.heap

	visit := func(obj heap.Addr, _ uint64) {
		p.scan(obj, func(slot, target heap.Addr) {
			if target == 0 || !h.Nursery.Contains(target) {
				return
			}
			if h.Remset.Contains(slot) || h.Cement.Contains(target) {
				return
			}
			if h.Model.IsPinned(target) {
				p.log.WithFields(logrus.Fields{
					"object": obj.String(),
					"slot":   slot.String(),
					"target": target.String(),
				}).Warn("old to young reference to a pinned object is not in the remembered set")
				return
			}
			p.report(p.slotViolation(MissingRemset, obj, slot, target, "old to young reference not found in remembered set"))
		})
	}

	h.Major.IterateObjects(IterateSweepAll, visit)
	h.LOS.IterateObjects(visit)
	return p.finish()
}

// CheckMajorRefs checks that every reference held by a major or LOS object
// points at an object whose vtable can be loaded
func (v *Verifier) CheckMajorRefs() error {
	p := v.begin("major-refs")
	visit := func(obj heap.Addr, _ uint64) {
		p.checkRefsLoadable(obj)
	}
	v.heap.Major.IterateObjects(IterateSweepAll, visit)
	v.heap.LOS.IterateObjects(visit)
	return p.finish()
}

// CheckObject applies the loadable-vtable check to the references of a
// single object. A zero address is accepted.
func (v *Verifier) CheckObject(obj heap.Addr) error {
	if obj == 0 {
		return nil
	}
	p := v.begin("object")
	p.checkRefsLoadable(obj)
	return p.finish()
}

func (p *pass) checkRefsLoadable(obj heap.Addr) {
	m := p.v.heap.Model
	p.scan(obj, func(slot, target heap.Addr) {
		if target == 0 || m.SafeClass(target) != nil {
			return
		}
		p.report(p.slotViolation(UnloadableVTable, obj, slot, target, "could not load vtable of referenced object"))
	})
}
