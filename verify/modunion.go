// ABOUTME: Mod-union card consistency for marked old-generation objects
// ABOUTME: References to unmarked old objects must sit on a dirty card

package verify

import "github.com/prateek/heapcheck/heap"

// CheckModUnionConsistency checks the mod-union cards of every marked major
// and LOS object. A marked object must own cards, and each of its slots
// holding a reference to an old object that is not marked yet must lie on
// a card set in those cards, so the concurrent marker rescans it.
// References into the nursery and to marked objects need no card.
func (v *Verifier) CheckModUnionConsistency() error {
	p := v.begin("mod-union")
	h := v.heap

	visit := func(inLOS bool) ObjectVisitor {
		return func(obj heap.Addr, _ uint64) {
			if !p.isMarked(obj) {
				return
			}

			var cards heap.Cards
			if inLOS {
				cards = h.LOS.ModUnionForObject(obj)
			} else {
				cards = h.Major.ModUnionForObject(obj)
			}
			if cards == nil {
				p.report(p.objectViolation(NoModUnionCards, obj, "marked object has no mod-union cards"))
				return
			}

			p.scan(obj, func(slot, target heap.Addr) {
				if target == 0 || h.Nursery.Contains(target) || p.isMarked(target) {
					return
				}
				if !h.Remset.ContainsWithCards(obj, cards, slot) {
					p.report(p.slotViolation(MissingModUnion, obj, slot, target, "old to old reference not covered by mod-union cards"))
				}
			})
		}
	}

	h.Major.IterateObjects(IterateAll, visit(false))
	h.LOS.IterateObjects(visit(true))
	return p.finish()
}
