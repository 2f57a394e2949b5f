// ABOUTME: Nursery layout checks: scan starts, guard canaries and clean handoff
// ABOUTME: Walks the nursery word by word, skipping zeroed holes

package verify

import (
	"fmt"

	"github.com/sirkon/errors"
	"github.com/sirupsen/logrus"

	"github.com/prateek/heapcheck/heap"
	"github.com/prateek/heapcheck/object"
)

// VerifyNursery walks the nursery and checks that no scan start falls
// strictly inside an object and, with canaries enabled, that the guard word
// after each non-filler object is intact. With dump set, every object and
// hole is logged.
func (v *Verifier) VerifyNursery(dump bool) error {
	p := v.begin("nursery")
	h := v.heap
	m := h.Model
	guarded := h.Nursery.CanariesEnabled()
	if guarded {
		p.log.Info("checking nursery canaries")
	}

	starts := h.Nursery.ScanStarts()
	holeStart := h.Nursery.Start()
	p.walkNursery(func(obj heap.Addr, size uint64) {
		if _, fwd := m.Forwarded(obj); fwd {
			p.log.WithField("object", obj.String()).Warn("forwarded object in nursery")
		} else if m.IsPinned(obj) {
			p.log.WithField("object", obj.String()).Warn("pinned object in nursery")
		}

		p.verifyScanStarts(starts, obj, obj.Add(size))
		fill := m.IsArrayFill(obj)

		if dump {
			if obj > holeStart {
				p.log.WithFields(logrus.Fields{
					"start": holeStart.String(),
					"end":   obj.String(),
					"size":  obj.Sub(holeStart),
				}).Info("hole")
			}
			class := "?"
			if c := m.SafeClass(obj); c != nil {
				class = c.FullName()
			}
			p.log.WithFields(logrus.Fields{
				"start":      obj.String(),
				"end":        obj.Add(size).String(),
				"size":       size,
				"raw-size":   m.Size(obj),
				"class":      class,
				"array-fill": fill,
			}).Info("object")
		}

		if guarded && !fill && !m.CanaryIntact(obj, size) {
			p.report(p.objectViolation(CanaryCorrupted, obj,
				fmt.Sprintf("guard word at %s overwritten", obj.Add(size))))
		}
		holeStart = obj.Add(m.Footprint(obj, size, guarded))
	})

	return p.finish()
}

// CheckNurseryIsClean checks that no nursery object is forwarded or pinned.
// It gates resuming mutators during a concurrent collection; once it passes
// the nursery may change again.
func (v *Verifier) CheckNurseryIsClean() error {
	p := v.begin("nursery-clean")
	h := v.heap
	m := h.Model

	starts := h.Nursery.ScanStarts()
	p.walkNursery(func(obj heap.Addr, size uint64) {
		if _, fwd := m.Forwarded(obj); fwd {
			p.report(p.objectViolation(ForwardedInNursery, obj, "forwarded object visible to mutators"))
		}
		if m.IsPinned(obj) {
			p.report(p.objectViolation(PinnedInNursery, obj, "pinned object visible to mutators"))
		}
		p.verifyScanStarts(starts, obj, obj.Add(size))
	})
	return p.finish()
}

// CheckNurseryObjectsPinned checks that no nursery object is forwarded and
// that each one is pinned exactly when pinned is set
func (v *Verifier) CheckNurseryObjectsPinned(pinned bool) error {
	p := v.begin("nursery-pinned")
	m := v.heap.Model

	p.walkNursery(func(obj heap.Addr, _ uint64) {
		if _, fwd := m.Forwarded(obj); fwd {
			p.report(p.objectViolation(ForwardedInNursery, obj, "forwarded object in nursery"))
			return
		}
		switch isPinned := m.IsPinned(obj); {
		case pinned && !isPinned:
			p.report(p.objectViolation(UnpinnedInNursery, obj, "nursery object is not pinned"))
		case !pinned && isPinned:
			p.report(p.objectViolation(PinnedInNursery, obj, "nursery object is pinned"))
		}
	})
	return p.finish()
}

func (p *pass) verifyScanStarts(starts []heap.Addr, start, end heap.Addr) {
	for i, s := range starts {
		if s > start && s < end {
			p.report(p.objectViolation(ScanStartInsideObject, start,
				fmt.Sprintf("scan start %d at %s inside object [%s %s)", i, s, start, end)))
		}
	}
}

// walkNursery visits every nursery object. An object running past the
// nursery end ends the walk and is reported as a bad header.
func (p *pass) walkNursery(visit object.AreaVisitor) {
	n := p.v.heap.Nursery
	err := p.v.heap.Model.WalkArea(n.Start(), n.End(), n.CanariesEnabled(), visit)
	var overrun *object.OverrunError
	if errors.As(err, &overrun) {
		p.report(p.objectViolation(BadHeader, overrun.Object,
			fmt.Sprintf("object of size %#x extends past nursery end %s", overrun.Size, overrun.End)))
	}
}
