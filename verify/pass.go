// ABOUTME: Per-invocation pass context shared by every checker
// ABOUTME: Owns the nursery snapshot, the violation list and the abort decision

package verify

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/prateek/heapcheck/heap"
	"github.com/prateek/heapcheck/snapshot"
)

// pass holds the state of one check invocation. Nothing in it outlives the
// call that created it.
type pass struct {
	v          *Verifier
	check      string
	id         uuid.UUID
	log        logrus.FieldLogger
	violations []*Violation
	nursery    *snapshot.Index
}

func (v *Verifier) begin(check string) *pass {
	id := uuid.New()
	p := &pass{
		v:     v,
		check: check,
		id:    id,
		log: v.log.WithFields(logrus.Fields{
			"check": check,
			"pass":  id.String(),
		}),
	}
	p.log.Debug("begin pass")
	return p
}

// nurseryIndex builds the nursery snapshot on first use
func (p *pass) nurseryIndex() *snapshot.Index {
	if p.nursery == nil {
		n := p.v.heap.Nursery
		p.nursery = snapshot.Build(p.v.heap.Model, n.Start(), n.End(), n.CanariesEnabled())
		if err := p.nursery.Err(); err != nil {
			p.log.WithError(err).Warn("nursery snapshot is incomplete")
		}
		p.log.WithField("objects", p.nursery.Len()).Debug("nursery snapshot built")
	}
	return p.nursery
}

func (p *pass) report(viol *Violation) {
	viol.Check = p.check
	viol.Pass = p.id
	p.violations = append(p.violations, viol)

	fields := logrus.Fields{"kind": viol.Kind.String()}
	if viol.Object != 0 {
		fields["object"] = viol.Object.String()
	}
	if viol.Target != 0 {
		fields["target"] = viol.Target.String()
		fields["offset"] = viol.Offset
	}
	p.log.WithFields(fields).Error(viol.Error())

	if p.v.sink != nil {
		p.v.sink.Record(viol)
	}
}

// slotViolation builds a violation about the reference stored at slot of obj
func (p *pass) slotViolation(kind ViolationKind, obj, slot, target heap.Addr, detail string) *Violation {
	m := p.v.heap.Model
	viol := &Violation{
		Kind:   kind,
		Object: obj,
		Offset: slot.Sub(obj),
		Target: target,
		Detail: detail,
	}
	if c := m.SafeClass(obj); c != nil {
		viol.Class = c.FullName()
		if f, ok := c.FieldAt(viol.Offset); ok {
			viol.Field = f.Name
		}
	}
	if target != 0 {
		if c := m.SafeClass(target); c != nil {
			viol.TargetClass = c.FullName()
		}
	}
	return viol
}

// objectViolation builds a violation about obj itself
func (p *pass) objectViolation(kind ViolationKind, obj heap.Addr, detail string) *Violation {
	viol := &Violation{Kind: kind, Object: obj, Detail: detail}
	if c := p.v.heap.Model.SafeClass(obj); c != nil {
		viol.Class = c.FullName()
	}
	return viol
}

// scan enumerates the slots of obj using its strict descriptor; an object
// whose header cannot be decoded is itself a violation
func (p *pass) scan(obj heap.Addr, visit func(slot, target heap.Addr)) {
	mem := p.v.heap.Model.Mem
	err := p.v.heap.Model.Scan(obj, func(slot, _ heap.Addr) {
		visit(slot, heap.Addr(mem.Load(slot)))
	})
	if err != nil {
		p.report(p.objectViolation(BadHeader, obj, err.Error()))
	}
}

// safeScan is scan through the safe descriptor, following forwarding
func (p *pass) safeScan(obj heap.Addr, visit func(slot, target heap.Addr)) {
	mem := p.v.heap.Model.Mem
	err := p.v.heap.Model.SafeScan(obj, func(slot, _ heap.Addr) {
		visit(slot, heap.Addr(mem.Load(slot)))
	})
	if err != nil {
		p.report(p.objectViolation(BadHeader, obj, err.Error()))
	}
}

// end drops the pass-scoped state. Passes that only answer queries end
// here; checks end through finish.
func (p *pass) end() {
	p.nursery = nil
	p.log.WithField("violations", len(p.violations)).Debug("pass done")
}

// finish ends the pass. Violations only fail the pass when no sink took them.
func (p *pass) finish() error {
	p.end()
	if len(p.violations) == 0 || p.v.sink != nil {
		return nil
	}

	f := &Failure{
		Check:      p.check,
		Pass:       p.id,
		Violations: p.violations,
	}
	p.v.abort(f)
	return f
}
