// ABOUTME: Isolation-domain leak checks over heap objects and registered roots
// ABOUTME: Cross-domain references are rejected unless an allow rule matches

package verify

import (
	"fmt"

	"github.com/sirkon/errors"

	"github.com/prateek/heapcheck/descr"
	"github.com/prateek/heapcheck/heap"
	"github.com/prateek/heapcheck/object"
)

// AllowRule accepts cross-domain references held by objects of class
// Source. Empty Field, nil Offset and empty Target match anything.
type AllowRule struct {
	Source            string  `json:"source"`
	IncludeSubclasses bool    `json:"include_subclasses,omitempty"`
	Field             string  `json:"field,omitempty"`
	Offset            *uint64 `json:"offset,omitempty"`
	Target            string  `json:"target,omitempty"`
}

// AllowList is the set of known legitimate cross-domain references
type AllowList []AllowRule

// DefaultAllowList returns the runtime's structurally known exceptions
func DefaultAllowList() AllowList {
	return AllowList{
		{Source: "System.Threading.Thread", Field: "internal_thread"},
		{Source: "System.Threading.InternalThread", Field: "current_appcontext"},
		{Source: "System.Runtime.Remoting.Proxies.RealProxy", IncludeSubclasses: true, Field: "unwrapped_server"},
		// cached culture info
		{Source: "System.Object[]", Target: "System.Globalization.CultureInfo"},
		// buffers passed through cross-domain method calls
		{Source: "System.IO.MemoryStream", Target: "System.Byte[]"},
	}
}

// Allows reports whether the reference at offset of an instance of src to
// an instance of dst matches a rule
func (l AllowList) Allows(src *object.Class, offset uint64, dst *object.Class) bool {
	for _, r := range l {
		if r.matches(src, offset, dst) {
			return true
		}
	}
	return false
}

func (r AllowRule) matches(src *object.Class, offset uint64, dst *object.Class) bool {
	if r.IncludeSubclasses {
		if !src.Is(r.Source) {
			return false
		}
	} else if src.FullName() != r.Source {
		return false
	}
	if r.Offset != nil && *r.Offset != offset {
		return false
	}
	if r.Field != "" {
		f, ok := src.FieldAt(offset)
		if !ok || f.Name != r.Field {
			return false
		}
	}
	return r.Target == "" || (dst != nil && dst.FullName() == r.Target)
}

// CheckCrossDomainRefs checks every nursery, major and LOS object for
// references into another isolation domain. Each reported reference
// carries the precise references to its source object.
func (v *Verifier) CheckCrossDomainRefs() error {
	p := v.begin("xdomain")
	h := v.heap
	m := h.Model

	visit := func(obj heap.Addr, _ uint64) {
		src, err := m.Class(obj)
		if err != nil {
			p.report(p.objectViolation(BadHeader, obj, err.Error()))
			return
		}
		p.scan(obj, func(slot, target heap.Addr) {
			if target == 0 {
				return
			}
			dst := m.SafeClass(target)
			if dst == nil || dst.Domain == src.Domain {
				return
			}
			offset := slot.Sub(obj)
			if p.v.allow.Allows(src, offset, dst) {
				return
			}

			viol := p.slotViolation(CrossDomainRef, obj, slot, target,
				fmt.Sprintf("reference from domain %d to domain %d", src.Domain, dst.Domain))
			refs, err := p.scanForSpecificRef(obj, true)
			if err != nil {
				p.log.WithError(err).Warn("tracing references to the source object")
			}
			viol.Referrers = refs
			for _, r := range refs {
				p.log.WithFields(r.fields()).WithField("object", obj.String()).Info("source object pointed to by")
			}
			p.report(viol)
		})
	}

	p.nurseryIndex().ForEach(visit)
	h.Major.IterateObjects(IterateSweepAll, visit)
	for _, lo := range h.LOS.Objects() {
		visit(lo.Start, lo.Size)
	}
	return p.finish()
}

// ScanRootsInDomain checks that no precise slot of a root of type t holds
// an object of domain. Ranges owned by the domain itself are skipped, as
// are conservative ranges, which hold no typed slots. Roots whose
// descriptor cannot be scanned fail with an ordinary error.
func (v *Verifier) ScanRootsInDomain(domain object.DomainID, t RootType) error {
	p := v.begin("root-domain")
	h := v.heap
	m := h.Model

	var scanErr error
	h.Roots.ForEachRoot(t, func(r *RootRecord) {
		if scanErr != nil || (r.Owned && r.Owner == domain) || r.Desc.Kind == descr.RootConservative {
			return
		}
		err := m.Scanner.ScanRoot(r.Start, r.Desc, func(slot heap.Addr) {
			target := heap.Addr(m.Mem.Load(slot))
			if target == 0 {
				return
			}
			if c := m.SafeClass(target); c != nil && c.Domain == domain {
				viol := &Violation{
					Kind:        RootInDomain,
					Target:      target,
					TargetClass: c.FullName(),
					Detail:      fmt.Sprintf("%s root %s slot %s references domain %d", t, r.Start, slot, domain),
				}
				p.report(viol)
			}
		})
		if err != nil {
			scanErr = errors.Wrap(err, "scan root").Str("root", r.Start.String())
		}
	})
	if scanErr != nil {
		return scanErr
	}
	return p.finish()
}
