// ABOUTME: Locates every heap, root, stack and register slot holding an address
// ABOUTME: Precise mode follows descriptors; conservative mode compares raw words

package verify

import (
	"github.com/sirkon/errors"
	"github.com/sirupsen/logrus"

	"github.com/prateek/heapcheck/descr"
	"github.com/prateek/heapcheck/heap"
)

// LocationKind says where a located reference lives
type LocationKind uint8

const (
	InObject LocationKind = iota
	InRoot
	InPinnedRoot
	OnStack
	InRegister
)

func (k LocationKind) String() string {
	switch k {
	case InObject:
		return "object"
	case InRoot:
		return "root"
	case InPinnedRoot:
		return "pinned root"
	case OnStack:
		return "stack"
	case InRegister:
		return "register"
	default:
		return "unknown"
	}
}

// Reference is one location holding the searched-for address
type Reference struct {
	Kind LocationKind
	// Slot is the address of the word holding the reference; unset for registers
	Slot heap.Addr
	// Object and Offset locate the slot inside a heap object
	Object heap.Addr
	Class  string
	Offset uint64
	// Root is the start of the root range holding the slot
	Root     heap.Addr
	RootType RootType
	Thread   uint64
	Register int
	// Possible marks hits found by raw word comparison rather than by
	// descriptor
	Possible bool
}

func (r Reference) fields() logrus.Fields {
	f := logrus.Fields{"location": r.Kind.String(), "possible": r.Possible}
	switch r.Kind {
	case InObject:
		f["object"] = r.Object.String()
		f["class"] = r.Class
		f["offset"] = r.Offset
	case InRoot, InPinnedRoot:
		f["root"] = r.Root.String()
		f["root-type"] = r.RootType.String()
		f["slot"] = r.Slot.String()
	case OnStack:
		f["thread"] = r.Thread
		f["slot"] = r.Slot.String()
	case InRegister:
		f["thread"] = r.Thread
		f["register"] = r.Register
	}
	return f
}

// ScanForSpecificRef finds every location holding key: slots of nursery,
// major and LOS objects, normal and write-barrier roots, pinned roots and
// the stacks and registers of live threads. With precise unset objects are
// searched word by word, for diagnosing descriptor bugs.
func (v *Verifier) ScanForSpecificRef(key heap.Addr, precise bool) ([]Reference, error) {
	p := v.begin("locate")
	defer p.end()
	refs, err := p.scanForSpecificRef(key, precise)
	for _, r := range refs {
		p.log.WithFields(r.fields()).WithField("key", key.String()).Info("found reference")
	}
	return refs, err
}

func (p *pass) scanForSpecificRef(key heap.Addr, precise bool) ([]Reference, error) {
	h := p.v.heap
	m := h.Model
	var refs []Reference
	var scanErr error
	fail := func(err error) {
		if scanErr == nil {
			scanErr = err
		}
	}

	scanObject := func(obj heap.Addr, _ uint64) {
		if dst, fwd := m.Forwarded(obj); fwd {
			obj = dst
		}
		class := ""
		if c := m.SafeClass(obj); c != nil {
			class = c.FullName()
		}

		if precise {
			err := m.Scanner.Scan(obj, m.SafeDescriptor(obj), func(slot, _ heap.Addr) {
				if heap.Addr(m.Mem.Load(slot)) == key {
					refs = append(refs, Reference{Kind: InObject, Slot: slot, Object: obj, Class: class, Offset: slot.Sub(obj)})
				}
			})
			if err != nil {
				fail(errors.Wrap(err, "scan object").Str("object", obj.String()))
			}
			return
		}
		size := m.Size(obj)
		if _, end, ok := m.Extent(obj); ok && size > end.Sub(obj) {
			size = end.Sub(obj)
		}
		for off := uint64(0); off+heap.WordSize <= size; off += heap.WordSize {
			slot := obj.Add(off)
			if heap.Addr(m.Mem.Load(slot)) == key {
				refs = append(refs, Reference{Kind: InObject, Slot: slot, Object: obj, Class: class, Offset: off, Possible: true})
			}
		}
	}

	if err := m.WalkArea(h.Nursery.Start(), h.Nursery.End(), h.Nursery.CanariesEnabled(), scanObject); err != nil {
		fail(errors.Wrap(err, "walk nursery"))
	}
	h.Major.IterateObjects(IterateSweepAll, scanObject)
	h.LOS.IterateObjects(scanObject)

	for _, t := range []RootType{RootNormal, RootWBarrier} {
		h.Roots.ForEachRoot(t, func(r *RootRecord) {
			if r.Desc.Kind == descr.RootConservative {
				refs = append(refs, p.rawRootRefs(r, InRoot, key)...)
				return
			}
			err := m.Scanner.ScanRoot(r.Start, r.Desc, func(slot heap.Addr) {
				if heap.Addr(m.Mem.Load(slot)) == key {
					refs = append(refs, Reference{Kind: InRoot, Slot: slot, Root: r.Start, RootType: r.Type})
				}
			})
			if err != nil {
				fail(errors.Wrap(err, "scan root").Str("root", r.Start.String()))
			}
		})
	}
	h.Roots.ForEachRoot(RootPinned, func(r *RootRecord) {
		refs = append(refs, p.rawRootRefs(r, InPinnedRoot, key)...)
	})

	h.Threads.ForEachThread(func(t *Thread) {
		refs = append(refs, p.threadRefs(t, key, key.Add(1))...)
	})
	return refs, scanErr
}

// rawRootRefs compares every word of a root range with key
func (p *pass) rawRootRefs(r *RootRecord, kind LocationKind, key heap.Addr) []Reference {
	mem := p.v.heap.Model.Mem
	var refs []Reference
	for slot := r.Start; slot < r.End; slot = slot.Add(heap.WordSize) {
		if heap.Addr(mem.Load(slot)) == key {
			refs = append(refs, Reference{Kind: kind, Slot: slot, Root: r.Start, RootType: r.Type, Possible: r.Desc.Kind == descr.RootConservative})
		}
	}
	return refs
}

// threadRefs finds stack words and saved registers of t inside [lo, hi)
func (p *pass) threadRefs(t *Thread, lo, hi heap.Addr) []Reference {
	if t.Skip {
		return nil
	}
	mem := p.v.heap.Model.Mem
	var refs []Reference
	for slot := t.StackStart; slot < t.StackEnd; slot = slot.Add(heap.WordSize) {
		if w := heap.Addr(mem.Load(slot)); w >= lo && w < hi {
			refs = append(refs, Reference{Kind: OnStack, Slot: slot, Thread: t.ID, Possible: true})
		}
	}
	for i, reg := range t.Regs {
		if w := heap.Addr(reg); w >= lo && w < hi {
			refs = append(refs, Reference{Kind: InRegister, Thread: t.ID, Register: i, Possible: true})
		}
	}
	return refs
}

// FindPinningReference finds the conservative locations that may pin the
// object [obj, obj+size): conservative normal roots, thread stacks and
// saved registers holding any address inside it
func (v *Verifier) FindPinningReference(obj heap.Addr, size uint64) []Reference {
	p := v.begin("pinning-ref")
	defer p.end()
	h := v.heap
	end := obj.Add(size)
	var refs []Reference

	h.Roots.ForEachRoot(RootNormal, func(r *RootRecord) {
		if r.Desc.Kind != descr.RootConservative {
			return
		}
		for slot := r.Start; slot < r.End; slot = slot.Add(heap.WordSize) {
			if w := heap.Addr(h.Model.Mem.Load(slot)); w >= obj && w < end {
				refs = append(refs, Reference{Kind: InRoot, Slot: slot, Root: r.Start, RootType: r.Type, Possible: true})
			}
		}
	})
	h.Threads.ForEachThread(func(t *Thread) {
		refs = append(refs, p.threadRefs(t, obj, end)...)
	})

	for _, r := range refs {
		p.log.WithFields(r.fields()).WithField("object", obj.String()).Info("pinning reference")
	}
	return refs
}

// FindObjectForPtr returns the start of the object whose extent holds ptr,
// searching the nursery, then the LOS, then the major heap
func (v *Verifier) FindObjectForPtr(ptr heap.Addr) (heap.Addr, bool) {
	h := v.heap
	var found heap.Addr
	ok := false
	match := func(obj heap.Addr, size uint64) {
		if !ok && ptr >= obj && ptr < obj.Add(size) {
			found, ok = obj, true
		}
	}

	if h.Nursery.Contains(ptr) {
		err := h.Model.WalkArea(h.Nursery.Start(), h.Nursery.End(), h.Nursery.CanariesEnabled(), match)
		if err != nil {
			v.log.WithError(err).WithField("pointer", ptr.String()).Warn("nursery walk stopped early")
		}
		if ok {
			return found, true
		}
	}
	h.LOS.IterateObjects(match)
	if ok {
		return found, true
	}
	h.Major.IterateObjects(IterateSweepAll, match)
	return found, ok
}
