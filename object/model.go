// ABOUTME: Object accessors shared by every verification pass
// ABOUTME: Strict and safe class, descriptor and size lookups over raw memory

package object

import (
	"github.com/sirkon/errors"

	"github.com/prateek/heapcheck/descr"
	"github.com/prateek/heapcheck/heap"
)

const (
	// ErrNoVTable is returned when a header does not point at a registered vtable
	ErrNoVTable errors.Const = "object header holds no registered vtable"
	// ErrForwarded is returned by strict accessors on forwarded objects
	ErrForwarded errors.Const = "object is forwarded"
)

// maxForwardingHops bounds how far safe accessors follow forwarding chains
const maxForwardingHops = 8

// Model resolves raw words into objects
type Model struct {
	Mem     heap.Memory
	Types   *Registry
	Scanner *descr.Scanner
}

// NewModel creates a model over mem using the given type registry and bitmaps
func NewModel(mem heap.Memory, types *Registry, bitmaps *descr.BitmapTable) *Model {
	return &Model{
		Mem:     mem,
		Types:   types,
		Scanner: descr.NewScanner(mem, bitmaps),
	}
}

// Header returns the header word of obj
func (m *Model) Header(obj heap.Addr) heap.Header {
	return heap.LoadHeader(m.Mem, obj)
}

// IsPinned reports whether obj carries the pinned bit
func (m *Model) IsPinned(obj heap.Addr) bool {
	return m.Header(obj).IsPinned()
}

// Forwarded returns the forwarding address of obj, if it was relocated
func (m *Model) Forwarded(obj heap.Addr) (heap.Addr, bool) {
	return m.Header(obj).Forwarded()
}

// Class returns the class of obj. The header must hold a registered vtable.
func (m *Model) Class(obj heap.Addr) (*Class, error) {
	h := m.Header(obj)
	if h.IsForwarded() {
		return nil, errors.Wrap(ErrForwarded, "load class").Str("object", obj.String())
	}
	c, ok := m.Types.Lookup(h.VTable())
	if !ok {
		return nil, errors.Wrap(ErrNoVTable, "load class").
			Str("object", obj.String()).
			Str("vtable", h.VTable().String())
	}
	return c, nil
}

// SafeClass returns the class of obj following forwarding, or nil when the
// header is not (yet) a valid vtable pointer
func (m *Model) SafeClass(obj heap.Addr) *Class {
	for i := 0; i < maxForwardingHops; i++ {
		h := m.Header(obj)
		dst, fwd := h.Forwarded()
		if !fwd {
			c, _ := m.Types.Lookup(h.VTable())
			return c
		}
		obj = dst
	}
	return nil
}

// Descriptor returns the descriptor of obj
func (m *Model) Descriptor(obj heap.Addr) (descr.Descriptor, error) {
	c, err := m.Class(obj)
	if err != nil {
		return descr.Descriptor{}, err
	}
	return c.Desc, nil
}

// SafeDescriptor returns the descriptor of obj, or a one-word pointer-free
// descriptor when the header cannot be trusted
func (m *Model) SafeDescriptor(obj heap.Addr) descr.Descriptor {
	if c := m.SafeClass(obj); c != nil {
		return c.Desc
	}
	return descr.SmallPtrFree(heap.WordSize)
}

// Size returns the unaligned size of obj in bytes. Forwarded objects take
// their size from the copy; objects with an untrusted header count as one word.
func (m *Model) Size(obj heap.Addr) uint64 {
	target := obj
	for i := 0; i < maxForwardingHops; i++ {
		dst, fwd := m.Forwarded(target)
		if !fwd {
			break
		}
		target = dst
	}
	size := m.Scanner.ObjectSize(target, m.SafeDescriptor(obj))
	if size < heap.WordSize {
		return heap.WordSize
	}
	return size
}

// Scan visits the pointer slots of obj using its strict descriptor
func (m *Model) Scan(obj heap.Addr, visit descr.Visitor) error {
	d, err := m.Descriptor(obj)
	if err != nil {
		return err
	}
	return m.Scanner.Scan(obj, d, visit)
}

// SafeScan visits the pointer slots of obj, following forwarding first
func (m *Model) SafeScan(obj heap.Addr, visit descr.Visitor) error {
	for i := 0; i < maxForwardingHops; i++ {
		dst, fwd := m.Forwarded(obj)
		if !fwd {
			break
		}
		obj = dst
	}
	return m.Scanner.Scan(obj, m.SafeDescriptor(obj), visit)
}

// Extent returns the mapped run holding obj when the memory can report one
func (m *Model) Extent(obj heap.Addr) (start, end heap.Addr, ok bool) {
	if ext, ok := m.Mem.(heap.Extent); ok {
		return ext.Extent(obj)
	}
	return 0, 0, false
}

// IsArrayFill reports whether obj is an allocator filler object
func (m *Model) IsArrayFill(obj heap.Addr) bool {
	c := m.SafeClass(obj)
	return c != nil && c.ArrayFill
}
