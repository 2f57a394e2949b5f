// ABOUTME: Object header word decoding
// ABOUTME: The header holds a vtable address plus forwarded and pinned tag bits

package heap

const (
	// ForwardedBit marks a header whose pointer part is a forwarding address
	ForwardedBit = 1
	// PinnedBit marks an object that must not move during the current cycle
	PinnedBit = 2

	headerTagMask = ForwardedBit | PinnedBit
)

// Header is the first word of every object
type Header uint64

// LoadHeader reads the header of the object at obj
func LoadHeader(m Memory, obj Addr) Header {
	return Header(m.Load(obj))
}

// MakeHeader builds a header pointing at the given vtable
func MakeHeader(vtable Addr) Header {
	return Header(uint64(vtable) &^ headerTagMask)
}

// ForwardingHeader builds the header of an object relocated to dst
func ForwardingHeader(dst Addr) Header {
	return Header(uint64(dst)&^headerTagMask | ForwardedBit)
}

// Pointer returns the header with its tag bits cleared
func (h Header) Pointer() Addr {
	return Addr(uint64(h) &^ headerTagMask)
}

// VTable returns the vtable address, or zero for a forwarded header
func (h Header) VTable() Addr {
	if h.IsForwarded() {
		return 0
	}
	return h.Pointer()
}

// IsForwarded reports whether the header holds a forwarding address
func (h Header) IsForwarded() bool {
	return h&ForwardedBit != 0
}

// Forwarded returns the forwarding address, if any
func (h Header) Forwarded() (Addr, bool) {
	if !h.IsForwarded() {
		return 0, false
	}
	return h.Pointer(), true
}

// IsPinned reports whether the pinned bit is set
func (h Header) IsPinned() bool {
	return h&PinnedBit != 0
}

// WithPinned returns the header with the pinned bit set or cleared
func (h Header) WithPinned(pinned bool) Header {
	if pinned {
		return h | PinnedBit
	}
	return h &^ PinnedBit
}
