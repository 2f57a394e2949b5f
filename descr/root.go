// ABOUTME: Root-range descriptors and their scanning
// ABOUTME: Roots use the bitmap and complex kinds plus an owner-supplied marker

package descr

import (
	"github.com/sirkon/errors"

	"github.com/prateek/heapcheck/heap"
)

// ErrUnsupportedRootDescriptor is returned for root descriptor kinds that
// cannot describe a root range
const ErrUnsupportedRootDescriptor errors.Const = "unsupported root descriptor"

// RootKind selects how a root range is decoded
type RootKind uint8

const (
	// RootConservative roots carry no layout; every word may be a pointer
	RootConservative RootKind = iota
	RootBitmap
	RootComplex
	RootUser
	// RootRunLength exists in the descriptor encoding but is never valid for roots
	RootRunLength
)

func (k RootKind) String() string {
	switch k {
	case RootConservative:
		return "conservative"
	case RootBitmap:
		return "bitmap"
	case RootComplex:
		return "complex"
	case RootUser:
		return "user"
	case RootRunLength:
		return "run length"
	default:
		return "invalid"
	}
}

// UserMarker is registered by a root owner. It must call report once for
// every pointer slot it owns in the root range starting at start.
type UserMarker func(start heap.Addr, report func(slot heap.Addr))

// RootDescriptor describes the pointer slots of a registered root range
type RootDescriptor struct {
	Kind   RootKind
	Bitmap uint64
	Handle Handle
	Marker UserMarker
}

// Precise reports whether the descriptor carries layout information
func (d RootDescriptor) Precise() bool {
	return d.Kind != RootConservative
}

// ScanRoot visits every pointer slot of the root range starting at start
func (s *Scanner) ScanRoot(start heap.Addr, d RootDescriptor, visit func(slot heap.Addr)) error {
	forward := func(slot, _ heap.Addr) { visit(slot) }

	switch d.Kind {
	case RootBitmap:
		scanBits(start, start, d.Bitmap, forward)
	case RootComplex:
		bitmaps, err := s.bitmaps(d.Handle)
		if err != nil {
			return errors.Wrap(err, "scan complex root").Str("root", start.String())
		}
		scanRuns(start, start, bitmaps, forward)
	case RootUser:
		if d.Marker == nil {
			return errors.New("user root descriptor without marker").Str("root", start.String())
		}
		d.Marker(start, visit)
	default:
		return errors.Wrap(ErrUnsupportedRootDescriptor, "scan root").
			Str("root", start.String()).
			Str("kind", d.Kind.String())
	}
	return nil
}
