// ABOUTME: Single dispatch over descriptor kinds enumerating pointer slots
// ABOUTME: Every checker supplies its own Visitor; traversal order is ascending

package descr

import (
	"math"
	"math/bits"

	"github.com/sirkon/errors"

	"github.com/prateek/heapcheck/heap"
)

const (
	// ErrUnknownHandle is returned when a complex descriptor names a missing bitmap
	ErrUnknownHandle errors.Const = "complex descriptor handle is not registered"
	// ErrArrayOverflow is returned when an array's length word puts its
	// elements past the end of mapped memory
	ErrArrayOverflow errors.Const = "array extends past mapped memory"
)

// SizeOverflow is what ObjectSize reports for an array whose length word
// makes its size unrepresentable. It is already aligned.
const SizeOverflow = math.MaxUint64 &^ (heap.AllocAlign - 1)

// Visitor is called once per pointer-valued slot with the slot address and
// the start of the object that owns it
type Visitor func(slot, obj heap.Addr)

// Scanner enumerates pointer slots of objects living in Mem
type Scanner struct {
	Mem     heap.Memory
	Bitmaps *BitmapTable
}

// NewScanner creates a scanner over mem resolving complex handles in bitmaps
func NewScanner(mem heap.Memory, bitmaps *BitmapTable) *Scanner {
	return &Scanner{Mem: mem, Bitmaps: bitmaps}
}

// ObjectSize returns the size in bytes of the object at obj described by d,
// or SizeOverflow for an array whose size does not fit in a word
func (s *Scanner) ObjectSize(obj heap.Addr, d Descriptor) uint64 {
	if !d.IsArray() {
		return d.Size
	}
	size, ok := ArraySize(s.ArrayLength(obj), d.Size)
	if !ok {
		return SizeOverflow
	}
	return size
}

// ArraySize returns the byte size of an array of length elements of
// elemSize bytes. ok is false when the aligned size does not fit in a word.
func ArraySize(length, elemSize uint64) (size uint64, ok bool) {
	hi, data := bits.Mul64(length, elemSize)
	if hi != 0 {
		return 0, false
	}
	size, carry := bits.Add64(data, ArrayDataOffset, 0)
	if carry != 0 || size > SizeOverflow {
		return 0, false
	}
	return size, true
}

// ArrayLength returns the element count of the array at obj
func (s *Scanner) ArrayLength(obj heap.Addr) uint64 {
	return s.Mem.Load(obj.Add(ArrayLengthOffset))
}

// Scan visits every pointer slot of the object at obj described by d
func (s *Scanner) Scan(obj heap.Addr, d Descriptor, visit Visitor) error {
	fields := obj.Add(HeaderWords * heap.WordSize)

	switch d.Kind {
	case KindRunLength:
		scanBits(fields.Add(uint64(d.Skip)*heap.WordSize), obj, d.Bitmap, visit)
	case KindBitmap:
		scanBits(fields, obj, d.Bitmap, visit)
	case KindSmallPtrFree, KindComplexPtrFree:
	case KindComplex:
		bitmaps, err := s.bitmaps(d.Handle)
		if err != nil {
			return errors.Wrap(err, "scan complex object").Str("object", obj.String())
		}
		scanRuns(fields, obj, bitmaps, visit)
	case KindVector:
		if d.Vector == VectorPtrFree {
			return nil
		}
		n, err := s.elements(obj, d)
		if err != nil {
			return err
		}
		elem := obj.Add(ArrayDataOffset)
		for i := uint64(0); i < n; i++ {
			if d.Vector == VectorRefs {
				visit(elem, obj)
			} else {
				scanBits(elem, obj, d.Bitmap, visit)
			}
			elem = elem.Add(d.Size)
		}
	case KindComplexArray:
		bitmaps, err := s.bitmaps(d.Handle)
		if err != nil {
			return errors.Wrap(err, "scan complex array").Str("object", obj.String())
		}
		n, err := s.elements(obj, d)
		if err != nil {
			return err
		}
		elem := obj.Add(ArrayDataOffset)
		for i := uint64(0); i < n; i++ {
			scanRuns(elem, obj, bitmaps, visit)
			elem = elem.Add(d.Size)
		}
	default:
		return errors.Newf("invalid descriptor kind %d", d.Kind).Str("object", obj.String())
	}
	return nil
}

// elements returns the element count of the array at obj after checking
// that every element lies inside the mapped run holding obj
func (s *Scanner) elements(obj heap.Addr, d Descriptor) (uint64, error) {
	n := s.ArrayLength(obj)
	if n == 0 {
		return 0, nil
	}
	if d.Size == 0 {
		return 0, errors.Newf("array of %d zero-sized elements", n).Str("object", obj.String())
	}
	size, ok := ArraySize(n, d.Size)
	if !ok {
		return 0, errors.Wrap(ErrArrayOverflow, "array size overflows").
			Str("object", obj.String()).
			Uint64("length", n)
	}
	if ext, ok := s.Mem.(heap.Extent); ok {
		_, end, mapped := ext.Extent(obj)
		if !mapped || size > end.Sub(obj) {
			return 0, errors.Wrap(ErrArrayOverflow, "array elements").
				Str("object", obj.String()).
				Uint64("length", n).
				Uint64("size", size)
		}
	}
	return n, nil
}

func (s *Scanner) bitmaps(h Handle) ([]uint64, error) {
	if s.Bitmaps == nil {
		return nil, errors.Wrap(ErrUnknownHandle, "no bitmap table").Uint64("handle", uint64(h))
	}
	b, ok := s.Bitmaps.Lookup(h)
	if !ok {
		return nil, errors.Wrap(ErrUnknownHandle, "lookup bitmap").Uint64("handle", uint64(h))
	}
	return b, nil
}

// scanBits visits base+i words for every set bit i, lowest first
func scanBits(base, obj heap.Addr, bitmap uint64, visit Visitor) {
	for bitmap != 0 {
		i := bits.TrailingZeros64(bitmap)
		visit(base.Add(uint64(i)*heap.WordSize), obj)
		bitmap &= bitmap - 1
	}
}

// scanRuns applies consecutive 64-word bitmaps starting at base
func scanRuns(base, obj heap.Addr, bitmaps []uint64, visit Visitor) {
	for _, b := range bitmaps {
		scanBits(base, obj, b, visit)
		base = base.Add(64 * heap.WordSize)
	}
}
