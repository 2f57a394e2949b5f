// ABOUTME: Bit-packed encoding of descriptors into a single machine word
// ABOUTME: Encode validates that every payload fits its field; Decode never fails

package descr

import (
	"github.com/sirkon/errors"

	"github.com/prateek/heapcheck/heap"
)

// ErrDoesNotFit is returned when a descriptor payload exceeds its bit field
const ErrDoesNotFit errors.Const = "descriptor payload does not fit in a word"

const (
	kindBits = 3
	kindMask = 1<<kindBits - 1

	sizeShift = kindBits
	sizeBits  = 16

	payloadShift = sizeShift + sizeBits

	rlSkipBits     = 8
	rlBitmapShift  = payloadShift + rlSkipBits
	rlBitmapBits   = 64 - rlBitmapShift
	bmBitmapBits   = 64 - payloadShift
	handleBits     = 64 - payloadShift
	vecKindBits    = 2
	vecBitmapShift = payloadShift + vecKindBits
	vecBitmapBits  = 64 - vecBitmapShift
)

// MaxSize is the largest instance or element size a descriptor can carry
const MaxSize = 1<<sizeBits - 1

func fits(v uint64, width uint) bool {
	return width >= 64 || v>>width == 0
}

func mask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return 1<<width - 1
}

// Encode packs d into a descriptor word
func (d Descriptor) Encode() (uint64, error) {
	if d.Kind == KindInvalid || d.Kind > KindComplexPtrFree {
		return 0, errors.Newf("cannot encode descriptor kind %d", d.Kind)
	}
	if !fits(d.Size, sizeBits) {
		return 0, errors.Wrap(ErrDoesNotFit, "encode size").Uint64("size", d.Size)
	}

	w := uint64(d.Kind) | d.Size<<sizeShift
	switch d.Kind {
	case KindRunLength:
		if !fits(d.Bitmap, rlBitmapBits) {
			return 0, errors.Wrap(ErrDoesNotFit, "encode run-length bitmap").Uint64("bitmap", d.Bitmap)
		}
		w |= uint64(d.Skip)<<payloadShift | d.Bitmap<<rlBitmapShift
	case KindBitmap:
		if !fits(d.Bitmap, bmBitmapBits) {
			return 0, errors.Wrap(ErrDoesNotFit, "encode inline bitmap").Uint64("bitmap", d.Bitmap)
		}
		w |= d.Bitmap << payloadShift
	case KindComplex, KindComplexArray:
		if d.Handle == 0 || !fits(uint64(d.Handle), handleBits) {
			return 0, errors.Wrap(ErrDoesNotFit, "encode bitmap handle").Uint64("handle", uint64(d.Handle))
		}
		w |= uint64(d.Handle) << payloadShift
	case KindVector:
		if d.Vector > VectorBitmap {
			return 0, errors.Newf("unknown vector kind %d", d.Vector)
		}
		if d.Vector == VectorRefs && d.Size != heap.WordSize {
			return 0, errors.New("reference vectors must have word-sized elements").Uint64("elem-size", d.Size)
		}
		if !fits(d.Bitmap, vecBitmapBits) {
			return 0, errors.Wrap(ErrDoesNotFit, "encode element bitmap").Uint64("bitmap", d.Bitmap)
		}
		w |= uint64(d.Vector)<<payloadShift | d.Bitmap<<vecBitmapShift
	}
	return w, nil
}

// MustEncode is Encode for descriptors built from constants
func MustEncode(d Descriptor) uint64 {
	w, err := d.Encode()
	if err != nil {
		panic(errors.Wrap(err, "encode descriptor"))
	}
	return w
}

// Decode unpacks a descriptor word
func Decode(w uint64) Descriptor {
	d := Descriptor{
		Kind: Kind(w & kindMask),
		Size: w >> sizeShift & mask(sizeBits),
	}
	switch d.Kind {
	case KindRunLength:
		d.Skip = uint8(w >> payloadShift & mask(rlSkipBits))
		d.Bitmap = w >> rlBitmapShift & mask(rlBitmapBits)
	case KindBitmap:
		d.Bitmap = w >> payloadShift & mask(bmBitmapBits)
	case KindComplex, KindComplexArray:
		d.Handle = Handle(w >> payloadShift & mask(handleBits))
	case KindVector:
		d.Vector = VectorKind(w >> payloadShift & mask(vecKindBits))
		d.Bitmap = w >> vecBitmapShift & mask(vecBitmapBits)
	}
	return d
}
