// ABOUTME: Tagged-variant type descriptors for precise pointer discovery
// ABOUTME: One machine word per type selects a layout kind and its payload

// Package descr decodes compact type descriptors and enumerates the
// pointer-valued slots of objects and root ranges.
package descr

import "fmt"

// Kind selects how a descriptor's payload is interpreted
type Kind uint8

const (
	KindInvalid Kind = iota
	KindRunLength
	KindBitmap
	KindSmallPtrFree
	KindComplex
	KindVector
	KindComplexArray
	KindComplexPtrFree
)

var kindNames = [...]string{
	"INVALID",
	"run length",
	"bitmap",
	"small pointer-free",
	"complex",
	"vector",
	"complex array",
	"complex pointer-free",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// VectorKind describes the elements of a vector
type VectorKind uint8

const (
	VectorPtrFree VectorKind = iota
	VectorRefs
	VectorBitmap
)

func (k VectorKind) String() string {
	switch k {
	case VectorPtrFree:
		return "pointer-free"
	case VectorRefs:
		return "refs"
	case VectorBitmap:
		return "bitmap"
	default:
		return fmt.Sprintf("vector(%d)", uint8(k))
	}
}

// Handle addresses an entry of a BitmapTable. The zero handle is never valid.
type Handle uint64

// Layout constants shared by objects and arrays
const (
	// HeaderWords is the number of words preceding an object's first field
	HeaderWords = 1
	// ArrayLengthOffset is the byte offset of an array's element count
	ArrayLengthOffset = 8
	// ArrayDataOffset is the byte offset of an array's first element
	ArrayDataOffset = 16
)

// Descriptor is the decoded form of a type descriptor word.
//
// Size is the instance size in bytes for fixed-size kinds and the element
// size for the array kinds (vector, complex array, complex pointer-free).
// Skip and Bitmap belong to the run-length and bitmap kinds, Vector and
// Bitmap to the vector kind, Handle to the complex kinds.
type Descriptor struct {
	Kind   Kind
	Size   uint64
	Skip   uint8
	Bitmap uint64
	Vector VectorKind
	Handle Handle
}

// RunLength describes an object with skip leading non-pointer words followed
// by fields laid out according to bitmap
func RunLength(size uint64, skip uint8, bitmap uint64) Descriptor {
	return Descriptor{Kind: KindRunLength, Size: size, Skip: skip, Bitmap: bitmap}
}

// Bitmap describes an object whose fields are pointers per inline bitmap bit
func Bitmap(size uint64, bitmap uint64) Descriptor {
	return Descriptor{Kind: KindBitmap, Size: size, Bitmap: bitmap}
}

// SmallPtrFree describes a fixed-size object without pointers
func SmallPtrFree(size uint64) Descriptor {
	return Descriptor{Kind: KindSmallPtrFree, Size: size}
}

// Complex describes a fixed-size object whose bitmap lives out of line
func Complex(size uint64, h Handle) Descriptor {
	return Descriptor{Kind: KindComplex, Size: size, Handle: h}
}

// Vector describes an array of elemSize-byte elements
func Vector(elemSize uint64, vk VectorKind, elemBitmap uint64) Descriptor {
	return Descriptor{Kind: KindVector, Size: elemSize, Vector: vk, Bitmap: elemBitmap}
}

// ComplexArray describes an array whose element bitmap lives out of line
func ComplexArray(elemSize uint64, h Handle) Descriptor {
	return Descriptor{Kind: KindComplexArray, Size: elemSize, Handle: h}
}

// ComplexPtrFree describes a variable-length object without pointers
func ComplexPtrFree(elemSize uint64) Descriptor {
	return Descriptor{Kind: KindComplexPtrFree, Size: elemSize}
}

// IsArray reports whether instances carry an element count and variable size
func (d Descriptor) IsArray() bool {
	switch d.Kind {
	case KindVector, KindComplexArray, KindComplexPtrFree:
		return true
	}
	return false
}

// PointerFree reports whether scanning can never visit a slot
func (d Descriptor) PointerFree() bool {
	switch d.Kind {
	case KindSmallPtrFree, KindComplexPtrFree:
		return true
	case KindRunLength, KindBitmap:
		return d.Bitmap == 0
	case KindVector:
		return d.Vector == VectorPtrFree || (d.Vector == VectorBitmap && d.Bitmap == 0)
	}
	return false
}

func (d Descriptor) String() string {
	switch d.Kind {
	case KindRunLength:
		return fmt.Sprintf("%s size=%d skip=%d bitmap=%#x", d.Kind, d.Size, d.Skip, d.Bitmap)
	case KindBitmap:
		return fmt.Sprintf("%s size=%d bitmap=%#x", d.Kind, d.Size, d.Bitmap)
	case KindComplex, KindComplexArray:
		return fmt.Sprintf("%s size=%d handle=%d", d.Kind, d.Size, d.Handle)
	case KindVector:
		return fmt.Sprintf("%s elem=%d %s bitmap=%#x", d.Kind, d.Size, d.Vector, d.Bitmap)
	default:
		return fmt.Sprintf("%s size=%d", d.Kind, d.Size)
	}
}
