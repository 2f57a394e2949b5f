// ABOUTME: Forward walks over bump-allocated areas and guard canaries
// ABOUTME: Zero words are unused capacity; any other word starts an object

package object

import (
	"encoding/binary"
	"fmt"

	"github.com/sirkon/errors"

	"github.com/prateek/heapcheck/heap"
)

// ErrPastEnd is matched by walk errors about an object running past its area
const ErrPastEnd errors.Const = "object extends past area end"

// CanarySize is the number of guard bytes placed after a guarded object
const CanarySize = heap.WordSize

// Canary is the sentinel word written right after a guarded object's payload
var Canary = binary.LittleEndian.Uint64([]byte("sentinel"))

// OverrunError stops a walk at an object whose footprint does not fit
// between its start and the end of the area
type OverrunError struct {
	Object heap.Addr
	Size   uint64
	End    heap.Addr
}

func (e *OverrunError) Error() string {
	return fmt.Sprintf("%s: object %s of size %#x, area ends at %s", ErrPastEnd, e.Object, e.Size, e.End)
}

// Is makes overruns match ErrPastEnd
func (e *OverrunError) Is(target error) bool {
	return target == error(ErrPastEnd)
}

// AreaVisitor receives each object found by a forward walk with its aligned size
type AreaVisitor func(obj heap.Addr, size uint64)

// WalkArea visits every object in [start, end). When guarded is set, each
// object other than array fillers is followed by a canary word that is
// skipped over but not checked. The walk stops with an *OverrunError at the
// first object that does not fit in the area; that object is not visited.
func (m *Model) WalkArea(start, end heap.Addr, guarded bool, visit AreaVisitor) error {
	cur := start
	for cur < end {
		if m.Mem.Load(cur) == 0 {
			cur = cur.Add(heap.WordSize)
			continue
		}

		size := heap.AlignUp(m.Size(cur))
		left := end.Sub(cur)
		if size > left || m.Footprint(cur, size, guarded) > left {
			return &OverrunError{Object: cur, Size: size, End: end}
		}
		visit(cur, size)
		cur = cur.Add(m.Footprint(cur, size, guarded))
	}
	return nil
}

// Footprint returns the bytes an object of aligned size occupies in a walk
func (m *Model) Footprint(obj heap.Addr, size uint64, guarded bool) uint64 {
	if guarded && !m.IsArrayFill(obj) {
		return size + CanarySize
	}
	return size
}

// CanaryAt returns the address of the guard word of an object with aligned size
func CanaryAt(obj heap.Addr, size uint64) heap.Addr {
	return obj.Add(size)
}

// CanaryIntact reports whether the guard word after obj is unmodified
func (m *Model) CanaryIntact(obj heap.Addr, size uint64) bool {
	return m.Mem.Load(CanaryAt(obj, size)) == Canary
}
