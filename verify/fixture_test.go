// ABOUTME: Shared fixture for verifier tests over a simulated heap
// ABOUTME: Captures log entries and aborted passes instead of exiting

package verify_test

import (
	"testing"

	"github.com/sirkon/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/prateek/heapcheck/descr"
	"github.com/prateek/heapcheck/heap"
	"github.com/prateek/heapcheck/object"
	"github.com/prateek/heapcheck/simheap"
	"github.com/prateek/heapcheck/verify"
)

var (
	nodeClass = &object.Class{
		Namespace: "App",
		Name:      "Node",
		Desc:      descr.Bitmap(24, 0b11),
		Fields:    []object.Field{{Name: "next", Offset: 8}, {Name: "prev", Offset: 16}},
	}
	leafClass = &object.Class{
		Namespace: "App",
		Name:      "Leaf",
		Desc:      descr.SmallPtrFree(16),
	}
	arrayClass = &object.Class{
		Namespace: "System",
		Name:      "Object[]",
		Desc:      descr.Vector(heap.WordSize, descr.VectorRefs, 0),
	}
	fillClass = &object.Class{
		Namespace: "System",
		Name:      "ArrayFill",
		Desc:      descr.ComplexPtrFree(1),
		ArrayFill: true,
	}
)

// largeLength makes an Object[] big enough for the large-object space
const largeLength = 1100

type env struct {
	t       *testing.T
	h       *simheap.Heap
	hook    *test.Hook
	aborted []*verify.Failure
	v       *verify.Verifier
}

func newEnv(t *testing.T, configure func(cfg *simheap.Config), opts ...verify.Option) *env {
	t.Helper()
	cfg := simheap.DefaultConfig()
	if configure != nil {
		configure(&cfg)
	}
	h, err := simheap.New(cfg)
	require.NoError(t, err)

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	e := &env{t: t, h: h, hook: hook}
	opts = append([]verify.Option{
		verify.WithLogger(log),
		verify.WithAbort(func(f *verify.Failure) { e.aborted = append(e.aborted, f) }),
	}, opts...)
	e.v = verify.New(h.Collaborators(), opts...)
	return e
}

func (e *env) alloc(space simheap.SpaceKind, c *object.Class, length uint64) heap.Addr {
	e.t.Helper()
	obj, err := e.h.Alloc(space, c, length)
	require.NoError(e.t, err)
	return obj
}

func (e *env) write(obj heap.Addr, offset uint64, target heap.Addr) {
	e.t.Helper()
	require.NoError(e.t, e.h.WriteRef(obj, offset, target))
}

func (e *env) set(obj heap.Addr, offset uint64, target heap.Addr) {
	e.t.Helper()
	require.NoError(e.t, e.h.SetRef(obj, offset, target))
}

func (e *env) mark(objs ...heap.Addr) {
	e.t.Helper()
	for _, obj := range objs {
		require.NoError(e.t, e.h.Mark(obj))
	}
}

// failure asserts err is a failed pass and returns it
func (e *env) failure(err error) *verify.Failure {
	e.t.Helper()
	require.Error(e.t, err)
	require.True(e.t, errors.Is(err, verify.ErrStructuralViolation), "unexpected error %v", err)
	var f *verify.Failure
	require.True(e.t, errors.As(err, &f))
	require.Len(e.t, e.aborted, 1, "failed pass must abort once")
	e.aborted = nil
	return f
}

// entries returns logged entries with the given message
func (e *env) entries(msg string) []*logrus.Entry {
	var out []*logrus.Entry
	for _, entry := range e.hook.AllEntries() {
		if entry.Message == msg {
			out = append(out, entry)
		}
	}
	return out
}

// populated builds a consistent heap: nursery, major and LOS objects
// linked through the write barrier, all old objects marked
type populated struct {
	young1, young2 heap.Addr
	old1, old2     heap.Addr
	pinnedChunk    heap.Addr
	large          heap.Addr
	leaf           heap.Addr
}

func (e *env) populate() populated {
	e.t.Helper()
	p := populated{
		young1:      e.alloc(simheap.SpaceNursery, nodeClass, 0),
		young2:      e.alloc(simheap.SpaceNursery, nodeClass, 0),
		leaf:        e.alloc(simheap.SpaceNursery, leafClass, 0),
		old1:        e.alloc(simheap.SpaceMajor, nodeClass, 0),
		old2:        e.alloc(simheap.SpaceMajor, nodeClass, 0),
		pinnedChunk: e.alloc(simheap.SpacePinnedChunk, nodeClass, 0),
		large:       e.alloc(simheap.SpaceLOS, arrayClass, largeLength),
	}
	e.write(p.young1, 8, p.young2)
	e.write(p.young2, 8, p.old1)
	e.write(p.young2, 16, p.leaf)
	e.write(p.old1, 8, p.young1)
	e.write(p.old1, 16, p.old2)
	e.write(p.old2, 8, p.large)
	e.write(p.old2, 16, p.pinnedChunk)
	e.write(p.large, descr.ArrayDataOffset, p.young2)
	e.write(p.large, descr.ArrayDataOffset+8, p.old1)
	e.mark(p.old1, p.old2, p.pinnedChunk, p.large)
	return p
}
