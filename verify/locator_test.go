// ABOUTME: Tests for the specific-reference locator and pointer lookups
// ABOUTME: Precise and conservative scans over objects, roots, stacks and registers

package verify_test

import (
	"testing"

	"github.com/sirkon/errors"
	"github.com/stretchr/testify/require"

	"github.com/prateek/heapcheck/descr"
	"github.com/prateek/heapcheck/heap"
	"github.com/prateek/heapcheck/object"
	"github.com/prateek/heapcheck/simheap"
	"github.com/prateek/heapcheck/verify"
)

type locatorFixture struct {
	key    heap.Addr
	holder heap.Addr
	leaf   heap.Addr
	root   *verify.RootRecord
	pinned *verify.RootRecord
	thread *verify.Thread
}

func (e *env) locatorFixture() locatorFixture {
	e.t.Helper()
	var f locatorFixture
	f.key = e.alloc(simheap.SpaceNursery, nodeClass, 0)
	f.holder = e.alloc(simheap.SpaceMajor, nodeClass, 0)
	f.leaf = e.alloc(simheap.SpaceMajor, leafClass, 0)
	e.write(f.holder, 16, f.key)
	// pointer-free objects only match conservatively
	e.set(f.leaf, 8, f.key)

	var err error
	f.root, err = e.h.AddRoot(verify.RootNormal, descr.RootDescriptor{Kind: descr.RootBitmap, Bitmap: 0b100}, 4)
	require.NoError(e.t, err)
	require.NoError(e.t, e.h.SetRootSlot(f.root, 2, f.key))
	// not covered by the bitmap
	require.NoError(e.t, e.h.SetRootSlot(f.root, 3, f.key))

	f.pinned, err = e.h.AddRoot(verify.RootPinned, descr.RootDescriptor{}, 2)
	require.NoError(e.t, err)
	require.NoError(e.t, e.h.SetRootSlot(f.pinned, 1, f.key))

	f.thread, err = e.h.AddThread(42, 8, []uint64{0, uint64(f.key), 7})
	require.NoError(e.t, err)
	require.NoError(e.t, e.h.SetStackSlot(f.thread, 5, f.key))
	return f
}

func TestScanForSpecificRefPrecise(t *testing.T) {
	e := newEnv(t, nil)
	f := e.locatorFixture()

	refs, err := e.v.ScanForSpecificRef(f.key, true)
	require.NoError(t, err)
	require.Equal(t, []verify.Reference{
		{Kind: verify.InObject, Slot: f.holder.Add(16), Object: f.holder, Class: "App.Node", Offset: 16},
		{Kind: verify.InRoot, Slot: f.root.Start.Add(16), Root: f.root.Start, RootType: verify.RootNormal},
		{Kind: verify.InPinnedRoot, Slot: f.pinned.Start.Add(8), Root: f.pinned.Start, RootType: verify.RootPinned, Possible: true},
		{Kind: verify.OnStack, Slot: f.thread.StackStart.Add(40), Thread: 42, Possible: true},
		{Kind: verify.InRegister, Thread: 42, Register: 1, Possible: true},
	}, refs)
	require.Len(t, e.entries("found reference"), len(refs))
}

func TestScanForSpecificRefConservative(t *testing.T) {
	e := newEnv(t, nil)
	f := e.locatorFixture()

	refs, err := e.v.ScanForSpecificRef(f.key, false)
	require.NoError(t, err)

	var objects []heap.Addr
	for _, r := range refs {
		if r.Kind == verify.InObject {
			require.True(t, r.Possible)
			objects = append(objects, r.Object)
		}
	}
	require.Equal(t, []heap.Addr{f.holder, f.leaf}, objects)
}

func TestScanForSpecificRefSkippedThread(t *testing.T) {
	e := newEnv(t, nil)
	f := e.locatorFixture()
	f.thread.Skip = true

	refs, err := e.v.ScanForSpecificRef(f.key, true)
	require.NoError(t, err)
	for _, r := range refs {
		require.NotEqual(t, verify.OnStack, r.Kind)
		require.NotEqual(t, verify.InRegister, r.Kind)
	}
}

func TestScanForSpecificRefUserMarker(t *testing.T) {
	e := newEnv(t, nil)
	key := e.alloc(simheap.SpaceNursery, nodeClass, 0)

	var calls int
	marker := func(start heap.Addr, report func(slot heap.Addr)) {
		calls++
		report(start.Add(8))
	}
	r, err := e.h.AddRoot(verify.RootWBarrier, descr.RootDescriptor{Kind: descr.RootUser, Marker: marker}, 2)
	require.NoError(t, err)
	require.NoError(t, e.h.SetRootSlot(r, 1, key))

	refs, err := e.v.ScanForSpecificRef(key, true)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, []verify.Reference{
		{Kind: verify.InRoot, Slot: r.Start.Add(8), Root: r.Start, RootType: verify.RootWBarrier},
	}, refs)
}

func TestScanForSpecificRefRejectsRunLengthRoots(t *testing.T) {
	e := newEnv(t, nil)
	key := e.alloc(simheap.SpaceNursery, nodeClass, 0)
	_, err := e.h.AddRoot(verify.RootNormal, descr.RootDescriptor{Kind: descr.RootRunLength, Bitmap: 1}, 1)
	require.NoError(t, err)

	_, err = e.v.ScanForSpecificRef(key, true)
	require.True(t, errors.Is(err, descr.ErrUnsupportedRootDescriptor), "unexpected error %v", err)
}

func TestScanForSpecificRefReportsDescriptorErrors(t *testing.T) {
	e := newEnv(t, nil)
	broken := &object.Class{
		Namespace: "App",
		Name:      "Broken",
		// no bitmap was ever registered under this handle
		Desc: descr.Complex(24, descr.Handle(99)),
	}
	key := e.alloc(simheap.SpaceNursery, leafClass, 0)
	holder := e.alloc(simheap.SpaceMajor, broken, 0)
	e.set(holder, 8, key)

	refs, err := e.v.ScanForSpecificRef(key, true)
	require.True(t, errors.Is(err, descr.ErrUnknownHandle), "unexpected error %v", err)
	require.Empty(t, refs)

	refs, err = e.v.ScanForSpecificRef(key, false)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, holder, refs[0].Object)
	require.True(t, refs[0].Possible)

	g := e.v.HeapGraph()
	require.NotNil(t, g.GetObject(holder))
	require.Len(t, e.entries("graph edges of object are incomplete"), 1)
}

func TestFindPinningReference(t *testing.T) {
	e := newEnv(t, nil)
	obj := e.alloc(simheap.SpaceNursery, nodeClass, 0)

	conservative, err := e.h.AddRoot(verify.RootNormal, descr.RootDescriptor{Kind: descr.RootConservative}, 3)
	require.NoError(t, err)
	require.NoError(t, e.h.SetRootSlot(conservative, 1, obj.Add(16)))
	precise, err := e.h.AddRoot(verify.RootNormal, descr.RootDescriptor{Kind: descr.RootBitmap, Bitmap: 1}, 1)
	require.NoError(t, err)
	require.NoError(t, e.h.SetRootSlot(precise, 0, obj))

	th, err := e.h.AddThread(1, 4, []uint64{uint64(obj.Add(24))})
	require.NoError(t, err)
	require.NoError(t, e.h.SetStackSlot(th, 0, obj.Add(8)))

	refs := e.v.FindPinningReference(obj, 24)
	require.Equal(t, []verify.Reference{
		{Kind: verify.InRoot, Slot: conservative.Start.Add(8), Root: conservative.Start, RootType: verify.RootNormal, Possible: true},
		{Kind: verify.OnStack, Slot: th.StackStart, Thread: 1, Possible: true},
	}, refs)
	require.Len(t, e.entries("pinning reference"), 2)
}

func TestFindObjectForPtr(t *testing.T) {
	e := newEnv(t, nil)
	p := e.populate()

	tests := []struct {
		name  string
		ptr   heap.Addr
		owner heap.Addr
		ok    bool
	}{
		{"nursery start", p.young2, p.young2, true},
		{"nursery interior", p.young2.Add(16), p.young2, true},
		{"los interior", p.large.Add(4096), p.large, true},
		{"major interior", p.old2.Add(8), p.old2, true},
		{"pinned chunk", p.pinnedChunk, p.pinnedChunk, true},
		{"unused nursery", e.h.Nursery().End() - 8, 0, false},
		{"unmapped", 0xdead_0000, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, ok := e.v.FindObjectForPtr(tt.ptr)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.owner, owner)
		})
	}
}
