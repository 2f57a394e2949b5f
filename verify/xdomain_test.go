// ABOUTME: Tests for isolation-domain leak detection
// ABOUTME: Covers allow rules, referrer tracing and domain-owned roots

package verify_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prateek/heapcheck/descr"
	"github.com/prateek/heapcheck/heap"
	"github.com/prateek/heapcheck/object"
	"github.com/prateek/heapcheck/simheap"
	"github.com/prateek/heapcheck/verify"
)

var (
	holderClass = &object.Class{
		Namespace: "Plugin",
		Name:      "Holder",
		Desc:      descr.Bitmap(24, 0b11),
		Domain:    1,
		Fields:    []object.Field{{Name: "cache", Offset: 8}, {Name: "owner", Offset: 16}},
	}
	threadClass = &object.Class{
		Namespace: "System.Threading",
		Name:      "Thread",
		Desc:      descr.Bitmap(16, 0b1),
		Domain:    1,
		Fields:    []object.Field{{Name: "internal_thread", Offset: 8}},
	}
	realProxyClass = &object.Class{
		Namespace: "System.Runtime.Remoting.Proxies",
		Name:      "RealProxy",
		Desc:      descr.Bitmap(16, 0b1),
		Domain:    1,
		Fields:    []object.Field{{Name: "unwrapped_server", Offset: 8}},
	}
	remotingProxyClass = &object.Class{
		Namespace: "System.Runtime.Remoting.Proxies",
		Name:      "RemotingProxy",
		Desc:      descr.Bitmap(16, 0b1),
		Domain:    1,
		Parent:    realProxyClass,
	}
)

func TestCrossDomainRefs(t *testing.T) {
	sink := &verify.Collector{}
	e := newEnv(t, nil, verify.WithSink(sink))

	target := e.alloc(simheap.SpaceNursery, nodeClass, 0)
	holder := e.alloc(simheap.SpaceMajor, holderClass, 0)
	e.write(holder, 8, target)
	same := e.alloc(simheap.SpaceMajor, holderClass, 0)
	e.write(holder, 16, same)

	root, err := e.h.AddRoot(verify.RootNormal, descr.RootDescriptor{Kind: descr.RootBitmap, Bitmap: 0b1}, 1)
	require.NoError(t, err)
	require.NoError(t, e.h.SetRootSlot(root, 0, holder))

	require.NoError(t, e.v.CheckCrossDomainRefs())
	require.Empty(t, e.aborted)

	viols := sink.Violations()
	require.Len(t, viols, 1)
	v := viols[0]
	require.Equal(t, verify.CrossDomainRef, v.Kind)
	require.Equal(t, "xdomain", v.Check)
	require.Equal(t, holder, v.Object)
	require.Equal(t, "Plugin.Holder", v.Class)
	require.Equal(t, "cache", v.Field)
	require.Equal(t, target, v.Target)
	require.Equal(t, "App.Node", v.TargetClass)
	require.Equal(t, []verify.Reference{
		{Kind: verify.InRoot, Slot: root.Start, Root: root.Start, RootType: verify.RootNormal},
	}, v.Referrers)
	require.Len(t, e.entries("source object pointed to by"), 1)
}

func TestCrossDomainRefsFailWithoutSink(t *testing.T) {
	e := newEnv(t, nil)
	target := e.alloc(simheap.SpaceNursery, nodeClass, 0)
	holder := e.alloc(simheap.SpaceNursery, holderClass, 0)
	e.write(holder, 16, target)

	f := e.failure(e.v.CheckCrossDomainRefs())
	require.Equal(t, []verify.ViolationKind{verify.CrossDomainRef}, f.Kinds())
	require.Equal(t, "owner", f.Violations[0].Field)
}

func TestCrossDomainAllowRules(t *testing.T) {
	offset := uint64(16)
	tests := []struct {
		name  string
		class *object.Class
		slot  uint64
		rules verify.AllowList
	}{
		{
			name:  "thread internal field",
			class: threadClass,
			slot:  8,
			rules: verify.DefaultAllowList(),
		},
		{
			name:  "proxy subclass",
			class: remotingProxyClass,
			slot:  8,
			rules: verify.DefaultAllowList(),
		},
		{
			name:  "rule by offset",
			class: holderClass,
			slot:  16,
			rules: verify.AllowList{{Source: "Plugin.Holder", Offset: &offset}},
		},
		{
			name:  "rule by target",
			class: holderClass,
			slot:  8,
			rules: verify.AllowList{{Source: "Plugin.Holder", Target: "App.Node"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, nil, verify.WithAllowList(tt.rules))
			target := e.alloc(simheap.SpaceNursery, nodeClass, 0)
			src := e.alloc(simheap.SpaceNursery, tt.class, 0)
			e.write(src, tt.slot, target)

			require.NoError(t, e.v.CheckCrossDomainRefs())
			require.Empty(t, e.aborted)
		})
	}
}

func TestAllowListMatching(t *testing.T) {
	rules := verify.DefaultAllowList()
	otherThread := &object.Class{Namespace: "System.Threading", Name: "Thread", Fields: []object.Field{{Name: "name", Offset: 16}}}
	cultureInfo := &object.Class{Namespace: "System.Globalization", Name: "CultureInfo"}
	objArray := &object.Class{Namespace: "System", Name: "Object[]"}

	require.True(t, rules.Allows(threadClass, 8, nodeClass))
	require.False(t, rules.Allows(otherThread, 16, nodeClass), "field name must match")
	require.True(t, rules.Allows(objArray, 24, cultureInfo))
	require.False(t, rules.Allows(objArray, 24, nodeClass), "target must match")
	require.False(t, rules.Allows(objArray, 24, nil))
	require.False(t, rules.Allows(holderClass, 8, nodeClass))

	// subclasses only match rules that ask for them
	exact := verify.AllowList{{Source: "System.Runtime.Remoting.Proxies.RealProxy", Field: "unwrapped_server"}}
	require.True(t, exact.Allows(realProxyClass, 8, nodeClass))
	require.False(t, exact.Allows(remotingProxyClass, 8, nodeClass))
}

func TestScanRootsInDomain(t *testing.T) {
	e := newEnv(t, nil)
	pluginObj := e.alloc(simheap.SpaceMajor, holderClass, 0)
	appObj := e.alloc(simheap.SpaceMajor, nodeClass, 0)

	addRoot := func(t verify.RootType, desc descr.RootDescriptor, values ...heap.Addr) *verify.RootRecord {
		r, err := e.h.AddRoot(t, desc, uint64(len(values)))
		require.NoError(e.t, err)
		for i, v := range values {
			require.NoError(e.t, e.h.SetRootSlot(r, uint64(i), v))
		}
		return r
	}

	// conservative ranges carry no typed slots
	addRoot(verify.RootNormal, descr.RootDescriptor{}, pluginObj)
	owned := addRoot(verify.RootNormal, descr.RootDescriptor{Kind: descr.RootBitmap, Bitmap: 0b1}, pluginObj)
	owned.Owned, owned.Owner = true, 1
	addRoot(verify.RootNormal, descr.RootDescriptor{Kind: descr.RootBitmap, Bitmap: 0b1}, appObj)
	require.NoError(t, e.v.ScanRootsInDomain(1, verify.RootNormal))

	leaking := addRoot(verify.RootNormal, descr.RootDescriptor{Kind: descr.RootBitmap, Bitmap: 0b10}, appObj, pluginObj)
	f := e.failure(e.v.ScanRootsInDomain(1, verify.RootNormal))
	require.Equal(t, []verify.ViolationKind{verify.RootInDomain}, f.Kinds())
	require.Equal(t, pluginObj, f.Violations[0].Target)
	require.Equal(t, "Plugin.Holder", f.Violations[0].TargetClass)
	require.Contains(t, f.Violations[0].Detail, leaking.Start.Add(8).String())

	// other root types are not inspected
	require.NoError(t, e.v.ScanRootsInDomain(1, verify.RootWBarrier))
}

func TestScanRootsInDomainUnscannableRoot(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.h.AddRoot(verify.RootNormal, descr.RootDescriptor{Kind: descr.RootRunLength, Bitmap: 1}, 1)
	require.NoError(t, err)

	err = e.v.ScanRootsInDomain(1, verify.RootNormal)
	require.Error(t, err)
	require.Empty(t, e.aborted)
}
