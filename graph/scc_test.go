// ABOUTME: Tests for the Tarjan and Kosaraju component algorithms
// ABOUTME: Both must agree on the partition regardless of member order

package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"
)

// canonical sorts members and components so partitions compare by value
func canonical(comps []Component) [][]ObjID {
	out := make([][]ObjID, 0, len(comps))
	for _, c := range comps {
		ids := slices.Clone([]ObjID(c))
		slices.Sort(ids)
		out = append(out, ids)
	}
	slices.SortFunc(out, func(a, b []ObjID) bool { return a[0] < b[0] })
	return out
}

func sccGraph() *MemGraph {
	// 0x10 <-> 0x20 -> 0x30 -> 0x40 -> 0x30, 0x50 alone, 0x60 self loop
	g := NewMemGraph()
	g.AddObject(&Object{ID: 0x10, Ptrs: []ObjID{0x20}})
	g.AddObject(&Object{ID: 0x20, Ptrs: []ObjID{0x10, 0x30}})
	g.AddObject(&Object{ID: 0x30, Ptrs: []ObjID{0x40}})
	g.AddObject(&Object{ID: 0x40, Ptrs: []ObjID{0x30, 0x999}})
	g.AddObject(&Object{ID: 0x50})
	g.AddObject(&Object{ID: 0x60, Ptrs: []ObjID{0x60}})
	return g
}

func TestSCCAlgorithms(t *testing.T) {
	want := [][]ObjID{{0x10, 0x20}, {0x30, 0x40}, {0x50}, {0x60}}

	for name, algo := range map[string]func(Graph) []Component{
		"tarjan":   TarjanSCC,
		"kosaraju": KosarajuSCC,
	} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, want, canonical(algo(sccGraph())))
		})
	}
}

func TestSCCDeepChain(t *testing.T) {
	g := NewMemGraph()
	const n = 100000
	for i := ObjID(1); i <= n; i++ {
		obj := &Object{ID: i * 16}
		if i < n {
			obj.Ptrs = []ObjID{(i + 1) * 16}
		} else {
			obj.Ptrs = []ObjID{16}
		}
		g.AddObject(obj)
	}

	require.Len(t, TarjanSCC(g), 1)
	require.Len(t, KosarajuSCC(g), 1)
}

func TestSCCEmpty(t *testing.T) {
	require.Empty(t, TarjanSCC(NewMemGraph()))
	require.Empty(t, KosarajuSCC(NewMemGraph()))
}
