// ABOUTME: Extracts precise reference graphs from the heap
// ABOUTME: Feeds the SCC algorithms and the paths-to-roots search

package verify

import (
	"github.com/prateek/heapcheck/descr"
	"github.com/prateek/heapcheck/graph"
	"github.com/prateek/heapcheck/heap"
)

// ObjectGraph builds the reference graph of objs, keeping only edges
// between members of objs
func (v *Verifier) ObjectGraph(objs []heap.Addr) *graph.MemGraph {
	g := graph.NewMemGraph()
	for _, obj := range objs {
		g.AddObject(v.node(obj))
	}
	v.pruneEdges(g)
	return g
}

// HeapGraph builds the reference graph of every nursery, major and LOS
// object. Roots are the objects held by precise normal and write-barrier
// root slots and by pinned root words.
func (v *Verifier) HeapGraph() *graph.MemGraph {
	p := v.begin("graph")
	defer p.end()
	h := v.heap
	g := graph.NewMemGraph()
	add := func(obj heap.Addr, _ uint64) {
		g.AddObject(v.node(obj))
	}
	p.nurseryIndex().ForEach(add)
	h.Major.IterateObjects(IterateSweepAll, add)
	h.LOS.IterateObjects(add)
	v.pruneEdges(g)

	var roots []graph.ObjID
	seen := make(map[graph.ObjID]bool)
	addRoot := func(slot heap.Addr) {
		target := heap.Addr(h.Model.Mem.Load(slot))
		if target != 0 && !seen[target] && g.GetObject(target) != nil {
			seen[target] = true
			roots = append(roots, target)
		}
	}
	for _, t := range []RootType{RootNormal, RootWBarrier} {
		h.Roots.ForEachRoot(t, func(r *RootRecord) {
			if r.Desc.Kind == descr.RootConservative {
				return
			}
			if err := h.Model.Scanner.ScanRoot(r.Start, r.Desc, addRoot); err != nil {
				p.log.WithError(err).WithField("root", r.Start.String()).Warn("skipping root")
			}
		})
	}
	h.Roots.ForEachRoot(RootPinned, func(r *RootRecord) {
		for slot := r.Start; slot < r.End; slot = slot.Add(heap.WordSize) {
			addRoot(slot)
		}
	})
	g.SetRoots(graph.Roots{IDs: roots})
	return g
}

func (v *Verifier) node(obj heap.Addr) *graph.Object {
	m := v.heap.Model
	n := &graph.Object{ID: obj, Size: heap.AlignUp(m.Size(obj))}
	if c := m.SafeClass(obj); c != nil {
		n.Class = c.FullName()
	}
	err := m.SafeScan(obj, func(slot, _ heap.Addr) {
		if target := heap.Addr(m.Mem.Load(slot)); target != 0 {
			n.Ptrs = append(n.Ptrs, target)
		}
	})
	if err != nil {
		v.log.WithError(err).WithField("object", obj.String()).Warn("graph edges of object are incomplete")
	}
	return n
}

// pruneEdges drops edges leaving the graph
func (v *Verifier) pruneEdges(g *graph.MemGraph) {
	g.ForEachObject(func(obj *graph.Object) {
		kept := obj.Ptrs[:0]
		for _, t := range obj.Ptrs {
			if g.GetObject(t) != nil {
				kept = append(kept, t)
			}
		}
		obj.Ptrs = kept
	})
}
