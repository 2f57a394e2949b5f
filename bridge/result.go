// ABOUTME: Bridge results: an SCC partition plus edges between components
// ABOUTME: Builds results from graph partitions for differential checks

// Package bridge compares strongly connected component partitions produced
// by two independent algorithms over the same object subgraph.
package bridge

import (
	"golang.org/x/exp/slices"

	"github.com/prateek/heapcheck/graph"
)

// SCC is one group of a partition
type SCC struct {
	Objects []graph.ObjID
}

// XRef is a directed edge between two distinct SCC indexes
type XRef struct {
	Src int
	Dst int
}

// Result is a partition of an object set into SCCs with the edges between them
type Result struct {
	SCCs  []SCC
	XRefs []XRef
}

// FromComponents turns a partition of g into a Result. XRefs hold one edge
// per ordered pair of distinct components linked by at least one pointer;
// edges to objects outside the partition are ignored.
func FromComponents(g graph.Graph, comps []graph.Component) *Result {
	res := &Result{SCCs: make([]SCC, 0, len(comps))}
	owner := make(map[graph.ObjID]int)
	for i, c := range comps {
		res.SCCs = append(res.SCCs, SCC{Objects: slices.Clone([]graph.ObjID(c))})
		for _, id := range c {
			owner[id] = i
		}
	}

	seen := make(map[XRef]bool)
	for i, c := range comps {
		for _, id := range c {
			obj := g.GetObject(id)
			if obj == nil {
				continue
			}
			for _, target := range obj.Ptrs {
				j, ok := owner[target]
				if !ok || j == i {
					continue
				}
				x := XRef{Src: i, Dst: j}
				if !seen[x] {
					seen[x] = true
					res.XRefs = append(res.XRefs, x)
				}
			}
		}
	}
	return res
}

// Len returns the number of objects in the partition
func (r *Result) Len() int {
	n := 0
	for _, s := range r.SCCs {
		n += len(s.Objects)
	}
	return n
}
