// ABOUTME: Builds reverse edges for graph traversal
// ABOUTME: Maps objects to their referrers for paths-to-roots and Kosaraju

package graph

// ReverseEdges maps each object to the objects that point to it
type ReverseEdges map[ObjID][]ObjID

// BuildReverseEdges creates a map of reverse edges. Edges to objects
// outside the graph are dropped; referrers appear once, in address order.
func BuildReverseEdges(g Graph) ReverseEdges {
	reverse := make(ReverseEdges)

	g.ForEachObject(func(obj *Object) {
		seen := make(map[ObjID]bool, len(obj.Ptrs))
		for _, target := range obj.Ptrs {
			if seen[target] || g.GetObject(target) == nil {
				continue
			}
			seen[target] = true
			reverse[target] = append(reverse[target], obj.ID)
		}
	})

	return reverse
}
