// ABOUTME: BFS over reverse edges from an object back to precise roots
// ABOUTME: Explains why an object is reachable when a locator reports it

package graph

import "golang.org/x/exp/slices"

// Path is a chain of objects from a target back to a root
type Path struct {
	IDs []ObjID // target first, root last
}

// PathsToRoots finds up to maxPaths shortest referrer chains from an
// object to a root. A path never visits the same object twice.
func PathsToRoots(g Graph, from ObjID, maxPaths int) []Path {
	if maxPaths <= 0 {
		return nil
	}

	reverse := BuildReverseEdges(g)
	rootSet := make(map[ObjID]bool)
	for _, id := range g.GetRoots().IDs {
		rootSet[id] = true
	}

	if rootSet[from] {
		return []Path{{IDs: []ObjID{from}}}
	}

	type searchNode struct {
		id   ObjID
		path []ObjID
	}

	var result []Path
	queue := []searchNode{{id: from, path: []ObjID{from}}}

	for len(queue) > 0 && len(result) < maxPaths {
		node := queue[0]
		queue = queue[1:]

		for _, referrer := range reverse[node.id] {
			if slices.Contains(node.path, referrer) {
				continue
			}

			path := make([]ObjID, len(node.path)+1)
			copy(path, node.path)
			path[len(node.path)] = referrer

			if rootSet[referrer] {
				result = append(result, Path{IDs: path})
				if len(result) >= maxPaths {
					break
				}
				continue
			}
			queue = append(queue, searchNode{id: referrer, path: path})
		}
	}

	return result
}
