// ABOUTME: Two independent strongly connected component algorithms
// ABOUTME: Their partitions are cross-checked by the bridge comparator

package graph

// Component is one strongly connected component, members in discovery order
type Component []ObjID

// TarjanSCC partitions g with Tarjan's single-pass lowlink algorithm.
// Components come out in reverse topological order. The walk is iterative
// so deep object chains cannot exhaust the goroutine stack.
func TarjanSCC(g Graph) []Component {
	var (
		index   = make(map[ObjID]int)
		lowlink = make(map[ObjID]int)
		onStack = make(map[ObjID]bool)
		stack   []ObjID
		result  []Component
		next    int
	)

	type frame struct {
		id  ObjID
		ptr int
	}

	visit := func(root ObjID) {
		call := []frame{{id: root}}
		index[root], lowlink[root] = next, next
		next++
		stack = append(stack, root)
		onStack[root] = true

		for len(call) > 0 {
			top := &call[len(call)-1]
			obj := g.GetObject(top.id)

			if top.ptr < len(obj.Ptrs) {
				w := obj.Ptrs[top.ptr]
				top.ptr++
				if g.GetObject(w) == nil {
					continue
				}
				if _, seen := index[w]; !seen {
					index[w], lowlink[w] = next, next
					next++
					stack = append(stack, w)
					onStack[w] = true
					call = append(call, frame{id: w})
				} else if onStack[w] && index[w] < lowlink[top.id] {
					lowlink[top.id] = index[w]
				}
				continue
			}

			v := top.id
			call = call[:len(call)-1]
			if len(call) > 0 {
				parent := call[len(call)-1].id
				if lowlink[v] < lowlink[parent] {
					lowlink[parent] = lowlink[v]
				}
			}
			if lowlink[v] != index[v] {
				continue
			}

			var comp Component
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			result = append(result, comp)
		}
	}

	g.ForEachObject(func(obj *Object) {
		if _, seen := index[obj.ID]; !seen {
			visit(obj.ID)
		}
	})
	return result
}

// KosarajuSCC partitions g with Kosaraju's two-pass algorithm: a forward
// DFS to order objects by finish time, then a DFS over reverse edges.
func KosarajuSCC(g Graph) []Component {
	visited := make(map[ObjID]bool)
	var order []ObjID

	type frame struct {
		id  ObjID
		ptr int
	}

	g.ForEachObject(func(obj *Object) {
		if visited[obj.ID] {
			return
		}
		visited[obj.ID] = true
		call := []frame{{id: obj.ID}}
		for len(call) > 0 {
			top := &call[len(call)-1]
			ptrs := g.GetObject(top.id).Ptrs
			if top.ptr < len(ptrs) {
				w := ptrs[top.ptr]
				top.ptr++
				if !visited[w] && g.GetObject(w) != nil {
					visited[w] = true
					call = append(call, frame{id: w})
				}
				continue
			}
			order = append(order, top.id)
			call = call[:len(call)-1]
		}
	})

	reverse := BuildReverseEdges(g)
	assigned := make(map[ObjID]bool)
	var result []Component

	for i := len(order) - 1; i >= 0; i-- {
		root := order[i]
		if assigned[root] {
			continue
		}
		assigned[root] = true
		comp := Component{}
		work := []ObjID{root}
		for len(work) > 0 {
			v := work[len(work)-1]
			work = work[:len(work)-1]
			comp = append(comp, v)
			for _, w := range reverse[v] {
				if !assigned[w] {
					assigned[w] = true
					work = append(work, w)
				}
			}
		}
		result = append(result, comp)
	}
	return result
}
