// ABOUTME: Graph interface and in-memory implementation
// ABOUTME: Stores reference graphs and iterates them in address order

package graph

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Graph represents a heap reference graph
type Graph interface {
	// AddObject adds an object to the graph, replacing one with the same ID
	AddObject(obj *Object)

	// GetObject retrieves an object by ID
	GetObject(id ObjID) *Object

	// NumObjects returns the total number of objects
	NumObjects() int

	// ForEachObject iterates over all objects in ascending address order
	ForEachObject(fn func(*Object))

	// SetRoots sets the root objects
	SetRoots(roots Roots)

	// GetRoots returns the root objects
	GetRoots() Roots
}

// MemGraph is an in-memory implementation of Graph
type MemGraph struct {
	mu      sync.RWMutex
	objects map[ObjID]*Object
	roots   Roots
}

// NewMemGraph creates a new in-memory graph
func NewMemGraph() *MemGraph {
	return &MemGraph{
		objects: make(map[ObjID]*Object),
	}
}

// AddObject adds an object to the graph
func (g *MemGraph) AddObject(obj *Object) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.objects[obj.ID] = obj
}

// GetObject retrieves an object by ID
func (g *MemGraph) GetObject(id ObjID) *Object {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.objects[id]
}

// NumObjects returns the total number of objects
func (g *MemGraph) NumObjects() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.objects)
}

// IDs returns every object ID in ascending order
func (g *MemGraph) IDs() []ObjID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := maps.Keys(g.objects)
	slices.Sort(ids)
	return ids
}

// ForEachObject iterates over all objects in ascending address order
func (g *MemGraph) ForEachObject(fn func(*Object)) {
	for _, id := range g.IDs() {
		if obj := g.GetObject(id); obj != nil {
			fn(obj)
		}
	}
}

// SetRoots sets the root objects
func (g *MemGraph) SetRoots(roots Roots) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roots = roots
}

// GetRoots returns the root objects
func (g *MemGraph) GetRoots() Roots {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.roots
}
