// ABOUTME: Core data types for the heap reference graph
// ABOUTME: Nodes are object start addresses, edges are precise pointer slots

// Package graph holds a reference graph extracted from the heap and the
// traversals run over it: reverse edges, paths to roots, and strongly
// connected components.
package graph

import "github.com/prateek/heapcheck/heap"

// ObjID identifies a heap object by its start address
type ObjID = heap.Addr

// Object is a node of the reference graph
type Object struct {
	ID    ObjID   // Object start address
	Class string  // Full class name, empty when the header is untrusted
	Size  uint64  // Aligned size in bytes
	Ptrs  []ObjID // Targets of the object's pointer slots, in slot order
}

// Roots represents the set of objects held by precise root slots
type Roots struct {
	IDs []ObjID
}
