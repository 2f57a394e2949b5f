// ABOUTME: Type metadata for heap objects and the vtable registry
// ABOUTME: Classes carry names, descriptors, isolation domain and field offsets

// Package object interprets raw heap words as objects: it resolves headers to
// classes, answers descriptor and size queries, and walks allocation areas.
package object

import (
	"sync"

	"github.com/prateek/heapcheck/descr"
	"github.com/prateek/heapcheck/heap"
)

// DomainID identifies an isolation domain
type DomainID uint32

// Field names a slot of a class by its byte offset from the object start
type Field struct {
	Name   string
	Offset uint64
}

// Class is the type metadata an object header points at
type Class struct {
	Namespace string
	Name      string
	Desc      descr.Descriptor
	Domain    DomainID
	Fields    []Field
	Parent    *Class
	// ArrayFill marks the filler objects the allocator writes into unused
	// nursery fragments
	ArrayFill bool
}

// FullName returns the namespace-qualified class name
func (c *Class) FullName() string {
	if c.Namespace == "" {
		return c.Name
	}
	return c.Namespace + "." + c.Name
}

// FieldAt finds the field at offset, searching parent classes too
func (c *Class) FieldAt(offset uint64) (Field, bool) {
	for k := c; k != nil; k = k.Parent {
		for _, f := range k.Fields {
			if f.Offset == offset {
				return f, true
			}
		}
	}
	return Field{}, false
}

// Is reports whether c is the named class or derives from it
func (c *Class) Is(fullName string) bool {
	for k := c; k != nil; k = k.Parent {
		if k.FullName() == fullName {
			return true
		}
	}
	return false
}

// DefaultVTableBase is where the registry places vtables unless told otherwise;
// it sits far away from every heap region the simulated collector maps
const DefaultVTableBase heap.Addr = 0x7f00_0000_0000

const vtableStride = 64

// Registry maps vtable addresses to classes
type Registry struct {
	mu      sync.RWMutex
	base    heap.Addr
	next    heap.Addr
	classes map[heap.Addr]*Class
	vtables map[*Class]heap.Addr
	byName  map[string]*Class
}

// NewRegistry creates a registry placing vtables from base upward
func NewRegistry(base heap.Addr) *Registry {
	return &Registry{
		base:    base,
		next:    base,
		classes: make(map[heap.Addr]*Class),
		vtables: make(map[*Class]heap.Addr),
		byName:  make(map[string]*Class),
	}
}

// Register assigns a vtable address to c; registering twice returns the same address
func (r *Registry) Register(c *Class) heap.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()

	if vt, ok := r.vtables[c]; ok {
		return vt
	}
	vt := r.next
	r.next = r.next.Add(vtableStride)
	r.classes[vt] = c
	r.vtables[c] = vt
	r.byName[c.FullName()] = c
	return vt
}

// Lookup returns the class whose vtable lives at vt
func (r *Registry) Lookup(vt heap.Addr) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[vt]
	return c, ok
}

// VTable returns the vtable address of a registered class
func (r *Registry) VTable(c *Class) (heap.Addr, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vt, ok := r.vtables[c]
	return vt, ok
}

// ByName returns a registered class by its full name
func (r *Registry) ByName(fullName string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[fullName]
	return c, ok
}

// Len returns the number of registered classes
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.classes)
}
