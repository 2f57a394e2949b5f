// ABOUTME: Tests for the paths-to-roots search
// ABOUTME: Validates BFS ordering, cycles, limits and unreachable objects

package graph

import (
	"reflect"
	"testing"
)

func TestPathsToRoots(t *testing.T) {
	// 0x10 (root) -> 0x20 -> 0x30
	//                     -> 0x40
	g := NewMemGraph()
	g.AddObject(&Object{ID: 0x10, Ptrs: []ObjID{0x20}})
	g.AddObject(&Object{ID: 0x20, Ptrs: []ObjID{0x30, 0x40}})
	g.AddObject(&Object{ID: 0x30})
	g.AddObject(&Object{ID: 0x40})
	g.SetRoots(Roots{IDs: []ObjID{0x10}})

	tests := []struct {
		name     string
		from     ObjID
		maxPaths int
		want     []Path
	}{
		{"root itself", 0x10, 5, []Path{{IDs: []ObjID{0x10}}}},
		{"one hop", 0x20, 5, []Path{{IDs: []ObjID{0x20, 0x10}}}},
		{"two hops", 0x30, 5, []Path{{IDs: []ObjID{0x30, 0x20, 0x10}}}},
		{"sibling", 0x40, 5, []Path{{IDs: []ObjID{0x40, 0x20, 0x10}}}},
		{"no paths requested", 0x40, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths := PathsToRoots(g, tt.from, tt.maxPaths)
			if !reflect.DeepEqual(paths, tt.want) {
				t.Errorf("PathsToRoots() = %v, want %v", paths, tt.want)
			}
		})
	}
}

func TestPathsWithCycles(t *testing.T) {
	// 0x10 (root) -> 0x20 -> 0x30 -> 0x20
	g := NewMemGraph()
	g.AddObject(&Object{ID: 0x10, Ptrs: []ObjID{0x20}})
	g.AddObject(&Object{ID: 0x20, Ptrs: []ObjID{0x30}})
	g.AddObject(&Object{ID: 0x30, Ptrs: []ObjID{0x20}})
	g.SetRoots(Roots{IDs: []ObjID{0x10}})

	paths := PathsToRoots(g, 0x30, 5)
	want := []Path{{IDs: []ObjID{0x30, 0x20, 0x10}}}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("PathsToRoots() with cycle = %v, want %v", paths, want)
	}
}

func TestUnreachableObject(t *testing.T) {
	g := NewMemGraph()
	g.AddObject(&Object{ID: 0x10, Ptrs: []ObjID{0x20}})
	g.AddObject(&Object{ID: 0x20})
	g.AddObject(&Object{ID: 0x30})
	g.SetRoots(Roots{IDs: []ObjID{0x10}})

	if paths := PathsToRoots(g, 0x30, 5); len(paths) != 0 {
		t.Errorf("expected no paths for unreachable object, got %v", paths)
	}
}

func TestMaxPaths(t *testing.T) {
	g := NewMemGraph()
	g.AddObject(&Object{ID: 0x10, Ptrs: []ObjID{0x40}})
	g.AddObject(&Object{ID: 0x20, Ptrs: []ObjID{0x40}})
	g.AddObject(&Object{ID: 0x30, Ptrs: []ObjID{0x40}})
	g.AddObject(&Object{ID: 0x40})
	g.SetRoots(Roots{IDs: []ObjID{0x10, 0x20, 0x30}})

	if paths := PathsToRoots(g, 0x40, 2); len(paths) != 2 {
		t.Errorf("expected 2 paths, got %d", len(paths))
	}
	if paths := PathsToRoots(g, 0x40, 10); len(paths) != 3 {
		t.Errorf("expected one path per root, got %d", len(paths))
	}
}
