// ABOUTME: Nursery, major heap and large-object space of the simulated heap
// ABOUTME: Each space bump-allocates and tracks the state its collector owns

package simheap

import (
	"golang.org/x/exp/slices"

	"github.com/prateek/heapcheck/heap"
	"github.com/prateek/heapcheck/object"
	"github.com/prateek/heapcheck/verify"
)

// Nursery is the bump-allocated young generation
type Nursery struct {
	arena      *heap.Arena
	next       heap.Addr
	canaries   bool
	stride     uint64
	scanStarts []heap.Addr
}

func (n *Nursery) Start() heap.Addr          { return n.arena.Start() }
func (n *Nursery) End() heap.Addr            { return n.arena.End() }
func (n *Nursery) Contains(p heap.Addr) bool { return n.arena.Contains(p) }
func (n *Nursery) CanariesEnabled() bool     { return n.canaries }

// ScanStarts returns the recorded scan starts in address order
func (n *Nursery) ScanStarts() []heap.Addr {
	return slices.Clone(n.scanStarts)
}

// noteScanStart records obj when it is the first object of its stride
func (n *Nursery) noteScanStart(obj heap.Addr) {
	if n.stride == 0 {
		return
	}
	chunk := obj.Sub(n.Start()) / n.stride
	if len(n.scanStarts) > 0 && n.scanStarts[len(n.scanStarts)-1].Sub(n.Start())/n.stride == chunk {
		return
	}
	n.scanStarts = append(n.scanStarts, obj)
}

type majorObject struct {
	start heap.Addr
	size  uint64
	live  bool
	freed bool
	cards heap.Cards
}

// Major is the old generation with a separate pinned-chunk area
type Major struct {
	model      *object.Model
	arena      *heap.Arena
	pinned     *heap.Arena
	next       heap.Addr
	nextPinned heap.Addr
	starts     []heap.Addr
	objects    map[heap.Addr]*majorObject
}

func (m *Major) lookup(obj heap.Addr) *majorObject {
	o := m.objects[obj]
	if o == nil || o.freed {
		return nil
	}
	return o
}

// owner returns the object whose extent holds p
func (m *Major) owner(p heap.Addr) *majorObject {
	i, found := slices.BinarySearch(m.starts, p)
	if !found {
		if i == 0 {
			return nil
		}
		i--
	}
	o := m.lookup(m.starts[i])
	if o == nil || p >= o.start.Add(o.size) {
		return nil
	}
	return o
}

// IterateObjects visits major objects in address order. Freed objects
// that have not been swept yet are only visited by IterateAll.
func (m *Major) IterateObjects(mode verify.IterateMode, visit verify.ObjectVisitor) {
	for _, s := range m.starts {
		o := m.objects[s]
		if o.freed && mode != verify.IterateAll {
			continue
		}
		visit(o.start, o.size)
	}
}

func (m *Major) IsValidObject(p heap.Addr) bool {
	return m.lookup(p) != nil
}

func (m *Major) IsObjectLive(obj heap.Addr) bool {
	o := m.lookup(obj)
	return o != nil && o.live
}

func (m *Major) PtrIsInNonPinnedSpace(p heap.Addr) (heap.Addr, bool) {
	if !m.arena.Contains(p) {
		return 0, false
	}
	if o := m.owner(p); o != nil {
		return o.start, true
	}
	return 0, true
}

func (m *Major) ObjIsFromPinnedAlloc(p heap.Addr) bool {
	return m.pinned.Contains(p)
}

func (m *Major) ModUnionForObject(obj heap.Addr) heap.Cards {
	if o := m.lookup(obj); o != nil {
		return o.cards
	}
	return nil
}

func (m *Major) DescribePointer(p heap.Addr) heap.Addr {
	return m.model.Header(p).VTable()
}

func (m *Major) add(start heap.Addr, size uint64) {
	m.starts = append(m.starts, start)
	slices.Sort(m.starts)
	m.objects[start] = &majorObject{start: start, size: size, cards: heap.NewCards(start, size)}
}

type largeObject struct {
	start  heap.Addr
	size   uint64
	pinned bool
	cards  heap.Cards
}

// LOS is the large-object space
type LOS struct {
	arena   *heap.Arena
	next    heap.Addr
	objects []*largeObject
}

// losAlign is the page alignment of large objects
const losAlign = 4096

func (l *LOS) find(p heap.Addr) *largeObject {
	for _, o := range l.objects {
		if p >= o.start && p < o.start.Add(o.size) {
			return o
		}
	}
	return nil
}

func (l *LOS) IterateObjects(visit verify.ObjectVisitor) {
	for _, o := range l.objects {
		visit(o.start, o.size)
	}
}

func (l *LOS) IsValidObject(p heap.Addr) bool {
	o := l.find(p)
	return o != nil && o.start == p
}

func (l *LOS) IsPinned(obj heap.Addr) bool {
	o := l.find(obj)
	return o != nil && o.start == obj && o.pinned
}

func (l *LOS) ModUnionForObject(obj heap.Addr) heap.Cards {
	if o := l.find(obj); o != nil && o.start == obj {
		return o.cards
	}
	return nil
}

func (l *LOS) PtrIsInLOS(p heap.Addr) (heap.Addr, bool) {
	if o := l.find(p); o != nil {
		return o.start, true
	}
	return 0, false
}

func (l *LOS) Objects() []verify.LargeObject {
	out := make([]verify.LargeObject, 0, len(l.objects))
	for _, o := range l.objects {
		out = append(out, verify.LargeObject{Start: o.start, Size: o.size})
	}
	return out
}
