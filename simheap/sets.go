// ABOUTME: Remembered set and cement set of the simulated heap
// ABOUTME: Exact slot and object address sets

package simheap

import "github.com/prateek/heapcheck/heap"

// RememberedSet holds slots of old objects that point into the nursery
type RememberedSet struct {
	slots map[heap.Addr]struct{}
}

func (r *RememberedSet) Add(slot heap.Addr)    { r.slots[slot] = struct{}{} }
func (r *RememberedSet) Remove(slot heap.Addr) { delete(r.slots, slot) }
func (r *RememberedSet) Len() int              { return len(r.slots) }

func (r *RememberedSet) Contains(slot heap.Addr) bool {
	_, ok := r.slots[slot]
	return ok
}

// ContainsWithCards reports whether the card of slot is set in cards
func (r *RememberedSet) ContainsWithCards(start heap.Addr, cards heap.Cards, slot heap.Addr) bool {
	return cards.Marked(start, slot)
}

// CementSet holds objects that stay put without remset entries
type CementSet struct {
	objs map[heap.Addr]struct{}
}

func (c *CementSet) Add(obj heap.Addr) { c.objs[obj] = struct{}{} }

func (c *CementSet) Contains(obj heap.Addr) bool {
	_, ok := c.objs[obj]
	return ok
}
