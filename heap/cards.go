// ABOUTME: Per-object card arrays used by mod-union tracking
// ABOUTME: One entry per 512-byte card spanned by an old-generation or large object

package heap

const (
	// CardBits is log2 of the card size
	CardBits = 9
	// CardSize is the number of bytes covered by one card
	CardSize = 1 << CardBits
)

// Cards holds one mark per card of a single object, indexed from the card
// containing the object start
type Cards []uint8

// NewCards allocates the card array for an object of size bytes at start
func NewCards(start Addr, size uint64) Cards {
	if size == 0 {
		size = WordSize
	}
	first := uint64(start) >> CardBits
	last := uint64(start.Add(size-1)) >> CardBits
	return make(Cards, last-first+1)
}

// CardIndex returns the index of the card containing p relative to start
func CardIndex(start, p Addr) int {
	return int(uint64(p)>>CardBits - uint64(start)>>CardBits)
}

// Marked reports whether the card containing p is set
func (c Cards) Marked(start, p Addr) bool {
	if p < start {
		return false
	}
	i := CardIndex(start, p)
	return i < len(c) && c[i] != 0
}

// Mark sets the card containing p
func (c Cards) Mark(start, p Addr) {
	if p < start {
		return
	}
	if i := CardIndex(start, p); i < len(c) {
		c[i] = 1
	}
}

// Clear resets every card
func (c Cards) Clear() {
	for i := range c {
		c[i] = 0
	}
}
