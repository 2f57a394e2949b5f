// ABOUTME: Out-of-line bitmap storage for descriptors too large to fit inline
// ABOUTME: Entries are addressed by stable handles rather than raw pointers

package descr

import "sync"

// BitmapTable owns the out-of-line bitmaps referenced by complex descriptors.
// Each entry is stored as its run count followed by that many bitmap words,
// each covering 64 consecutive words.
type BitmapTable struct {
	mu      sync.RWMutex
	entries [][]uint64
}

// NewBitmapTable creates an empty table
func NewBitmapTable() *BitmapTable {
	return &BitmapTable{}
}

// Add stores a bitmap and returns its handle
func (t *BitmapTable) Add(bitmaps []uint64) Handle {
	entry := make([]uint64, 0, len(bitmaps)+1)
	entry = append(entry, uint64(len(bitmaps)))
	entry = append(entry, bitmaps...)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry)
	return Handle(len(t.entries))
}

// Lookup returns the bitmap words of an entry (without the run count)
func (t *BitmapTable) Lookup(h Handle) ([]uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if h == 0 || uint64(h) > uint64(len(t.entries)) {
		return nil, false
	}
	entry := t.entries[h-1]
	return entry[1 : 1+entry[0]], true
}

// Len returns the number of entries
func (t *BitmapTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
