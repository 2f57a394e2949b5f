// ABOUTME: Word-granular memory regions and the address space that maps them
// ABOUTME: Arenas back the nursery, old generation, LOS, static roots and stacks

package heap

import (
	"github.com/sirkon/errors"
	"golang.org/x/exp/slices"
)

const (
	// ErrUnmapped is returned when a store targets an address no arena maps
	ErrUnmapped errors.Const = "address is not mapped"
	// ErrUnaligned is returned when a store targets an address that is not word aligned
	ErrUnaligned errors.Const = "address is not word aligned"
	// ErrOverlap is returned when mapping an arena that overlaps an existing one
	ErrOverlap errors.Const = "arena overlaps a mapped region"
)

// Arena is a contiguous, word-addressed region
type Arena struct {
	name  string
	base  Addr
	words []uint64
}

// NewArena creates a zeroed arena of size bytes (rounded up to a word) at base
func NewArena(name string, base Addr, size uint64) (*Arena, error) {
	if !base.Aligned() {
		return nil, errors.Wrap(ErrUnaligned, "create arena").Str("arena", name).Str("base", base.String())
	}
	return &Arena{
		name:  name,
		base:  base,
		words: make([]uint64, AlignUp(size)/WordSize),
	}, nil
}

// Name returns the arena's label
func (a *Arena) Name() string { return a.name }

// Start returns the lowest mapped address
func (a *Arena) Start() Addr { return a.base }

// End returns the first address past the arena
func (a *Arena) End() Addr { return a.base.Add(uint64(len(a.words)) * WordSize) }

// Size returns the arena size in bytes
func (a *Arena) Size() uint64 { return uint64(len(a.words)) * WordSize }

// Contains reports whether p falls inside the arena
func (a *Arena) Contains(p Addr) bool {
	return p >= a.base && p < a.End()
}

// Extent returns the arena bounds when p falls inside it
func (a *Arena) Extent(p Addr) (start, end Addr, ok bool) {
	if !a.Contains(p) {
		return 0, 0, false
	}
	return a.base, a.End(), true
}

// Load returns the word at p, or zero when p is outside the arena or unaligned
func (a *Arena) Load(p Addr) uint64 {
	if !a.Contains(p) || !p.Aligned() {
		return 0
	}
	return a.words[p.Sub(a.base)/WordSize]
}

// Store writes the word at p
func (a *Arena) Store(p Addr, v uint64) error {
	if !p.Aligned() {
		return errors.Wrap(ErrUnaligned, "store word").Str("addr", p.String())
	}
	if !a.Contains(p) {
		return errors.Wrap(ErrUnmapped, "store word").Str("arena", a.name).Str("addr", p.String())
	}
	a.words[p.Sub(a.base)/WordSize] = v
	return nil
}

// Space is a set of non-overlapping arenas forming one address space
type Space struct {
	arenas []*Arena
}

// NewSpace maps the given arenas
func NewSpace(arenas ...*Arena) (*Space, error) {
	s := &Space{}
	for _, a := range arenas {
		if err := s.Map(a); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Map adds an arena to the space
func (s *Space) Map(a *Arena) error {
	for _, other := range s.arenas {
		if a.Start() < other.End() && other.Start() < a.End() {
			return errors.Wrap(ErrOverlap, "map arena").Str("arena", a.Name()).Str("other", other.Name())
		}
	}
	s.arenas = append(s.arenas, a)
	slices.SortFunc(s.arenas, func(x, y *Arena) bool {
		return x.Start() < y.Start()
	})
	return nil
}

// Arena returns the arena containing p, or nil
func (s *Space) Arena(p Addr) *Arena {
	if i := slices.IndexFunc(s.arenas, func(a *Arena) bool { return a.Contains(p) }); i >= 0 {
		return s.arenas[i]
	}
	return nil
}

// Extent returns the bounds of the arena containing p
func (s *Space) Extent(p Addr) (start, end Addr, ok bool) {
	if a := s.Arena(p); a != nil {
		return a.Extent(p)
	}
	return 0, 0, false
}

// Load returns the word at p, or zero when p is unmapped
func (s *Space) Load(p Addr) uint64 {
	if a := s.Arena(p); a != nil {
		return a.Load(p)
	}
	return 0
}

// Store writes the word at p
func (s *Space) Store(p Addr, v uint64) error {
	a := s.Arena(p)
	if a == nil {
		return errors.Wrap(ErrUnmapped, "store word").Str("addr", p.String())
	}
	return a.Store(p, v)
}

var (
	_ Memory = (*Arena)(nil)
	_ Memory = (*Space)(nil)
	_ Extent = (*Arena)(nil)
	_ Extent = (*Space)(nil)
)
