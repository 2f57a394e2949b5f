// ABOUTME: The simulated heap: allocation, write barrier and state changes
// ABOUTME: Also the corruption helpers tests use to break invariants

package simheap

import (
	"github.com/sirkon/errors"

	"github.com/prateek/heapcheck/descr"
	"github.com/prateek/heapcheck/heap"
	"github.com/prateek/heapcheck/object"
	"github.com/prateek/heapcheck/verify"
)

const (
	// ErrOutOfMemory is returned when a region cannot fit an allocation
	ErrOutOfMemory errors.Const = "region exhausted"
	// ErrWrongSpace is returned for objects that do not belong in the requested space
	ErrWrongSpace errors.Const = "object does not belong in this space"
	// ErrUnknownObject is returned when an address is not an allocated object
	ErrUnknownObject errors.Const = "not an allocated object"
)

// SpaceKind selects where Alloc places an object
type SpaceKind uint8

const (
	SpaceNursery SpaceKind = iota
	SpaceMajor
	SpacePinnedChunk
	SpaceLOS
)

func (k SpaceKind) String() string {
	switch k {
	case SpaceNursery:
		return "nursery"
	case SpaceMajor:
		return "major"
	case SpacePinnedChunk:
		return "pinned"
	case SpaceLOS:
		return "los"
	default:
		return "unknown"
	}
}

// Heap is a simulated generational heap
type Heap struct {
	cfg     Config
	space   *heap.Space
	bitmaps *descr.BitmapTable
	model   *object.Model

	nursery *Nursery
	major   *Major
	los     *LOS
	remset  *RememberedSet
	cement  *CementSet
	roots   *Roots
	threads *Threads

	static     *heap.Arena
	staticNext heap.Addr
	stack      *heap.Arena
	stackNext  heap.Addr
}

// New maps the regions of cfg
func New(cfg Config) (*Heap, error) {
	regions := []struct {
		name string
		base heap.Addr
		size uint64
	}{
		{"nursery", cfg.NurseryStart, cfg.NurserySize},
		{"major", cfg.MajorStart, cfg.MajorSize},
		{"pinned", cfg.PinnedStart, cfg.PinnedSize},
		{"los", cfg.LOSStart, cfg.LOSSize},
		{"static", cfg.StaticStart, cfg.StaticSize},
		{"stack", cfg.StackStart, cfg.StackSize},
	}
	arenas := make([]*heap.Arena, 0, len(regions))
	for _, r := range regions {
		a, err := heap.NewArena(r.name, r.base, r.size)
		if err != nil {
			return nil, errors.Wrap(err, "map region").Str("region", r.name)
		}
		arenas = append(arenas, a)
	}
	space, err := heap.NewSpace(arenas...)
	if err != nil {
		return nil, errors.Wrap(err, "build address space")
	}

	bitmaps := descr.NewBitmapTable()
	model := object.NewModel(space, object.NewRegistry(cfg.VTableBase), bitmaps)
	h := &Heap{
		cfg:     cfg,
		space:   space,
		bitmaps: bitmaps,
		model:   model,
		nursery: &Nursery{
			arena:    arenas[0],
			next:     arenas[0].Start(),
			canaries: cfg.Canaries,
			stride:   cfg.ScanStartStride,
		},
		major: &Major{
			model:      model,
			arena:      arenas[1],
			pinned:     arenas[2],
			next:       arenas[1].Start(),
			nextPinned: arenas[2].Start(),
			objects:    make(map[heap.Addr]*majorObject),
		},
		los:        &LOS{arena: arenas[3], next: arenas[3].Start()},
		remset:     &RememberedSet{slots: make(map[heap.Addr]struct{})},
		cement:     &CementSet{objs: make(map[heap.Addr]struct{})},
		roots:      &Roots{byType: make(map[verify.RootType][]*verify.RootRecord)},
		threads:    &Threads{},
		static:     arenas[4],
		staticNext: arenas[4].Start(),
		stack:      arenas[5],
		stackNext:  arenas[5].Start(),
	}
	return h, nil
}

// Config returns the layout the heap was created with
func (h *Heap) Config() Config { return h.cfg }

// Model returns the object model over the heap's memory
func (h *Heap) Model() *object.Model { return h.model }

// Space returns the heap's address space
func (h *Heap) Space() *heap.Space { return h.space }

func (h *Heap) Nursery() *Nursery             { return h.nursery }
func (h *Heap) Major() *Major                 { return h.major }
func (h *Heap) LOS() *LOS                     { return h.los }
func (h *Heap) RememberedSet() *RememberedSet { return h.remset }

// Collaborators bundles the heap's parts for a verifier
func (h *Heap) Collaborators() verify.Heap {
	return verify.Heap{
		Model:   h.model,
		Nursery: h.nursery,
		Major:   h.major,
		LOS:     h.los,
		Remset:  h.remset,
		Cement:  h.cement,
		Roots:   h.roots,
		Threads: h.threads,
	}
}

// RegisterClass gives c a vtable
func (h *Heap) RegisterClass(c *object.Class) heap.Addr {
	return h.model.Types.Register(c)
}

// AddBitmap stores an out-of-line bitmap for complex descriptors
func (h *Heap) AddBitmap(bitmaps []uint64) descr.Handle {
	return h.bitmaps.Add(bitmaps)
}

// Alloc places a new instance of c in the given space. length is the
// element count of arrays and ignored otherwise. The object's fields are zero.
func (h *Heap) Alloc(space SpaceKind, c *object.Class, length uint64) (heap.Addr, error) {
	size := c.Desc.Size
	if c.Desc.IsArray() {
		var ok bool
		if size, ok = descr.ArraySize(length, c.Desc.Size); !ok {
			return 0, errors.Wrap(ErrOutOfMemory, "array size overflows").
				Str("class", c.FullName()).
				Uint64("length", length)
		}
	}
	vt := h.RegisterClass(c)
	if size < heap.WordSize {
		size = heap.WordSize
	}
	aligned := heap.AlignUp(size)

	var obj heap.Addr
	switch space {
	case SpaceNursery:
		footprint := aligned
		guarded := h.nursery.canaries && !c.ArrayFill
		if guarded {
			footprint += object.CanarySize
		}
		room := h.nursery.End().Sub(h.nursery.next)
		if aligned > room || footprint > room {
			return 0, errors.Wrap(ErrOutOfMemory, "allocate in nursery").Str("class", c.FullName())
		}
		obj = h.nursery.next
		h.nursery.next = obj.Add(footprint)
		h.nursery.noteScanStart(obj)
		if guarded {
			_ = h.space.Store(object.CanaryAt(obj, aligned), object.Canary)
		}
	case SpaceMajor, SpacePinnedChunk:
		if size > h.cfg.MaxSmallObjectSize {
			return 0, errors.Wrap(ErrWrongSpace, "allocate in major heap").Uint64("size", size)
		}
		next, arena := &h.major.next, h.major.arena
		if space == SpacePinnedChunk {
			next, arena = &h.major.nextPinned, h.major.pinned
		}
		if aligned > arena.End().Sub(*next) {
			return 0, errors.Wrapf(ErrOutOfMemory, "allocate in %s", space).Str("class", c.FullName())
		}
		obj = *next
		*next = obj.Add(aligned)
		h.major.add(obj, aligned)
	case SpaceLOS:
		if size <= h.cfg.MaxSmallObjectSize {
			return 0, errors.Wrap(ErrWrongSpace, "allocate in los").Uint64("size", size)
		}
		room := h.los.arena.End().Sub(h.los.next)
		var pages uint64
		if aligned <= room {
			pages = (aligned + losAlign - 1) / losAlign * losAlign
		}
		if pages == 0 || pages > room {
			return 0, errors.Wrap(ErrOutOfMemory, "allocate in los").Str("class", c.FullName())
		}
		obj = h.los.next
		h.los.next = obj.Add(pages)
		h.los.objects = append(h.los.objects, &largeObject{start: obj, size: aligned, cards: heap.NewCards(obj, aligned)})
	default:
		return 0, errors.Newf("unknown space %d", space)
	}

	if err := h.space.Store(obj, uint64(heap.MakeHeader(vt))); err != nil {
		return 0, errors.Wrap(err, "write header")
	}
	if c.Desc.IsArray() {
		if err := h.space.Store(obj.Add(descr.ArrayLengthOffset), length); err != nil {
			return 0, errors.Wrap(err, "write array length")
		}
	}
	return obj, nil
}

// MustAlloc is Alloc that panics on failure, for fixtures
func (h *Heap) MustAlloc(space SpaceKind, c *object.Class, length uint64) heap.Addr {
	obj, err := h.Alloc(space, c, length)
	if err != nil {
		panic(err)
	}
	return obj
}

// WriteRef stores target into the slot at offset of obj through the write
// barrier: old-to-young stores enter the remembered set and old-to-old
// stores dirty the source object's mod-union card
func (h *Heap) WriteRef(obj heap.Addr, offset uint64, target heap.Addr) error {
	slot := obj.Add(offset)
	if err := h.space.Store(slot, uint64(target)); err != nil {
		return errors.Wrap(err, "write reference")
	}
	if target == 0 || h.nursery.Contains(obj) {
		return nil
	}
	if h.nursery.Contains(target) {
		h.remset.Add(slot)
		return nil
	}
	if cards := h.cards(obj); cards != nil {
		cards.Mark(obj, slot)
	}
	return nil
}

// SetRef stores target into the slot at offset of obj bypassing the barrier
func (h *Heap) SetRef(obj heap.Addr, offset uint64, target heap.Addr) error {
	return h.StoreWord(obj.Add(offset), uint64(target))
}

// StoreWord writes any word, for corrupting headers, canaries and slots
func (h *Heap) StoreWord(p heap.Addr, v uint64) error {
	if err := h.space.Store(p, v); err != nil {
		return errors.Wrap(err, "store word")
	}
	return nil
}

func (h *Heap) cards(obj heap.Addr) heap.Cards {
	if c := h.major.ModUnionForObject(obj); c != nil {
		return c
	}
	return h.los.ModUnionForObject(obj)
}

// ClearCards clears the mod-union cards of obj
func (h *Heap) ClearCards(obj heap.Addr) {
	if c := h.cards(obj); c != nil {
		c.Clear()
	}
}

// DropCards detaches the mod-union cards of obj
func (h *Heap) DropCards(obj heap.Addr) {
	if o := h.major.lookup(obj); o != nil {
		o.cards = nil
	}
	if o := h.los.find(obj); o != nil && o.start == obj {
		o.cards = nil
	}
}

// ForgetRemset removes slot from the remembered set
func (h *Heap) ForgetRemset(slot heap.Addr) {
	h.remset.Remove(slot)
}

// Pin sets the pinned bit of obj. Large objects are also marked pinned in
// their LOS record.
func (h *Heap) Pin(obj heap.Addr) error {
	return h.setPinned(obj, true)
}

// Unpin clears the pinned bit of obj
func (h *Heap) Unpin(obj heap.Addr) error {
	return h.setPinned(obj, false)
}

func (h *Heap) setPinned(obj heap.Addr, pinned bool) error {
	if o := h.los.find(obj); o != nil && o.start == obj {
		o.pinned = pinned
	}
	return h.StoreWord(obj, uint64(h.model.Header(obj).WithPinned(pinned)))
}

// Forward replaces the header of obj with a forwarding pointer to dst
func (h *Heap) Forward(obj, dst heap.Addr) error {
	return h.StoreWord(obj, uint64(heap.ForwardingHeader(dst)))
}

// Mark marks a major object live or a large object pinned
func (h *Heap) Mark(obj heap.Addr) error {
	if o := h.major.lookup(obj); o != nil {
		o.live = true
		return nil
	}
	if o := h.los.find(obj); o != nil && o.start == obj {
		o.pinned = true
		return nil
	}
	return errors.Wrap(ErrUnknownObject, "mark").Str("object", obj.String())
}

// Free turns a major object into unswept garbage
func (h *Heap) Free(obj heap.Addr) error {
	o := h.major.objects[obj]
	if o == nil {
		return errors.Wrap(ErrUnknownObject, "free").Str("object", obj.String())
	}
	o.freed = true
	return nil
}

// Cement exempts obj from remembered-set requirements
func (h *Heap) Cement(obj heap.Addr) {
	h.cement.Add(obj)
}

// SetScanStart records an extra nursery scan start
func (h *Heap) SetScanStart(p heap.Addr) {
	h.nursery.scanStarts = append(h.nursery.scanStarts, p)
}

// AddRoot registers a root range of words words in the static area
func (h *Heap) AddRoot(t verify.RootType, desc descr.RootDescriptor, words uint64) (*verify.RootRecord, error) {
	size := words * heap.WordSize
	if h.staticNext.Add(size) > h.static.End() {
		return nil, errors.Wrap(ErrOutOfMemory, "allocate root range")
	}
	r := &verify.RootRecord{Start: h.staticNext, End: h.staticNext.Add(size), Desc: desc, Type: t}
	h.staticNext = r.End
	h.roots.byType[t] = append(h.roots.byType[t], r)
	return r, nil
}

// SetRootSlot stores value into word i of root r
func (h *Heap) SetRootSlot(r *verify.RootRecord, i uint64, value heap.Addr) error {
	slot := r.Start.Add(i * heap.WordSize)
	if slot >= r.End {
		return errors.Newf("root slot %d out of range", i).Str("root", r.Start.String())
	}
	return h.StoreWord(slot, uint64(value))
}

// AddThread registers a stopped thread with a stack of words words
func (h *Heap) AddThread(id uint64, words uint64, regs []uint64) (*verify.Thread, error) {
	size := words * heap.WordSize
	if h.stackNext.Add(size) > h.stack.End() {
		return nil, errors.Wrap(ErrOutOfMemory, "allocate thread stack")
	}
	t := &verify.Thread{ID: id, StackStart: h.stackNext, StackEnd: h.stackNext.Add(size), Regs: regs}
	h.stackNext = t.StackEnd
	h.threads.threads = append(h.threads.threads, t)
	return t, nil
}

// SetStackSlot stores value into word i of t's stack
func (h *Heap) SetStackSlot(t *verify.Thread, i uint64, value heap.Addr) error {
	slot := t.StackStart.Add(i * heap.WordSize)
	if slot >= t.StackEnd {
		return errors.Newf("stack slot %d out of range", i)
	}
	return h.StoreWord(slot, uint64(value))
}
