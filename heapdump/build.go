// ABOUTME: Replays a decoded JSON image into a simulated heap
// ABOUTME: Allocates objects in image order, then links, marks and corrupts them

package heapdump

import (
	"encoding/json"

	"github.com/sirkon/errors"

	"github.com/prateek/heapcheck/descr"
	"github.com/prateek/heapcheck/heap"
	"github.com/prateek/heapcheck/object"
	"github.com/prateek/heapcheck/simheap"
	"github.com/prateek/heapcheck/verify"
)

var descriptorKinds = map[string]descr.Kind{
	"run-length":       descr.KindRunLength,
	"bitmap":           descr.KindBitmap,
	"small-ptr-free":   descr.KindSmallPtrFree,
	"complex":          descr.KindComplex,
	"vector":           descr.KindVector,
	"complex-array":    descr.KindComplexArray,
	"complex-ptr-free": descr.KindComplexPtrFree,
}

var vectorKinds = map[string]descr.VectorKind{
	"":             descr.VectorPtrFree,
	"pointer-free": descr.VectorPtrFree,
	"refs":         descr.VectorRefs,
	"bitmap":       descr.VectorBitmap,
}

var rootKinds = map[string]descr.RootKind{
	"conservative": descr.RootConservative,
	"bitmap":       descr.RootBitmap,
	"complex":      descr.RootComplex,
	"run-length":   descr.RootRunLength,
}

var spaceKinds = map[string]simheap.SpaceKind{
	"nursery": simheap.SpaceNursery,
	"major":   simheap.SpaceMajor,
	"pinned":  simheap.SpacePinnedChunk,
	"los":     simheap.SpaceLOS,
}

var rootTypes = map[string]verify.RootType{
	"normal":   verify.RootNormal,
	"wbarrier": verify.RootWBarrier,
	"pinned":   verify.RootPinned,
}

type builder struct {
	h       *simheap.Heap
	classes map[string]*object.Class
	objects map[string]heap.Addr
}

func build(img *jsonImage) (*Image, error) {
	cfg := simheap.DefaultConfig()
	if len(img.Config) > 0 {
		if err := json.Unmarshal(img.Config, &cfg); err != nil {
			return nil, errors.Wrap(err, "decode config")
		}
	}
	h, err := simheap.New(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create heap")
	}

	b := &builder{
		h:       h,
		classes: make(map[string]*object.Class, len(img.Classes)),
		objects: make(map[string]heap.Addr, len(img.Objects)),
	}
	if err := b.defineClasses(img.Classes); err != nil {
		return nil, err
	}
	if err := b.allocate(img.Objects); err != nil {
		return nil, err
	}
	if err := b.link(img.Objects); err != nil {
		return nil, err
	}
	if err := b.addRoots(img.Roots); err != nil {
		return nil, err
	}
	if err := b.addThreads(img.Threads); err != nil {
		return nil, err
	}
	for _, s := range img.ScanStarts {
		p, err := b.resolve(s)
		if err != nil {
			return nil, errors.Wrap(err, "add scan start")
		}
		h.SetScanStart(p)
	}
	for i, st := range img.Stores {
		at, err := b.resolve(st.At)
		if err != nil {
			return nil, errors.Wrap(err, "resolve store address").Int("store", i)
		}
		v, err := b.resolve(st.Value)
		if err != nil {
			return nil, errors.Wrap(err, "resolve store value").Int("store", i)
		}
		if err := h.StoreWord(at, uint64(v)); err != nil {
			return nil, errors.Wrap(err, "apply store").Int("store", i)
		}
	}

	return &Image{Heap: h, Objects: b.objects, Allow: img.Allow}, nil
}

func (b *builder) resolve(r ref) (heap.Addr, error) {
	return resolve(string(r), b.objects)
}

func (b *builder) defineClasses(classes []jsonClass) error {
	defined := make([]*object.Class, 0, len(classes))
	for _, jc := range classes {
		d, err := b.descriptor(jc.Descriptor)
		if err != nil {
			return errors.Wrap(err, "decode class descriptor").Str("class", jc.Name)
		}
		c := &object.Class{
			Namespace: jc.Namespace,
			Name:      jc.Name,
			Desc:      d,
			Domain:    jc.Domain,
			ArrayFill: jc.ArrayFill,
		}
		for _, f := range jc.Fields {
			c.Fields = append(c.Fields, object.Field{Name: f.Name, Offset: f.Offset})
		}
		if _, dup := b.classes[c.FullName()]; dup {
			return errors.Newf("class %s defined twice", c.FullName())
		}
		b.classes[c.FullName()] = c
		defined = append(defined, c)
	}

	for i, jc := range classes {
		if jc.Parent == "" {
			continue
		}
		parent, ok := b.classes[jc.Parent]
		if !ok {
			return errors.Newf("unknown parent class %s", jc.Parent).Str("class", defined[i].FullName())
		}
		defined[i].Parent = parent
	}
	for _, c := range defined {
		b.h.RegisterClass(c)
	}
	return nil
}

func (b *builder) descriptor(jd jsonDescriptor) (descr.Descriptor, error) {
	if jd.Word != nil {
		d := descr.Decode(*jd.Word)
		if d.Kind == descr.KindInvalid {
			return d, errors.Newf("invalid descriptor word %#x", *jd.Word)
		}
		return d, nil
	}

	kind, ok := descriptorKinds[jd.Kind]
	if !ok {
		return descr.Descriptor{}, errors.Newf("unknown descriptor kind %q", jd.Kind)
	}
	vk, ok := vectorKinds[jd.Vector]
	if !ok {
		return descr.Descriptor{}, errors.Newf("unknown vector kind %q", jd.Vector)
	}
	d := descr.Descriptor{Kind: kind, Size: jd.Size, Skip: jd.Skip, Bitmap: jd.Bitmap, Vector: vk}
	if kind == descr.KindComplex || kind == descr.KindComplexArray {
		if len(jd.Bitmaps) == 0 {
			return d, errors.New("complex descriptor without bitmaps")
		}
		d.Handle = b.h.AddBitmap(jd.Bitmaps)
	}
	// rejects payloads the one-word encoding cannot hold
	if _, err := d.Encode(); err != nil {
		return d, err
	}
	return d, nil
}

func (b *builder) allocate(objects []jsonObject) error {
	for _, jo := range objects {
		if jo.ID == "" {
			return errors.New("object without id").Str("class", jo.Class)
		}
		if _, dup := b.objects[jo.ID]; dup {
			return errors.Newf("object %s defined twice", jo.ID)
		}
		c, ok := b.classes[jo.Class]
		if !ok {
			return errors.Newf("unknown class %s", jo.Class).Str("object", jo.ID)
		}
		space, ok := spaceKinds[jo.Space]
		if !ok {
			return errors.Newf("unknown space %q", jo.Space).Str("object", jo.ID)
		}
		obj, err := b.h.Alloc(space, c, jo.Length)
		if err != nil {
			return errors.Wrap(err, "allocate object").Str("object", jo.ID)
		}
		b.objects[jo.ID] = obj
	}
	return nil
}

// link stores references and applies object state. Forwarding goes last
// since it replaces the header.
func (b *builder) link(objects []jsonObject) error {
	for _, jo := range objects {
		obj := b.objects[jo.ID]
		for _, s := range jo.Refs {
			target, err := b.resolve(s.Target)
			if err != nil {
				return errors.Wrap(err, "resolve reference").Str("object", jo.ID)
			}
			if err := b.h.WriteRef(obj, s.Offset, target); err != nil {
				return errors.Wrap(err, "store reference").Str("object", jo.ID)
			}
		}
		for _, s := range jo.RawRefs {
			target, err := b.resolve(s.Target)
			if err != nil {
				return errors.Wrap(err, "resolve raw reference").Str("object", jo.ID)
			}
			if err := b.h.SetRef(obj, s.Offset, target); err != nil {
				return errors.Wrap(err, "store raw reference").Str("object", jo.ID)
			}
		}
	}

	for _, jo := range objects {
		obj := b.objects[jo.ID]
		if jo.Marked {
			if err := b.h.Mark(obj); err != nil {
				return errors.Wrap(err, "mark object").Str("object", jo.ID)
			}
		}
		if jo.Freed {
			if err := b.h.Free(obj); err != nil {
				return errors.Wrap(err, "free object").Str("object", jo.ID)
			}
		}
		if jo.Cemented {
			b.h.Cement(obj)
		}
		if jo.Pinned {
			if err := b.h.Pin(obj); err != nil {
				return errors.Wrap(err, "pin object").Str("object", jo.ID)
			}
		}
	}

	for _, jo := range objects {
		if jo.ForwardedTo == "" {
			continue
		}
		dst, err := b.resolve(jo.ForwardedTo)
		if err != nil {
			return errors.Wrap(err, "resolve forwarding address").Str("object", jo.ID)
		}
		if err := b.h.Forward(b.objects[jo.ID], dst); err != nil {
			return errors.Wrap(err, "forward object").Str("object", jo.ID)
		}
	}
	return nil
}

func (b *builder) addRoots(roots []jsonRoot) error {
	for i, jr := range roots {
		t, ok := rootTypes[jr.Type]
		if !ok {
			return errors.Newf("unknown root type %q", jr.Type).Int("root", i)
		}
		kind, ok := rootKinds[jr.Descriptor.Kind]
		if !ok {
			return errors.Newf("unknown root descriptor kind %q", jr.Descriptor.Kind).Int("root", i)
		}
		desc := descr.RootDescriptor{Kind: kind, Bitmap: jr.Descriptor.Bitmap}
		if kind == descr.RootComplex {
			desc.Handle = b.h.AddBitmap(jr.Descriptor.Bitmaps)
		}

		r, err := b.h.AddRoot(t, desc, uint64(len(jr.Slots)))
		if err != nil {
			return errors.Wrap(err, "add root").Int("root", i)
		}
		if jr.Owner != nil {
			r.Owned, r.Owner = true, *jr.Owner
		}
		for j, s := range jr.Slots {
			v, err := b.resolve(s)
			if err != nil {
				return errors.Wrap(err, "resolve root slot").Int("root", i).Int("slot", j)
			}
			if err := b.h.SetRootSlot(r, uint64(j), v); err != nil {
				return errors.Wrap(err, "store root slot").Int("root", i)
			}
		}
	}
	return nil
}

func (b *builder) addThreads(threads []jsonThread) error {
	for _, jt := range threads {
		regs := make([]uint64, 0, len(jt.Registers))
		for _, r := range jt.Registers {
			v, err := b.resolve(r)
			if err != nil {
				return errors.Wrap(err, "resolve register").Uint64("thread", jt.ID)
			}
			regs = append(regs, uint64(v))
		}
		t, err := b.h.AddThread(jt.ID, uint64(len(jt.Stack)), regs)
		if err != nil {
			return errors.Wrap(err, "add thread").Uint64("thread", jt.ID)
		}
		t.Skip = jt.Skip
		for i, s := range jt.Stack {
			v, err := b.resolve(s)
			if err != nil {
				return errors.Wrap(err, "resolve stack slot").Uint64("thread", jt.ID)
			}
			if err := b.h.SetStackSlot(t, uint64(i), v); err != nil {
				return errors.Wrap(err, "store stack slot").Uint64("thread", jt.ID)
			}
		}
	}
	return nil
}
