// ABOUTME: Tests for the JSON heap image parser
// ABOUTME: Validates sniffing, heap replay and error handling

package heapdump

import (
	"os"
	"strings"
	"testing"

	"github.com/sirkon/deepequal"
	"github.com/sirkon/errors"

	"github.com/prateek/heapcheck/descr"
	"github.com/prateek/heapcheck/heap"
	"github.com/prateek/heapcheck/simheap"
	"github.com/prateek/heapcheck/verify"
)

func loadImage(t *testing.T, path string) *Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open image: %v", err)
	}
	defer f.Close()

	img, err := Open(f)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return img
}

func TestJSONParse(t *testing.T) {
	img := loadImage(t, "../testdata/consistent.json")
	h := img.Heap
	cfg := simheap.DefaultConfig()

	if got := len(img.Objects); got != 9 {
		t.Errorf("Expected 9 objects, got %d", got)
	}
	if !h.Config().Canaries {
		t.Error("Expected the config override to enable canaries")
	}
	if h.Config().NurserySize != cfg.NurserySize {
		t.Errorf("Expected default nursery size %d, got %d", cfg.NurserySize, h.Config().NurserySize)
	}

	young1 := img.Objects["young1"]
	if young1 != cfg.NurseryStart {
		t.Errorf("Expected young1 at the nursery start, got %s", young1)
	}
	// node plus canary
	if got := img.Objects["young2"]; got != young1.Add(32) {
		t.Errorf("Expected young2 at %s, got %s", young1.Add(32), got)
	}
	if got := img.Objects["old1"]; got != cfg.MajorStart {
		t.Errorf("Expected old1 at the major start, got %s", got)
	}
	if got := img.Objects["chunk"]; got != cfg.PinnedStart {
		t.Errorf("Expected chunk at the pinned start, got %s", got)
	}
	if got := img.Objects["large"]; got != cfg.LOSStart {
		t.Errorf("Expected large at the los start, got %s", got)
	}

	m := h.Model()
	if got := heap.Addr(m.Mem.Load(young1.Add(8))); got != img.Objects["young2"] {
		t.Errorf("Expected young1.next to be young2, got %s", got)
	}
	table := m.SafeClass(img.Objects["table"])
	if table == nil || table.Desc.Kind != descr.KindComplex {
		t.Fatalf("Expected a complex descriptor for App.Table, got %v", table)
	}

	// old1.next and large[0] point into the nursery through the barrier
	if got := h.RememberedSet().Len(); got != 2 {
		t.Errorf("Expected 2 remembered slots, got %d", got)
	}
	if !h.Major().IsObjectLive(img.Objects["old1"]) {
		t.Error("Expected old1 to be marked")
	}
	if !h.LOS().IsPinned(img.Objects["large"]) {
		t.Error("Expected the marked large object to be pinned")
	}
}

func TestJSONRootsAndThreads(t *testing.T) {
	img := loadImage(t, "../testdata/consistent.json")
	c := img.Heap.Collaborators()
	mem := img.Heap.Model().Mem

	var roots []verify.RootRecord
	var slots [][]heap.Addr
	for _, rt := range []verify.RootType{verify.RootNormal, verify.RootPinned} {
		c.Roots.ForEachRoot(rt, func(r *verify.RootRecord) {
			roots = append(roots, *r)
			var words []heap.Addr
			for s := r.Start; s < r.End; s = s.Add(heap.WordSize) {
				words = append(words, heap.Addr(mem.Load(s)))
			}
			slots = append(slots, words)
		})
	}
	if len(roots) != 3 {
		t.Fatalf("Expected 3 roots, got %d", len(roots))
	}
	if roots[0].Desc.Kind != descr.RootBitmap || roots[1].Desc.Kind != descr.RootConservative || roots[2].Type != verify.RootPinned {
		t.Errorf("Unexpected root kinds: %v", roots)
	}
	deepequal.SideBySide(t, "root slots", [][]heap.Addr{
		{img.Objects["old2"]},
		{0, img.Objects["young2"].Add(8)},
		{img.Objects["table"]},
	}, slots)

	var threads []*verify.Thread
	c.Threads.ForEachThread(func(th *verify.Thread) { threads = append(threads, th) })
	if len(threads) != 1 {
		t.Fatalf("Expected 1 thread, got %d", len(threads))
	}
	th := threads[0]
	if got := heap.Addr(mem.Load(th.StackStart.Add(8))); got != img.Objects["leaf"] {
		t.Errorf("Expected stack slot 1 to hold leaf, got %s", got)
	}
	if got := mem.Load(th.StackStart.Add(16)); got != 7 {
		t.Errorf("Expected stack slot 2 to hold 7, got %d", got)
	}
	deepequal.SideBySide(t, "registers", []uint64{uint64(img.Objects["young1"]), 0}, th.Regs)
}

func TestJSONBrokenImage(t *testing.T) {
	img := loadImage(t, "../testdata/broken.json")
	h := img.Heap

	holder := h.Model().SafeClass(img.Objects["holder"])
	if holder == nil || holder.Domain != 1 || holder.Desc != descr.Bitmap(16, 0b1) {
		t.Fatalf("Expected Plugin.Holder decoded from its descriptor word, got %+v", holder)
	}
	if h.RememberedSet().Len() != 0 {
		t.Error("Expected raw references to bypass the remembered set")
	}
	young := img.Objects["young"]
	if h.Model().CanaryIntact(young, 24) {
		t.Error("Expected the store to corrupt young's canary")
	}
}

func TestJSONCanParse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{
			name:    "Image header",
			content: `{"format": "heapcheck-image", "objects": []}`,
			want:    true,
		},
		{
			name:    "Truncated after header",
			content: `{"format": "heapcheck-image", "objects": [{"id": "a", "cla`,
			want:    true,
		},
		{
			name:    "Other format",
			content: `{"format": "hprof"}`,
			want:    false,
		},
		{
			name:    "Format not first",
			content: `{"objects": [], "format": "heapcheck-image"}`,
			want:    false,
		},
		{
			name:    "Non-JSON",
			content: `not json at all`,
			want:    false,
		},
		{
			name:    "Empty",
			content: ``,
			want:    false,
		},
	}

	parser := &JSONImage{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parser.CanParse(strings.NewReader(tt.content)); got != tt.want {
				t.Errorf("CanParse() = %v, want %v", got, tt.want)
			}
		})
	}
}

const imageHead = `{"format": "heapcheck-image", "classes": [{"namespace": "App", "name": "Node", "descriptor": {"kind": "bitmap", "size": 24, "bitmap": 3}}], `

func TestMalformedJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		target  error
	}{
		{
			name:    "Invalid JSON syntax",
			content: `{"format": "heapcheck-image", "objects": [}`,
		},
		{
			name:    "Unknown key",
			content: imageHead + `"objects": [], "extra": 1}`,
		},
		{
			name:    "Missing id",
			content: imageHead + `"objects": [{"class": "App.Node", "space": "nursery"}]}`,
		},
		{
			name:    "Duplicate id",
			content: imageHead + `"objects": [{"id": "a", "class": "App.Node", "space": "nursery"}, {"id": "a", "class": "App.Node", "space": "major"}]}`,
		},
		{
			name:    "Unknown class",
			content: imageHead + `"objects": [{"id": "a", "class": "App.Missing", "space": "nursery"}]}`,
		},
		{
			name:    "Unknown space",
			content: imageHead + `"objects": [{"id": "a", "class": "App.Node", "space": "stack"}]}`,
		},
		{
			name:    "Small object in los",
			content: imageHead + `"objects": [{"id": "a", "class": "App.Node", "space": "los"}]}`,
			target:  simheap.ErrWrongSpace,
		},
		{
			name:    "Dangling reference",
			content: imageHead + `"objects": [{"id": "a", "class": "App.Node", "space": "major", "refs": [{"offset": 8, "target": "b"}]}]}`,
			target:  ErrUnknownObject,
		},
		{
			name:    "User root",
			content: imageHead + `"objects": [], "roots": [{"type": "normal", "descriptor": {"kind": "user"}, "slots": []}]}`,
		},
		{
			name:    "Oversized descriptor",
			content: `{"format": "heapcheck-image", "classes": [{"name": "Big", "descriptor": {"kind": "bitmap", "size": 70000}}], "objects": []}`,
			target:  descr.ErrDoesNotFit,
		},
		{
			name:    "Array length overflows",
			content: `{"format": "heapcheck-image", "classes": [{"namespace": "System", "name": "Object[]", "descriptor": {"kind": "vector", "size": 8, "vector": "refs"}}], "objects": [{"id": "a", "class": "System.Object[]", "space": "major", "length": 2305843009213693952}]}`,
			target:  simheap.ErrOutOfMemory,
		},
		{
			name:    "Unknown parent",
			content: `{"format": "heapcheck-image", "classes": [{"name": "Kid", "parent": "Nobody", "descriptor": {"kind": "small-ptr-free", "size": 8}}], "objects": []}`,
		},
	}

	parser := &JSONImage{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.Parse(strings.NewReader(tt.content))
			if err == nil {
				t.Fatal("Expected error for malformed image")
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("Expected %v, got %v", tt.target, err)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	img := &Image{Objects: map[string]heap.Addr{"node": 0x1000, "leaf": 0x2000}}

	tests := []struct {
		ref     string
		want    heap.Addr
		wantErr bool
	}{
		{ref: "node", want: 0x1000},
		{ref: "node+16", want: 0x1010},
		{ref: "leaf+0x8", want: 0x2008},
		{ref: "0x3000", want: 0x3000},
		{ref: "4096", want: 0x1000},
		{ref: "", want: 0},
		{ref: "missing", wantErr: true},
		{ref: "node+x", wantErr: true},
		{ref: "0xzz", wantErr: true},
	}
	for _, tt := range tests {
		got, err := img.Lookup(tt.ref)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Lookup(%q) expected an error", tt.ref)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("Lookup(%q) = %s, %v; want %s", tt.ref, got, err, tt.want)
		}
	}

	if name, ok := img.NameOf(0x2000); !ok || name != "leaf" {
		t.Errorf("NameOf(0x2000) = %q, %v", name, ok)
	}
	deepequal.SideBySide(t, "ids", []string{"leaf", "node"}, img.IDs())
}
