// ABOUTME: JSON heap image format: classes, objects, roots and threads
// ABOUTME: Objects and slots are named by id and resolved after allocation

package heapdump

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirkon/errors"

	"github.com/prateek/heapcheck/object"
	"github.com/prateek/heapcheck/verify"
)

// JSONFormat is the value of the leading "format" key of a JSON image
const JSONFormat = "heapcheck-image"

// JSONImage parses JSON heap images
type JSONImage struct{}

type jsonImage struct {
	Format     string           `json:"format"`
	Config     json.RawMessage  `json:"config,omitempty"`
	Classes    []jsonClass      `json:"classes"`
	Objects    []jsonObject     `json:"objects"`
	Roots      []jsonRoot       `json:"roots,omitempty"`
	Threads    []jsonThread     `json:"threads,omitempty"`
	ScanStarts []ref            `json:"scan_starts,omitempty"`
	Stores     []jsonStore      `json:"stores,omitempty"`
	Allow      verify.AllowList `json:"allow,omitempty"`
}

// jsonDescriptor is either a raw descriptor word or its fields by name
type jsonDescriptor struct {
	Word    *uint64  `json:"word,omitempty"`
	Kind    string   `json:"kind,omitempty"`
	Size    uint64   `json:"size,omitempty"`
	Skip    uint8    `json:"skip,omitempty"`
	Bitmap  uint64   `json:"bitmap,omitempty"`
	Vector  string   `json:"vector,omitempty"`
	Bitmaps []uint64 `json:"bitmaps,omitempty"`
}

type jsonField struct {
	Name   string `json:"name"`
	Offset uint64 `json:"offset"`
}

type jsonClass struct {
	Namespace  string          `json:"namespace"`
	Name       string          `json:"name"`
	Domain     object.DomainID `json:"domain,omitempty"`
	Descriptor jsonDescriptor  `json:"descriptor"`
	Fields     []jsonField     `json:"fields,omitempty"`
	Parent     string          `json:"parent,omitempty"`
	ArrayFill  bool            `json:"array_fill,omitempty"`
}

type jsonSlot struct {
	Offset uint64 `json:"offset"`
	Target ref    `json:"target"`
}

type jsonObject struct {
	ID          string     `json:"id"`
	Class       string     `json:"class"`
	Space       string     `json:"space"`
	Length      uint64     `json:"length,omitempty"`
	Pinned      bool       `json:"pinned,omitempty"`
	Marked      bool       `json:"marked,omitempty"`
	Cemented    bool       `json:"cemented,omitempty"`
	Freed       bool       `json:"freed,omitempty"`
	ForwardedTo ref        `json:"forwarded_to,omitempty"`
	Refs        []jsonSlot `json:"refs,omitempty"`
	RawRefs     []jsonSlot `json:"raw_refs,omitempty"`
}

type jsonRootDescriptor struct {
	Kind    string   `json:"kind"`
	Bitmap  uint64   `json:"bitmap,omitempty"`
	Bitmaps []uint64 `json:"bitmaps,omitempty"`
}

type jsonRoot struct {
	Type       string             `json:"type"`
	Descriptor jsonRootDescriptor `json:"descriptor"`
	Owner      *object.DomainID   `json:"owner,omitempty"`
	Slots      []ref              `json:"slots"`
}

type jsonThread struct {
	ID        uint64 `json:"id"`
	Skip      bool   `json:"skip,omitempty"`
	Stack     []ref  `json:"stack"`
	Registers []ref  `json:"registers,omitempty"`
}

// jsonStore writes a raw word, for images that capture corruption
type jsonStore struct {
	At    ref `json:"at"`
	Value ref `json:"value"`
}

// ref names a word value: an object id, "id+offset" or an address. JSON
// numbers are taken as addresses and null as zero.
type ref string

func (r *ref) UnmarshalJSON(data []byte) error {
	var n uint64
	if err := json.Unmarshal(data, &n); err == nil {
		*r = ref(fmt.Sprintf("%#x", n))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "decode reference")
	}
	*r = ref(s)
	return nil
}

// CanParse accepts documents whose first key is "format" naming this format
func (p *JSONImage) CanParse(r io.Reader) bool {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return false
	}
	key, err := dec.Token()
	if err != nil || key != "format" {
		return false
	}
	val, err := dec.Token()
	return err == nil && val == JSONFormat
}

// Parse decodes the image and replays it into a fresh simulated heap
func (p *JSONImage) Parse(r io.Reader) (*Image, error) {
	var img jsonImage
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&img); err != nil {
		return nil, errors.Wrap(err, "decode json image")
	}
	if img.Format != JSONFormat {
		return nil, errors.Newf("unexpected image format %q", img.Format)
	}
	return build(&img)
}

func init() {
	Register(&JSONImage{})
}
