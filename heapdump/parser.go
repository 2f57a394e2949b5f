// ABOUTME: Parser interface for heap image formats
// ABOUTME: Defines the contract for pluggable image parsers and the parsed image

// Package heapdump loads heap images into a simulated heap the verifier
// can check. Parsers register themselves and Open picks one by sniffing.
package heapdump

import (
	"io"
	"strconv"
	"strings"

	"github.com/sirkon/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/prateek/heapcheck/heap"
	"github.com/prateek/heapcheck/simheap"
	"github.com/prateek/heapcheck/verify"
)

// ErrUnknownObject is returned when a reference names no object of the image
const ErrUnknownObject errors.Const = "unknown object id"

// Parser is the interface for heap image parsers
type Parser interface {
	// CanParse checks if this parser can handle the given image format.
	// The reader is a preview: implementations read a small prefix only.
	CanParse(r io.Reader) bool

	// Parse reads the image from a fresh reader positioned at the start
	Parse(r io.Reader) (*Image, error)
}

// Image is a loaded heap with the names its objects had in the image
type Image struct {
	Heap    *simheap.Heap
	Objects map[string]heap.Addr
	// Allow holds the image's cross-domain allow rules, nil to use the defaults
	Allow verify.AllowList
}

// IDs returns the object ids in lexical order
func (img *Image) IDs() []string {
	ids := maps.Keys(img.Objects)
	slices.Sort(ids)
	return ids
}

// NameOf returns the id of the object starting at addr
func (img *Image) NameOf(addr heap.Addr) (string, bool) {
	for id, a := range img.Objects {
		if a == addr {
			return id, true
		}
	}
	return "", false
}

// Lookup resolves a reference: an object id, an id with a byte offset
// ("node+16") or a numeric address ("0x10000018")
func (img *Image) Lookup(ref string) (heap.Addr, error) {
	return resolve(ref, img.Objects)
}

func resolve(ref string, objects map[string]heap.Addr) (heap.Addr, error) {
	if ref == "" {
		return 0, nil
	}
	if ref[0] >= '0' && ref[0] <= '9' {
		v, err := strconv.ParseUint(ref, 0, 64)
		if err != nil {
			return 0, errors.Wrap(err, "parse address").Str("ref", ref)
		}
		return heap.Addr(v), nil
	}

	id, off := ref, uint64(0)
	if i := strings.LastIndexByte(ref, '+'); i > 0 {
		v, err := strconv.ParseUint(ref[i+1:], 0, 64)
		if err != nil {
			return 0, errors.Wrap(err, "parse offset").Str("ref", ref)
		}
		id, off = ref[:i], v
	}
	addr, ok := objects[id]
	if !ok {
		return 0, errors.Wrap(ErrUnknownObject, "resolve reference").Str("ref", ref)
	}
	return addr.Add(off), nil
}
