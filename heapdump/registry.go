// ABOUTME: Registry for heap image parsers
// ABOUTME: Manages parser plugins and selects the appropriate parser for an image

package heapdump

import (
	"bytes"
	"io"
	"sync"

	"github.com/sirkon/errors"
)

// ErrNoParser is returned when no parser can handle the image format
const ErrNoParser errors.Const = "no parser found for image format"

// sniffSize is how much of an image parsers get to look at
const sniffSize = 4096

// parserRegistry holds registered parsers
type parserRegistry struct {
	mu      sync.RWMutex
	parsers []Parser
}

// Global registry instance
var registry = &parserRegistry{
	parsers: make([]Parser, 0),
}

// Register adds a parser to the registry
func Register(p Parser) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.parsers = append(registry.parsers, p)
}

// Open reads a heap image with the first registered parser that
// recognizes its prefix
func Open(r io.Reader) (*Image, error) {
	prefix := make([]byte, sniffSize)
	n, err := io.ReadFull(r, prefix)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, errors.Wrap(err, "read image prefix")
	}
	prefix = prefix[:n]

	registry.mu.RLock()
	defer registry.mu.RUnlock()

	for _, parser := range registry.parsers {
		if !parser.CanParse(bytes.NewReader(prefix)) {
			continue
		}
		img, err := parser.Parse(io.MultiReader(bytes.NewReader(prefix), r))
		if err != nil {
			return nil, errors.Wrap(err, "parse image")
		}
		return img, nil
	}
	return nil, ErrNoParser
}
