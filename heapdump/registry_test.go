// ABOUTME: Tests for the parser registry system
// ABOUTME: Validates parser registration, sniffing and selection

package heapdump

import (
	"io"
	"strings"
	"testing"

	"github.com/sirkon/errors"

	"github.com/prateek/heapcheck/heap"
)

// mockParser is a test parser implementation
type mockParser struct {
	name   string
	parsed int
}

func (p *mockParser) CanParse(r io.Reader) bool {
	// Check if the prefix contains the parser name
	buf := make([]byte, 100)
	n, _ := r.Read(buf)
	return strings.Contains(string(buf[:n]), p.name)
}

func (p *mockParser) Parse(r io.Reader) (*Image, error) {
	p.parsed++
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return &Image{Objects: map[string]heap.Addr{p.name: heap.Addr(len(data))}}, nil
}

func resetRegistry(t *testing.T) {
	saved := registry
	registry = &parserRegistry{
		parsers: make([]Parser, 0),
	}
	t.Cleanup(func() { registry = saved })
}

func TestRegister(t *testing.T) {
	resetRegistry(t)

	Register(&mockParser{name: "parser1"})
	Register(&mockParser{name: "parser2"})

	if len(registry.parsers) != 2 {
		t.Errorf("Expected 2 parsers registered, got %d", len(registry.parsers))
	}
}

func TestOpen(t *testing.T) {
	resetRegistry(t)

	Register(&mockParser{name: "json"})
	Register(&mockParser{name: "binary"})

	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{
			name:    "JSON image",
			content: "json image data",
			wantErr: false,
		},
		{
			name:    "Binary image",
			content: "binary image data",
			wantErr: false,
		},
		{
			name:    "Unknown format",
			content: "unknown format",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(strings.NewReader(tt.content))

			if tt.wantErr && !errors.Is(err, ErrNoParser) {
				t.Errorf("Expected ErrNoParser, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestOpenPassesWholeStream(t *testing.T) {
	resetRegistry(t)
	p := &mockParser{name: "big"}
	Register(p)

	// longer than the sniffed prefix
	content := "big" + strings.Repeat("x", 3*sniffSize)
	img, err := Open(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got := img.Objects["big"]; got != heap.Addr(len(content)) {
		t.Errorf("Parser saw %d bytes, want %d", got, len(content))
	}
}

func TestParserSelection(t *testing.T) {
	resetRegistry(t)

	// The first parser recognizing the prefix wins
	fallback := &mockParser{name: "data"}
	specific := &mockParser{name: "specific"}
	Register(specific)
	Register(fallback)

	if _, err := Open(strings.NewReader("specific format data")); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if specific.parsed != 1 || fallback.parsed != 0 {
		t.Errorf("Expected only the specific parser to run, got specific=%d fallback=%d", specific.parsed, fallback.parsed)
	}
}

func TestThreadSafeRegistry(t *testing.T) {
	resetRegistry(t)

	// Concurrent registration should be safe
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			Register(&mockParser{name: string(rune('a' + id))})
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	if len(registry.parsers) != 10 {
		t.Errorf("Expected 10 parsers after concurrent registration, got %d", len(registry.parsers))
	}
}
