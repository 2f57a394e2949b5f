// ABOUTME: Diagnostic sinks that turn violations into recorded events
// ABOUTME: A verifier with a sink records violations instead of aborting

package verify

import "sync"

//go:generate mockgen -destination=mocks/sink.go -package=mocks -mock_names Sink=SinkMock github.com/prateek/heapcheck/verify Sink

// Sink records violations as events
type Sink interface {
	Record(v *Violation)
}

// Collector keeps every recorded violation in memory
type Collector struct {
	mu         sync.Mutex
	violations []*Violation
}

// Record stores v
func (c *Collector) Record(v *Violation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.violations = append(c.violations, v)
}

// Violations returns the recorded violations in order
func (c *Collector) Violations() []*Violation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Violation, len(c.violations))
	copy(out, c.violations)
	return out
}

// Reset forgets every recorded violation
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.violations = nil
}

// Sinks fans a violation out to several sinks
type Sinks []Sink

// Record forwards v to every sink
func (s Sinks) Record(v *Violation) {
	for _, sink := range s {
		sink.Record(v)
	}
}
