// ABOUTME: Verifier construction and functional options
// ABOUTME: Logger, sink, abort hook, allow-list and the small-object limit

// Package verify checks the structural invariants a generational collector
// relies on: remembered sets, mod-union cards, pointer validity, nursery
// layout, isolation domains and bridge partitions. Every check is a single
// read-only pass over a stopped heap.
package verify

import (
	"github.com/sirupsen/logrus"
)

// DefaultMaxSmallObjectSize is the largest object the major heap allocates;
// larger objects live in the large-object space
const DefaultMaxSmallObjectSize = 8000

// AbortFunc is called with the failure of a pass when no sink is configured
type AbortFunc func(f *Failure)

// Option configures a Verifier
type Option func(v *Verifier)

// WithLogger sets the logger passes log through
func WithLogger(log logrus.FieldLogger) Option {
	return func(v *Verifier) {
		v.log = log
	}
}

// WithSink makes passes record violations in sink instead of aborting
func WithSink(sink Sink) Option {
	return func(v *Verifier) {
		v.sink = sink
	}
}

// WithAbort replaces the default abort hook, which logs the failure at
// fatal level and exits the process
func WithAbort(abort AbortFunc) Option {
	return func(v *Verifier) {
		v.abort = abort
	}
}

// WithAllowList sets the cross-domain references the isolation check accepts
func WithAllowList(list AllowList) Option {
	return func(v *Verifier) {
		v.allow = list
	}
}

// WithMaxSmallObjectSize sets the size above which objects belong to the LOS
func WithMaxSmallObjectSize(size uint64) Option {
	return func(v *Verifier) {
		v.maxSmall = size
	}
}

// Verifier runs verification passes over one heap
type Verifier struct {
	heap     Heap
	log      logrus.FieldLogger
	sink     Sink
	abort    AbortFunc
	allow    AllowList
	maxSmall uint64
}

// New creates a verifier for h
func New(h Heap, opts ...Option) *Verifier {
	v := &Verifier{
		heap:     h,
		log:      logrus.StandardLogger(),
		allow:    DefaultAllowList(),
		maxSmall: DefaultMaxSmallObjectSize,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.abort == nil {
		log := v.log
		v.abort = func(f *Failure) {
			log.WithField("pass", f.Pass.String()).Fatal(f.Error())
		}
	}
	return v
}

// Heap returns the collaborators the verifier reads
func (v *Verifier) Heap() Heap {
	return v.heap
}
