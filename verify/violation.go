// ABOUTME: The single error taxonomy of the verifier
// ABOUTME: Individual violations and the pass failure that groups them

package verify

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirkon/errors"

	"github.com/prateek/heapcheck/heap"
)

// ErrStructuralViolation matches every violation and every failed pass
const ErrStructuralViolation errors.Const = "structural heap violation"

// ViolationKind classifies a violation
type ViolationKind uint8

const (
	MissingRemset ViolationKind = iota + 1
	MissingModUnion
	NoModUnionCards
	InvalidPointer
	UnloadableVTable
	BadHeader
	CanaryCorrupted
	ScanStartInsideObject
	ForwardedInNursery
	PinnedInNursery
	UnpinnedInNursery
	UnmarkedTarget
	CrossDomainRef
	RootInDomain
	BridgeMismatch
)

var violationKindNames = map[ViolationKind]string{
	MissingRemset:         "missing-remset",
	MissingModUnion:       "missing-mod-union",
	NoModUnionCards:       "no-mod-union-cards",
	InvalidPointer:        "invalid-pointer",
	UnloadableVTable:      "unloadable-vtable",
	BadHeader:             "bad-header",
	CanaryCorrupted:       "canary-corrupted",
	ScanStartInsideObject: "scan-start-inside-object",
	ForwardedInNursery:    "forwarded-in-nursery",
	PinnedInNursery:       "pinned-in-nursery",
	UnpinnedInNursery:     "unpinned-in-nursery",
	UnmarkedTarget:        "unmarked-target",
	CrossDomainRef:        "cross-domain-ref",
	RootInDomain:          "root-in-domain",
	BridgeMismatch:        "bridge-mismatch",
}

func (k ViolationKind) String() string {
	if n, ok := violationKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("violation(%d)", uint8(k))
}

// Violation is one broken invariant. Object, Offset and Target locate the
// offending slot when the violation concerns a reference.
type Violation struct {
	Kind        ViolationKind
	Check       string
	Pass        uuid.UUID
	Object      heap.Addr
	Class       string
	Offset      uint64
	Field       string
	Target      heap.Addr
	TargetClass string
	Detail      string
	// Description classifies Target for invalid pointers
	Description *Description
	// Referrers lists precise references to Object, for cross-domain reports
	Referrers []Reference
}

func (v *Violation) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", v.Kind)
	if v.Object != 0 {
		fmt.Fprintf(&b, " in %s", v.Object)
		if v.Class != "" {
			fmt.Fprintf(&b, " (%s)", v.Class)
		}
	}
	if v.Target != 0 {
		fmt.Fprintf(&b, " at offset %d", v.Offset)
		if v.Field != "" {
			fmt.Fprintf(&b, " (%s)", v.Field)
		}
		fmt.Fprintf(&b, " to %s", v.Target)
		if v.TargetClass != "" {
			fmt.Fprintf(&b, " (%s)", v.TargetClass)
		}
	}
	if v.Detail != "" {
		fmt.Fprintf(&b, ": %s", v.Detail)
	}
	return b.String()
}

// Is makes every violation match ErrStructuralViolation
func (v *Violation) Is(target error) bool {
	return target == error(ErrStructuralViolation)
}

// Failure is returned by a pass that found violations and had no sink to
// record them in
type Failure struct {
	Check      string
	Pass       uuid.UUID
	Violations []*Violation
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s: %s check found %d violation(s)", ErrStructuralViolation, f.Check, len(f.Violations))
	if len(f.Violations) > 0 {
		msg += ", first: " + f.Violations[0].Error()
	}
	return msg
}

// Is makes every failure match ErrStructuralViolation
func (f *Failure) Is(target error) bool {
	return target == error(ErrStructuralViolation)
}

// Kinds returns the violation kinds of the failure in report order
func (f *Failure) Kinds() []ViolationKind {
	kinds := make([]ViolationKind, 0, len(f.Violations))
	for _, v := range f.Violations {
		kinds = append(kinds, v.Kind)
	}
	return kinds
}
