// ABOUTME: Equality of two bridge results up to SCC relabeling
// ABOUTME: Checks injectivity, group sizes and translated cross-references

package bridge

import (
	"fmt"

	"github.com/sirkon/errors"
	"golang.org/x/exp/slices"

	"github.com/prateek/heapcheck/graph"
)

// ErrMismatch is wrapped by every difference Compare reports
const ErrMismatch errors.Const = "bridge results differ"

// Compare reports whether b is a relabeling of a. Objects are mapped to
// their A group, every B group must map onto a single A group of the same
// size, and B's xrefs translated into A's labels must equal A's xrefs.
func Compare(a, b *Result) error {
	if len(a.SCCs) != len(b.SCCs) {
		return errors.Wrap(ErrMismatch, "scc count").
			Int("a", len(a.SCCs)).
			Int("b", len(b.SCCs))
	}
	if len(a.XRefs) != len(b.XRefs) {
		return errors.Wrap(ErrMismatch, "xref count").
			Int("a", len(a.XRefs)).
			Int("b", len(b.XRefs))
	}

	groupOf := make(map[graph.ObjID]int, a.Len())
	for i, s := range a.SCCs {
		for _, obj := range s.Objects {
			if prev, ok := groupOf[obj]; ok && prev != i {
				return errors.Wrap(ErrMismatch, "object in two sccs of the first result").
					Str("object", obj.String()).
					Int("scc", prev).
					Int("other-scc", i)
			}
			groupOf[obj] = i
		}
	}

	bToA := make([]int, len(b.SCCs))
	claimed := make(map[int]int, len(b.SCCs))
	seen := make(map[graph.ObjID]bool, a.Len())
	for j, s := range b.SCCs {
		if len(s.Objects) == 0 {
			return errors.Wrap(ErrMismatch, "empty scc in the second result").Int("scc", j)
		}
		ai, ok := groupOf[s.Objects[0]]
		if !ok {
			return errors.Wrap(ErrMismatch, "object missing from the first result").
				Str("object", s.Objects[0].String())
		}
		for _, obj := range s.Objects {
			if seen[obj] {
				return errors.Wrap(ErrMismatch, "object repeated in the second result").
					Str("object", obj.String())
			}
			seen[obj] = true
			other, ok := groupOf[obj]
			if !ok || other != ai {
				return errors.Wrap(ErrMismatch, "scc members split across groups").
					Int("scc", j).
					Str("object", obj.String())
			}
		}
		if len(a.SCCs[ai].Objects) != len(s.Objects) {
			return errors.Wrap(ErrMismatch, "scc size").
				Int("scc", j).
				Int("a", len(a.SCCs[ai].Objects)).
				Int("b", len(s.Objects))
		}
		if prev, ok := claimed[ai]; ok {
			return errors.Wrap(ErrMismatch, "two sccs of the second result map to one group").
				Int("scc", prev).
				Int("other-scc", j)
		}
		claimed[ai] = j
		bToA[j] = ai
	}

	translated := make([]XRef, 0, len(b.XRefs))
	for _, x := range b.XRefs {
		if x.Src < 0 || x.Src >= len(bToA) || x.Dst < 0 || x.Dst >= len(bToA) {
			return errors.Wrap(ErrMismatch, "xref index out of range").
				Int("src", x.Src).
				Int("dst", x.Dst)
		}
		translated = append(translated, XRef{Src: bToA[x.Src], Dst: bToA[x.Dst]})
	}

	as := sortedXRefs(a.XRefs)
	bs := sortedXRefs(translated)
	for i := range as {
		if err := checkXRef(as, i, "first"); err != nil {
			return err
		}
		if err := checkXRef(bs, i, "second"); err != nil {
			return err
		}
		if as[i] != bs[i] {
			return errors.Wrap(ErrMismatch, "xref").
				Int("index", i).
				Str("a", xrefString(as[i])).
				Str("b", xrefString(bs[i]))
		}
	}
	return nil
}

func sortedXRefs(xs []XRef) []XRef {
	out := slices.Clone(xs)
	slices.SortFunc(out, func(a, b XRef) bool {
		if a.Src != b.Src {
			return a.Src < b.Src
		}
		return a.Dst < b.Dst
	})
	return out
}

// checkXRef rejects self edges and adjacent duplicates of a sorted list
func checkXRef(xs []XRef, i int, which string) error {
	if xs[i].Src == xs[i].Dst {
		return errors.Wrapf(ErrMismatch, "self xref in the %s result", which).Int("scc", xs[i].Src)
	}
	if i > 0 && xs[i] == xs[i-1] {
		return errors.Wrapf(ErrMismatch, "duplicate xref in the %s result", which).Str("xref", xrefString(xs[i]))
	}
	return nil
}

func xrefString(x XRef) string {
	return fmt.Sprintf("%d->%d", x.Src, x.Dst)
}
