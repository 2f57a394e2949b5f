// ABOUTME: Registered roots and stopped threads of the simulated heap
// ABOUTME: Root ranges live in a static area, stacks in a stack area

package simheap

import "github.com/prateek/heapcheck/verify"

// Roots keeps registered root ranges per type in registration order
type Roots struct {
	byType map[verify.RootType][]*verify.RootRecord
}

func (r *Roots) ForEachRoot(t verify.RootType, fn func(r *verify.RootRecord)) {
	for _, rec := range r.byType[t] {
		fn(rec)
	}
}

// Threads keeps stopped threads in registration order
type Threads struct {
	threads []*verify.Thread
}

func (t *Threads) ForEachThread(fn func(t *verify.Thread)) {
	for _, th := range t.threads {
		fn(th)
	}
}
