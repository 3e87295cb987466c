// Package guard provides keyed reentrancy guards.
//
// A Keyed guard admits one call chain per key at a time. The keys held
// by a chain travel in its context, so a call that re-enters the same
// key further down the chain fails with lootbox.ErrReentrant instead of
// deadlocking, while an unrelated chain simply waits its turn.
package guard

import (
	"context"
	"sort"
	"sync"

	"github.com/blockberries/lootbox"
)

// Keyed guards a set of keys.
type Keyed[K comparable] struct {
	name  string
	mu    sync.Mutex
	locks map[K]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// held is the immutable list of keys a chain holds for one guard.
type held[K comparable] struct {
	key    K
	parent *held[K]
}

type ctxKey struct{ guard any }

// New returns an empty guard. name appears in reentrancy errors.
func New[K comparable](name string) *Keyed[K] {
	return &Keyed[K]{name: name, locks: make(map[K]*entry)}
}

// Holds reports whether the chain of ctx already holds key.
func (g *Keyed[K]) Holds(ctx context.Context, key K) bool {
	h, _ := ctx.Value(ctxKey{g}).(*held[K])
	for ; h != nil; h = h.parent {
		if h.key == key {
			return true
		}
	}
	return false
}

// Enter acquires keys for the chain of ctx. It returns the context to
// pass down the chain and a release function. Keys are locked in the
// order given by less, so two chains entering overlapping key sets
// cannot deadlock each other.
func (g *Keyed[K]) Enter(ctx context.Context, less func(a, b K) bool, keys ...K) (context.Context, func(), error) {
	for _, k := range keys {
		if g.Holds(ctx, k) {
			return ctx, func() {}, lootbox.NewError(lootbox.CodeReentrant,
				"%s: reentrant call for %v", g.name, k)
		}
	}
	ordered := append([]K(nil), keys...)
	if less != nil {
		sort.Slice(ordered, func(i, j int) bool { return less(ordered[i], ordered[j]) })
	}
	ordered = dedupe(ordered)

	h, _ := ctx.Value(ctxKey{g}).(*held[K])
	entries := make([]*entry, 0, len(ordered))
	for _, k := range ordered {
		e := g.acquire(k)
		entries = append(entries, e)
		h = &held[K]{key: k, parent: h}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			for i := len(ordered) - 1; i >= 0; i-- {
				g.release(ordered[i], entries[i])
			}
		})
	}
	return context.WithValue(ctx, ctxKey{g}, h), release, nil
}

func (g *Keyed[K]) acquire(k K) *entry {
	g.mu.Lock()
	e := g.locks[k]
	if e == nil {
		e = &entry{}
		g.locks[k] = e
	}
	e.refs++
	g.mu.Unlock()
	e.mu.Lock()
	return e
}

func (g *Keyed[K]) release(k K, e *entry) {
	e.mu.Unlock()
	g.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(g.locks, k)
	}
	g.mu.Unlock()
}

func dedupe[K comparable](keys []K) []K {
	seen := make(map[K]bool, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
