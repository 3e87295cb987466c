// Package server provides the service-side wrapper that enforces the
// lootbox lifecycle and totally orders state-mutating calls.
package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/blockberries/lootbox"
)

// lifecycleState represents a state in the lootbox lifecycle state machine.
type lifecycleState uint32

const (
	// stateInit: waiting for Start. No other calls allowed.
	stateInit lifecycleState = iota
	// stateStarting: Start has been called and genesis is running.
	stateStarting
	// stateReady: accepting calls. Queries run concurrently; Mint and
	// Unpack take the sequencing lock.
	stateReady
	// stateMutating: a Mint or Unpack holds the sequencing lock.
	stateMutating
	// stateClosed: Close has been called. Terminal.
	stateClosed
)

func (s lifecycleState) String() string {
	switch s {
	case stateInit:
		return "Init"
	case stateStarting:
		return "Starting"
	case stateReady:
		return "Ready"
	case stateMutating:
		return "Mutating"
	case stateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// sequencedKey marks a context as running inside a sequenced call of a
// given guard.
type sequencedKey struct{ g *LifecycleGuard }

// LifecycleGuard enforces the lifecycle state machine.
type LifecycleGuard struct {
	state atomic.Uint32
	// Mutex for sequential calls (Mint, Unpack).
	seqMu sync.Mutex
	// Tracks whether Start has completed (for concurrent call gating).
	started atomic.Bool
}

// NewLifecycleGuard creates a guard in the Init state.
func NewLifecycleGuard() *LifecycleGuard {
	g := &LifecycleGuard{}
	g.state.Store(uint32(stateInit))
	return g
}

// State returns the current lifecycle state.
func (g *LifecycleGuard) State() string {
	return lifecycleState(g.state.Load()).String()
}

// AcquireStart transitions Init → Starting.
func (g *LifecycleGuard) AcquireStart() error {
	if !g.state.CompareAndSwap(uint32(stateInit), uint32(stateStarting)) {
		return lootbox.NewError(lootbox.CodeNotReady, "Start called in state %s (expected Init)",
			lifecycleState(g.state.Load()))
	}
	return nil
}

// CompleteStart transitions Starting → Ready and enables concurrent
// calls.
func (g *LifecycleGuard) CompleteStart() {
	g.state.Store(uint32(stateReady))
	g.started.Store(true)
}

// FailStart rolls back to Init if genesis fails.
func (g *LifecycleGuard) FailStart() {
	g.state.Store(uint32(stateInit))
}

// Sequenced reports whether ctx belongs to a call already holding the
// sequencing lock.
func (g *LifecycleGuard) Sequenced(ctx context.Context) bool {
	return ctx.Value(sequencedKey{g}) != nil
}

// AcquireMutation transitions Ready → Mutating, blocking while another
// mutation is in progress. The returned context marks the call chain so
// that a nested mutation (a ledger hook calling back into the service)
// proceeds without re-acquiring the lock. The release function returns
// the guard to Ready.
func (g *LifecycleGuard) AcquireMutation(ctx context.Context) (context.Context, func(), error) {
	if g.Sequenced(ctx) {
		return ctx, func() {}, nil
	}
	g.seqMu.Lock()
	if state := lifecycleState(g.state.Load()); state != stateReady {
		g.seqMu.Unlock()
		return ctx, func() {}, lootbox.NewError(lootbox.CodeNotReady, "mutation in state %s (expected Ready)", state)
	}
	g.state.Store(uint32(stateMutating))
	var once sync.Once
	release := func() {
		once.Do(func() {
			g.state.CompareAndSwap(uint32(stateMutating), uint32(stateReady))
			g.seqMu.Unlock()
		})
	}
	return context.WithValue(ctx, sequencedKey{g}, true), release, nil
}

// CheckConcurrent verifies that concurrent calls are allowed (after
// Start, before Close).
func (g *LifecycleGuard) CheckConcurrent() error {
	if !g.started.Load() {
		return lootbox.NewError(lootbox.CodeNotReady, "call before Start completed")
	}
	if lifecycleState(g.state.Load()) == stateClosed {
		return lootbox.NewError(lootbox.CodeNotReady, "call after Close")
	}
	return nil
}

// Close waits for an in-flight mutation and moves to Closed.
func (g *LifecycleGuard) Close() {
	g.seqMu.Lock()
	g.state.Store(uint32(stateClosed))
	g.seqMu.Unlock()
}

// IsReady returns true if the guard is in the Ready state.
func (g *LifecycleGuard) IsReady() bool {
	return lifecycleState(g.state.Load()) == stateReady
}
