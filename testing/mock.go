// Package lootboxtest provides test utilities for the lootbox engine:
// in-memory collaborators, a test harness, and an invariant suite for
// option configurations.
package lootboxtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/blockberries/lootbox"
	"github.com/blockberries/lootbox/types"
)

// Compile-time interface checks.
var (
	_ lootbox.Registry = (*MockRegistry)(nil)
	_ lootbox.Ledger   = (*MemLedger)(nil)
	_ lootbox.Notifier = (*Recorder)(nil)
	_ lootbox.Entropy  = ConstEntropy(0)
	_ lootbox.Entropy  = (*SequenceEntropy)(nil)
)

// MockRegistry is an in-memory delegate registry.
type MockRegistry struct {
	mu      sync.RWMutex
	proxies map[types.Account]map[types.Account]bool

	// Err, if set, is returned by every lookup.
	Err error

	Lookups atomic.Int64
}

// NewMockRegistry returns an empty registry.
func NewMockRegistry() *MockRegistry {
	return &MockRegistry{proxies: make(map[types.Account]map[types.Account]bool)}
}

// SetProxy registers delegate as acting for owner.
func (r *MockRegistry) SetProxy(owner, delegate types.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proxies[owner] == nil {
		r.proxies[owner] = make(map[types.Account]bool)
	}
	r.proxies[owner][delegate] = true
}

// RemoveProxy revokes delegate.
func (r *MockRegistry) RemoveProxy(owner, delegate types.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.proxies[owner], delegate)
}

func (r *MockRegistry) IsDelegate(_ context.Context, owner, caller types.Account) (bool, error) {
	r.Lookups.Add(1)
	if r.Err != nil {
		return false, r.Err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.proxies[owner][caller], nil
}

type balanceKey struct {
	account types.Account
	token   types.TokenID
}

// MemLedger is an in-memory account-balance store.
//
// OnCredit, if set, runs after every successful credit with the ledger
// unlocked, so it may call back into the engine to simulate a transfer
// hook re-entering the caller.
type MemLedger struct {
	mu       sync.Mutex
	balances map[balanceKey]uint64

	OnCredit func(ctx context.Context, account types.Account, token types.TokenID, amount uint64) error

	// CreditErr, if set, is consulted before every credit; a non-nil
	// result fails the credit without effect.
	CreditErr func(account types.Account, token types.TokenID) error

	Credits atomic.Int64
	Debits  atomic.Int64
}

// NewMemLedger returns an empty ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{balances: make(map[balanceKey]uint64)}
}

func (l *MemLedger) CreditBalance(ctx context.Context, account types.Account, token types.TokenID, amount uint64) error {
	if l.CreditErr != nil {
		if err := l.CreditErr(account, token); err != nil {
			return err
		}
	}
	l.mu.Lock()
	l.balances[balanceKey{account, token}] += amount
	l.mu.Unlock()
	l.Credits.Add(1)
	if l.OnCredit != nil {
		return l.OnCredit(ctx, account, token, amount)
	}
	return nil
}

func (l *MemLedger) DebitBalance(_ context.Context, account types.Account, token types.TokenID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := balanceKey{account, token}
	if l.balances[k] < amount {
		return fmt.Errorf("memledger: debit %d %s from %s: balance %d", amount, token, account, l.balances[k])
	}
	l.balances[k] -= amount
	if l.balances[k] == 0 {
		delete(l.balances, k)
	}
	l.Debits.Add(1)
	return nil
}

func (l *MemLedger) BalanceOf(_ context.Context, account types.Account, token types.TokenID) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[balanceKey{account, token}], nil
}

// Balance is BalanceOf without a context or error, for assertions.
func (l *MemLedger) Balance(account types.Account, token types.TokenID) uint64 {
	n, _ := l.BalanceOf(context.Background(), account, token)
	return n
}

// MemCounters is an in-memory supply.Counters.
type MemCounters struct {
	mu     sync.Mutex
	minted map[types.TokenID]uint64

	// FailStore, if set, is returned by StoreCounters before any change.
	FailStore error
}

// NewMemCounters returns an empty counter store.
func NewMemCounters() *MemCounters {
	return &MemCounters{minted: make(map[types.TokenID]uint64)}
}

func (c *MemCounters) LoadCounters(context.Context) (map[types.TokenID]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[types.TokenID]uint64, len(c.minted))
	for k, v := range c.minted {
		out[k] = v
	}
	return out, nil
}

func (c *MemCounters) StoreCounters(_ context.Context, minted map[types.TokenID]uint64) error {
	if c.FailStore != nil {
		return c.FailStore
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range minted {
		c.minted[k] = v
	}
	return nil
}

// Recorder collects every notified event.
type Recorder struct {
	mu     sync.Mutex
	events []types.Event

	// Err, if set, is returned after recording.
	Err error
}

func (r *Recorder) Notify(_ context.Context, ev types.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return r.Err
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Event(nil), r.events...)
}

// OfKind returns the recorded events of one kind.
func (r *Recorder) OfKind(kind string) []types.Event {
	var out []types.Event
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// ConstEntropy always yields the same value. It models the worst
// possible entropy source.
type ConstEntropy uint64

func (c ConstEntropy) Uint64() uint64 { return uint64(c) }

// SequenceEntropy cycles through a fixed list of values.
type SequenceEntropy struct {
	mu     sync.Mutex
	Values []uint64
	next   int
}

func (s *SequenceEntropy) Uint64() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Values) == 0 {
		return 0
	}
	v := s.Values[s.next%len(s.Values)]
	s.next++
	return v
}

// MemGenesis is an in-memory genesis marker.
type MemGenesis struct {
	done atomic.Bool

	mu        sync.Mutex
	preMinted map[types.TokenID]bool
}

func (g *MemGenesis) GenesisDone(context.Context) (bool, error) { return g.done.Load(), nil }

func (g *MemGenesis) MarkGenesis(context.Context) error {
	g.done.Store(true)
	return nil
}

func (g *MemGenesis) PreMinted(_ context.Context, token types.TokenID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.preMinted[token], nil
}

func (g *MemGenesis) MarkPreMinted(_ context.Context, token types.TokenID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.preMinted == nil {
		g.preMinted = make(map[types.TokenID]bool)
	}
	g.preMinted[token] = true
	return nil
}
