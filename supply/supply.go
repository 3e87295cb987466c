// Package supply implements per-token mint accounting and cap
// enforcement.
//
// The Ledger is the sole owner of the minted counters. Every successful
// reservation is persisted through Counters before Reserve returns, so a
// caller that goes on to perform external side effects always does so
// against already-updated, durable state.
package supply

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/blockberries/lootbox"
	"github.com/blockberries/lootbox/types"
)

// Counters is the durable store behind a Ledger.
type Counters interface {
	// LoadCounters returns every persisted minted counter.
	LoadCounters(ctx context.Context) (map[types.TokenID]uint64, error)

	// StoreCounters writes the given counters atomically: either all
	// values land or none do.
	StoreCounters(ctx context.Context, minted map[types.TokenID]uint64) error
}

// Ledger tracks minted-so-far per token against optional caps.
type Ledger struct {
	mu     sync.RWMutex
	caps   map[types.TokenID]*uint64
	minted map[types.TokenID]uint64
	store  Counters
}

// New creates a Ledger for the given caps (nil value = uncapped) and
// loads the persisted counters from store.
//
// A persisted counter above its cap is reported as a configuration
// error: the catalog must never shrink a cap below what was minted.
func New(ctx context.Context, caps map[types.TokenID]*uint64, store Counters) (*Ledger, error) {
	minted, err := store.LoadCounters(ctx)
	if err != nil {
		return nil, fmt.Errorf("supply: load counters: %w", err)
	}
	l := &Ledger{
		caps:   make(map[types.TokenID]*uint64, len(caps)),
		minted: make(map[types.TokenID]uint64, len(caps)),
		store:  store,
	}
	for token, c := range caps {
		l.caps[token] = c
	}
	for token, n := range minted {
		c, known := l.caps[token]
		if !known {
			// Counters of tokens dropped from the catalog are kept so
			// they are not lost on the next write.
			l.minted[token] = n
			continue
		}
		if c != nil && n > *c {
			return nil, lootbox.NewError(lootbox.CodeInvalidConfig,
				"%s: minted %d exceeds configured cap %d", token, n, *c)
		}
		l.minted[token] = n
	}
	return l, nil
}

// Known reports whether token has a configured cap entry.
func (l *Ledger) Known(token types.TokenID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.caps[token]
	return ok
}

// Reserve records amount more units of token as minted.
func (l *Ledger) Reserve(ctx context.Context, token types.TokenID, amount uint64) error {
	return l.ReserveBatch(ctx, map[types.TokenID]uint64{token: amount})
}

// ReserveBatch reserves several tokens at once. If any token would
// exceed its cap, nothing is reserved.
func (l *Ledger) ReserveBatch(ctx context.Context, amounts map[types.TokenID]uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make(map[types.TokenID]uint64, len(amounts))
	for _, token := range sortedTokens(amounts) {
		amount := amounts[token]
		if amount == 0 {
			continue
		}
		c, known := l.caps[token]
		if !known {
			return unknownToken(token)
		}
		cur := l.minted[token]
		if cur > math.MaxUint64-amount {
			return lootbox.WithMetadata(lootbox.CodeSupplyExhausted,
				fmt.Sprintf("%s: counter overflow", token),
				map[string]string{"token": token.String()})
		}
		if c != nil && cur+amount > *c {
			return lootbox.WithMetadata(lootbox.CodeSupplyExhausted,
				fmt.Sprintf("%s: requested %d, %d of %d remaining", token, amount, *c-cur, *c),
				map[string]string{"token": token.String()})
		}
		next[token] = cur + amount
	}
	return l.commitLocked(ctx, next)
}

// Release returns previously reserved units. It is used to undo a
// reservation whose side effects never happened.
func (l *Ledger) Release(ctx context.Context, amounts map[types.TokenID]uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make(map[types.TokenID]uint64, len(amounts))
	for _, token := range sortedTokens(amounts) {
		amount := amounts[token]
		if amount == 0 {
			continue
		}
		cur := l.minted[token]
		if amount > cur {
			return fmt.Errorf("supply: release %d of %s exceeds minted %d", amount, token, cur)
		}
		next[token] = cur - amount
	}
	return l.commitLocked(ctx, next)
}

func (l *Ledger) commitLocked(ctx context.Context, next map[types.TokenID]uint64) error {
	if len(next) == 0 {
		return nil
	}
	if err := l.store.StoreCounters(ctx, next); err != nil {
		return fmt.Errorf("supply: persist counters: %w", err)
	}
	for token, n := range next {
		l.minted[token] = n
	}
	return nil
}

// Remaining returns how many more units of token may be minted.
// Uncapped tokens report math.MaxUint64; unknown tokens report 0.
func (l *Ledger) Remaining(token types.TokenID) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, known := l.caps[token]
	if !known {
		return 0
	}
	if c == nil {
		return math.MaxUint64
	}
	cur := l.minted[token]
	if cur >= *c {
		return 0
	}
	return *c - cur
}

// Minted returns the cumulative minted amount of token.
func (l *Ledger) Minted(token types.TokenID) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.minted[token]
}

// Cap returns the cap of token and whether it is capped.
func (l *Ledger) Cap(token types.TokenID) (uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c := l.caps[token]
	if c == nil {
		return 0, false
	}
	return *c, true
}

func unknownToken(token types.TokenID) error {
	if token.IsBox() {
		return lootbox.NewError(lootbox.CodeInvalidOption, "unknown option %d", token.Option())
	}
	return lootbox.NewError(lootbox.CodeInvalidCategory, "unknown category %d", token.Category())
}

func sortedTokens(m map[types.TokenID]uint64) []types.TokenID {
	keys := make([]types.TokenID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
