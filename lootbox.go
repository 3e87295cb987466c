// Package lootbox defines the boundary of a token distribution engine:
// an access-controlled minting authority with per-category supply caps,
// paired with a loot-box unpacking engine that turns box units into
// randomized item bundles of a fixed size with guaranteed minimums.
//
// The interfaces in this package are the engine's external
// collaborators (ledger, delegate registry, entropy, notifications) and
// the [Service] it exposes to callers. Concrete components live in the
// supply, access, allocator, minting and engine packages.
package lootbox

import (
	"context"
	"errors"

	"github.com/blockberries/lootbox/types"
)

// Registry is the external authorization registry binding an owner to
// its delegates. The engine only queries it.
type Registry interface {
	// IsDelegate reports whether caller may act on behalf of owner.
	IsDelegate(ctx context.Context, owner, caller types.Account) (bool, error)
}

// Ledger is the external account-balance store. The engine never keeps
// balances itself; it credits and debits through this interface after
// its own bookkeeping has been updated.
//
// Implementations may call back into the engine from within these
// methods (transfer hooks). The engine tolerates such re-entry because
// every internal mutation completes before a Ledger call is made.
type Ledger interface {
	// CreditBalance adds amount of token to account.
	CreditBalance(ctx context.Context, account types.Account, token types.TokenID, amount uint64) error

	// DebitBalance removes amount of token from account. It must fail
	// without effect if the balance is insufficient.
	DebitBalance(ctx context.Context, account types.Account, token types.TokenID, amount uint64) error

	// BalanceOf returns the balance of token held by account.
	BalanceOf(ctx context.Context, account types.Account, token types.TokenID) (uint64, error)
}

// Entropy is an opaque stream of uniformly distributed values. It may be
// of poor quality; allocation correctness never depends on it.
type Entropy interface {
	Uint64() uint64
}

// Notifier receives engine events after the state they describe has been
// committed.
type Notifier interface {
	Notify(ctx context.Context, ev types.Event) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, ev types.Event) error

// Notify calls f(ctx, ev).
func (f NotifierFunc) Notify(ctx context.Context, ev types.Event) error { return f(ctx, ev) }

// Notifiers fans an event out to every non-nil notifier. All notifiers
// are called; their errors are joined.
func Notifiers(ns ...Notifier) Notifier {
	var live []Notifier
	for _, n := range ns {
		if n != nil {
			live = append(live, n)
		}
	}
	return NotifierFunc(func(ctx context.Context, ev types.Event) error {
		var errs []error
		for _, n := range live {
			if err := n.Notify(ctx, ev); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Service is the operation surface exposed to storefronts and tools.
//
// Mint and Unpack mutate state and are totally ordered by the server;
// the read-only methods may be called concurrently at any time.
type Service interface {
	// Mint mints items or boxes on behalf of req.Caller, who must be the
	// catalog owner or one of its delegates.
	Mint(ctx context.Context, req types.MintRequest) (types.MintResult, error)

	// Unpack consumes req.Amount boxes held by req.Holder and mints the
	// randomized items to the holder.
	Unpack(ctx context.Context, req types.UnpackRequest) (types.UnpackSummary, error)

	// Remaining returns how many more units of token may be minted.
	// Uncapped tokens report math.MaxUint64.
	Remaining(ctx context.Context, token types.TokenID) (uint64, error)

	// HeldBoxes returns the number of unopened boxes of option held by
	// holder.
	HeldBoxes(ctx context.Context, holder types.Account, option types.OptionID) (uint64, error)

	// Balances reads several balances of one holder at once.
	Balances(ctx context.Context, holder types.Account, tokens []types.TokenID) ([]types.Balance, error)

	// Info describes the configured catalog.
	Info(ctx context.Context) (types.Info, error)
}

// Connection represents a transport-agnostic connection to a lootbox
// service. Both gRPC clients and in-process adapters implement this.
type Connection interface {
	Service

	// Close terminates the connection.
	Close() error
}
