// Package minting implements the access-controlled minting authority.
//
// Every mint follows the same order: the caller is authorized, the
// supply is reserved, and only then is the external ledger credited.
// A failed check leaves no trace; a reentrant call made from inside a
// ledger call sees the reservation already applied.
package minting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/blockberries/lootbox"
	"github.com/blockberries/lootbox/access"
	"github.com/blockberries/lootbox/guard"
	"github.com/blockberries/lootbox/supply"
	"github.com/blockberries/lootbox/types"
)

// ErrRollbackIncomplete marks a failed delivery whose already credited
// lines could not all be taken back. The supply of those lines stays
// reserved so the counters keep matching what exists.
var ErrRollbackIncomplete = errors.New("minting: rollback of delivered lines incomplete")

// guardKey scopes the reentrancy guard to one actor and one token.
type guardKey struct {
	Actor types.Account
	Token types.TokenID
}

func (k guardKey) String() string { return k.Actor.String() + "/" + k.Token.String() }

func keyLess(a, b guardKey) bool {
	if a.Token != b.Token {
		return a.Token < b.Token
	}
	return bytes.Compare(a.Actor[:], b.Actor[:]) < 0
}

// Authority mints tokens on behalf of the catalog owner and its
// delegates.
type Authority struct {
	owner    types.Account
	gate     *access.Gate
	supply   *supply.Ledger
	ledger   lootbox.Ledger
	notifier lootbox.Notifier
	guard    *guard.Keyed[guardKey]
	logger   *log.Logger
	now      func() time.Time
}

// Option configures an Authority.
type Option func(*Authority)

// WithNotifier sets the receiver of transfer events.
func WithNotifier(n lootbox.Notifier) Option {
	return func(a *Authority) { a.notifier = n }
}

// WithLogger sets the logger used for notification failures.
func WithLogger(l *log.Logger) Option {
	return func(a *Authority) { a.logger = l }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) { a.now = now }
}

// New creates an Authority for owner.
func New(owner types.Account, gate *access.Gate, sl *supply.Ledger, ledger lootbox.Ledger, opts ...Option) *Authority {
	a := &Authority{
		owner:  owner,
		gate:   gate,
		supply: sl,
		ledger: ledger,
		guard:  guard.New[guardKey]("mint"),
		logger: log.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Owner returns the account whose authority is delegated.
func (a *Authority) Owner() types.Account { return a.owner }

// Supply returns the underlying supply ledger.
func (a *Authority) Supply() *supply.Ledger { return a.supply }

// Mint mints amount units of token to recipient.
//
// It fails with ZeroAmount for a zero amount, with Unauthorized if
// caller is neither the owner nor a delegate (nothing is reserved), and
// with SupplyExhausted if the cap would be exceeded (nothing is
// credited).
func (a *Authority) Mint(ctx context.Context, caller types.Account, token types.TokenID, recipient types.Account, amount uint64) (types.MintResult, error) {
	results, err := a.MintBatch(ctx, caller, []types.MintLine{{Token: token, Recipient: recipient, Amount: amount}})
	if err != nil {
		return types.MintResult{}, err
	}
	return results[0], nil
}

// MintBatch mints several lines at once. The supply of every line is
// reserved together: if any line would exceed its cap, nothing is
// minted.
func (a *Authority) MintBatch(ctx context.Context, caller types.Account, lines []types.MintLine) ([]types.MintResult, error) {
	ctx, release, err := a.guard.Enter(ctx, keyLess, guardKeys(caller, lines)...)
	if err != nil {
		return nil, err
	}
	defer release()

	r, err := a.reserve(ctx, caller, lines)
	if err != nil {
		return nil, err
	}
	return r.deliver(ctx)
}

// Reservation is supply that has been reserved but not yet credited.
// Exactly one of Deliver or Cancel must be called.
type Reservation struct {
	a      *Authority
	caller types.Account
	lines  []types.MintLine
	totals map[types.TokenID]uint64
	done   bool
}

// Reserve authorizes caller and reserves the supply of lines without
// touching the external ledger. It lets a caller interleave its own
// state changes between reservation and delivery.
func (a *Authority) Reserve(ctx context.Context, caller types.Account, lines []types.MintLine) (*Reservation, error) {
	return a.reserve(ctx, caller, lines)
}

func (a *Authority) reserve(ctx context.Context, caller types.Account, lines []types.MintLine) (*Reservation, error) {
	if len(lines) == 0 {
		return nil, lootbox.NewError(lootbox.CodeZeroAmount, "no mint lines")
	}
	totals := make(map[types.TokenID]uint64, len(lines))
	for _, l := range lines {
		if l.Amount == 0 {
			return nil, lootbox.NewError(lootbox.CodeZeroAmount, "mint of zero %s", l.Token)
		}
	}
	if _, err := a.gate.Authorize(ctx, caller, a.owner); err != nil {
		return nil, err
	}
	for _, l := range lines {
		if totals[l.Token] > ^uint64(0)-l.Amount {
			return nil, lootbox.NewError(lootbox.CodeSupplyExhausted, "%s: batch amount overflows", l.Token)
		}
		totals[l.Token] += l.Amount
	}
	if err := a.supply.ReserveBatch(ctx, totals); err != nil {
		return nil, err
	}
	return &Reservation{a: a, caller: caller, lines: lines, totals: totals}, nil
}

// Totals returns the reserved amount per token.
func (r *Reservation) Totals() map[types.TokenID]uint64 {
	out := make(map[types.TokenID]uint64, len(r.totals))
	for k, v := range r.totals {
		out[k] = v
	}
	return out
}

// Cancel releases the reservation.
func (r *Reservation) Cancel(ctx context.Context) error {
	if r.done {
		return fmt.Errorf("minting: reservation already settled")
	}
	r.done = true
	return r.a.supply.Release(ctx, r.totals)
}

// Deliver credits the reserved lines to their recipients. Ledger calls
// made here carry a context marking the (caller, token) pairs as held,
// so a ledger hook re-entering a mint for the same pair fails with
// ErrReentrant.
func (r *Reservation) Deliver(ctx context.Context) ([]types.MintResult, error) {
	ctx, release, err := r.a.guard.Enter(ctx, keyLess, guardKeys(r.caller, r.lines)...)
	if err != nil {
		return nil, err
	}
	defer release()
	return r.deliver(ctx)
}

// deliver credits every line or none. If a line fails, the lines already
// credited are debited back (restoring any owner stock they drew) and the
// whole reservation is released. Transfer events are only emitted once
// every line has landed.
func (r *Reservation) deliver(ctx context.Context) ([]types.MintResult, error) {
	if r.done {
		return nil, fmt.Errorf("minting: reservation already settled")
	}
	r.done = true

	a := r.a
	results := make([]types.MintResult, 0, len(r.lines))
	for _, l := range r.lines {
		res, err := a.credit(ctx, l)
		if err != nil {
			err = fmt.Errorf("minting: deliver %s to %s: %w", l.Token, l.Recipient, err)
			return nil, r.rollback(ctx, results, err)
		}
		results = append(results, res)
	}
	for i, l := range r.lines {
		results[i].Minted = a.supply.Minted(l.Token)
		if results[i].FromStock > 0 {
			a.emitTransfer(ctx, a.owner, l, results[i].FromStock)
		}
		if results[i].Fresh > 0 {
			a.emitTransfer(ctx, types.ZeroAccount, l, results[i].Fresh)
		}
	}
	return results, nil
}

// rollback undoes the credited lines in reverse order and releases the
// supply of everything that is no longer held.
func (r *Reservation) rollback(ctx context.Context, credited []types.MintResult, cause error) error {
	a := r.a
	unused := make(map[types.TokenID]uint64, len(r.totals))
	for token, n := range r.totals {
		unused[token] = n
	}
	incomplete := false
	for i := len(credited) - 1; i >= 0; i-- {
		l, res := r.lines[i], credited[i]
		if err := a.ledger.DebitBalance(ctx, l.Recipient, l.Token, l.Amount); err != nil {
			a.logger.Printf("lootbox: take back %d %s from %s: %v", l.Amount, l.Token, l.Recipient, err)
			unused[l.Token] -= l.Amount
			incomplete = true
			continue
		}
		if res.FromStock > 0 {
			if err := a.ledger.CreditBalance(ctx, a.owner, l.Token, res.FromStock); err != nil {
				a.logger.Printf("lootbox: restore owner stock of %s: %v", l.Token, err)
			}
		}
	}
	if err := a.supply.Release(ctx, unused); err != nil {
		a.logger.Printf("lootbox: release after failed delivery: %v", err)
	}
	if incomplete {
		return fmt.Errorf("%w: %w", ErrRollbackIncomplete, cause)
	}
	return cause
}

// credit moves one line into the ledger. Item lines for someone other
// than the owner draw the owner's pre-minted stock first; box lines are
// always fresh.
func (a *Authority) credit(ctx context.Context, l types.MintLine) (types.MintResult, error) {
	res := types.MintResult{Token: l.Token}
	if l.Recipient != a.owner && !l.Token.IsBox() {
		stock, err := a.ledger.BalanceOf(ctx, a.owner, l.Token)
		if err != nil {
			return res, fmt.Errorf("read owner stock: %w", err)
		}
		res.FromStock = min(stock, l.Amount)
	}
	res.Fresh = l.Amount - res.FromStock

	if res.FromStock > 0 {
		if err := a.ledger.DebitBalance(ctx, a.owner, l.Token, res.FromStock); err != nil {
			return res, fmt.Errorf("draw owner stock: %w", err)
		}
	}
	if err := a.ledger.CreditBalance(ctx, l.Recipient, l.Token, l.Amount); err != nil {
		if res.FromStock > 0 {
			if rerr := a.ledger.CreditBalance(ctx, a.owner, l.Token, res.FromStock); rerr != nil {
				a.logger.Printf("lootbox: restore owner stock of %s: %v", l.Token, rerr)
			}
		}
		return res, err
	}
	return res, nil
}

func (a *Authority) emitTransfer(ctx context.Context, from types.Account, l types.MintLine, amount uint64) {
	if a.notifier == nil {
		return
	}
	ev := types.TransferEvent(a.now(), from, l.Recipient, l.Token, amount)
	if err := a.notifier.Notify(ctx, ev); err != nil {
		a.logger.Printf("lootbox: notify transfer of %s: %v", l.Token, err)
	}
}

func guardKeys(caller types.Account, lines []types.MintLine) []guardKey {
	keys := make([]guardKey, 0, len(lines))
	for _, l := range lines {
		keys = append(keys, guardKey{Actor: caller, Token: l.Token})
	}
	return keys
}
