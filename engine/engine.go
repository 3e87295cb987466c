// Package engine implements the loot-box state machine: minting box
// units and unpacking them into randomized item bundles.
//
// Box units are ordinary ledger balances of types.BoxToken(option). The
// engine never stores balances itself; it reads and moves them through
// the external ledger after its own bookkeeping is done.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/blockberries/lootbox"
	"github.com/blockberries/lootbox/access"
	"github.com/blockberries/lootbox/allocator"
	"github.com/blockberries/lootbox/guard"
	"github.com/blockberries/lootbox/minting"
	"github.com/blockberries/lootbox/supply"
	"github.com/blockberries/lootbox/types"
)

var _ lootbox.Service = (*Engine)(nil)

// Deps are the external collaborators of an Engine.
type Deps struct {
	Registry lootbox.Registry
	Ledger   lootbox.Ledger
	Counters supply.Counters
	Entropy  lootbox.Entropy
	// Notifier receives transfer and lootbox_opened events. Optional.
	Notifier lootbox.Notifier
	// Logger defaults to log.Default().
	Logger *log.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// NewID generates unpack receipt ids. Defaults to random UUIDs.
	NewID func() string
}

// GenesisMarker records the progress of the one-time genesis. Each
// pre-minted token is marked as soon as it is credited, so a genesis
// retried after a failure never credits a token twice.
type GenesisMarker interface {
	GenesisDone(ctx context.Context) (bool, error)
	MarkGenesis(ctx context.Context) error
	PreMinted(ctx context.Context, token types.TokenID) (bool, error)
	MarkPreMinted(ctx context.Context, token types.TokenID) error
}

type unpackKey struct {
	Holder types.Account
	Option types.OptionID
}

// Engine is the loot-box engine. It implements lootbox.Service.
type Engine struct {
	catalog  types.Catalog
	gate     *access.Gate
	auth     *minting.Authority
	supply   *supply.Ledger
	ledger   lootbox.Ledger
	entropy  lootbox.Entropy
	notifier lootbox.Notifier
	guard    *guard.Keyed[unpackKey]
	logger   *log.Logger
	now      func() time.Time
	newID    func() string
}

// New validates catalog, loads the supply counters and wires the
// components together.
func New(ctx context.Context, catalog types.Catalog, deps Deps) (*Engine, error) {
	if catalog.Owner.IsZero() {
		return nil, lootbox.NewError(lootbox.CodeInvalidConfig, "catalog owner is not set")
	}
	if deps.Ledger == nil || deps.Counters == nil || deps.Entropy == nil {
		return nil, lootbox.NewError(lootbox.CodeInvalidConfig, "ledger, counters and entropy are required")
	}
	for _, opt := range catalog.Options {
		if err := allocator.ValidateOption(opt, catalog.Categories); err != nil {
			return nil, err
		}
	}
	sl, err := supply.New(ctx, catalog.Caps(), deps.Counters)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		catalog:  catalog,
		gate:     access.NewGate(deps.Registry),
		supply:   sl,
		ledger:   deps.Ledger,
		entropy:  deps.Entropy,
		notifier: deps.Notifier,
		guard:    guard.New[unpackKey]("unpack"),
		logger:   deps.Logger,
		now:      deps.Now,
		newID:    deps.NewID,
	}
	if e.logger == nil {
		e.logger = log.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	e.auth = minting.New(catalog.Owner, e.gate, sl, deps.Ledger,
		minting.WithNotifier(deps.Notifier),
		minting.WithLogger(e.logger),
		minting.WithClock(e.now),
	)
	return e, nil
}

// Catalog returns the engine's catalog.
func (e *Engine) Catalog() types.Catalog { return e.catalog }

// Authority returns the minting authority.
func (e *Engine) Authority() *minting.Authority { return e.auth }

// Supply returns the supply ledger.
func (e *Engine) Supply() *supply.Ledger { return e.supply }

// Genesis credits every category's initial supply to the owner, once.
// The pre-minted stock does not count against the category cap.
func (e *Engine) Genesis(ctx context.Context, marker GenesisMarker) error {
	done, err := marker.GenesisDone(ctx)
	if err != nil {
		return fmt.Errorf("engine: genesis state: %w", err)
	}
	if done {
		return nil
	}
	for _, c := range e.catalog.Categories {
		if c.InitialSupply == 0 {
			continue
		}
		token := types.ItemToken(c.ID)
		credited, err := marker.PreMinted(ctx, token)
		if err != nil {
			return fmt.Errorf("engine: pre-mint state of %s: %w", token, err)
		}
		if credited {
			continue
		}
		if err := e.ledger.CreditBalance(ctx, e.catalog.Owner, token, c.InitialSupply); err != nil {
			return fmt.Errorf("engine: pre-mint %s: %w", token, err)
		}
		if err := marker.MarkPreMinted(ctx, token); err != nil {
			return fmt.Errorf("engine: mark pre-mint %s: %w", token, err)
		}
		e.notify(ctx, types.TransferEvent(e.now(), types.ZeroAccount, e.catalog.Owner, token, c.InitialSupply))
	}
	if err := marker.MarkGenesis(ctx); err != nil {
		return fmt.Errorf("engine: mark genesis: %w", err)
	}
	e.logger.Printf("lootbox: genesis complete for %q (%d categories, %d options)",
		e.catalog.Name, len(e.catalog.Categories), len(e.catalog.Options))
	return nil
}

// Mint mints items or boxes. Box mints go through the minting authority
// on the option's reserved pseudo-category, so they are authorized and
// counted exactly like item mints.
func (e *Engine) Mint(ctx context.Context, req types.MintRequest) (types.MintResult, error) {
	if req.Kind != types.MintItem && req.Kind != types.MintBox {
		return types.MintResult{}, lootbox.NewError(lootbox.CodeInvalidOption, "unknown mint kind %s", req.Kind)
	}
	return e.auth.Mint(ctx, req.Caller, req.Token(), req.Recipient, req.Amount)
}

// Unpack opens req.Amount boxes of req.Option held by req.Holder.
//
// Each box is allocated independently. All item totals are reserved in
// the supply ledger before the boxes are burned, and the boxes are
// burned before any item is credited, so a failure at any check leaves
// nothing changed and a reentrant call sees the post-unpack state. If
// the ledger rejects an item credit, the items already credited are
// taken back and the boxes restored.
func (e *Engine) Unpack(ctx context.Context, req types.UnpackRequest) (types.UnpackSummary, error) {
	opt, ok := e.catalog.Option(req.Option)
	if !ok {
		return types.UnpackSummary{}, lootbox.NewError(lootbox.CodeInvalidOption, "unknown option %d", req.Option)
	}
	if req.Amount == 0 {
		return types.UnpackSummary{}, lootbox.NewError(lootbox.CodeZeroAmount, "unpack of zero boxes")
	}
	if _, err := e.gate.Authorize(ctx, req.Caller, req.Holder); err != nil {
		return types.UnpackSummary{}, err
	}

	ctx, release, err := e.guard.Enter(ctx, unpackLess, unpackKey{Holder: req.Holder, Option: req.Option})
	if err != nil {
		return types.UnpackSummary{}, err
	}
	defer release()

	boxToken := types.BoxToken(req.Option)
	held, err := e.ledger.BalanceOf(ctx, req.Holder, boxToken)
	if err != nil {
		return types.UnpackSummary{}, fmt.Errorf("engine: read held boxes: %w", err)
	}
	if held < req.Amount {
		return types.UnpackSummary{}, lootbox.WithMetadata(lootbox.CodeInsufficientBoxBalance,
			fmt.Sprintf("%s holds %d of option %d, wants to open %d", req.Holder, held, req.Option, req.Amount),
			map[string]string{"held": strconv.FormatUint(held, 10)})
	}

	draws := make([]types.Allocation, 0, req.Amount)
	totals := make(types.Allocation, 0, len(opt.Guarantees))
	for i := uint64(0); i < req.Amount; i++ {
		a, err := allocator.Allocate(opt, e.entropy)
		if err != nil {
			return types.UnpackSummary{}, err
		}
		draws = append(draws, a)
		totals = totals.Add(a)
	}

	lines := make([]types.MintLine, 0, len(totals))
	for _, cc := range totals {
		if cc.Count > 0 {
			lines = append(lines, types.MintLine{Token: types.ItemToken(cc.Category), Recipient: req.Holder, Amount: cc.Count})
		}
	}

	// Unpacking is itself the authorization event for the items, so
	// they are minted with the owner's authority.
	reservation, err := e.auth.Reserve(ctx, e.catalog.Owner, lines)
	if err != nil {
		return types.UnpackSummary{}, err
	}
	if err := e.ledger.DebitBalance(ctx, req.Holder, boxToken, req.Amount); err != nil {
		if cerr := reservation.Cancel(ctx); cerr != nil {
			e.logger.Printf("lootbox: cancel reservation after failed burn: %v", cerr)
		}
		return types.UnpackSummary{}, fmt.Errorf("engine: burn boxes: %w", err)
	}

	if _, err := reservation.Deliver(ctx); err != nil {
		// Items that could not be taken back keep their boxes burned.
		if !errors.Is(err, minting.ErrRollbackIncomplete) {
			if rerr := e.ledger.CreditBalance(ctx, req.Holder, boxToken, req.Amount); rerr != nil {
				e.logger.Printf("lootbox: restore burned boxes of %s: %v", req.Holder, rerr)
			}
		}
		return types.UnpackSummary{}, err
	}
	e.notify(ctx, types.TransferEvent(e.now(), req.Holder, types.ZeroAccount, boxToken, req.Amount))

	summary := types.UnpackSummary{
		ReceiptID:     e.newID(),
		Option:        req.Option,
		Holder:        req.Holder,
		BoxesConsumed: req.Amount,
		ItemsMinted:   totals.Total(),
		Totals:        totals,
		Draws:         draws,
	}
	e.notify(ctx, openedEvent(e.now(), summary))
	return summary, nil
}

// Remaining returns how many more units of token may be minted. Unknown
// tokens report 0.
func (e *Engine) Remaining(_ context.Context, token types.TokenID) (uint64, error) {
	return e.supply.Remaining(token), nil
}

// HeldBoxes returns the unopened boxes of option held by holder.
func (e *Engine) HeldBoxes(ctx context.Context, holder types.Account, option types.OptionID) (uint64, error) {
	if _, ok := e.catalog.Option(option); !ok {
		return 0, lootbox.NewError(lootbox.CodeInvalidOption, "unknown option %d", option)
	}
	return e.ledger.BalanceOf(ctx, holder, types.BoxToken(option))
}

// Balances reads the balance of each token held by holder.
func (e *Engine) Balances(ctx context.Context, holder types.Account, tokens []types.TokenID) ([]types.Balance, error) {
	out := make([]types.Balance, 0, len(tokens))
	for _, t := range tokens {
		n, err := e.ledger.BalanceOf(ctx, holder, t)
		if err != nil {
			return nil, fmt.Errorf("engine: balance of %s: %w", t, err)
		}
		out = append(out, types.Balance{Token: t, Amount: n})
	}
	return out, nil
}

// Info describes the catalog.
func (e *Engine) Info(context.Context) (types.Info, error) {
	return types.Info{
		Name:       e.catalog.Name,
		Symbol:     e.catalog.Symbol,
		Owner:      e.catalog.Owner,
		NumOptions: uint32(len(e.catalog.Options)),
		Categories: e.catalog.Categories,
		Options:    e.catalog.Options,
	}, nil
}

func (e *Engine) notify(ctx context.Context, ev types.Event) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.logger.Printf("lootbox: notify %s: %v", ev.Kind, err)
	}
}

func unpackLess(a, b unpackKey) bool {
	if a.Option != b.Option {
		return a.Option < b.Option
	}
	return bytes.Compare(a.Holder[:], b.Holder[:]) < 0
}
