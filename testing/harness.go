package lootboxtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blockberries/lootbox"
	"github.com/blockberries/lootbox/engine"
	"github.com/blockberries/lootbox/server"
	"github.com/blockberries/lootbox/types"
)

// Well-known test accounts. Delegate is registered for Owner, Helper
// for Player.
var (
	Owner    = types.MustAccount("0x0000000000000000000000000000000000000001")
	Delegate = types.MustAccount("0x0000000000000000000000000000000000000002")
	Player   = types.MustAccount("0x0000000000000000000000000000000000000003")
	Helper   = types.MustAccount("0x0000000000000000000000000000000000000004")
	Stranger = types.MustAccount("0x0000000000000000000000000000000000000005")
)

// Harness wires an engine to in-memory collaborators behind a started
// server, so tests exercise the same path as the transports.
type Harness struct {
	t *testing.T

	Engine   *engine.Engine
	Server   *server.Server
	Ledger   *MemLedger
	Registry *MockRegistry
	Counters *MemCounters
	Recorder *Recorder
}

// NewHarness creates a started harness for catalog. A nil entropy
// source uses a fixed-seed stream.
func NewHarness(t *testing.T, catalog types.Catalog, entropy lootbox.Entropy) *Harness {
	t.Helper()
	if entropy == nil {
		entropy = &SequenceEntropy{Values: []uint64{0x9e3779b97f4a7c15, 0x2545f4914f6cdd1d, 1 << 63, 42}}
	}
	h := &Harness{
		t:        t,
		Ledger:   NewMemLedger(),
		Registry: NewMockRegistry(),
		Counters: NewMemCounters(),
		Recorder: &Recorder{},
	}
	h.Registry.SetProxy(catalog.Owner, Delegate)
	h.Registry.SetProxy(Player, Helper)

	e, err := engine.New(context.Background(), catalog, engine.Deps{
		Registry: h.Registry,
		Ledger:   h.Ledger,
		Counters: h.Counters,
		Entropy:  entropy,
		Notifier: h.Recorder,
		Now:      func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	h.Engine = e
	h.Server = server.New(e)
	genesis := &MemGenesis{}
	if err := h.Server.Start(context.Background(), func(ctx context.Context) error {
		return e.Genesis(ctx, genesis)
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return h
}

// MintBoxes mints n boxes of option to recipient on behalf of caller.
func (h *Harness) MintBoxes(caller types.Account, option types.OptionID, recipient types.Account, n uint64) types.MintResult {
	h.t.Helper()
	res, err := h.Server.Mint(context.Background(), types.MintRequest{
		Caller: caller, Kind: types.MintBox, ID: uint32(option), Recipient: recipient, Amount: n,
	})
	if err != nil {
		h.t.Fatalf("mint %d boxes of option %d: %v", n, option, err)
	}
	return res
}

// MintItems mints n items of category to recipient on behalf of caller.
func (h *Harness) MintItems(caller types.Account, category types.CategoryID, recipient types.Account, n uint64) types.MintResult {
	h.t.Helper()
	res, err := h.Server.Mint(context.Background(), types.MintRequest{
		Caller: caller, Kind: types.MintItem, ID: uint32(category), Recipient: recipient, Amount: n,
	})
	if err != nil {
		h.t.Fatalf("mint %d of category %d: %v", n, category, err)
	}
	return res
}

// Unpack opens n boxes of option held by holder on behalf of caller.
func (h *Harness) Unpack(caller types.Account, option types.OptionID, holder types.Account, n uint64) types.UnpackSummary {
	h.t.Helper()
	s, err := h.Server.Unpack(context.Background(), types.UnpackRequest{
		Caller: caller, Option: option, Holder: holder, Amount: n,
	})
	if err != nil {
		h.t.Fatalf("unpack %d boxes of option %d: %v", n, option, err)
	}
	return s
}

// Held returns the unopened boxes of option held by holder.
func (h *Harness) Held(holder types.Account, option types.OptionID) uint64 {
	h.t.Helper()
	n, err := h.Server.HeldBoxes(context.Background(), holder, option)
	if err != nil {
		h.t.Fatalf("HeldBoxes: %v", err)
	}
	return n
}

// MustFail asserts that err matches target.
func (h *Harness) MustFail(err, target error) {
	h.t.Helper()
	if !errors.Is(err, target) {
		h.t.Fatalf("expected %v, got %v", target, err)
	}
}

// --- Helper Factories ---

// DefaultCatalog returns a small catalog owned by Owner: a capped
// Common category pre-minted to the owner, an uncapped Rare category,
// a tightly capped Epic category, and two options.
func DefaultCatalog() types.Catalog {
	return types.Catalog{
		Name:   "Test Loot",
		Symbol: "LOOT",
		Owner:  Owner,
		Categories: []types.Category{
			{ID: 1, Name: "Common", Cap: types.Uint64(1000), InitialSupply: 1000},
			{ID: 2, Name: "Rare"},
			{ID: 3, Name: "Epic", Cap: types.Uint64(50)},
		},
		Options: []types.Option{
			{ID: 0, Name: "Basic", Total: 5, Guarantees: []types.Guarantee{
				{Category: 1, Minimum: 2, Weight: 6},
				{Category: 2, Minimum: 1, Weight: 3},
				{Category: 3, Minimum: 0, Weight: 1, MaxCap: types.Uint64(1)},
			}},
			{ID: 1, Name: "Premium", Total: 8, BoxCap: types.Uint64(100), Guarantees: []types.Guarantee{
				{Category: 2, Minimum: 3, Weight: 1},
				{Category: 3, Minimum: 1, Weight: 1, MaxCap: types.Uint64(2)},
			}},
		},
	}
}
