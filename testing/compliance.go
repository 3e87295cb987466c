package lootboxtest

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/blockberries/lootbox"
	"github.com/blockberries/lootbox/types"
)

// RunInvariantSuite checks the engine's hard guarantees against every
// option of catalog under each entropy source returned by sources:
// bundle sums, minimums, per-unpack caps, supply caps, authorization
// and box balances.
//
// The catalog owner must be the harness Owner or have Delegate
// registered; the suite mints boxes to Player.
func RunInvariantSuite(t *testing.T, catalog types.Catalog, sources func() map[string]lootbox.Entropy) {
	t.Helper()

	for name, src := range sources() {
		t.Run(name, func(t *testing.T) {
			for _, opt := range catalog.Options {
				runOptionInvariants(t, catalog, opt, src)
			}
		})
	}

	t.Run("stranger_cannot_mint", func(t *testing.T) {
		h := NewHarness(t, catalog, nil)
		ctx := context.Background()
		for _, c := range catalog.Categories {
			_, err := h.Server.Mint(ctx, types.MintRequest{Caller: Stranger, Kind: types.MintItem, ID: uint32(c.ID), Recipient: Stranger, Amount: 1})
			h.MustFail(err, lootbox.ErrUnauthorized)
		}
		for _, o := range catalog.Options {
			_, err := h.Server.Mint(ctx, types.MintRequest{Caller: Stranger, Kind: types.MintBox, ID: uint32(o.ID), Recipient: Stranger, Amount: 1})
			h.MustFail(err, lootbox.ErrUnauthorized)
		}
	})

	t.Run("caps_never_exceeded", func(t *testing.T) {
		h := NewHarness(t, catalog, nil)
		ctx := context.Background()
		for _, c := range catalog.Categories {
			if c.Cap == nil {
				continue
			}
			for {
				_, err := h.Server.Mint(ctx, types.MintRequest{Caller: Delegate, Kind: types.MintItem, ID: uint32(c.ID), Recipient: Player, Amount: 7})
				if err == nil {
					continue
				}
				h.MustFail(err, lootbox.ErrSupplyExhausted)
				break
			}
			if minted := h.Engine.Supply().Minted(types.ItemToken(c.ID)); minted > *c.Cap {
				t.Fatalf("category %d: minted %d exceeds cap %d", c.ID, minted, *c.Cap)
			}
		}
	})
}

func runOptionInvariants(t *testing.T, catalog types.Catalog, opt types.Option, src lootbox.Entropy) {
	t.Helper()
	h := NewHarness(t, catalog, src)
	ctx := context.Background()

	const boxes = 20
	h.MintBoxes(catalog.Owner, opt.ID, Player, boxes)

	_, err := h.Server.Unpack(ctx, types.UnpackRequest{Caller: Player, Option: opt.ID, Holder: Player, Amount: boxes + 1})
	h.MustFail(err, lootbox.ErrInsufficientBoxBalance)
	if held := h.Held(Player, opt.ID); held != boxes {
		t.Fatalf("option %d: held %d after rejected unpack, want %d", opt.ID, held, boxes)
	}

	_, err = h.Server.Unpack(ctx, types.UnpackRequest{Caller: Stranger, Option: opt.ID, Holder: Player, Amount: 1})
	h.MustFail(err, lootbox.ErrUnauthorized)

	for opened := uint64(0); opened < boxes; opened++ {
		caller := Player
		if opened%2 == 1 {
			caller = Helper
		}
		before := h.Held(Player, opt.ID)
		s, err := h.Server.Unpack(ctx, types.UnpackRequest{Caller: caller, Option: opt.ID, Holder: Player, Amount: 1})
		if errors.Is(err, lootbox.ErrSupplyExhausted) {
			if after := h.Held(Player, opt.ID); after != before {
				t.Fatalf("option %d: exhausted unpack changed held %d -> %d", opt.ID, before, after)
			}
			break
		}
		if err != nil {
			t.Fatalf("option %d: unpack: %v", opt.ID, err)
		}
		checkDraw(t, opt, s.Draws[0])
		if s.ItemsMinted != opt.Total {
			t.Fatalf("option %d: minted %d items, want %d", opt.ID, s.ItemsMinted, opt.Total)
		}
		if after := h.Held(Player, opt.ID); after != before-1 {
			t.Fatalf("option %d: held %d -> %d after one unpack", opt.ID, before, after)
		}
	}

	for _, c := range catalog.Categories {
		if c.Cap == nil {
			continue
		}
		if minted := h.Engine.Supply().Minted(types.ItemToken(c.ID)); minted > *c.Cap {
			t.Fatalf("category %d: minted %d exceeds cap %d", c.ID, minted, *c.Cap)
		}
	}
}

func checkDraw(t *testing.T, opt types.Option, a types.Allocation) {
	t.Helper()
	if a.Total() != opt.Total {
		t.Fatalf("option %d: bundle of %d, want %d", opt.ID, a.Total(), opt.Total)
	}
	for _, g := range opt.Guarantees {
		n := a.Count(g.Category)
		if n < g.Minimum {
			t.Fatalf("option %d: category %d got %d, minimum %d", opt.ID, g.Category, n, g.Minimum)
		}
		if g.MaxCap != nil && n > *g.MaxCap {
			t.Fatalf("option %d: category %d got %d, max cap %d", opt.ID, g.Category, n, *g.MaxCap)
		}
	}
}

// WorstCaseSources returns constant and cycling entropy streams that
// stress the allocator's boundaries.
func WorstCaseSources() map[string]lootbox.Entropy {
	return map[string]lootbox.Entropy{
		"const_zero":  ConstEntropy(0),
		"const_max":   ConstEntropy(math.MaxUint64),
		"const_mid":   ConstEntropy(1 << 63),
		"alternating": &SequenceEntropy{Values: []uint64{0, math.MaxUint64}},
	}
}
