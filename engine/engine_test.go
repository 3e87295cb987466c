package engine_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/blockberries/lootbox"
	"github.com/blockberries/lootbox/allocator"
	"github.com/blockberries/lootbox/engine"
	lootboxtest "github.com/blockberries/lootbox/testing"
	"github.com/blockberries/lootbox/types"
)

var (
	owner    = types.MustAccount("0x1000000000000000000000000000000000000001")
	delegate = types.MustAccount("0x2000000000000000000000000000000000000002")
	holder   = types.MustAccount("0x3000000000000000000000000000000000000003")
	helper   = types.MustAccount("0x4000000000000000000000000000000000000004")
	stranger = types.MustAccount("0x5000000000000000000000000000000000000005")
)

const (
	catA types.CategoryID = 1
	catB types.CategoryID = 2
	catC types.CategoryID = 3

	optScenario types.OptionID = 0
	optScarce   types.OptionID = 1
)

func testCatalog() types.Catalog {
	return types.Catalog{
		Name:   "Test Items",
		Symbol: "TST",
		Owner:  owner,
		Categories: []types.Category{
			{ID: catA, Name: "A", Cap: types.Uint64(1000), InitialSupply: 1000},
			{ID: catB, Name: "B"},
			{ID: catC, Name: "C", Cap: types.Uint64(4)},
		},
		Options: []types.Option{
			{ID: optScenario, Name: "Scenario", Total: 5, Guarantees: []types.Guarantee{
				{Category: catA, Minimum: 2, Weight: 1},
				{Category: catB, Minimum: 1, Weight: 1},
				{Category: catC, Minimum: 0, Weight: 0},
			}},
			{ID: optScarce, Name: "Scarce", Total: 3, BoxCap: types.Uint64(10), Guarantees: []types.Guarantee{
				{Category: catC, Minimum: 3},
			}},
		},
	}
}

type fixture struct {
	engine   *engine.Engine
	ledger   *lootboxtest.MemLedger
	registry *lootboxtest.MockRegistry
	recorder *lootboxtest.Recorder
}

func newFixture(t *testing.T, entropy lootbox.Entropy) *fixture {
	t.Helper()
	f := &fixture{
		ledger:   lootboxtest.NewMemLedger(),
		registry: lootboxtest.NewMockRegistry(),
		recorder: &lootboxtest.Recorder{},
	}
	f.registry.SetProxy(owner, delegate)
	f.registry.SetProxy(holder, helper)

	e, err := engine.New(context.Background(), testCatalog(), engine.Deps{
		Registry: f.registry,
		Ledger:   f.ledger,
		Counters: lootboxtest.NewMemCounters(),
		Entropy:  entropy,
		Notifier: f.recorder,
		Now:      func() time.Time { return time.Unix(1700000000, 0) },
		NewID:    func() string { return "receipt-1" },
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := e.Genesis(context.Background(), &lootboxtest.MemGenesis{}); err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	f.engine = e
	return f
}

func (f *fixture) mintBoxes(t *testing.T, option types.OptionID, to types.Account, n uint64) {
	t.Helper()
	_, err := f.engine.Mint(context.Background(), types.MintRequest{
		Caller: owner, Kind: types.MintBox, ID: uint32(option), Recipient: to, Amount: n,
	})
	if err != nil {
		t.Fatalf("mint boxes: %v", err)
	}
}

func TestNew_RejectsInvalidOption(t *testing.T) {
	cat := testCatalog()
	cat.Options[0].Total = 2
	_, err := engine.New(context.Background(), cat, engine.Deps{
		Ledger:   lootboxtest.NewMemLedger(),
		Counters: lootboxtest.NewMemCounters(),
		Entropy:  lootboxtest.ConstEntropy(0),
	})
	if !errors.Is(err, lootbox.ErrInvalidConfig) {
		t.Fatalf("expected InvalidConfig, got %v", err)
	}
}

func TestGenesis_RunsOnce(t *testing.T) {
	f := newFixture(t, lootboxtest.ConstEntropy(0))
	marker := &lootboxtest.MemGenesis{}
	_ = marker.MarkGenesis(context.Background())

	if err := f.engine.Genesis(context.Background(), marker); err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	if got := f.ledger.Balance(owner, types.ItemToken(catA)); got != 1000 {
		t.Fatalf("owner stock %d, want 1000 (no second pre-mint)", got)
	}
	if got := f.engine.Supply().Minted(types.ItemToken(catA)); got != 0 {
		t.Fatalf("pre-mint must not count against the cap, minted %d", got)
	}
}

func TestMint_Boxes(t *testing.T) {
	f := newFixture(t, lootboxtest.ConstEntropy(0))
	ctx := context.Background()

	res, err := f.engine.Mint(ctx, types.MintRequest{
		Caller: delegate, Kind: types.MintBox, ID: uint32(optScenario), Recipient: holder, Amount: 3,
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if res.Token != types.BoxToken(optScenario) || res.Minted != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	held, err := f.engine.HeldBoxes(ctx, holder, optScenario)
	if err != nil || held != 3 {
		t.Fatalf("HeldBoxes = %d, %v; want 3", held, err)
	}
}

func TestMint_BoxesNeverDrawOwnerBoxes(t *testing.T) {
	f := newFixture(t, lootboxtest.ConstEntropy(0))
	ctx := context.Background()
	f.mintBoxes(t, optScenario, owner, 3)

	res, err := f.engine.Mint(ctx, types.MintRequest{
		Caller: owner, Kind: types.MintBox, ID: uint32(optScenario), Recipient: holder, Amount: 2,
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if res.FromStock != 0 || res.Fresh != 2 {
		t.Fatalf("box mint drew stock: %+v", res)
	}
	if held, _ := f.engine.HeldBoxes(ctx, owner, optScenario); held != 3 {
		t.Fatalf("owner holds %d boxes, want 3", held)
	}
	if held, _ := f.engine.HeldBoxes(ctx, holder, optScenario); held != 2 {
		t.Fatalf("holder holds %d boxes, want 2", held)
	}
	if got := f.engine.Supply().Minted(types.BoxToken(optScenario)); got != 5 {
		t.Fatalf("box counter %d, want 5 boxes in existence", got)
	}
	for _, ev := range f.recorder.OfKind(types.EventTransfer) {
		if from, _ := ev.Attr("from"); from != types.ZeroAccount.String() {
			t.Fatalf("box mint emitted a transfer from %s", from)
		}
	}
}

func TestMint_BoxErrors(t *testing.T) {
	f := newFixture(t, lootboxtest.ConstEntropy(0))
	ctx := context.Background()

	tests := []struct {
		name string
		req  types.MintRequest
		want error
	}{
		{"zero amount", types.MintRequest{Caller: stranger, Kind: types.MintBox, ID: 99, Recipient: holder}, lootbox.ErrZeroAmount},
		{"stranger", types.MintRequest{Caller: stranger, Kind: types.MintBox, ID: 99, Recipient: holder, Amount: 1}, lootbox.ErrUnauthorized},
		{"unknown option", types.MintRequest{Caller: owner, Kind: types.MintBox, ID: 99, Recipient: holder, Amount: 1}, lootbox.ErrInvalidOption},
		{"unknown category", types.MintRequest{Caller: owner, Kind: types.MintItem, ID: 99, Recipient: holder, Amount: 1}, lootbox.ErrInvalidCategory},
		{"box cap", types.MintRequest{Caller: owner, Kind: types.MintBox, ID: uint32(optScarce), Recipient: holder, Amount: 11}, lootbox.ErrSupplyExhausted},
		{"bad kind", types.MintRequest{Caller: owner, Kind: 9, ID: 0, Recipient: holder, Amount: 1}, lootbox.ErrInvalidOption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.engine.Mint(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestUnpack_Scenario(t *testing.T) {
	for _, v := range []uint64{0, 1 << 63, math.MaxUint64} {
		f := newFixture(t, lootboxtest.ConstEntropy(v))
		f.mintBoxes(t, optScenario, holder, 4)

		s, err := f.engine.Unpack(context.Background(), types.UnpackRequest{
			Caller: holder, Option: optScenario, Holder: holder, Amount: 4,
		})
		if err != nil {
			t.Fatalf("Unpack: %v", err)
		}
		if s.BoxesConsumed != 4 || s.ItemsMinted != 20 || len(s.Draws) != 4 {
			t.Fatalf("unexpected summary %+v", s)
		}
		for _, d := range s.Draws {
			if d.Total() != 5 || d.Count(catA) < 2 || d.Count(catB) < 1 {
				t.Fatalf("draw violates invariants: %v", d)
			}
		}
		if s.Totals.Total() != 20 {
			t.Fatalf("totals %v do not sum to 20", s.Totals)
		}
		for _, cc := range s.Totals {
			if got := f.ledger.Balance(holder, types.ItemToken(cc.Category)); got != cc.Count {
				t.Fatalf("category %d: balance %d, totals %d", cc.Category, got, cc.Count)
			}
		}
		if held, _ := f.engine.HeldBoxes(context.Background(), holder, optScenario); held != 0 {
			t.Fatalf("held %d after unpacking everything", held)
		}
	}
}

func TestUnpack_DrawsFromOwnerStock(t *testing.T) {
	f := newFixture(t, lootboxtest.ConstEntropy(0))
	f.mintBoxes(t, optScenario, holder, 1)

	s, err := f.engine.Unpack(context.Background(), types.UnpackRequest{
		Caller: holder, Option: optScenario, Holder: holder, Amount: 1,
	})
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	a := s.Totals.Count(catA)
	if got := f.ledger.Balance(owner, types.ItemToken(catA)); got != 1000-a {
		t.Fatalf("owner stock %d, want %d", got, 1000-a)
	}
	if got := f.engine.Supply().Minted(types.ItemToken(catA)); got != a {
		t.Fatalf("minted counter %d, want %d", got, a)
	}
}

func TestUnpack_SummaryEvent(t *testing.T) {
	f := newFixture(t, lootboxtest.ConstEntropy(0))
	f.mintBoxes(t, optScenario, holder, 2)

	_, err := f.engine.Unpack(context.Background(), types.UnpackRequest{
		Caller: helper, Option: optScenario, Holder: holder, Amount: 2,
	})
	if err != nil {
		t.Fatalf("delegate unpack: %v", err)
	}
	opened := f.recorder.OfKind(types.EventLootBoxOpened)
	if len(opened) != 1 {
		t.Fatalf("expected one summary event, got %d", len(opened))
	}
	ev := opened[0]
	want := map[string]string{
		"receipt":        "receipt-1",
		"option":         "0",
		"holder":         holder.String(),
		"boxes_consumed": "2",
		"items_minted":   "10",
		"category:1":     "8",
		"category:2":     "2",
		"category:3":     "0",
	}
	for k, v := range want {
		if got, _ := ev.Attr(k); got != v {
			t.Errorf("attribute %s = %q, want %q", k, got, v)
		}
	}
}

func TestUnpack_InsufficientLeavesHeldUnchanged(t *testing.T) {
	f := newFixture(t, lootboxtest.ConstEntropy(0))
	f.mintBoxes(t, optScenario, holder, 2)

	_, err := f.engine.Unpack(context.Background(), types.UnpackRequest{
		Caller: holder, Option: optScenario, Holder: holder, Amount: 3,
	})
	if !errors.Is(err, lootbox.ErrInsufficientBoxBalance) {
		t.Fatalf("expected InsufficientBoxBalance, got %v", err)
	}
	if held, _ := f.engine.HeldBoxes(context.Background(), holder, optScenario); held != 2 {
		t.Fatalf("held %d, want 2", held)
	}
	if got := f.engine.Supply().Minted(types.ItemToken(catA)); got != 0 {
		t.Fatalf("failed unpack reserved supply: %d", got)
	}
}

func TestUnpack_Errors(t *testing.T) {
	f := newFixture(t, lootboxtest.ConstEntropy(0))
	f.mintBoxes(t, optScenario, holder, 1)
	ctx := context.Background()

	tests := []struct {
		name string
		req  types.UnpackRequest
		want error
	}{
		{"unknown option", types.UnpackRequest{Caller: holder, Option: 42, Holder: holder, Amount: 1}, lootbox.ErrInvalidOption},
		{"zero", types.UnpackRequest{Caller: holder, Option: optScenario, Holder: holder}, lootbox.ErrZeroAmount},
		{"not holder", types.UnpackRequest{Caller: stranger, Option: optScenario, Holder: holder, Amount: 1}, lootbox.ErrUnauthorized},
		{"owner is not holder's delegate", types.UnpackRequest{Caller: owner, Option: optScenario, Holder: holder, Amount: 1}, lootbox.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.engine.Unpack(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if held, _ := f.engine.HeldBoxes(ctx, holder, optScenario); held != 1 {
		t.Fatalf("held %d after rejected unpacks, want 1", held)
	}
}

func TestUnpack_SupplyExhaustedIsAtomic(t *testing.T) {
	f := newFixture(t, lootboxtest.ConstEntropy(0))
	f.mintBoxes(t, optScarce, holder, 2)
	ctx := context.Background()

	// Two scarce boxes need 6 of C, whose cap is 4.
	_, err := f.engine.Unpack(ctx, types.UnpackRequest{Caller: holder, Option: optScarce, Holder: holder, Amount: 2})
	if !errors.Is(err, lootbox.ErrSupplyExhausted) {
		t.Fatalf("expected SupplyExhausted, got %v", err)
	}
	if held, _ := f.engine.HeldBoxes(ctx, holder, optScarce); held != 2 {
		t.Fatalf("held %d, want 2", held)
	}
	if got := f.engine.Supply().Minted(types.ItemToken(catC)); got != 0 {
		t.Fatalf("minted %d, want 0", got)
	}

	if _, err := f.engine.Unpack(ctx, types.UnpackRequest{Caller: holder, Option: optScarce, Holder: holder, Amount: 1}); err != nil {
		t.Fatalf("single unpack: %v", err)
	}
	if got, _ := f.engine.Remaining(ctx, types.ItemToken(catC)); got != 1 {
		t.Fatalf("remaining %d, want 1", got)
	}
}

func TestUnpack_ReentrantHookSeesBurnedBoxes(t *testing.T) {
	f := newFixture(t, allocator.NewSeeded(1))
	f.mintBoxes(t, optScenario, holder, 2)
	ctx := context.Background()

	var nestedErr error
	var heldDuringHook uint64
	calls := 0
	f.ledger.OnCredit = func(ctx context.Context, account types.Account, token types.TokenID, _ uint64) error {
		if account != holder || token.IsBox() || calls > 0 {
			return nil
		}
		calls++
		heldDuringHook, _ = f.ledger.BalanceOf(ctx, holder, types.BoxToken(optScenario))
		_, nestedErr = f.engine.Unpack(ctx, types.UnpackRequest{Caller: holder, Option: optScenario, Holder: holder, Amount: 1})
		return nil
	}

	if _, err := f.engine.Unpack(ctx, types.UnpackRequest{Caller: holder, Option: optScenario, Holder: holder, Amount: 1}); err != nil {
		t.Fatalf("outer unpack: %v", err)
	}
	if !errors.Is(nestedErr, lootbox.ErrReentrant) {
		t.Fatalf("expected nested unpack to fail with ErrReentrant, got %v", nestedErr)
	}
	if heldDuringHook != 1 {
		t.Fatalf("hook saw %d held boxes, want 1 (burn before credit)", heldDuringHook)
	}
	if held, _ := f.engine.HeldBoxes(ctx, holder, optScenario); held != 1 {
		t.Fatalf("held %d after outer unpack, want 1", held)
	}
}

func TestUnpack_DeliveryFailureRestoresBoxes(t *testing.T) {
	f := newFixture(t, lootboxtest.ConstEntropy(0))
	f.mintBoxes(t, optScenario, holder, 1)
	ctx := context.Background()

	errOffline := errors.New("ledger offline")
	f.ledger.CreditErr = func(account types.Account, token types.TokenID) error {
		if account == holder && !token.IsBox() {
			return errOffline
		}
		return nil
	}
	_, err := f.engine.Unpack(ctx, types.UnpackRequest{Caller: holder, Option: optScenario, Holder: holder, Amount: 1})
	if !errors.Is(err, errOffline) {
		t.Fatalf("expected ledger error, got %v", err)
	}
	if held, _ := f.engine.HeldBoxes(ctx, holder, optScenario); held != 1 {
		t.Fatalf("held %d, want restored 1", held)
	}
	if got := f.engine.Supply().Minted(types.ItemToken(catA)); got != 0 {
		t.Fatalf("minted %d, want released 0", got)
	}
}

func TestUnpack_LaterLineFailureUndoesEarlierLines(t *testing.T) {
	f := newFixture(t, lootboxtest.ConstEntropy(0))
	f.mintBoxes(t, optScenario, holder, 2)
	ctx := context.Background()
	eventsBefore := len(f.recorder.Events())

	errOffline := errors.New("ledger offline")
	f.ledger.CreditErr = func(account types.Account, token types.TokenID) error {
		if account == holder && token == types.ItemToken(catB) {
			return errOffline
		}
		return nil
	}
	_, err := f.engine.Unpack(ctx, types.UnpackRequest{Caller: holder, Option: optScenario, Holder: holder, Amount: 2})
	if !errors.Is(err, errOffline) {
		t.Fatalf("expected ledger error, got %v", err)
	}
	f.ledger.CreditErr = nil

	if held, _ := f.engine.HeldBoxes(ctx, holder, optScenario); held != 2 {
		t.Fatalf("held %d, want both boxes restored", held)
	}
	for _, c := range []types.CategoryID{catA, catB, catC} {
		if got := f.ledger.Balance(holder, types.ItemToken(c)); got != 0 {
			t.Errorf("holder kept %d of category %d", got, c)
		}
		if got := f.engine.Supply().Minted(types.ItemToken(c)); got != 0 {
			t.Errorf("category %d: minted %d, want 0", c, got)
		}
	}
	if got := f.ledger.Balance(owner, types.ItemToken(catA)); got != 1000 {
		t.Fatalf("owner stock %d, want restored 1000", got)
	}
	if n := len(f.recorder.Events()); n != eventsBefore {
		t.Fatalf("failed unpack emitted %d events", n-eventsBefore)
	}

	// The restored boxes open normally afterwards.
	s, err := f.engine.Unpack(ctx, types.UnpackRequest{Caller: holder, Option: optScenario, Holder: holder, Amount: 2})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if s.ItemsMinted != 10 || f.ledger.Balance(holder, types.ItemToken(catB)) < 2 {
		t.Fatalf("unexpected retry summary %+v", s)
	}
}

func TestGenesis_RetryAfterFailureCreditsOnce(t *testing.T) {
	cat := testCatalog()
	cat.Categories[1].InitialSupply = 50
	ledger := lootboxtest.NewMemLedger()
	e, err := engine.New(context.Background(), cat, engine.Deps{
		Registry: lootboxtest.NewMockRegistry(),
		Ledger:   ledger,
		Counters: lootboxtest.NewMemCounters(),
		Entropy:  lootboxtest.ConstEntropy(0),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	ctx := context.Background()
	marker := &lootboxtest.MemGenesis{}

	errTransient := errors.New("transient")
	ledger.CreditErr = func(_ types.Account, token types.TokenID) error {
		if token == types.ItemToken(catB) {
			return errTransient
		}
		return nil
	}
	if err := e.Genesis(ctx, marker); !errors.Is(err, errTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if done, _ := marker.GenesisDone(ctx); done {
		t.Fatal("failed genesis was marked done")
	}

	ledger.CreditErr = nil
	if err := e.Genesis(ctx, marker); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := ledger.Balance(owner, types.ItemToken(catA)); got != 1000 {
		t.Fatalf("owner stock of A %d, want 1000", got)
	}
	if got := ledger.Balance(owner, types.ItemToken(catB)); got != 50 {
		t.Fatalf("owner stock of B %d, want 50", got)
	}
	if done, _ := marker.GenesisDone(ctx); !done {
		t.Fatal("genesis not marked after retry")
	}
}

func TestQueries(t *testing.T) {
	f := newFixture(t, lootboxtest.ConstEntropy(0))
	ctx := context.Background()
	f.mintBoxes(t, optScenario, holder, 2)

	if _, err := f.engine.HeldBoxes(ctx, holder, 42); !errors.Is(err, lootbox.ErrInvalidOption) {
		t.Fatalf("expected InvalidOption, got %v", err)
	}
	if got, _ := f.engine.Remaining(ctx, types.ItemToken(catB)); got != math.MaxUint64 {
		t.Fatalf("uncapped remaining %d", got)
	}
	if got, _ := f.engine.Remaining(ctx, types.ItemToken(99)); got != 0 {
		t.Fatalf("unknown remaining %d", got)
	}

	bals, err := f.engine.Balances(ctx, owner, []types.TokenID{types.ItemToken(catA), types.ItemToken(catB)})
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	if len(bals) != 2 || bals[0].Amount != 1000 || bals[1].Amount != 0 {
		t.Fatalf("unexpected balances %+v", bals)
	}

	info, err := f.engine.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Name != "Test Items" || info.Symbol != "TST" || info.NumOptions != 2 || info.Owner != owner {
		t.Fatalf("unexpected info %+v", info)
	}
}
