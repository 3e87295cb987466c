package minting_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/blockberries/lootbox"
	"github.com/blockberries/lootbox/access"
	"github.com/blockberries/lootbox/minting"
	"github.com/blockberries/lootbox/supply"
	lootboxtest "github.com/blockberries/lootbox/testing"
	"github.com/blockberries/lootbox/types"
)

var (
	owner    = types.MustAccount("0x1000000000000000000000000000000000000001")
	delegate = types.MustAccount("0x2000000000000000000000000000000000000002")
	userA    = types.MustAccount("0x3000000000000000000000000000000000000003")
	userB    = types.MustAccount("0x4000000000000000000000000000000000000004")
	stranger = types.MustAccount("0x5000000000000000000000000000000000000005")

	common = types.ItemToken(1)
	rare   = types.ItemToken(2)
	box    = types.BoxToken(0)
)

type fixture struct {
	auth     *minting.Authority
	supply   *supply.Ledger
	ledger   *lootboxtest.MemLedger
	registry *lootboxtest.MockRegistry
	recorder *lootboxtest.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	caps := map[types.TokenID]*uint64{
		common: types.Uint64(1000),
		rare:   types.Uint64(5),
		box:    nil,
	}
	sl, err := supply.New(ctx, caps, lootboxtest.NewMemCounters())
	if err != nil {
		t.Fatalf("supply.New: %v", err)
	}
	f := &fixture{
		supply:   sl,
		ledger:   lootboxtest.NewMemLedger(),
		registry: lootboxtest.NewMockRegistry(),
		recorder: &lootboxtest.Recorder{},
	}
	f.registry.SetProxy(owner, delegate)
	// Common is pre-minted to the owner.
	if err := f.ledger.CreditBalance(ctx, owner, common, 1000); err != nil {
		t.Fatalf("pre-mint: %v", err)
	}
	f.auth = minting.New(owner, access.NewGate(f.registry), sl, f.ledger, minting.WithNotifier(f.recorder))
	return f
}

func TestMint_CommonScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.auth.Mint(ctx, owner, common, userA, 10)
	if err != nil {
		t.Fatalf("owner mint: %v", err)
	}
	if res.FromStock != 10 || res.Fresh != 0 || res.Minted != 10 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := f.ledger.Balance(userA, common); got != 10 {
		t.Fatalf("userA balance %d, want 10", got)
	}
	if got := f.ledger.Balance(owner, common); got != 990 {
		t.Fatalf("owner balance %d, want 990", got)
	}

	res, err = f.auth.Mint(ctx, delegate, common, userB, 100)
	if err != nil {
		t.Fatalf("delegate mint: %v", err)
	}
	if res.Minted != 110 {
		t.Fatalf("minted counter %d, want 110", res.Minted)
	}
	if got := f.supply.Remaining(common); got != 890 {
		t.Fatalf("remaining %d, want 890", got)
	}

	_, err = f.auth.Mint(ctx, stranger, common, stranger, 1)
	if !errors.Is(err, lootbox.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
	if errors.Is(err, lootbox.ErrSupplyExhausted) {
		t.Fatal("unauthorized mint must not read as supply exhaustion")
	}
	if got := f.supply.Minted(common); got != 110 {
		t.Fatalf("rejected mint changed counter to %d", got)
	}
}

func TestMint_UnauthorizedTouchesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	credits := f.ledger.Credits.Load()

	for _, token := range []types.TokenID{common, rare, box, types.ItemToken(77)} {
		for _, amount := range []uint64{1, 5, 1 << 40} {
			_, err := f.auth.Mint(ctx, stranger, token, stranger, amount)
			if !errors.Is(err, lootbox.ErrUnauthorized) {
				t.Fatalf("%s x%d: expected Unauthorized, got %v", token, amount, err)
			}
		}
	}
	if f.supply.Minted(common) != 0 || f.supply.Minted(rare) != 0 || f.supply.Minted(box) != 0 {
		t.Fatal("unauthorized mints reserved supply")
	}
	if f.ledger.Credits.Load() != credits {
		t.Fatal("unauthorized mints reached the ledger")
	}
	if len(f.recorder.Events()) != 0 {
		t.Fatal("unauthorized mints emitted events")
	}
}

func TestMint_ZeroAmountCheckedFirst(t *testing.T) {
	f := newFixture(t)
	_, err := f.auth.Mint(context.Background(), stranger, common, userA, 0)
	if !errors.Is(err, lootbox.ErrZeroAmount) {
		t.Fatalf("expected ZeroAmount, got %v", err)
	}
	if n := f.registry.Lookups.Load(); n != 0 {
		t.Fatalf("zero amount must fail before authorization, saw %d lookups", n)
	}
}

func TestMint_SupplyExhaustedCreditsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.auth.Mint(ctx, owner, rare, userA, 4); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	credits := f.ledger.Credits.Load()

	_, err := f.auth.Mint(ctx, owner, rare, userA, 2)
	if !errors.Is(err, lootbox.ErrSupplyExhausted) {
		t.Fatalf("expected SupplyExhausted, got %v", err)
	}
	if f.ledger.Credits.Load() != credits {
		t.Fatal("exhausted mint reached the ledger")
	}
	if got := f.ledger.Balance(userA, rare); got != 4 {
		t.Fatalf("userA rare balance %d, want 4", got)
	}
}

func TestMint_FreshAndStockEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.ledger.CreditBalance(ctx, owner, rare, 2); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	res, err := f.auth.Mint(ctx, owner, rare, userA, 5)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if res.FromStock != 2 || res.Fresh != 3 {
		t.Fatalf("unexpected split %+v", res)
	}
	if f.ledger.Balance(owner, rare) != 0 || f.ledger.Balance(userA, rare) != 5 {
		t.Fatal("unexpected balances after split mint")
	}

	events := f.recorder.OfKind(types.EventTransfer)
	if len(events) != 2 {
		t.Fatalf("expected 2 transfer events, got %d", len(events))
	}
	if from, _ := events[0].Attr("from"); from != owner.String() {
		t.Errorf("first transfer from %s, want owner", from)
	}
	if amt, _ := events[0].Attr("amount"); amt != "2" {
		t.Errorf("stock transfer amount %s, want 2", amt)
	}
	if from, _ := events[1].Attr("from"); from != types.ZeroAccount.String() {
		t.Errorf("second transfer from %s, want zero account", from)
	}
}

func TestMint_OwnerToSelfIsFresh(t *testing.T) {
	f := newFixture(t)
	res, err := f.auth.Mint(context.Background(), owner, common, owner, 5)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if res.FromStock != 0 || res.Fresh != 5 {
		t.Fatalf("unexpected split %+v", res)
	}
	if got := f.ledger.Balance(owner, common); got != 1005 {
		t.Fatalf("owner balance %d, want 1005", got)
	}
}

func TestMint_ReentrantLedgerHook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var nestedErr error
	var observedMinted uint64
	f.ledger.OnCredit = func(ctx context.Context, account types.Account, token types.TokenID, amount uint64) error {
		if account != userA {
			return nil
		}
		observedMinted = f.supply.Minted(token)
		_, nestedErr = f.auth.Mint(ctx, owner, token, userA, 1)
		return nil
	}

	if _, err := f.auth.Mint(ctx, owner, rare, userA, 3); err != nil {
		t.Fatalf("outer mint: %v", err)
	}
	if !errors.Is(nestedErr, lootbox.ErrReentrant) {
		t.Fatalf("expected nested mint to fail with ErrReentrant, got %v", nestedErr)
	}
	if observedMinted != 3 {
		t.Fatalf("hook observed minted %d, want 3 (reservation before credit)", observedMinted)
	}
	if got := f.supply.Minted(rare); got != 3 {
		t.Fatalf("minted %d, want 3", got)
	}
	if got := f.ledger.Balance(userA, rare); got != 3 {
		t.Fatalf("userA balance %d, want 3", got)
	}
}

func TestMint_HookMayMintOtherToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var nestedErr error
	f.ledger.OnCredit = func(ctx context.Context, account types.Account, token types.TokenID, amount uint64) error {
		if token == rare {
			_, nestedErr = f.auth.Mint(ctx, owner, box, account, 1)
		}
		return nil
	}
	if _, err := f.auth.Mint(ctx, owner, rare, userA, 1); err != nil {
		t.Fatalf("outer mint: %v", err)
	}
	if nestedErr != nil {
		t.Fatalf("nested mint of another token: %v", nestedErr)
	}
	if got := f.ledger.Balance(userA, box); got != 1 {
		t.Fatalf("box balance %d, want 1", got)
	}
}

func TestMint_DeliveryFailureReleasesSupply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	errOffline := errors.New("ledger offline")
	f.ledger.CreditErr = func(account types.Account, _ types.TokenID) error {
		if account == userA {
			return errOffline
		}
		return nil
	}
	_, err := f.auth.Mint(ctx, owner, common, userA, 10)
	if !errors.Is(err, errOffline) {
		t.Fatalf("expected ledger error, got %v", err)
	}
	f.ledger.CreditErr = nil

	if got := f.supply.Minted(common); got != 0 {
		t.Fatalf("minted %d after failed delivery, want 0", got)
	}
	if got := f.ledger.Balance(owner, common); got != 1000 {
		t.Fatalf("owner stock %d, want restored 1000", got)
	}
}

func TestMintBatch_FailedLineTakesBackEarlierLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	errOffline := errors.New("ledger offline")
	f.ledger.CreditErr = func(account types.Account, _ types.TokenID) error {
		if account == userB {
			return errOffline
		}
		return nil
	}
	results, err := f.auth.MintBatch(ctx, owner, []types.MintLine{
		{Token: common, Recipient: userA, Amount: 5},
		{Token: rare, Recipient: userA, Amount: 2},
		{Token: rare, Recipient: userB, Amount: 1},
	})
	if !errors.Is(err, errOffline) {
		t.Fatalf("expected ledger error, got %v", err)
	}
	if errors.Is(err, minting.ErrRollbackIncomplete) {
		t.Fatalf("rollback should have completed: %v", err)
	}
	if results != nil {
		t.Fatalf("failed batch returned results %+v", results)
	}
	if f.ledger.Balance(userA, common) != 0 || f.ledger.Balance(userA, rare) != 0 {
		t.Fatal("earlier lines were not taken back")
	}
	if got := f.ledger.Balance(owner, common); got != 1000 {
		t.Fatalf("owner stock %d, want restored 1000", got)
	}
	if f.supply.Minted(common) != 0 || f.supply.Minted(rare) != 0 {
		t.Fatalf("supply not released: common=%d rare=%d", f.supply.Minted(common), f.supply.Minted(rare))
	}
	if n := len(f.recorder.Events()); n != 0 {
		t.Fatalf("failed batch emitted %d events", n)
	}
}

func TestMintBatch_RollbackIncompleteKeepsSupply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// userA spends the rare units as soon as they land, so they cannot
	// be taken back.
	f.ledger.OnCredit = func(ctx context.Context, account types.Account, token types.TokenID, amount uint64) error {
		if account == userA && token == rare {
			return f.ledger.DebitBalance(ctx, userA, rare, amount)
		}
		return nil
	}
	errOffline := errors.New("ledger offline")
	f.ledger.CreditErr = func(account types.Account, _ types.TokenID) error {
		if account == userB {
			return errOffline
		}
		return nil
	}
	_, err := f.auth.MintBatch(ctx, owner, []types.MintLine{
		{Token: rare, Recipient: userA, Amount: 2},
		{Token: common, Recipient: userB, Amount: 1},
	})
	if !errors.Is(err, minting.ErrRollbackIncomplete) || !errors.Is(err, errOffline) {
		t.Fatalf("expected incomplete rollback of ledger error, got %v", err)
	}
	if got := f.supply.Minted(rare); got != 2 {
		t.Fatalf("rare minted %d, want 2 still reserved", got)
	}
	if got := f.supply.Minted(common); got != 0 {
		t.Fatalf("common minted %d, want released", got)
	}
}

func TestMint_BoxLinesAreAlwaysFresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.auth.Mint(ctx, owner, box, owner, 3); err != nil {
		t.Fatalf("mint boxes to owner: %v", err)
	}
	res, err := f.auth.Mint(ctx, owner, box, userA, 2)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if res.FromStock != 0 || res.Fresh != 2 || res.Minted != 5 {
		t.Fatalf("unexpected box mint %+v", res)
	}
	if got := f.ledger.Balance(owner, box); got != 3 {
		t.Fatalf("owner boxes %d, want 3", got)
	}
}

func TestMintBatch_AllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.auth.MintBatch(ctx, owner, []types.MintLine{
		{Token: common, Recipient: userA, Amount: 5},
		{Token: rare, Recipient: userA, Amount: 3},
		{Token: rare, Recipient: userB, Amount: 3},
	})
	if !errors.Is(err, lootbox.ErrSupplyExhausted) {
		t.Fatalf("expected SupplyExhausted, got %v", err)
	}
	if f.ledger.Balance(userA, common) != 0 || f.supply.Minted(common) != 0 {
		t.Fatal("failed batch minted something")
	}

	results, err := f.auth.MintBatch(ctx, delegate, []types.MintLine{
		{Token: common, Recipient: userA, Amount: 5},
		{Token: rare, Recipient: userB, Amount: 5},
	})
	if err != nil {
		t.Fatalf("MintBatch: %v", err)
	}
	if len(results) != 2 || results[1].Fresh != 5 {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestReservation_CancelAndDeliver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lines := []types.MintLine{{Token: rare, Recipient: userA, Amount: 5}}

	r, err := f.auth.Reserve(ctx, owner, lines)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if got := f.supply.Remaining(rare); got != 0 {
		t.Fatalf("reserve must take supply immediately, remaining %d", got)
	}
	if err := r.Cancel(ctx); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := r.Deliver(ctx); err == nil {
		t.Fatal("expected error delivering a cancelled reservation")
	}
	if got := f.supply.Remaining(rare); got != 5 {
		t.Fatalf("remaining %d after cancel, want 5", got)
	}

	r, err = f.auth.Reserve(ctx, owner, lines)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := r.Deliver(ctx); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got := f.ledger.Balance(userA, rare); got != 5 {
		t.Fatalf("balance %d, want 5", got)
	}
	if err := r.Cancel(ctx); err == nil {
		t.Fatal("expected error cancelling a delivered reservation")
	}
}

func TestMint_ConcurrentNeverExceedsCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.auth.Mint(ctx, delegate, common, userA, 30)
		}()
	}
	wg.Wait()

	minted := f.supply.Minted(common)
	if minted > 1000 {
		t.Fatalf("minted %d exceeds cap", minted)
	}
	if minted != 990 {
		t.Fatalf("expected 33 successful mints (990), got %d", minted)
	}
	if got := f.ledger.Balance(userA, common); got != minted {
		t.Fatalf("balance %d does not match minted %d", got, minted)
	}
}
