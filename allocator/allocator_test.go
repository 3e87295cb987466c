package allocator_test

import (
	"errors"
	"math"
	"testing"

	"github.com/blockberries/lootbox"
	"github.com/blockberries/lootbox/allocator"
	lootboxtest "github.com/blockberries/lootbox/testing"
	"github.com/blockberries/lootbox/types"
)

const (
	catA types.CategoryID = 1
	catB types.CategoryID = 2
	catC types.CategoryID = 3
)

func fiveItemOption() types.Option {
	return types.Option{
		ID:    1,
		Name:  "scenario",
		Total: 5,
		Guarantees: []types.Guarantee{
			{Category: catA, Minimum: 2, Weight: 1},
			{Category: catB, Minimum: 1, Weight: 1},
			{Category: catC, Minimum: 0, Weight: 1},
		},
	}
}

func checkInvariants(t *testing.T, opt types.Option, got types.Allocation) {
	t.Helper()
	if got.Total() != opt.Total {
		t.Fatalf("sum %d != total %d (%v)", got.Total(), opt.Total, got)
	}
	for _, g := range opt.Guarantees {
		n := got.Count(g.Category)
		if n < g.Minimum {
			t.Fatalf("category %d: %d below minimum %d", g.Category, n, g.Minimum)
		}
		if g.MaxCap != nil && n > *g.MaxCap {
			t.Fatalf("category %d: %d above max cap %d", g.Category, n, *g.MaxCap)
		}
	}
}

func TestAllocate_ScenarioHoldsForEveryEntropy(t *testing.T) {
	opt := fiveItemOption()
	sources := map[string]lootbox.Entropy{
		"zero":     lootboxtest.ConstEntropy(0),
		"max":      lootboxtest.ConstEntropy(math.MaxUint64),
		"mid":      lootboxtest.ConstEntropy(1 << 63),
		"sequence": &lootboxtest.SequenceEntropy{Values: []uint64{7, math.MaxUint64, 0, 1 << 40}},
		"seeded":   allocator.NewSeeded(42),
		"hash":     allocator.NewHashStream([]byte("block 1234")),
	}
	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 500; i++ {
				got, err := allocator.Allocate(opt, src)
				if err != nil {
					t.Fatalf("Allocate: %v", err)
				}
				checkInvariants(t, opt, got)
				if got.Count(catA) < 2 || got.Count(catB) < 1 {
					t.Fatalf("minimums violated: %v", got)
				}
			}
		})
	}
}

func TestAllocate_ConstantStreamPicksBoundaries(t *testing.T) {
	opt := fiveItemOption()

	got, err := allocator.Allocate(opt, lootboxtest.ConstEntropy(0))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got.Count(catA) != 4 || got.Count(catB) != 1 || got.Count(catC) != 0 {
		t.Fatalf("zero stream should put the remainder on the first category, got %v", got)
	}

	got, err = allocator.Allocate(opt, lootboxtest.ConstEntropy(math.MaxUint64))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got.Count(catC) != 2 {
		t.Fatalf("max stream should put the remainder on the last category, got %v", got)
	}
}

func TestAllocate_MaxCapRedirectsRemainder(t *testing.T) {
	opt := fiveItemOption()
	opt.Guarantees[2].MaxCap = types.Uint64(1)

	got, err := allocator.Allocate(opt, lootboxtest.ConstEntropy(math.MaxUint64))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	checkInvariants(t, opt, got)
	if got.Count(catC) != 1 || got.Count(catB) != 2 {
		t.Fatalf("expected C saturated at 1 and overflow on B, got %v", got)
	}
}

func TestAllocate_ZeroRemainderIgnoresEntropy(t *testing.T) {
	opt := types.Option{ID: 2, Total: 3, Guarantees: []types.Guarantee{
		{Category: catA, Minimum: 2},
		{Category: catB, Minimum: 1},
	}}
	seq := &lootboxtest.SequenceEntropy{Values: []uint64{1}}
	got, err := allocator.Allocate(opt, seq)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got.Count(catA) != 2 || got.Count(catB) != 1 {
		t.Fatalf("unexpected allocation %v", got)
	}
}

func TestAllocate_ZeroWeightNeverDrawn(t *testing.T) {
	opt := types.Option{ID: 3, Total: 10, Guarantees: []types.Guarantee{
		{Category: catA, Minimum: 1, Weight: 0},
		{Category: catB, Minimum: 0, Weight: 5},
	}}
	src := allocator.NewSeeded(7)
	for i := 0; i < 200; i++ {
		got, err := allocator.Allocate(opt, src)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if got.Count(catA) != 1 || got.Count(catB) != 9 {
			t.Fatalf("zero-weight category drawn: %v", got)
		}
	}
}

func TestAllocate_ExhaustedAtRuntime(t *testing.T) {
	opt := types.Option{ID: 4, Total: 5, Guarantees: []types.Guarantee{
		{Category: catA, Minimum: 1, Weight: 1, MaxCap: types.Uint64(2)},
	}}
	_, err := allocator.Allocate(opt, lootboxtest.ConstEntropy(0))
	if !errors.Is(err, lootbox.ErrAllocatorExhausted) {
		t.Fatalf("expected AllocatorExhausted, got %v", err)
	}
}

func TestAllocate_MinimumsAboveTotal(t *testing.T) {
	opt := types.Option{ID: 5, Total: 2, Guarantees: []types.Guarantee{
		{Category: catA, Minimum: 2, Weight: 1},
		{Category: catB, Minimum: 1, Weight: 1},
	}}
	_, err := allocator.Allocate(opt, lootboxtest.ConstEntropy(0))
	if !errors.Is(err, lootbox.ErrInvalidConfig) {
		t.Fatalf("expected InvalidConfig, got %v", err)
	}
}

func TestAllocate_RemainderFollowsWeights(t *testing.T) {
	opt := types.Option{ID: 6, Total: 100, Guarantees: []types.Guarantee{
		{Category: catA, Minimum: 0, Weight: 1},
		{Category: catB, Minimum: 0, Weight: 2},
		{Category: catC, Minimum: 0, Weight: 7},
	}}
	src := allocator.NewSeeded(20240601)

	const trials = 2000
	var totals types.Allocation
	for i := 0; i < trials; i++ {
		got, err := allocator.Allocate(opt, src)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		totals = totals.Add(got)
	}

	draws := float64(trials * opt.Total)
	want := map[types.CategoryID]float64{catA: 0.1, catB: 0.2, catC: 0.7}
	for c, p := range want {
		got := float64(totals.Count(c)) / draws
		if math.Abs(got-p) > 0.01 {
			t.Errorf("category %d: empirical share %.4f, want %.2f", c, got, p)
		}
	}
}

func TestValidateOption(t *testing.T) {
	cats := []types.Category{{ID: catA}, {ID: catB}, {ID: catC}}

	tests := []struct {
		name    string
		mutate  func(*types.Option)
		wantErr error
	}{
		{"valid", func(*types.Option) {}, nil},
		{"zero total", func(o *types.Option) { o.Total = 0 }, lootbox.ErrInvalidConfig},
		{"empty table", func(o *types.Option) { o.Guarantees = nil }, lootbox.ErrInvalidConfig},
		{"minimums exceed total", func(o *types.Option) { o.Total = 2 }, lootbox.ErrInvalidConfig},
		{"duplicate category", func(o *types.Option) { o.Guarantees[2].Category = catA }, lootbox.ErrInvalidConfig},
		{"unknown category", func(o *types.Option) { o.Guarantees[2].Category = 99 }, lootbox.ErrInvalidConfig},
		{"minimum above max cap", func(o *types.Option) { o.Guarantees[0].MaxCap = types.Uint64(1) }, lootbox.ErrInvalidConfig},
		{"all weights zero", func(o *types.Option) {
			for i := range o.Guarantees {
				o.Guarantees[i].Weight = 0
			}
		}, lootbox.ErrAllocatorExhausted},
		{"headroom too small", func(o *types.Option) {
			o.Guarantees[0].MaxCap = types.Uint64(2)
			o.Guarantees[1].MaxCap = types.Uint64(1)
			o.Guarantees[2].MaxCap = types.Uint64(1)
		}, lootbox.ErrAllocatorExhausted},
		{"headroom exact", func(o *types.Option) {
			o.Guarantees[0].MaxCap = types.Uint64(3)
			o.Guarantees[1].MaxCap = types.Uint64(1)
			o.Guarantees[2].MaxCap = types.Uint64(1)
		}, nil},
		{"weight overflow", func(o *types.Option) {
			o.Guarantees[0].Weight = math.MaxUint64
		}, lootbox.ErrInvalidConfig},
		{"fixed yield needs no weights", func(o *types.Option) {
			o.Total = 3
			for i := range o.Guarantees {
				o.Guarantees[i].Weight = 0
			}
		}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt := fiveItemOption()
			tt.mutate(&opt)
			err := allocator.ValidateOption(opt, cats)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

// Every option accepted by ValidateOption must allocate under the worst
// entropy streams.
func TestValidatedOptionsNeverExhaust(t *testing.T) {
	opt := fiveItemOption()
	opt.Guarantees[0].MaxCap = types.Uint64(3)
	opt.Guarantees[1].MaxCap = types.Uint64(1)
	opt.Guarantees[2].MaxCap = types.Uint64(1)
	if err := allocator.ValidateOption(opt, nil); err != nil {
		t.Fatalf("ValidateOption: %v", err)
	}
	for _, v := range []uint64{0, 1, 1 << 62, math.MaxUint64} {
		got, err := allocator.Allocate(opt, lootboxtest.ConstEntropy(v))
		if err != nil {
			t.Fatalf("entropy %d: %v", v, err)
		}
		checkInvariants(t, opt, got)
	}
}
