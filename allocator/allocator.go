// Package allocator distributes a loot box's fixed yield across item
// categories.
//
// Every allocation starts from the guaranteed minimums and hands out the
// remainder one unit at a time by weighted draw over the categories that
// still have headroom. The sum and minimum invariants therefore hold by
// construction; entropy only shapes how the remainder is spread.
package allocator

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/blockberries/lootbox"
	"github.com/blockberries/lootbox/types"
)

// Allocate draws one box's worth of items for opt. The result lists the
// option's categories in guarantee-table order and always sums to
// opt.Total with every count at or above its minimum.
//
// Allocate never loops on entropy: a constant stream is as safe as a
// good one, only less fair.
func Allocate(opt types.Option, src lootbox.Entropy) (types.Allocation, error) {
	sum, ok := guaranteedSum(opt)
	if !ok || sum > opt.Total {
		return nil, lootbox.NewError(lootbox.CodeInvalidConfig,
			"option %d: guaranteed minimums exceed total %d", opt.ID, opt.Total)
	}

	out := make(types.Allocation, len(opt.Guarantees))
	for i, g := range opt.Guarantees {
		out[i] = types.CategoryCount{Category: g.Category, Count: g.Minimum}
	}

	eligible := make([]int, 0, len(opt.Guarantees))
	for remainder := opt.Total - sum; remainder > 0; remainder-- {
		eligible = eligible[:0]
		var weight uint64
		for i, g := range opt.Guarantees {
			if g.Weight == 0 {
				continue
			}
			if g.MaxCap != nil && out[i].Count >= *g.MaxCap {
				continue
			}
			if weight > math.MaxUint64-g.Weight {
				return nil, lootbox.NewError(lootbox.CodeInvalidConfig,
					"option %d: total weight overflows", opt.ID)
			}
			weight += g.Weight
			eligible = append(eligible, i)
		}
		if len(eligible) == 0 {
			return nil, lootbox.NewError(lootbox.CodeAllocatorExhausted,
				"option %d: no eligible category for %d remaining units", opt.ID, remainder)
		}

		r := uniform(src, weight)
		pick := eligible[len(eligible)-1]
		for _, i := range eligible {
			w := opt.Guarantees[i].Weight
			if r < w {
				pick = i
				break
			}
			r -= w
		}
		out[pick].Count++
	}
	return out, nil
}

// uniform maps one entropy word onto [0, n) by multiply-shift. The bias
// is at most n/2^64 and no value is ever rejected.
func uniform(src lootbox.Entropy, n uint64) uint64 {
	hi, _ := bits.Mul64(src.Uint64(), n)
	return hi
}

// ValidateOption checks an option against the catalog's categories so
// that Allocate can never fail for it at unpack time. A nil categories
// slice skips the known-category check.
func ValidateOption(opt types.Option, categories []types.Category) error {
	if opt.Total == 0 {
		return invalid(opt, "total must be positive")
	}
	if len(opt.Guarantees) == 0 {
		return invalid(opt, "guarantee table is empty")
	}

	known := make(map[types.CategoryID]bool, len(categories))
	for _, c := range categories {
		known[c.ID] = true
	}
	seen := make(map[types.CategoryID]bool, len(opt.Guarantees))
	var weight uint64
	for _, g := range opt.Guarantees {
		if seen[g.Category] {
			return invalid(opt, fmt.Sprintf("category %d listed twice", g.Category))
		}
		seen[g.Category] = true
		if categories != nil && !known[g.Category] {
			return invalid(opt, fmt.Sprintf("unknown category %d", g.Category))
		}
		if g.MaxCap != nil && g.Minimum > *g.MaxCap {
			return invalid(opt, fmt.Sprintf("category %d: minimum %d exceeds max cap %d", g.Category, g.Minimum, *g.MaxCap))
		}
		if weight > math.MaxUint64-g.Weight {
			return invalid(opt, "total weight overflows")
		}
		weight += g.Weight
	}

	sum, ok := guaranteedSum(opt)
	if !ok || sum > opt.Total {
		return invalid(opt, fmt.Sprintf("guaranteed minimums exceed total %d", opt.Total))
	}

	remainder := opt.Total - sum
	if remainder == 0 {
		return nil
	}
	var headroom uint64
	for _, g := range opt.Guarantees {
		if g.Weight == 0 {
			continue
		}
		if g.MaxCap == nil {
			return nil
		}
		var carry uint64
		headroom, carry = bits.Add64(headroom, *g.MaxCap-g.Minimum, 0)
		if carry != 0 || headroom >= remainder {
			return nil
		}
	}
	return lootbox.NewError(lootbox.CodeAllocatorExhausted,
		"option %d: weighted headroom %d cannot cover remainder %d", opt.ID, headroom, remainder)
}

func guaranteedSum(opt types.Option) (uint64, bool) {
	var sum uint64
	for _, g := range opt.Guarantees {
		var carry uint64
		sum, carry = bits.Add64(sum, g.Minimum, 0)
		if carry != 0 {
			return 0, false
		}
	}
	return sum, true
}

func invalid(opt types.Option, msg string) error {
	return lootbox.NewError(lootbox.CodeInvalidConfig, "option %d: %s", opt.ID, msg)
}
