package lootboxgrpc

import "github.com/blockberries/lootbox/types"

// The query methods of lootbox.Service take plain arguments and return
// scalars or slices. These structs give each of them a cramberry message
// on the wire; the engine never sees them.

// RemainingRequest wraps the parameter for Service.Remaining.
type RemainingRequest struct {
	Token types.TokenID `cramberry:"1"`
}

// CountResponse wraps a single count.
type CountResponse struct {
	Count uint64 `cramberry:"1"`
}

// HeldBoxesRequest wraps the parameters for Service.HeldBoxes.
type HeldBoxesRequest struct {
	Holder types.Account  `cramberry:"1"`
	Option types.OptionID `cramberry:"2"`
}

// BalancesRequest wraps the parameters for Service.Balances.
type BalancesRequest struct {
	Holder types.Account   `cramberry:"1"`
	Tokens []types.TokenID `cramberry:"2"`
}

// BalancesResponse wraps the return value of Service.Balances.
type BalancesResponse struct {
	Balances []types.Balance `cramberry:"1"`
}

// InfoRequest is the (empty) request for Service.Info.
type InfoRequest struct{}
