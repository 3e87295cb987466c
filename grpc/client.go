package lootboxgrpc

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/blockberries/lootbox"
	"github.com/blockberries/lootbox/types"
)

// Compile-time interface check.
var _ lootbox.Connection = (*Client)(nil)

// Client implements lootbox.Connection for a remote engine over gRPC
// using cramberry serialization. Errors carrying lootbox ErrorInfo are
// decoded back into *lootbox.Error.
type Client struct {
	cc *grpc.ClientConn
}

// Dial connects to a remote lootbox server.
func Dial(ctx context.Context, addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append(opts,
		grpc.WithDefaultCallOptions(grpc.ForceCodec(CramberryCodec{})),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	cc, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("lootbox client: dial %s: %w", addr, err)
	}
	return &Client{cc: cc}, nil
}

func (c *Client) Close() error {
	return c.cc.Close()
}

func (c *Client) Mint(ctx context.Context, req types.MintRequest) (types.MintResult, error) {
	resp := new(types.MintResult)
	if err := c.cc.Invoke(ctx, fullMethod("Mint"), &req, resp); err != nil {
		return types.MintResult{}, fromStatus(err)
	}
	return *resp, nil
}

func (c *Client) Unpack(ctx context.Context, req types.UnpackRequest) (types.UnpackSummary, error) {
	resp := new(types.UnpackSummary)
	if err := c.cc.Invoke(ctx, fullMethod("Unpack"), &req, resp); err != nil {
		return types.UnpackSummary{}, fromStatus(err)
	}
	return *resp, nil
}

func (c *Client) Remaining(ctx context.Context, token types.TokenID) (uint64, error) {
	resp := new(CountResponse)
	if err := c.cc.Invoke(ctx, fullMethod("Remaining"), &RemainingRequest{Token: token}, resp); err != nil {
		return 0, fromStatus(err)
	}
	return resp.Count, nil
}

func (c *Client) HeldBoxes(ctx context.Context, holder types.Account, option types.OptionID) (uint64, error) {
	resp := new(CountResponse)
	req := &HeldBoxesRequest{Holder: holder, Option: option}
	if err := c.cc.Invoke(ctx, fullMethod("HeldBoxes"), req, resp); err != nil {
		return 0, fromStatus(err)
	}
	return resp.Count, nil
}

func (c *Client) Balances(ctx context.Context, holder types.Account, tokens []types.TokenID) ([]types.Balance, error) {
	resp := new(BalancesResponse)
	req := &BalancesRequest{Holder: holder, Tokens: tokens}
	if err := c.cc.Invoke(ctx, fullMethod("Balances"), req, resp); err != nil {
		return nil, fromStatus(err)
	}
	return resp.Balances, nil
}

func (c *Client) Info(ctx context.Context) (types.Info, error) {
	resp := new(types.Info)
	if err := c.cc.Invoke(ctx, fullMethod("Info"), &InfoRequest{}, resp); err != nil {
		return types.Info{}, fromStatus(err)
	}
	return *resp, nil
}
