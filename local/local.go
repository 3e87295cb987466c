// Package local provides a zero-copy, in-process lootbox connection.
//
// For storefronts compiled into the same binary as the engine, this
// adapter wraps the service with lifecycle enforcement and mutation
// sequencing, with no serialization overhead.
package local

import (
	"context"

	"github.com/blockberries/lootbox"
	"github.com/blockberries/lootbox/server"
	"github.com/blockberries/lootbox/types"
)

// Compile-time interface check.
var _ lootbox.Connection = (*Connection)(nil)

// Connection wraps a local Service with lifecycle enforcement.
type Connection struct {
	srv *server.Server
}

// NewConnection creates an in-process connection wrapping svc. The
// connection must be started before use.
func NewConnection(svc lootbox.Service, opts ...server.Option) *Connection {
	return &Connection{srv: server.New(svc, opts...)}
}

// Wrap creates a connection over an existing server.
func Wrap(srv *server.Server) *Connection {
	return &Connection{srv: srv}
}

// Start runs genesis and opens the connection for calls.
func (c *Connection) Start(ctx context.Context, genesis func(context.Context) error) error {
	return c.srv.Start(ctx, genesis)
}

func (c *Connection) Mint(ctx context.Context, req types.MintRequest) (types.MintResult, error) {
	return c.srv.Mint(ctx, req)
}

func (c *Connection) Unpack(ctx context.Context, req types.UnpackRequest) (types.UnpackSummary, error) {
	return c.srv.Unpack(ctx, req)
}

func (c *Connection) Remaining(ctx context.Context, token types.TokenID) (uint64, error) {
	return c.srv.Remaining(ctx, token)
}

func (c *Connection) HeldBoxes(ctx context.Context, holder types.Account, option types.OptionID) (uint64, error) {
	return c.srv.HeldBoxes(ctx, holder, option)
}

func (c *Connection) Balances(ctx context.Context, holder types.Account, tokens []types.TokenID) ([]types.Balance, error) {
	return c.srv.Balances(ctx, holder, tokens)
}

func (c *Connection) Info(ctx context.Context) (types.Info, error) {
	return c.srv.Info(ctx)
}

// Close closes the underlying server. Later calls fail with NotReady.
func (c *Connection) Close() error { return c.srv.Close() }

// Server returns the underlying server for advanced use cases.
func (c *Connection) Server() *server.Server {
	return c.srv
}
