package lootboxgrpc

import (
	"context"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/blockberries/lootbox/server"
	"github.com/blockberries/lootbox/types"
)

// Compile-time interface check.
var _ LootBoxServiceServer = (*GRPCServer)(nil)

// GRPCServer exposes a lootbox server over gRPC. No type conversion is
// needed; domain types are serialized directly via cramberry.
type GRPCServer struct {
	srv    *server.Server
	verify Verifier
}

// NewGRPCServer creates a gRPC server in front of srv. srv must have
// been started.
func NewGRPCServer(srv *server.Server, opts ...ServerOption) *GRPCServer {
	s := &GRPCServer{srv: srv}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds the lootbox service to a gRPC server.
func (s *GRPCServer) Register(gs *grpc.Server) {
	RegisterLootBoxServiceServer(gs, s)
}

// NewServer returns a grpc.Server with the lootbox service registered
// and OpenTelemetry instrumentation installed. With a verifier set, the
// bearer-token interceptor runs ahead of any interceptor in opts.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}
	if s.verify != nil {
		base = append(base, grpc.ChainUnaryInterceptor(s.authenticate))
	}
	opts = append(base, opts...)
	gs := grpc.NewServer(opts...)
	s.Register(gs)
	return gs
}

// Serve builds a grpc.Server with NewServer and serves lis until it is
// stopped.
func (s *GRPCServer) Serve(lis net.Listener, opts ...grpc.ServerOption) error {
	return s.NewServer(opts...).Serve(lis)
}

// Server returns the lifecycle-managed lootbox server behind the
// transport.
func (s *GRPCServer) Server() *server.Server {
	return s.srv
}

func (s *GRPCServer) Mint(ctx context.Context, req *types.MintRequest) (*types.MintResult, error) {
	r := *req
	if caller, ok := callerFrom(ctx); ok {
		r.Caller = caller
	}
	res, err := s.srv.Mint(ctx, r)
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}

func (s *GRPCServer) Unpack(ctx context.Context, req *types.UnpackRequest) (*types.UnpackSummary, error) {
	r := *req
	if caller, ok := callerFrom(ctx); ok {
		r.Caller = caller
	}
	summary, err := s.srv.Unpack(ctx, r)
	if err != nil {
		return nil, toStatus(err)
	}
	return &summary, nil
}

func (s *GRPCServer) Remaining(ctx context.Context, req *RemainingRequest) (*CountResponse, error) {
	n, err := s.srv.Remaining(ctx, req.Token)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CountResponse{Count: n}, nil
}

func (s *GRPCServer) HeldBoxes(ctx context.Context, req *HeldBoxesRequest) (*CountResponse, error) {
	n, err := s.srv.HeldBoxes(ctx, req.Holder, req.Option)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CountResponse{Count: n}, nil
}

func (s *GRPCServer) Balances(ctx context.Context, req *BalancesRequest) (*BalancesResponse, error) {
	b, err := s.srv.Balances(ctx, req.Holder, req.Tokens)
	if err != nil {
		return nil, toStatus(err)
	}
	return &BalancesResponse{Balances: b}, nil
}

func (s *GRPCServer) Info(ctx context.Context, _ *InfoRequest) (*types.Info, error) {
	info, err := s.srv.Info(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &info, nil
}
