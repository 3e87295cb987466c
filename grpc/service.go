package lootboxgrpc

import (
	"context"
	"fmt"

	"github.com/blockberries/lootbox/types"

	"google.golang.org/grpc"
)

const serviceName = "lootbox.v1.LootBoxService"

// LootBoxServiceServer is the server-side interface for the lootbox gRPC service.
type LootBoxServiceServer interface {
	Mint(context.Context, *types.MintRequest) (*types.MintResult, error)
	Unpack(context.Context, *types.UnpackRequest) (*types.UnpackSummary, error)
	Remaining(context.Context, *RemainingRequest) (*CountResponse, error)
	HeldBoxes(context.Context, *HeldBoxesRequest) (*CountResponse, error)
	Balances(context.Context, *BalancesRequest) (*BalancesResponse, error)
	Info(context.Context, *InfoRequest) (*types.Info, error)
}

// RegisterLootBoxServiceServer registers the LootBoxServiceServer on a gRPC server.
func RegisterLootBoxServiceServer(s *grpc.Server, srv LootBoxServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Each handler decodes its message with the forced codec and routes it
// through the interceptor chain.

func handlerMint(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(types.MintRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return intercept(ctx, req, interceptor, "Mint", func(ctx context.Context, req any) (any, error) {
		return srv.(LootBoxServiceServer).Mint(ctx, req.(*types.MintRequest))
	})
}

func handlerUnpack(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(types.UnpackRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return intercept(ctx, req, interceptor, "Unpack", func(ctx context.Context, req any) (any, error) {
		return srv.(LootBoxServiceServer).Unpack(ctx, req.(*types.UnpackRequest))
	})
}

func handlerRemaining(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(RemainingRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return intercept(ctx, req, interceptor, "Remaining", func(ctx context.Context, req any) (any, error) {
		return srv.(LootBoxServiceServer).Remaining(ctx, req.(*RemainingRequest))
	})
}

func handlerHeldBoxes(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(HeldBoxesRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return intercept(ctx, req, interceptor, "HeldBoxes", func(ctx context.Context, req any) (any, error) {
		return srv.(LootBoxServiceServer).HeldBoxes(ctx, req.(*HeldBoxesRequest))
	})
}

func handlerBalances(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(BalancesRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return intercept(ctx, req, interceptor, "Balances", func(ctx context.Context, req any) (any, error) {
		return srv.(LootBoxServiceServer).Balances(ctx, req.(*BalancesRequest))
	})
}

func handlerInfo(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(InfoRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return intercept(ctx, req, interceptor, "Info", func(ctx context.Context, req any) (any, error) {
		return srv.(LootBoxServiceServer).Info(ctx, req.(*InfoRequest))
	})
}

// intercept runs handler through the server's unary interceptor chain,
// if one is configured.
func intercept(ctx context.Context, req any, interceptor grpc.UnaryServerInterceptor, method string, handler grpc.UnaryHandler) (any, error) {
	if interceptor == nil {
		return handler(ctx, req)
	}
	info := &grpc.UnaryServerInfo{FullMethod: fullMethod(method)}
	return interceptor(ctx, req, info, handler)
}

// fullMethod returns the path of method under lootbox.v1.LootBoxService.
func fullMethod(method string) string {
	return fmt.Sprintf("/%s/%s", serviceName, method)
}

// serviceDesc is the manual gRPC service descriptor for the lootbox service.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LootBoxServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Mint", Handler: handlerMint},
		{MethodName: "Unpack", Handler: handlerUnpack},
		{MethodName: "Remaining", Handler: handlerRemaining},
		{MethodName: "HeldBoxes", Handler: handlerHeldBoxes},
		{MethodName: "Balances", Handler: handlerBalances},
		{MethodName: "Info", Handler: handlerInfo},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lootbox/v1/service.cram",
}
