package lootboxgrpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/blockberries/lootbox/types"
)

// Verifier turns a bearer token into the caller account it was issued
// for.
type Verifier func(token string) (types.Account, error)

// ServerOption configures a GRPCServer.
type ServerOption func(*GRPCServer)

// WithVerifier requires a bearer token on Mint and Unpack. The verified
// account replaces the Caller field of the request. Without a verifier
// the Caller field is trusted as sent, which is only safe on a loopback
// listener.
func WithVerifier(v Verifier) ServerOption {
	return func(s *GRPCServer) { s.verify = v }
}

type callerKey struct{}

func callerFrom(ctx context.Context) (types.Account, bool) {
	a, ok := ctx.Value(callerKey{}).(types.Account)
	return a, ok
}

// mutating lists the methods whose caller is authenticated.
var mutating = map[string]bool{
	fullMethod("Mint"):   true,
	fullMethod("Unpack"): true,
}

// authenticate verifies the bearer token of mutating calls and stores
// the caller account in the handler context.
func (s *GRPCServer) authenticate(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if !mutating[info.FullMethod] {
		return handler(ctx, req)
	}
	md, _ := metadata.FromIncomingContext(ctx)
	var raw string
	for _, v := range md.Get("authorization") {
		if tok, ok := strings.CutPrefix(v, "Bearer "); ok && tok != "" {
			raw = tok
			break
		}
	}
	if raw == "" {
		return nil, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	caller, err := s.verify(raw)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid bearer token")
	}
	return handler(context.WithValue(ctx, callerKey{}, caller), req)
}

type bearer string

func (b bearer) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + string(b)}, nil
}

// Tokens may travel over the plaintext loopback listener.
func (bearer) RequireTransportSecurity() bool { return false }

// WithBearerToken attaches token to every call made by a Client.
func WithBearerToken(token string) grpc.DialOption {
	return grpc.WithPerRPCCredentials(bearer(token))
}
