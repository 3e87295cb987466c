package server

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blockberries/lootbox"
	"github.com/blockberries/lootbox/types"
)

const tracerName = "github.com/blockberries/lootbox/server"

var _ lootbox.Connection = (*Server)(nil)

// Server wraps a lootbox service with lifecycle enforcement. Every
// transport (gRPC, HTTP, in-process) talks to the engine exclusively
// through this server, which gives mutations a single global order.
type Server struct {
	svc    lootbox.Service
	guard  *LifecycleGuard
	tracer trace.Tracer
	logger *log.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithTracerProvider sets the provider spans are created from. The
// global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) { s.tracer = tp.Tracer(tracerName) }
}

// WithLogger sets the server logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a new Server wrapping svc.
func New(svc lootbox.Service, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		guard:  NewLifecycleGuard(),
		tracer: otel.Tracer(tracerName),
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the one-time genesis (which may be nil) and transitions
// the server to Ready. A failed genesis leaves the server in Init so
// Start can be retried.
func (s *Server) Start(ctx context.Context, genesis func(context.Context) error) error {
	if err := s.guard.AcquireStart(); err != nil {
		return err
	}
	ctx, span := s.tracer.Start(ctx, "lootbox.Start")
	defer span.End()

	if genesis != nil {
		if err := genesis(ctx); err != nil {
			s.guard.FailStart()
			recordErr(span, err)
			return err
		}
	}
	s.guard.CompleteStart()
	s.logger.Printf("lootbox: server ready")
	return nil
}

// State returns the lifecycle state name.
func (s *Server) State() string { return s.guard.State() }

// Mint is sequenced with every other mutation.
func (s *Server) Mint(ctx context.Context, req types.MintRequest) (types.MintResult, error) {
	ctx, release, err := s.guard.AcquireMutation(ctx)
	if err != nil {
		return types.MintResult{}, err
	}
	defer release()

	ctx, span := s.tracer.Start(ctx, "lootbox.Mint", trace.WithAttributes(
		attribute.String("lootbox.caller", req.Caller.String()),
		attribute.String("lootbox.kind", req.Kind.String()),
		attribute.Int64("lootbox.id", int64(req.ID)),
		attribute.String("lootbox.recipient", req.Recipient.String()),
	))
	defer span.End()

	res, err := s.svc.Mint(ctx, req)
	if err != nil {
		recordErr(span, err)
		return res, err
	}
	span.SetAttributes(attribute.String("lootbox.token", res.Token.String()))
	return res, nil
}

// Unpack is sequenced with every other mutation.
func (s *Server) Unpack(ctx context.Context, req types.UnpackRequest) (types.UnpackSummary, error) {
	ctx, release, err := s.guard.AcquireMutation(ctx)
	if err != nil {
		return types.UnpackSummary{}, err
	}
	defer release()

	ctx, span := s.tracer.Start(ctx, "lootbox.Unpack", trace.WithAttributes(
		attribute.String("lootbox.caller", req.Caller.String()),
		attribute.String("lootbox.holder", req.Holder.String()),
		attribute.Int64("lootbox.option", int64(req.Option)),
	))
	defer span.End()

	summary, err := s.svc.Unpack(ctx, req)
	if err != nil {
		recordErr(span, err)
		return summary, err
	}
	span.SetAttributes(
		attribute.String("lootbox.receipt", summary.ReceiptID),
		attribute.Int64("lootbox.items_minted", int64(summary.ItemsMinted)),
	)
	return summary, nil
}

// Remaining reads supply. Safe for concurrent use.
func (s *Server) Remaining(ctx context.Context, token types.TokenID) (uint64, error) {
	if err := s.guard.CheckConcurrent(); err != nil {
		return 0, err
	}
	ctx, span := s.tracer.Start(ctx, "lootbox.Remaining")
	defer span.End()
	return s.svc.Remaining(ctx, token)
}

// HeldBoxes reads a box balance. Safe for concurrent use.
func (s *Server) HeldBoxes(ctx context.Context, holder types.Account, option types.OptionID) (uint64, error) {
	if err := s.guard.CheckConcurrent(); err != nil {
		return 0, err
	}
	ctx, span := s.tracer.Start(ctx, "lootbox.HeldBoxes")
	defer span.End()
	n, err := s.svc.HeldBoxes(ctx, holder, option)
	if err != nil {
		recordErr(span, err)
	}
	return n, err
}

// Balances reads several balances. Safe for concurrent use.
func (s *Server) Balances(ctx context.Context, holder types.Account, tokens []types.TokenID) ([]types.Balance, error) {
	if err := s.guard.CheckConcurrent(); err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "lootbox.Balances")
	defer span.End()
	b, err := s.svc.Balances(ctx, holder, tokens)
	if err != nil {
		recordErr(span, err)
	}
	return b, err
}

// Info describes the catalog. Safe for concurrent use.
func (s *Server) Info(ctx context.Context) (types.Info, error) {
	if err := s.guard.CheckConcurrent(); err != nil {
		return types.Info{}, err
	}
	return s.svc.Info(ctx)
}

// Close waits for an in-flight mutation and rejects further calls.
func (s *Server) Close() error {
	s.guard.Close()
	return nil
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(lootbox.CodeOf(err)))
}
