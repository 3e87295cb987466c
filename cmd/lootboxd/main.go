// Command lootboxd serves a lootbox engine over gRPC and HTTP, backed
// by a SQLite store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blockberries/lootbox"
	"github.com/blockberries/lootbox/allocator"
	"github.com/blockberries/lootbox/config"
	"github.com/blockberries/lootbox/engine"
	"github.com/blockberries/lootbox/eventlog"
	"github.com/blockberries/lootbox/example/accessories"
	lootboxgrpc "github.com/blockberries/lootbox/grpc"
	"github.com/blockberries/lootbox/httpapi"
	"github.com/blockberries/lootbox/server"
	"github.com/blockberries/lootbox/store"
	"github.com/blockberries/lootbox/telemetry"
	"github.com/blockberries/lootbox/types"
)

const eventPrefix = "events"

func main() {
	issueFor := flag.String("issue-token", "", "print a bearer token for this account and exit")
	ttl := flag.Duration("ttl", 24*time.Hour, "lifetime of tokens issued with -issue-token")
	printCatalog := flag.Bool("print-catalog", false, "print the accessories preset catalog and exit")
	dumpEvents := flag.Bool("dump-events", false, "print every archived event as JSON and exit")
	flag.Parse()

	env, err := config.LoadEnv()
	if err != nil {
		config.Exitf("lootboxd: %v", err)
	}

	switch {
	case *printCatalog:
		_, _ = os.Stdout.Write(accessories.YAML())
		return
	case *issueFor != "":
		account, err := types.ParseAccount(*issueFor)
		if err != nil {
			config.Exitf("lootboxd: %v", err)
		}
		tok, err := httpapi.IssueToken([]byte(env.JWTSecret), account, *ttl, time.Now())
		if err != nil {
			config.Exitf("lootboxd: %v", err)
		}
		fmt.Println(tok)
		return
	case *dumpEvents:
		enc := json.NewEncoder(os.Stdout)
		if err := eventlog.ReadAll(env.EventDir, eventPrefix, func(ev types.Event) error {
			return enc.Encode(ev)
		}); err != nil {
			config.Exitf("lootboxd: %v", err)
		}
		return
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, env, logger); err != nil {
		config.Exitf("lootboxd: %v", err)
	}
}

func run(ctx context.Context, env config.Env, logger *log.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, "lootboxd", telemetry.Config{
		Endpoint: env.OTelEndpoint,
		Disabled: env.OTelDisabled,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	catalog, err := loadCatalog(env)
	if err != nil {
		return err
	}

	st, err := store.Open(env.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	for _, d := range catalog.Delegates {
		if err := st.SetDelegate(ctx, catalog.Owner, d, true); err != nil {
			return err
		}
	}

	entropy, err := newEntropy(env.EntropySeed)
	if err != nil {
		return err
	}

	events := eventlog.NewWriter(env.EventDir, eventPrefix)
	defer events.Close()
	origins := corsOrigins(env.CORSOrigins)
	hub := httpapi.NewHub(logger, httpapi.OriginChecker(origins))

	eng, err := engine.New(ctx, catalog.Catalog, engine.Deps{
		Registry: st,
		Ledger:   st,
		Counters: st,
		Entropy:  entropy,
		Notifier: lootbox.Notifiers(events, hub),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	srv := server.New(eng, server.WithLogger(logger))
	if err := srv.Start(ctx, func(ctx context.Context) error {
		return eng.Genesis(ctx, st)
	}); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer srv.Close()

	lis, err := net.Listen("tcp", env.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	var grpcOpts []lootboxgrpc.ServerOption
	if env.JWTSecret != "" {
		secret := []byte(env.JWTSecret)
		grpcOpts = append(grpcOpts, lootboxgrpc.WithVerifier(func(raw string) (types.Account, error) {
			return httpapi.ParseToken(secret, raw)
		}))
	} else if !isLoopback(lis.Addr()) {
		_ = lis.Close()
		return fmt.Errorf("grpc: %s is not loopback; set LOOTBOX_JWT_SECRET to authenticate callers", lis.Addr())
	}
	grpcSrv := lootboxgrpc.NewGRPCServer(srv, grpcOpts...).NewServer()
	errc := make(chan error, 2)
	go func() {
		logger.Printf("lootbox: grpc listening on %s", lis.Addr())
		errc <- grpcSrv.Serve(lis)
	}()

	httpSrv := &http.Server{
		Addr: env.HTTPAddr,
		Handler: httpapi.New(srv,
			httpapi.WithHub(hub),
			httpapi.WithJWTSecret([]byte(env.JWTSecret)),
			httpapi.WithCORSOrigins(origins),
			httpapi.WithLogger(logger),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Printf("lootbox: http listening on %s", env.HTTPAddr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Printf("lootbox: shutting down")
	case err := <-errc:
		logger.Printf("lootbox: listener failed: %v", err)
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		logger.Printf("lootbox: http shutdown: %v", err)
	}
	grpcSrv.GracefulStop()
	return nil
}

func loadCatalog(env config.Env) (config.Catalog, error) {
	var (
		c   config.Catalog
		err error
	)
	if env.CatalogPath == "" {
		c, err = accessories.Load(types.Account{})
	} else {
		c, err = config.LoadCatalog(env.CatalogPath)
	}
	if err != nil {
		return config.Catalog{}, err
	}
	if env.Owner != "" {
		owner, err := types.ParseAccount(env.Owner)
		if err != nil {
			return config.Catalog{}, fmt.Errorf("LOOTBOX_OWNER: %w", err)
		}
		c.Owner = owner
		if err := config.Validate(c.Catalog); err != nil {
			return config.Catalog{}, err
		}
	}
	return c, nil
}

func newEntropy(seed uint64) (lootbox.Entropy, error) {
	if seed != 0 {
		return allocator.NewSeeded(seed), nil
	}
	return allocator.NewCryptoSeeded()
}

func isLoopback(addr net.Addr) bool {
	tcp, ok := addr.(*net.TCPAddr)
	return ok && tcp.IP.IsLoopback()
}

func corsOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:*"}
	}
	return origins
}
