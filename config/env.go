package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds the process settings of lootboxd.
type Env struct {
	DBPath string `env:"LOOTBOX_DB_PATH" envDefault:"data/lootbox.db"`
	// CatalogPath is the YAML catalog. Empty serves the accessories preset.
	CatalogPath string `env:"LOOTBOX_CATALOG"`
	// Owner, if set, replaces the catalog owner.
	Owner string `env:"LOOTBOX_OWNER"`
	// GRPCAddr must be a loopback address unless JWTSecret is set: without
	// a secret the gRPC service trusts the caller named in each request.
	GRPCAddr string `env:"LOOTBOX_GRPC_ADDR" envDefault:"127.0.0.1:9090"`
	HTTPAddr string `env:"LOOTBOX_HTTP_ADDR" envDefault:"127.0.0.1:8080"`
	EventDir string `env:"LOOTBOX_EVENT_DIR" envDefault:"data/events"`

	// JWTSecret signs the bearer tokens of the HTTP API and, when set,
	// of gRPC Mint and Unpack. An empty secret disables the mutating
	// HTTP routes.
	JWTSecret string `env:"LOOTBOX_JWT_SECRET"`
	// CORSOrigins lists the browser origins allowed to call the HTTP API
	// and to open the event websocket.
	CORSOrigins []string `env:"LOOTBOX_CORS_ORIGINS" envSeparator:","`

	// EntropySeed selects a reproducible PRNG. Zero seeds from crypto/rand.
	EntropySeed uint64 `env:"LOOTBOX_ENTROPY_SEED"`

	// Tracing is exported only when an endpoint is set and it is not
	// explicitly disabled.
	OTelEndpoint string `env:"LOOTBOX_OTEL_ENDPOINT"`
	OTelDisabled bool   `env:"LOOTBOX_OTEL_DISABLED"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadEnv parses Env from the environment.
func LoadEnv() (Env, error) {
	var e Env
	if err := ParseEnv(&e); err != nil {
		return Env{}, err
	}
	return e, nil
}
