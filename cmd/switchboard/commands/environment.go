// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/switchboard/audit"
	"github.com/bureau-foundation/switchboard/delegation"
	"github.com/bureau-foundation/switchboard/lib/accesstoken"
	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/compress"
	"github.com/bureau-foundation/switchboard/lib/config"
	"github.com/bureau-foundation/switchboard/lib/metrics"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/secret"
	"github.com/bureau-foundation/switchboard/registry"
	"github.com/bureau-foundation/switchboard/statuscache"
	"github.com/bureau-foundation/switchboard/store"
)

// Environment is everything a command reads or writes besides its
// configuration file.
type Environment struct {
	Stdout io.Writer
	Stderr io.Writer
	Stdin  *os.File
	Clock  clock.Clock
}

// DefaultEnvironment is the process's standard streams and the wall
// clock.
func DefaultEnvironment() *Environment {
	return &Environment{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Stdin:  os.Stdin,
		Clock:  clock.Real(),
	}
}

// Global holds the flags every leaf command accepts. Embed it in a
// command's params struct.
type Global struct {
	Config string `json:"-" flag:"config" desc:"configuration file (default: $SWITCHBOARD_CONFIG)"`
	As     string `json:"-" flag:"as" desc:"principal to act as (default: the configured principal)"`
}

// loadConfig reads and validates the configuration.
func (g Global) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if g.Config != "" {
		cfg, err = config.LoadFile(g.Config)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// load is loadConfig plus the acting principal.
func (g Global) load() (*config.Config, ref.Principal, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, ref.Principal{}, err
	}
	name := g.As
	if name == "" {
		name = cfg.Principal
	}
	if name == "" {
		return nil, ref.Principal{}, errors.New("no principal: set principal in the configuration or pass --as")
	}
	principal, err := ref.ParsePrincipal(name)
	if err != nil {
		return nil, ref.Principal{}, err
	}
	return cfg, principal, nil
}

// httpClient applies the configured request timeout, the only
// deadline gateway and ledger exchanges get.
func httpClient(cfg *config.Config) *http.Client {
	return &http.Client{Timeout: cfg.Gateway.RequestTimeout}
}

// stack is the local state every command works against: the router
// registry, delegation grants, and the audit log, all in one store.
type stack struct {
	store     *store.Store
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	registry  *registry.Registry
	audit     *audit.Log
	authority *delegation.Authority
	gateway   *delegation.Gateway
	status    *statuscache.Cache
}

// openStack opens the store named by cfg and wires the components
// over it. The caller must Close the stack.
func openStack(ctx context.Context, env *Environment, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	st, err := store.Open(store.Config{
		Path:     cfg.Storage.Path,
		PoolSize: cfg.Storage.PoolSize,
		Clock:    env.Clock,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	s := &stack{store: st}
	if err := s.wire(ctx, env, cfg, logger); err != nil {
		st.Close()
		return nil, err
	}
	return s, nil
}

func (s *stack) wire(ctx context.Context, env *Environment, cfg *config.Config, logger *slog.Logger) error {
	promRegistry := prometheus.NewRegistry()
	s.gatherer = promRegistry
	s.metrics = metrics.New(promRegistry)

	signer, err := loadSigner(cfg)
	if err != nil {
		return err
	}
	blacklist := accesstoken.NewBlacklist()

	s.registry = registry.New(s.store, logger)
	compression, err := compress.ParseTag(cfg.Storage.AuditCompression)
	if err != nil {
		return fmt.Errorf("storage.audit_compression: %w", err)
	}
	s.audit = audit.New(s.store, audit.Config{Compression: compression})
	s.authority, err = delegation.NewAuthority(ctx, delegation.AuthorityConfig{
		Store:         s.store,
		Signer:        signer,
		Blacklist:     blacklist,
		Clock:         env.Clock,
		TokenLifetime: cfg.Delegation.TokenLifetime,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	s.gateway, err = delegation.NewGateway(delegation.GatewayConfig{
		Store:     s.store,
		Audit:     s.audit,
		Signer:    signer,
		Blacklist: blacklist,
		Clock:     env.Clock,
		RateLimit: cfg.Delegation.RateLimit,
		RateBurst: cfg.Delegation.RateBurst,
		Logger:    logger,
		Metrics:   s.metrics,
	})
	if err != nil {
		return err
	}
	s.status, err = statuscache.New(statuscache.Config{
		Loader:  s.authority,
		Logger:  logger,
		Metrics: s.metrics,
	})
	if err != nil {
		return err
	}
	s.authority.OnInvalidate(s.status.Invalidate)
	return nil
}

func (s *stack) Close() error {
	return s.store.Close()
}

// seedFileName is where the signing seed lives when the configuration
// names none.
const seedFileName = "signing.seed"

// loadSigner reads the token signing seed. Outside production a
// missing seed file is generated next to the database so tokens
// minted by one invocation verify in the next. The file holds the
// seed hex-encoded.
func loadSigner(cfg *config.Config) (*accesstoken.Signer, error) {
	path := cfg.Delegation.SigningSeedFile
	if path == "" {
		path = filepath.Join(filepath.Dir(cfg.Storage.Path), seedFileName)
		if err := ensureSeedFile(path); err != nil {
			return nil, err
		}
	}

	encoded, err := secret.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signing seed: %w", err)
	}
	defer encoded.Close()

	seed, err := secret.New(hex.DecodedLen(encoded.Len()))
	if err != nil {
		return nil, err
	}
	defer seed.Close()
	if _, err := hex.Decode(seed.Bytes(), encoded.Bytes()); err != nil {
		return nil, fmt.Errorf("signing seed %s is not hex: %w", path, err)
	}
	return accesstoken.NewSigner(seed)
}

func ensureSeedFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking signing seed: %w", err)
	}

	seed, err := accesstoken.GenerateSeed()
	if err != nil {
		return err
	}
	defer seed.Close()
	encoded := make([]byte, hex.EncodedLen(seed.Len()))
	defer secret.Zero(encoded)
	hex.Encode(encoded, seed.Bytes())

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		// Another invocation won the race; use its seed.
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating signing seed: %w", err)
	}
	if _, err := file.Write(encoded); err != nil {
		file.Close()
		return fmt.Errorf("writing signing seed: %w", err)
	}
	return file.Close()
}
