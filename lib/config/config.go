// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/switchboard/lib/compress"
)

// ConfigEnvironmentVariable names the file loaded by [Load].
const ConfigEnvironmentVariable = "SWITCHBOARD_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the complete switchboard configuration.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Principal is the caller identity used by the CLI when no
	// --as flag is given.
	Principal string `yaml:"principal"`

	Gateway    GatewayConfig    `yaml:"gateway"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Poll       PollConfig       `yaml:"poll"`
	Storage    StorageConfig    `yaml:"storage"`
	Delegation DelegationConfig `yaml:"delegation"`
	Service    ServiceConfig    `yaml:"service"`

	// Per-environment overrides, applied after the base config.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains the sections that can be overridden per
// environment. Zero-valued fields inside a present section are left
// alone.
type ConfigOverrides struct {
	Gateway    *GatewayConfig    `yaml:"gateway,omitempty"`
	Ledger     *LedgerConfig     `yaml:"ledger,omitempty"`
	Poll       *PollConfig       `yaml:"poll,omitempty"`
	Storage    *StorageConfig    `yaml:"storage,omitempty"`
	Delegation *DelegationConfig `yaml:"delegation,omitempty"`
	Service    *ServiceConfig    `yaml:"service,omitempty"`
}

// GatewayConfig locates the relay gateway that carries call envelopes
// to routers.
type GatewayConfig struct {
	// URL is the gateway base URL.
	URL string `yaml:"url"`

	// RequestTimeout bounds a single HTTP exchange with the gateway.
	// It is the only timeout applied to ledger requests as well.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LedgerConfig locates the ledger service and the caller's identity
// with it.
type LedgerConfig struct {
	URL string `yaml:"url"`

	// IdentityFile holds the caller's ledger credential. Empty means
	// the caller has no ledger identity; priced calls then fail with
	// an authentication error before dispatch.
	IdentityFile string `yaml:"identity_file"`

	// RecipientKey is the ledger's age public key. Credential updates
	// are sealed to it before leaving the process.
	RecipientKey string `yaml:"recipient_key"`
}

// PollConfig is the retry policy for deferred calls.
type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxInterval time.Duration `yaml:"max_interval"`
}

// StorageConfig locates the local database for routers, grants, and
// the audit log.
type StorageConfig struct {
	Path     string `yaml:"path"`
	PoolSize int    `yaml:"pool_size"`

	// AuditCompression is the algorithm for large audit payloads:
	// "zstd", "lz4", or "none".
	AuditCompression string `yaml:"audit_compression"`
}

// DelegationConfig configures delegate access tokens and the per
// delegate action rate limit.
type DelegationConfig struct {
	// SigningSeedFile holds the 32-byte seed the token signing key is
	// derived from.
	SigningSeedFile string `yaml:"signing_seed_file"`

	// TokenLifetime bounds how long a delegate access token verifies.
	// A replaced or revoked grant invalidates its token sooner.
	TokenLifetime time.Duration `yaml:"token_lifetime"`

	// RateLimit is the sustained delegate actions per second per
	// delegate; RateBurst the bucket size.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// ServiceConfig configures "switchboard serve".
type ServiceConfig struct {
	ListenAddress   string        `yaml:"listen_address"`
	MetricsPath     string        `yaml:"metrics_path"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration every file is layered on.
func Default() *Config {
	return &Config{
		Environment: Development,
		Gateway: GatewayConfig{
			URL:            "http://localhost:8600",
			RequestTimeout: 30 * time.Second,
		},
		Ledger: LedgerConfig{
			URL: "http://localhost:8700",
		},
		Poll: PollConfig{
			Interval:    2 * time.Second,
			MaxAttempts: 20,
			Multiplier:  1,
		},
		Storage: StorageConfig{
			Path:             "${SWITCHBOARD_STATE:-${HOME}/.local/state/switchboard}/switchboard.db",
			PoolSize:         4,
			AuditCompression: "zstd",
		},
		Delegation: DelegationConfig{
			TokenLifetime: 30 * 24 * time.Hour,
			RateLimit:     1,
			RateBurst:     5,
		},
		Service: ServiceConfig{
			ListenAddress:   "127.0.0.1:8680",
			MetricsPath:     "/metrics",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load loads configuration from the file named by SWITCHBOARD_CONFIG.
// There is no discovery: if the variable is unset, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(ConfigEnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your switchboard.yaml, or use --config", ConfigEnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path over [Default], applies the
// section for the configured environment, and expands ${VAR} patterns
// in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if gateway := overrides.Gateway; gateway != nil {
		setString(&c.Gateway.URL, gateway.URL)
		setDuration(&c.Gateway.RequestTimeout, gateway.RequestTimeout)
	}
	if ledger := overrides.Ledger; ledger != nil {
		setString(&c.Ledger.URL, ledger.URL)
		setString(&c.Ledger.IdentityFile, ledger.IdentityFile)
		setString(&c.Ledger.RecipientKey, ledger.RecipientKey)
	}
	if poll := overrides.Poll; poll != nil {
		setDuration(&c.Poll.Interval, poll.Interval)
		setDuration(&c.Poll.MaxInterval, poll.MaxInterval)
		if poll.MaxAttempts != 0 {
			c.Poll.MaxAttempts = poll.MaxAttempts
		}
		if poll.Multiplier != 0 {
			c.Poll.Multiplier = poll.Multiplier
		}
	}
	if storage := overrides.Storage; storage != nil {
		setString(&c.Storage.Path, storage.Path)
		if storage.PoolSize != 0 {
			c.Storage.PoolSize = storage.PoolSize
		}
		setString(&c.Storage.AuditCompression, storage.AuditCompression)
	}
	if delegation := overrides.Delegation; delegation != nil {
		setString(&c.Delegation.SigningSeedFile, delegation.SigningSeedFile)
		setDuration(&c.Delegation.TokenLifetime, delegation.TokenLifetime)
		if delegation.RateLimit != 0 {
			c.Delegation.RateLimit = delegation.RateLimit
		}
		if delegation.RateBurst != 0 {
			c.Delegation.RateBurst = delegation.RateBurst
		}
	}
	if service := overrides.Service; service != nil {
		setString(&c.Service.ListenAddress, service.ListenAddress)
		setString(&c.Service.MetricsPath, service.MetricsPath)
		setDuration(&c.Service.ShutdownTimeout, service.ShutdownTimeout)
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setDuration(target *time.Duration, value time.Duration) {
	if value != 0 {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Storage.Path = filepath.Clean(expandVars(c.Storage.Path, vars))
	c.Ledger.IdentityFile = expandVars(c.Ledger.IdentityFile, vars)
	c.Delegation.SigningSeedFile = expandVars(c.Delegation.SigningSeedFile, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}. The default may
// itself contain one level of ${VAR}, which is expanded on a second
// pass.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-((?:[^{}]|\$\{[^}]*\})*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		defaultValue := parts[2]

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return expandVars(defaultValue, vars)
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	errs = append(errs, validateURL("gateway.url", c.Gateway.URL))
	errs = append(errs, validateURL("ledger.url", c.Ledger.URL))

	if c.Gateway.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("gateway.request_timeout must be positive"))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, fmt.Errorf("poll.interval must be positive"))
	}
	if c.Poll.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("poll.max_attempts must be at least 1"))
	}
	if c.Poll.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("poll.multiplier must be at least 1"))
	}
	if c.Storage.Path == "" {
		errs = append(errs, fmt.Errorf("storage.path is required"))
	}
	if _, err := compress.ParseTag(c.Storage.AuditCompression); err != nil {
		errs = append(errs, fmt.Errorf("storage.audit_compression: %w", err))
	}
	if c.Delegation.RateLimit <= 0 || c.Delegation.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("delegation.rate_limit and delegation.rate_burst must be positive"))
	}
	if c.Delegation.TokenLifetime <= 0 {
		errs = append(errs, fmt.Errorf("delegation.token_lifetime must be positive"))
	}
	if c.Environment == Production && c.Delegation.SigningSeedFile == "" {
		errs = append(errs, fmt.Errorf("delegation.signing_seed_file is required in production"))
	}

	return errors.Join(errs...)
}

func validateURL(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https URL, got %q", field, value)
	}
	return nil
}
