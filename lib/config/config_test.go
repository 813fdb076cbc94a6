// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "switchboard.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Poll.Interval != 2*time.Second {
		t.Errorf("poll.interval = %v, want 2s", cfg.Poll.Interval)
	}
	if cfg.Poll.MaxAttempts != 20 {
		t.Errorf("poll.max_attempts = %d, want 20", cfg.Poll.MaxAttempts)
	}
	if cfg.Poll.Multiplier != 1 {
		t.Errorf("poll.multiplier = %v, want 1 (fixed interval)", cfg.Poll.Multiplier)
	}
	if cfg.Storage.AuditCompression != "zstd" {
		t.Errorf("storage.audit_compression = %q, want zstd", cfg.Storage.AuditCompression)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoadRequiresEnvironmentVariable(t *testing.T) {
	t.Setenv(ConfigEnvironmentVariable, "")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when SWITCHBOARD_CONFIG is not set")
	}
	if !strings.HasPrefix(err.Error(), "SWITCHBOARD_CONFIG environment variable not set") {
		t.Errorf("error = %q", err)
	}
}

func TestLoadFromEnvironmentVariable(t *testing.T) {
	path := writeConfig(t, `
environment: staging
principal: owner@x.org
gateway:
  url: https://relay.example.org
  request_timeout: 5s
poll:
  interval: 500ms
  max_attempts: 3
storage:
  path: /var/lib/switchboard/db.sqlite
`)
	t.Setenv(ConfigEnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Environment != Staging {
		t.Errorf("environment = %s, want staging", cfg.Environment)
	}
	if cfg.Principal != "owner@x.org" {
		t.Errorf("principal = %q", cfg.Principal)
	}
	if cfg.Gateway.RequestTimeout != 5*time.Second {
		t.Errorf("gateway.request_timeout = %v, want 5s", cfg.Gateway.RequestTimeout)
	}
	if cfg.Poll.Interval != 500*time.Millisecond || cfg.Poll.MaxAttempts != 3 {
		t.Errorf("poll = %+v", cfg.Poll)
	}
	// Unset fields keep their defaults.
	if cfg.Ledger.URL != "http://localhost:8700" {
		t.Errorf("ledger.url = %q, want default", cfg.Ledger.URL)
	}
	if cfg.Storage.Path != "/var/lib/switchboard/db.sqlite" {
		t.Errorf("storage.path = %q", cfg.Storage.Path)
	}
	if cfg.Storage.AuditCompression != "zstd" {
		t.Errorf("storage.audit_compression = %q, want default zstd", cfg.Storage.AuditCompression)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
environment: production
gateway:
  url: http://localhost:8600
delegation:
  signing_seed_file: /etc/switchboard/seed
  rate_limit: 1
production:
  gateway:
    url: https://relay.example.org
  poll:
    max_attempts: 40
  delegation:
    rate_burst: 2
staging:
  gateway:
    url: https://staging.example.org
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Gateway.URL != "https://relay.example.org" {
		t.Errorf("gateway.url = %q, want production override", cfg.Gateway.URL)
	}
	if cfg.Poll.MaxAttempts != 40 {
		t.Errorf("poll.max_attempts = %d, want 40", cfg.Poll.MaxAttempts)
	}
	if cfg.Poll.Interval != 2*time.Second {
		t.Errorf("poll.interval = %v, want untouched default", cfg.Poll.Interval)
	}
	if cfg.Delegation.RateBurst != 2 || cfg.Delegation.RateLimit != 1 {
		t.Errorf("delegation = %+v", cfg.Delegation)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadFile(writeConfig(t, "poll: [unterminated")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("SWITCHBOARD_TEST_UNSET", "")
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{"${HOME}/switchboard", map[string]string{"HOME": "/home/user"}, "/home/user/switchboard"},
		{"${SWITCHBOARD_TEST_UNSET:-fallback}", nil, "fallback"},
		{"${PRESENT:-fallback}", map[string]string{"PRESENT": "value"}, "value"},
		{"${SWITCHBOARD_TEST_UNSET:-${HOME}/state}/db", map[string]string{"HOME": "/home/user"}, "/home/user/state/db"},
		{"no variables here", nil, "no variables here"},
	}
	for _, test := range tests {
		if result := expandVars(test.input, test.vars); result != test.expected {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, result, test.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"invalid environment", func(c *Config) { c.Environment = "invalid" }, "environment"},
		{"gateway url scheme", func(c *Config) { c.Gateway.URL = "ftp://relay" }, "gateway.url"},
		{"missing ledger url", func(c *Config) { c.Ledger.URL = "" }, "ledger.url"},
		{"zero poll interval", func(c *Config) { c.Poll.Interval = 0 }, "poll.interval"},
		{"zero attempts", func(c *Config) { c.Poll.MaxAttempts = 0 }, "poll.max_attempts"},
		{"shrinking backoff", func(c *Config) { c.Poll.Multiplier = 0.5 }, "poll.multiplier"},
		{"unknown audit compression", func(c *Config) { c.Storage.AuditCompression = "brotli" }, "storage.audit_compression"},
		{"production without seed", func(c *Config) { c.Environment = Production }, "signing_seed_file"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), test.field) {
				t.Errorf("error %q does not mention %s", err, test.field)
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Gateway.URL = ""
	cfg.Poll.MaxAttempts = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil")
	}
	for _, field := range []string{"gateway.url", "poll.max_attempts"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
}
