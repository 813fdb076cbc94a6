// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"errors"
	"slices"
	"testing"
)

type testHandler struct{ name string }

func newTestRegistry(t *testing.T) *Registry[*testHandler] {
	t.Helper()
	registry := NewRegistry[*testHandler]()
	if err := registry.Register("pricing-control", []string{"update_pricing"}, func() (*testHandler, error) {
		return &testHandler{name: "pricing"}, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := registry.Register("routing-control", []string{"routing/**"}, func() (*testHandler, error) {
		return &testHandler{name: "routing"}, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return registry
}

func TestRequired(t *testing.T) {
	registry := newTestRegistry(t)
	tests := map[string]string{
		"update_pricing":   "pricing-control",
		"routing":          "routing-control",
		"routing/failover": "routing-control",
	}
	for action, want := range tests {
		got, ok := registry.Required(action)
		if !ok || got != want {
			t.Errorf("Required(%q) = %q, %v; want %q", action, got, ok, want)
		}
	}
	if tag, ok := registry.Required("delete_router"); ok {
		t.Errorf("Required(delete_router) = %q, want no capability", tag)
	}
}

func TestBuild(t *testing.T) {
	registry := newTestRegistry(t)

	handlers, err := registry.Build([]string{"pricing-control", "pricing-control"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(handlers) != 1 || handlers["pricing-control"].name != "pricing" {
		t.Errorf("handlers = %v", handlers)
	}

	_, err = registry.Build([]string{"pricing-control", "quota-control", "alerts-control"})
	var missing *MissingError
	if !errors.As(err, &missing) {
		t.Fatalf("Build error = %v, want *MissingError", err)
	}
	if !slices.Equal(missing.Tags, []string{"alerts-control", "quota-control"}) {
		t.Errorf("missing tags = %v", missing.Tags)
	}
}

func TestBuildPropagatesConstructorFailure(t *testing.T) {
	registry := NewRegistry[*testHandler]()
	failure := errors.New("no pricing store")
	registry.Register("pricing-control", []string{"update_pricing"}, func() (*testHandler, error) {
		return nil, failure
	})
	if _, err := registry.Build([]string{"pricing-control"}); !errors.Is(err, failure) {
		t.Errorf("Build error = %v, want %v", err, failure)
	}
}

func TestRegisterRejects(t *testing.T) {
	registry := newTestRegistry(t)
	construct := func() (*testHandler, error) { return &testHandler{}, nil }

	if err := registry.Register("pricing-control", []string{"x"}, construct); err == nil {
		t.Error("duplicate tag accepted")
	}
	if err := registry.Register("", []string{"x"}, construct); err == nil {
		t.Error("empty tag accepted")
	}
	if err := registry.Register("empty", nil, construct); err == nil {
		t.Error("capability without actions accepted")
	}
	if err := registry.Register("bad", []string{"a/**/b"}, construct); err == nil {
		t.Error("interior ** accepted")
	}
	if err := registry.Register("bad", []string{"[unterminated"}, construct); err == nil {
		t.Error("malformed glob accepted")
	}
	if got := registry.Tags(); !slices.Equal(got, []string{"pricing-control", "routing-control"}) {
		t.Errorf("Tags() = %v", got)
	}
}

func TestMatchAction(t *testing.T) {
	tests := []struct {
		pattern, action string
		want            bool
	}{
		{"update_pricing", "update_pricing", true},
		{"update_pricing", "update_pricing2", false},
		{"update_*", "update_pricing", true},
		{"update_*", "update/pricing", false},
		{"pricing/**", "pricing", true},
		{"pricing/**", "pricing/update/bulk", true},
		{"pricing/**", "pricingx/update", false},
		{"**", "anything/at/all", true},
		{"a/**/b", "a/x/b", false},
		{"[", "[", false},
	}
	for _, test := range tests {
		if got := MatchAction(test.pattern, test.action); got != test.want {
			t.Errorf("MatchAction(%q, %q) = %v, want %v", test.pattern, test.action, got, test.want)
		}
	}
}
