// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/switchboard/lib/money"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/store"
)

// PriceChange sets one service's price. An empty ChargePolicy keeps
// the current policy.
type PriceChange struct {
	Service      string       `json:"service" cbor:"1,keyasint"`
	Price        money.Amount `json:"price" cbor:"2,keyasint"`
	ChargePolicy string       `json:"charge_policy,omitempty" cbor:"3,keyasint,omitempty"`
}

// AppliedChange records a price change with its before and after
// values.
type AppliedChange struct {
	Service   string       `json:"service" cbor:"1,keyasint"`
	OldPrice  money.Amount `json:"old_price" cbor:"2,keyasint"`
	NewPrice  money.Amount `json:"new_price" cbor:"3,keyasint"`
	OldPolicy string       `json:"old_policy" cbor:"4,keyasint"`
	NewPolicy string       `json:"new_policy" cbor:"5,keyasint"`
}

// ValidationError lists everything wrong with a set of services or
// price changes. Nothing was written.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "registry: invalid changes: " + strings.Join(e.Problems, "; ")
}

// ValidateChanges checks changes against the router's current
// services without writing anything.
func ValidateChanges(router *Router, changes []PriceChange) error {
	if len(changes) == 0 {
		return &ValidationError{Problems: []string{"no changes listed"}}
	}
	var problems []string
	seen := make(map[string]bool, len(changes))
	for _, change := range changes {
		if seen[change.Service] {
			problems = append(problems, fmt.Sprintf("service %q listed twice", change.Service))
		}
		seen[change.Service] = true
		if _, exists := router.Service(change.Service); !exists {
			problems = append(problems, fmt.Sprintf("router %s has no service %q", router.Ref, change.Service))
		}
		if change.Price < 0 {
			problems = append(problems, fmt.Sprintf("service %q: negative price %s", change.Service, change.Price))
		}
		if change.ChargePolicy != "" && !ValidChargePolicy(change.ChargePolicy) {
			problems = append(problems, fmt.Sprintf("service %q: unknown charge policy %q", change.Service, change.ChargePolicy))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ApplyPricing validates and applies changes inside the caller's
// transaction. Either every change is written or, on error, none are
// (the caller's transaction rolls back). Must run inside
// store.UpdateRouter for router.
func ApplyPricing(conn *sqlite.Conn, router ref.Router, changes []PriceChange, now time.Time) ([]AppliedChange, error) {
	current, err := LoadRouter(conn, router)
	if err != nil {
		return nil, err
	}
	if err := ValidateChanges(current, changes); err != nil {
		return nil, err
	}

	applied := make([]AppliedChange, 0, len(changes))
	for _, change := range changes {
		service, _ := current.Service(change.Service)
		policy := change.ChargePolicy
		if policy == "" {
			policy = service.ChargePolicy
		}
		if err := store.Exec(conn,
			"UPDATE services SET unit_price = ?, charge_policy = ? WHERE owner = ? AND router = ? AND type = ?", nil,
			change.Price.Micros(), policy, router.Owner().String(), router.Name(), change.Service); err != nil {
			return nil, fmt.Errorf("registry: updating %s/%s: %w", router, change.Service, err)
		}
		applied = append(applied, AppliedChange{
			Service:   change.Service,
			OldPrice:  service.UnitPrice,
			NewPrice:  change.Price,
			OldPolicy: service.ChargePolicy,
			NewPolicy: policy,
		})
	}
	if err := store.Exec(conn, "UPDATE routers SET updated_at = ? WHERE owner = ? AND name = ?", nil,
		now.UnixNano(), router.Owner().String(), router.Name()); err != nil {
		return nil, fmt.Errorf("registry: touching %s: %w", router, err)
	}
	return applied, nil
}
