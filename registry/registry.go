// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry manages routers and the services they expose.
//
// A router is a Draft until its owner publishes it; drafts are only
// addressable by their owner. Every mutation runs inside the router's
// critical section (store.UpdateRouter), the same section delegate
// pricing edits use, so owner and delegate edits never interleave.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/switchboard/lib/money"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/store"
)

// ChargePerRequest bills the service's unit price once per call.
const ChargePerRequest = "per-request"

// ValidChargePolicy reports whether policy is a known charge policy.
func ValidChargePolicy(policy string) bool {
	return policy == ChargePerRequest
}

var (
	ErrNotFound         = errors.New("registry: router not found")
	ErrExists           = errors.New("registry: router already exists")
	ErrNotOwner         = errors.New("registry: caller does not own the router")
	ErrRouterReferenced = errors.New("registry: router is referenced by a delegation grant")
	ErrServiceNotFound  = errors.New("registry: service not found")
	ErrServiceDisabled  = errors.New("registry: service is disabled")
)

// Service is one priced capability of a router.
type Service struct {
	Type         string       `json:"type"`
	Enabled      bool         `json:"enabled"`
	UnitPrice    money.Amount `json:"unit_price"`
	ChargePolicy string       `json:"charge_policy"`
}

// Router is a router and its services, sorted by type.
type Router struct {
	Ref       ref.Router `json:"router"`
	Published bool       `json:"published"`
	Services  []Service  `json:"services"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Service returns the service of the given type.
func (r *Router) Service(serviceType string) (Service, bool) {
	for _, service := range r.Services {
		if service.Type == serviceType {
			return service, true
		}
	}
	return Service{}, false
}

// Registry reads and mutates routers.
type Registry struct {
	store  *store.Store
	logger *slog.Logger
}

// New returns a Registry over st.
func New(st *store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{store: st, logger: logger}
}

// Create adds a draft router owned by caller.
func (r *Registry) Create(ctx context.Context, caller ref.Principal, router ref.Router, services []Service) (*Router, error) {
	if caller != router.Owner() {
		return nil, fmt.Errorf("%w: %s cannot create routers for %s", ErrNotOwner, caller, router.Owner())
	}
	if err := validateServices(services); err != nil {
		return nil, err
	}

	var created *Router
	err := r.store.UpdateRouter(ctx, router, func(conn *sqlite.Conn) error {
		if _, err := LoadRouter(conn, router); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, router)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		now := r.store.Now().UnixNano()
		if err := store.Exec(conn,
			"INSERT INTO routers (owner, name, published, created_at, updated_at) VALUES (?, ?, 0, ?, ?)", nil,
			router.Owner().String(), router.Name(), now, now); err != nil {
			return fmt.Errorf("registry: inserting %s: %w", router, err)
		}
		for _, service := range services {
			if err := store.Exec(conn,
				"INSERT INTO services (owner, router, type, enabled, unit_price, charge_policy) VALUES (?, ?, ?, ?, ?, ?)", nil,
				router.Owner().String(), router.Name(), service.Type,
				store.Bool(service.Enabled), service.UnitPrice.Micros(), service.ChargePolicy); err != nil {
				return fmt.Errorf("registry: inserting service %s: %w", service.Type, err)
			}
		}
		var err error
		created, err = LoadRouter(conn, router)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("router created", "router", router.String(), "services", len(services))
	return created, nil
}

// Publish makes router addressable by everyone.
func (r *Registry) Publish(ctx context.Context, caller ref.Principal, router ref.Router) error {
	return r.setPublished(ctx, caller, router, true)
}

// Unpublish returns router to draft.
func (r *Registry) Unpublish(ctx context.Context, caller ref.Principal, router ref.Router) error {
	return r.setPublished(ctx, caller, router, false)
}

func (r *Registry) setPublished(ctx context.Context, caller ref.Principal, router ref.Router, published bool) error {
	if caller != router.Owner() {
		return fmt.Errorf("%w: %s", ErrNotOwner, router)
	}
	err := r.store.UpdateRouter(ctx, router, func(conn *sqlite.Conn) error {
		if _, err := LoadRouter(conn, router); err != nil {
			return err
		}
		return store.Exec(conn,
			"UPDATE routers SET published = ?, updated_at = ? WHERE owner = ? AND name = ?", nil,
			store.Bool(published), r.store.Now().UnixNano(), router.Owner().String(), router.Name())
	})
	if err != nil {
		return err
	}
	r.logger.Info("router visibility changed", "router", router.String(), "published", published)
	return nil
}

// Delete removes a router and its services. A router named by a
// delegation grant is retained: revoke the grant first.
func (r *Registry) Delete(ctx context.Context, caller ref.Principal, router ref.Router) error {
	if caller != router.Owner() {
		return fmt.Errorf("%w: %s", ErrNotOwner, router)
	}
	err := r.store.UpdateRouter(ctx, router, func(conn *sqlite.Conn) error {
		if _, err := LoadRouter(conn, router); err != nil {
			return err
		}
		referenced := false
		if err := store.Exec(conn, "SELECT 1 FROM grants WHERE owner = ? AND router = ?",
			func(stmt *sqlite.Stmt) error {
				referenced = true
				return nil
			}, router.Owner().String(), router.Name()); err != nil {
			return err
		}
		if referenced {
			return fmt.Errorf("%w: %s", ErrRouterReferenced, router)
		}
		return store.Exec(conn, "DELETE FROM routers WHERE owner = ? AND name = ?", nil,
			router.Owner().String(), router.Name())
	})
	if err != nil {
		return err
	}
	r.logger.Info("router deleted", "router", router.String())
	return nil
}

// Get returns a router regardless of visibility.
func (r *Registry) Get(ctx context.Context, router ref.Router) (*Router, error) {
	var loaded *Router
	err := r.store.Read(ctx, func(conn *sqlite.Conn) error {
		var err error
		loaded, err = LoadRouter(conn, router)
		return err
	})
	return loaded, err
}

// ListByOwner returns owner's routers sorted by name.
func (r *Registry) ListByOwner(ctx context.Context, owner ref.Principal) ([]Router, error) {
	var routers []Router
	err := r.store.Read(ctx, func(conn *sqlite.Conn) error {
		var names []string
		if err := store.Exec(conn, "SELECT name FROM routers WHERE owner = ? ORDER BY name",
			func(stmt *sqlite.Stmt) error {
				names = append(names, stmt.ColumnText(0))
				return nil
			}, owner.String()); err != nil {
			return err
		}
		for _, name := range names {
			router, err := ref.NewRouter(owner, name)
			if err != nil {
				return fmt.Errorf("registry: stored router %q: %w", name, err)
			}
			loaded, err := LoadRouter(conn, router)
			if err != nil {
				return err
			}
			routers = append(routers, *loaded)
		}
		return nil
	})
	return routers, err
}

// Resolve returns the router and service a caller's address names.
// Drafts resolve only for their owner; everyone else gets ErrNotFound.
func (r *Registry) Resolve(ctx context.Context, caller ref.Principal, address ref.Address) (*Router, Service, error) {
	router, err := r.Get(ctx, address.Router())
	if err != nil {
		return nil, Service{}, err
	}
	if !router.Published && caller != router.Ref.Owner() {
		return nil, Service{}, fmt.Errorf("%w: %s", ErrNotFound, address.Router())
	}
	service, exists := router.Service(address.Endpoint())
	if !exists {
		return nil, Service{}, fmt.Errorf("%w: %s", ErrServiceNotFound, address)
	}
	if !service.Enabled {
		return nil, Service{}, fmt.Errorf("%w: %s", ErrServiceDisabled, address)
	}
	return router, service, nil
}

// Price returns what a call to address costs caller and who is paid.
func (r *Registry) Price(ctx context.Context, caller ref.Principal, address ref.Address) (money.Amount, ref.Principal, error) {
	router, service, err := r.Resolve(ctx, caller, address)
	if err != nil {
		return 0, ref.Principal{}, err
	}
	return service.UnitPrice, router.Ref.Owner(), nil
}

// SetPricing applies an owner's price changes all-or-nothing.
func (r *Registry) SetPricing(ctx context.Context, caller ref.Principal, router ref.Router, changes []PriceChange) ([]AppliedChange, error) {
	if caller != router.Owner() {
		return nil, fmt.Errorf("%w: %s", ErrNotOwner, router)
	}
	var applied []AppliedChange
	err := r.store.UpdateRouter(ctx, router, func(conn *sqlite.Conn) error {
		var err error
		applied, err = ApplyPricing(conn, router, changes, r.store.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("owner updated pricing", "router", router.String(), "changes", len(applied))
	return applied, nil
}

// LoadRouter reads a router inside an existing transaction.
func LoadRouter(conn *sqlite.Conn, router ref.Router) (*Router, error) {
	var loaded *Router
	err := store.Exec(conn,
		"SELECT published, created_at, updated_at FROM routers WHERE owner = ? AND name = ?",
		func(stmt *sqlite.Stmt) error {
			loaded = &Router{
				Ref:       router,
				Published: stmt.ColumnInt64(0) != 0,
				CreatedAt: time.Unix(0, stmt.ColumnInt64(1)).UTC(),
				UpdatedAt: time.Unix(0, stmt.ColumnInt64(2)).UTC(),
			}
			return nil
		}, router.Owner().String(), router.Name())
	if err != nil {
		return nil, fmt.Errorf("registry: loading %s: %w", router, err)
	}
	if loaded == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, router)
	}
	err = store.Exec(conn,
		"SELECT type, enabled, unit_price, charge_policy FROM services WHERE owner = ? AND router = ? ORDER BY type",
		func(stmt *sqlite.Stmt) error {
			loaded.Services = append(loaded.Services, Service{
				Type:         stmt.ColumnText(0),
				Enabled:      stmt.ColumnInt64(1) != 0,
				UnitPrice:    money.FromMicros(stmt.ColumnInt64(2)),
				ChargePolicy: stmt.ColumnText(3),
			})
			return nil
		}, router.Owner().String(), router.Name())
	if err != nil {
		return nil, fmt.Errorf("registry: loading services of %s: %w", router, err)
	}
	return loaded, nil
}

func validateServices(services []Service) error {
	var problems []string
	seen := make(map[string]bool, len(services))
	for _, service := range services {
		switch {
		case service.Type == "":
			problems = append(problems, "service type is empty")
		case seen[service.Type]:
			problems = append(problems, fmt.Sprintf("service %q listed twice", service.Type))
		}
		seen[service.Type] = true
		if service.UnitPrice < 0 {
			problems = append(problems, fmt.Sprintf("service %q has negative price %s", service.Type, service.UnitPrice))
		}
		if !ValidChargePolicy(service.ChargePolicy) {
			problems = append(problems, fmt.Sprintf("service %q has unknown charge policy %q", service.Type, service.ChargePolicy))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
