// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delegation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/switchboard/lib/accesstoken"
	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/registry"
	"github.com/bureau-foundation/switchboard/store"
)

// CapabilityPricingControl lets a delegate change service prices and
// charge policies. It is the only capability a grant carries.
const CapabilityPricingControl = "pricing-control"

// grantable lists the capabilities every grant carries.
var grantable = []string{CapabilityPricingControl}

// DefaultTokenLifetime applies when AuthorityConfig.TokenLifetime is
// zero.
const DefaultTokenLifetime = 30 * 24 * time.Hour

// Grant is a router's active delegation.
type Grant struct {
	Router       ref.Router    `json:"router"`
	Delegate     ref.Principal `json:"delegate"`
	Capabilities []string      `json:"capabilities"`
	GrantedAt    time.Time     `json:"granted_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
	TokenID      string        `json:"token_id"`

	// AccessToken is the signed token the delegate presents to the
	// Gateway. Only the delegate should ever see it.
	AccessToken string `json:"access_token,omitempty"`
}

// Allows reports whether the grant carries capability.
func (g *Grant) Allows(capability string) bool {
	return slices.Contains(g.Capabilities, capability)
}

// Status is a principal's delegation status, derived from grants.
type Status struct {
	Principal        ref.Principal `json:"principal"`
	IsDelegate       bool          `json:"is_delegate"`
	DelegatedRouters []ref.Router  `json:"delegated_routers"`
}

// AuthorityConfig configures an Authority.
type AuthorityConfig struct {
	Store     *store.Store
	Signer    *accesstoken.Signer
	Blacklist *accesstoken.Blacklist
	Clock     clock.Clock

	// TokenLifetime bounds how long an access token verifies.
	TokenLifetime time.Duration

	Logger *slog.Logger
}

// Authority grants, revokes, and reports delegations.
type Authority struct {
	store         *store.Store
	signer        *accesstoken.Signer
	blacklist     *accesstoken.Blacklist
	clock         clock.Clock
	tokenLifetime time.Duration
	logger        *slog.Logger

	hooksMu sync.RWMutex
	hooks   []Invalidator
}

// Invalidator is told when a principal's Status may have changed.
type Invalidator func(principal ref.Principal)

// NewAuthority validates config, loads persisted token revocations
// into the blacklist, and returns an Authority.
func NewAuthority(ctx context.Context, config AuthorityConfig) (*Authority, error) {
	if config.Store == nil || config.Signer == nil || config.Blacklist == nil || config.Clock == nil {
		return nil, errors.New("delegation: Store, Signer, Blacklist, and Clock are required")
	}
	lifetime := config.TokenLifetime
	if lifetime == 0 {
		lifetime = DefaultTokenLifetime
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	authority := &Authority{
		store:         config.Store,
		signer:        config.Signer,
		blacklist:     config.Blacklist,
		clock:         config.Clock,
		tokenLifetime: lifetime,
		logger:        logger,
	}
	if err := authority.loadRevocations(ctx); err != nil {
		return nil, err
	}
	return authority, nil
}

// OnInvalidate registers hook to run after every committed change
// that can alter a principal's Status. Hooks run synchronously, after
// the commit, before the mutating call returns.
func (a *Authority) OnInvalidate(hook Invalidator) {
	a.hooksMu.Lock()
	defer a.hooksMu.Unlock()
	a.hooks = append(a.hooks, hook)
}

func (a *Authority) invalidate(principals ...ref.Principal) {
	a.hooksMu.RLock()
	hooks := slices.Clone(a.hooks)
	a.hooksMu.RUnlock()
	for _, principal := range principals {
		if principal.IsZero() {
			continue
		}
		for _, hook := range hooks {
			hook(principal)
		}
	}
}

// OptIn records that principal is willing to receive grants. Opting
// in twice is harmless.
func (a *Authority) OptIn(ctx context.Context, principal ref.Principal) error {
	if principal.IsZero() {
		return errors.New("delegation: principal is required")
	}
	err := a.store.Write(ctx, func(conn *sqlite.Conn) error {
		return store.Exec(conn, "INSERT OR IGNORE INTO opt_ins (principal, opted_in_at) VALUES (?, ?)", nil,
			principal.String(), a.clock.Now().UnixNano())
	})
	if err != nil {
		return fmt.Errorf("delegation: opting in %s: %w", principal, err)
	}
	a.logger.Info("principal opted in to delegation", "principal", principal.String())
	a.invalidate(principal)
	return nil
}

// Grant makes delegate the router's single delegate with pricing
// control, replacing any existing grant. Only the owner may grant.
// The returned grant carries the new access token.
func (a *Authority) Grant(ctx context.Context, caller ref.Principal, router ref.Router, delegate ref.Principal) (*Grant, error) {
	if caller != router.Owner() {
		return nil, &AuthorizationError{Reason: ReasonNotOwner, Detail: router.String()}
	}
	if delegate == router.Owner() {
		return nil, ErrSelfDelegation
	}

	now := a.clock.Now()
	grant := &Grant{
		Router:       router,
		Delegate:     delegate,
		Capabilities: slices.Clone(grantable),
		GrantedAt:    now,
		ExpiresAt:    now.Add(a.tokenLifetime),
		TokenID:      accesstoken.NewID(),
	}
	accessToken, err := a.signer.Mint(&accesstoken.Token{
		ID:           grant.TokenID,
		Subject:      delegate,
		Router:       router,
		Capabilities: grant.Capabilities,
		IssuedAt:     now.Unix(),
		ExpiresAt:    grant.ExpiresAt.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("delegation: minting access token: %w", err)
	}
	grant.AccessToken = accessToken

	var replaced *Grant
	err = a.store.UpdateRouter(ctx, router, func(conn *sqlite.Conn) error {
		if _, err := registry.LoadRouter(conn, router); err != nil {
			return err
		}
		optedIn, err := isOptedIn(conn, delegate)
		if err != nil {
			return err
		}
		if !optedIn {
			return fmt.Errorf("%w: %s", ErrNotOptedIn, delegate)
		}
		replaced, err = LoadGrant(conn, router)
		if err != nil && !errors.Is(err, ErrNoGrant) {
			return err
		}
		if replaced != nil {
			if err := recordRevocation(conn, replaced); err != nil {
				return err
			}
		}
		return store.Exec(conn, `INSERT OR REPLACE INTO grants
			(owner, router, delegate, capabilities, token_id, access_token, granted_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nil,
			router.Owner().String(), router.Name(), delegate.String(),
			strings.Join(grant.Capabilities, ","), grant.TokenID, grant.AccessToken,
			grant.GrantedAt.UnixNano(), grant.ExpiresAt.UnixNano())
	})
	if err != nil {
		return nil, err
	}

	if replaced != nil {
		a.blacklist.Revoke(replaced.TokenID, replaced.ExpiresAt)
		a.logger.Info("delegation replaced",
			"router", router.String(),
			"previous_delegate", replaced.Delegate.String(),
			"delegate", delegate.String(),
		)
		a.invalidate(replaced.Delegate)
	} else {
		a.logger.Info("delegation granted", "router", router.String(), "delegate", delegate.String())
	}
	a.invalidate(delegate)
	return grant, nil
}

// Revoke ends the router's active grant. The owner or the delegate
// may revoke.
func (a *Authority) Revoke(ctx context.Context, caller ref.Principal, router ref.Router) error {
	var revoked *Grant
	err := a.store.UpdateRouter(ctx, router, func(conn *sqlite.Conn) error {
		grant, err := LoadGrant(conn, router)
		if err != nil {
			return err
		}
		if caller != router.Owner() && caller != grant.Delegate {
			return &AuthorizationError{Reason: ReasonNotParty, Detail: router.String()}
		}
		if err := recordRevocation(conn, grant); err != nil {
			return err
		}
		revoked = grant
		return store.Exec(conn, "DELETE FROM grants WHERE owner = ? AND router = ?", nil,
			router.Owner().String(), router.Name())
	})
	if err != nil {
		return err
	}
	a.blacklist.Revoke(revoked.TokenID, revoked.ExpiresAt)
	a.logger.Info("delegation revoked",
		"router", router.String(),
		"delegate", revoked.Delegate.String(),
		"revoked_by", caller.String(),
	)
	a.invalidate(revoked.Delegate)
	return nil
}

// Status derives principal's delegation status from the grants.
func (a *Authority) Status(ctx context.Context, principal ref.Principal) (Status, error) {
	status := Status{Principal: principal, DelegatedRouters: []ref.Router{}}
	err := a.store.Read(ctx, func(conn *sqlite.Conn) error {
		return store.Exec(conn, "SELECT owner, router FROM grants WHERE delegate = ? ORDER BY owner, router",
			func(stmt *sqlite.Stmt) error {
				router, err := routerFromColumns(stmt.ColumnText(0), stmt.ColumnText(1))
				if err != nil {
					return err
				}
				status.DelegatedRouters = append(status.DelegatedRouters, router)
				return nil
			}, principal.String())
	})
	if err != nil {
		return Status{}, fmt.Errorf("delegation: status of %s: %w", principal, err)
	}
	status.IsDelegate = len(status.DelegatedRouters) > 0
	return status, nil
}

// ActiveGrant returns the router's grant, or ErrNoGrant.
func (a *Authority) ActiveGrant(ctx context.Context, router ref.Router) (*Grant, error) {
	var grant *Grant
	err := a.store.Read(ctx, func(conn *sqlite.Conn) error {
		var err error
		grant, err = LoadGrant(conn, router)
		return err
	})
	return grant, err
}

// EligibleDelegates lists the opted-in principals the owner could
// grant to, excluding the owner.
func (a *Authority) EligibleDelegates(ctx context.Context, caller ref.Principal, router ref.Router) ([]ref.Principal, error) {
	if caller != router.Owner() {
		return nil, &AuthorizationError{Reason: ReasonNotOwner, Detail: router.String()}
	}
	eligible := []ref.Principal{}
	err := a.store.Read(ctx, func(conn *sqlite.Conn) error {
		if _, err := registry.LoadRouter(conn, router); err != nil {
			return err
		}
		return store.Exec(conn, "SELECT principal FROM opt_ins WHERE principal != ? ORDER BY principal",
			func(stmt *sqlite.Stmt) error {
				principal, err := ref.ParsePrincipal(stmt.ColumnText(0))
				if err != nil {
					return fmt.Errorf("stored opt-in: %w", err)
				}
				eligible = append(eligible, principal)
				return nil
			}, router.Owner().String())
	})
	if err != nil {
		return nil, err
	}
	return eligible, nil
}

// LoadGrant reads the router's grant inside an existing transaction.
func LoadGrant(conn *sqlite.Conn, router ref.Router) (*Grant, error) {
	var (
		grant   *Grant
		scanErr error
	)
	err := store.Exec(conn, `SELECT delegate, capabilities, token_id, access_token, granted_at, expires_at
		FROM grants WHERE owner = ? AND router = ?`,
		func(stmt *sqlite.Stmt) error {
			delegate, err := ref.ParsePrincipal(stmt.ColumnText(0))
			if err != nil {
				scanErr = fmt.Errorf("delegation: stored delegate: %w", err)
				return nil
			}
			grant = &Grant{
				Router:       router,
				Delegate:     delegate,
				Capabilities: strings.Split(stmt.ColumnText(1), ","),
				TokenID:      stmt.ColumnText(2),
				AccessToken:  stmt.ColumnText(3),
				GrantedAt:    time.Unix(0, stmt.ColumnInt64(4)).UTC(),
				ExpiresAt:    time.Unix(0, stmt.ColumnInt64(5)).UTC(),
			}
			return nil
		}, router.Owner().String(), router.Name())
	if err != nil {
		return nil, fmt.Errorf("delegation: loading grant for %s: %w", router, err)
	}
	if scanErr != nil {
		return nil, scanErr
	}
	if grant == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoGrant, router)
	}
	return grant, nil
}

func isOptedIn(conn *sqlite.Conn, principal ref.Principal) (bool, error) {
	found := false
	err := store.Exec(conn, "SELECT 1 FROM opt_ins WHERE principal = ?", func(stmt *sqlite.Stmt) error {
		found = true
		return nil
	}, principal.String())
	return found, err
}

func recordRevocation(conn *sqlite.Conn, grant *Grant) error {
	return store.Exec(conn, "INSERT OR REPLACE INTO revoked_tokens (token_id, expires_at) VALUES (?, ?)", nil,
		grant.TokenID, grant.ExpiresAt.UnixNano())
}

func (a *Authority) loadRevocations(ctx context.Context) error {
	now := a.clock.Now()
	return a.store.Write(ctx, func(conn *sqlite.Conn) error {
		if err := store.Exec(conn, "DELETE FROM revoked_tokens WHERE expires_at <= ?", nil, now.UnixNano()); err != nil {
			return fmt.Errorf("delegation: pruning revocations: %w", err)
		}
		return store.Exec(conn, "SELECT token_id, expires_at FROM revoked_tokens", func(stmt *sqlite.Stmt) error {
			a.blacklist.Revoke(stmt.ColumnText(0), time.Unix(0, stmt.ColumnInt64(1)))
			return nil
		})
	})
}

func routerFromColumns(owner, name string) (ref.Router, error) {
	principal, err := ref.ParsePrincipal(owner)
	if err != nil {
		return ref.Router{}, fmt.Errorf("stored owner: %w", err)
	}
	return ref.NewRouter(principal, name)
}
