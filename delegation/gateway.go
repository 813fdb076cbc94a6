// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delegation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/switchboard/audit"
	"github.com/bureau-foundation/switchboard/lib/accesstoken"
	"github.com/bureau-foundation/switchboard/lib/capability"
	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/digest"
	"github.com/bureau-foundation/switchboard/lib/metrics"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/registry"
	"github.com/bureau-foundation/switchboard/store"
)

// ActionUpdatePricing changes one or more service prices.
const ActionUpdatePricing = "update_pricing"

// Action is a delegate's requested change to a router.
type Action struct {
	Type    string                 `json:"type"`
	Changes []registry.PriceChange `json:"changes"`
	Reason  string                 `json:"reason,omitempty"`
}

// Receipt describes an applied action.
type Receipt struct {
	Entry   audit.Entry              `json:"entry"`
	Applied []registry.AppliedChange `json:"applied"`
}

// ActionHandler executes the actions one capability covers.
type ActionHandler interface {
	// Validate checks action against the router's current state
	// without writing. It returns a *ValidationError for bad input.
	Validate(router *registry.Router, action Action) error

	// Apply performs action inside the router's transaction and
	// returns the changes made. It must validate again: state may have
	// moved since Validate.
	Apply(conn *sqlite.Conn, router ref.Router, action Action, now time.Time) ([]registry.AppliedChange, error)
}

// PricingHandler implements pricing-control.
type PricingHandler struct{}

func (PricingHandler) Validate(router *registry.Router, action Action) error {
	return registry.ValidateChanges(router, action.Changes)
}

func (PricingHandler) Apply(conn *sqlite.Conn, router ref.Router, action Action, now time.Time) ([]registry.AppliedChange, error) {
	return registry.ApplyPricing(conn, router, action.Changes, now)
}

// DefaultCapabilities returns the registry every production gateway
// uses: pricing-control covering update_pricing.
func DefaultCapabilities() *capability.Registry[ActionHandler] {
	capabilities := capability.NewRegistry[ActionHandler]()
	err := capabilities.Register(CapabilityPricingControl, []string{ActionUpdatePricing}, func() (ActionHandler, error) {
		return PricingHandler{}, nil
	})
	if err != nil {
		panic(err)
	}
	return capabilities
}

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	Store     *store.Store
	Audit     *audit.Log
	Signer    *accesstoken.Signer
	Blacklist *accesstoken.Blacklist
	Clock     clock.Clock

	// Capabilities maps capability tags to handlers. Nil means
	// DefaultCapabilities.
	Capabilities *capability.Registry[ActionHandler]

	// Actions lists the action types the gateway accepts. Each must
	// be covered by a registered capability. Nil means
	// [ActionUpdatePricing].
	Actions []string

	// RateLimit is the sustained actions per second allowed per
	// delegate, with bursts up to RateBurst. Zero disables limiting.
	RateLimit float64
	RateBurst int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Gateway mediates every delegate action.
type Gateway struct {
	store     *store.Store
	audit     *audit.Log
	signer    *accesstoken.Signer
	blacklist *accesstoken.Blacklist
	clock     clock.Clock
	limiter   *delegateLimiter
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// required maps action type to the capability tag it needs.
	required map[string]string
	handlers map[string]ActionHandler
}

// NewGateway builds a handler for every capability a grant can carry
// and resolves the capability each accepted action requires. A
// grantable capability without a registered handler fails with a
// *capability.MissingError; an action no capability covers also fails.
func NewGateway(config GatewayConfig) (*Gateway, error) {
	if config.Store == nil || config.Audit == nil || config.Signer == nil || config.Clock == nil {
		return nil, errors.New("delegation: Store, Audit, Signer, and Clock are required")
	}
	capabilities := config.Capabilities
	if capabilities == nil {
		capabilities = DefaultCapabilities()
	}
	actions := config.Actions
	if actions == nil {
		actions = []string{ActionUpdatePricing}
	}

	handlers, err := capabilities.Build(grantable)
	if err != nil {
		return nil, fmt.Errorf("delegation: building action handlers: %w", err)
	}
	required := make(map[string]string, len(actions))
	for _, action := range actions {
		tag, ok := capabilities.Required(action)
		if !ok {
			return nil, fmt.Errorf("delegation: no capability covers action %q", action)
		}
		if _, built := handlers[tag]; !built {
			extra, err := capabilities.Build([]string{tag})
			if err != nil {
				return nil, fmt.Errorf("delegation: building %s handler: %w", tag, err)
			}
			handlers[tag] = extra[tag]
		}
		required[action] = tag
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gateway{
		store:     config.Store,
		audit:     config.Audit,
		signer:    config.Signer,
		blacklist: config.Blacklist,
		clock:     config.Clock,
		limiter:   newDelegateLimiter(config.RateLimit, config.RateBurst),
		logger:    logger,
		metrics:   config.Metrics,
		required:  required,
		handlers:  handlers,
	}, nil
}

// Apply authorizes and performs action on behalf of delegate. On
// success the change and its audit entry are committed together.
//
// Errors: *AuthorizationError when the grant, token, or capability
// check fails, including for action types no capability covers;
// ErrRateLimited once an authorized delegate exceeds its budget;
// *ValidationError when the change list is invalid. In every error
// case nothing was written.
func (g *Gateway) Apply(ctx context.Context, router ref.Router, delegate ref.Principal, accessToken string, action Action) (*Receipt, error) {
	receipt, err := g.apply(ctx, router, delegate, accessToken, action)
	actionLabel := action.Type
	if _, known := g.required[actionLabel]; !known {
		actionLabel = "unknown"
	}
	g.metrics.DelegateAction(actionLabel, resultLabel(err))
	if err != nil {
		g.logger.Info("delegate action refused",
			"router", router.String(),
			"delegate", delegate.String(),
			"action", action.Type,
			"error", err,
		)
		return nil, err
	}
	g.logger.Info("delegate action applied",
		"router", router.String(),
		"delegate", delegate.String(),
		"action", action.Type,
		"entry", receipt.Entry.ID,
		"changes", len(receipt.Applied),
	)
	return receipt, nil
}

func (g *Gateway) apply(ctx context.Context, router ref.Router, delegate ref.Principal, accessToken string, action Action) (*Receipt, error) {
	// An action type no capability covers is never granted; tag stays
	// empty and the capability check refuses it.
	tag := g.required[action.Type]

	// First pass outside the router lock: reject the common failures
	// without queueing behind writers. Refused requests never spend
	// the delegate's rate budget.
	err := g.store.Read(ctx, func(conn *sqlite.Conn) error {
		current, err := g.authorize(conn, router, delegate, accessToken, tag)
		if err != nil {
			return err
		}
		if !g.limiter.allow(delegate, g.clock.Now()) {
			return ErrRateLimited
		}
		return g.handlers[tag].Validate(current, action)
	})
	if err != nil {
		return nil, err
	}
	handler := g.handlers[tag]

	receipt := &Receipt{}
	err = g.store.UpdateRouter(ctx, router, func(conn *sqlite.Conn) error {
		if _, err := g.authorize(conn, router, delegate, accessToken, tag); err != nil {
			return err
		}
		now := g.clock.Now()
		applied, err := handler.Apply(conn, router, action, now)
		if err != nil {
			return err
		}
		entry, err := g.audit.Append(conn, audit.Entry{
			Router:           router,
			Delegate:         delegate,
			ActionType:       action.Type,
			Reason:           action.Reason,
			CreatedAt:        now,
			TokenFingerprint: digest.Token([]byte(accessToken)).Short(),
		}, AuditPayload{Changes: applied})
		if err != nil {
			return err
		}
		receipt.Entry = entry
		receipt.Applied = applied
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// AuditPayload is the CBOR payload of an update_pricing audit entry.
type AuditPayload struct {
	Changes []registry.AppliedChange `cbor:"1,keyasint"`
}

// authorize runs the grant, token, and capability checks in that
// order and returns the router's current state.
func (g *Gateway) authorize(conn *sqlite.Conn, router ref.Router, delegate ref.Principal, accessToken, capabilityTag string) (*registry.Router, error) {
	grant, err := LoadGrant(conn, router)
	if errors.Is(err, ErrNoGrant) {
		return nil, &AuthorizationError{Reason: ReasonNoGrant, Detail: router.String()}
	}
	if err != nil {
		return nil, err
	}
	if grant.Delegate != delegate {
		return nil, &AuthorizationError{Reason: ReasonNoGrant, Detail: router.String()}
	}

	token, err := g.signer.Verify(accessToken, g.clock.Now(), g.blacklist)
	if err != nil {
		return nil, &AuthorizationError{Reason: ReasonTokenMismatch, Detail: err.Error()}
	}
	if token.ID != grant.TokenID || token.Subject != delegate || token.Router != router {
		return nil, &AuthorizationError{Reason: ReasonTokenMismatch}
	}

	if capabilityTag == "" || !grant.Allows(capabilityTag) || !token.Allows(capabilityTag) {
		detail := capabilityTag
		if detail == "" {
			detail = "no capability covers this action"
		}
		return nil, &AuthorizationError{Reason: ReasonCapabilityNotGranted, Detail: detail}
	}

	return registry.LoadRouter(conn, router)
}

func resultLabel(err error) string {
	var (
		authErr       *AuthorizationError
		validationErr *ValidationError
	)
	switch {
	case err == nil:
		return "applied"
	case errors.As(err, &authErr):
		return "unauthorized"
	case errors.As(err, &validationErr):
		return "invalid"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
