// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delegation

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/switchboard/audit"
	"github.com/bureau-foundation/switchboard/lib/accesstoken"
	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/metrics"
	"github.com/bureau-foundation/switchboard/lib/money"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/registry"
	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/store/storetest"
)

var (
	owner    = ref.MustParsePrincipal("owner@x.org")
	delegate = ref.MustParsePrincipal("d@x.org")
	other    = ref.MustParsePrincipal("e@x.org")
	stranger = ref.MustParsePrincipal("stranger@x.org")
	alpha    = ref.MustParseRouter("owner@x.org/alpha")

	epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

// fixture wires an Authority and Gateway over one throwaway store
// holding router alpha with chat at 0.05 and search at 0.
type fixture struct {
	clock     *clock.FakeClock
	store     *store.Store
	registry  *registry.Registry
	audit     *audit.Log
	signer    *accesstoken.Signer
	blacklist *accesstoken.Blacklist
	authority *Authority
	gateway   *Gateway
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T, configure func(*GatewayConfig)) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{clock: clock.Fake(epoch)}
	f.store = storetest.Open(t, f.clock)
	f.registry = registry.New(f.store, nil)
	f.audit = audit.New(f.store, audit.Config{})
	f.metrics = metrics.New(prometheus.NewRegistry())

	seed, err := accesstoken.GenerateSeed()
	if err != nil {
		t.Fatalf("GenerateSeed: %v", err)
	}
	t.Cleanup(func() { seed.Close() })
	f.signer, err = accesstoken.NewSigner(seed)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	f.blacklist = accesstoken.NewBlacklist()

	f.authority, err = NewAuthority(ctx, AuthorityConfig{
		Store:     f.store,
		Signer:    f.signer,
		Blacklist: f.blacklist,
		Clock:     f.clock,
	})
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}

	config := GatewayConfig{
		Store:     f.store,
		Audit:     f.audit,
		Signer:    f.signer,
		Blacklist: f.blacklist,
		Clock:     f.clock,
		Metrics:   f.metrics,
	}
	if configure != nil {
		configure(&config)
	}
	f.gateway, err = NewGateway(config)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	_, err = f.registry.Create(ctx, owner, alpha, []registry.Service{
		{Type: "chat", Enabled: true, UnitPrice: money.MustParse("0.05"), ChargePolicy: registry.ChargePerRequest},
		{Type: "search", Enabled: true, UnitPrice: money.Zero, ChargePolicy: registry.ChargePerRequest},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return f
}

// grantTo opts principal in and grants it alpha.
func (f *fixture) grantTo(t *testing.T, principal ref.Principal) *Grant {
	t.Helper()
	ctx := context.Background()
	if err := f.authority.OptIn(ctx, principal); err != nil {
		t.Fatalf("OptIn(%s): %v", principal, err)
	}
	grant, err := f.authority.Grant(ctx, owner, alpha, principal)
	if err != nil {
		t.Fatalf("Grant(%s): %v", principal, err)
	}
	return grant
}

func (f *fixture) price(t *testing.T, service string) money.Amount {
	t.Helper()
	router, err := f.registry.Get(context.Background(), alpha)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	svc, ok := router.Service(service)
	if !ok {
		t.Fatalf("router has no service %q", service)
	}
	return svc.UnitPrice
}

func (f *fixture) auditCount(t *testing.T) int {
	t.Helper()
	count, err := f.audit.Count(context.Background(), alpha)
	if err != nil {
		t.Fatalf("audit Count: %v", err)
	}
	return count
}

func setChat(price string) Action {
	return Action{
		Type:    ActionUpdatePricing,
		Changes: []registry.PriceChange{{Service: "chat", Price: money.MustParse(price)}},
	}
}
