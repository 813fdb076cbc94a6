// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statuscache

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/switchboard/delegation"
	"github.com/bureau-foundation/switchboard/lib/accesstoken"
	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/money"
	"github.com/bureau-foundation/switchboard/registry"
	"github.com/bureau-foundation/switchboard/store/storetest"
)

// A cache wired to a live Authority reflects every grant and revoke
// on the very next query.
func TestCacheFollowsAuthority(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	st := storetest.Open(t, clk)

	owner := alpha.Owner()
	if _, err := registry.New(st, nil).Create(ctx, owner, alpha, []registry.Service{
		{Type: "chat", Enabled: true, UnitPrice: money.MustParse("0.05"), ChargePolicy: registry.ChargePerRequest},
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	seed, err := accesstoken.GenerateSeed()
	if err != nil {
		t.Fatalf("GenerateSeed: %v", err)
	}
	defer seed.Close()
	signer, err := accesstoken.NewSigner(seed)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	authority, err := delegation.NewAuthority(ctx, delegation.AuthorityConfig{
		Store:     st,
		Signer:    signer,
		Blacklist: accesstoken.NewBlacklist(),
		Clock:     clk,
	})
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}
	cache := newCache(t, authority)
	authority.OnInvalidate(cache.Invalidate)

	requireDelegate := func(want bool) {
		t.Helper()
		status, err := cache.Get(ctx, delegate)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if status.IsDelegate != want {
			t.Fatalf("IsDelegate = %v, want %v (status %+v)", status.IsDelegate, want, status)
		}
	}

	requireDelegate(false)
	if err := authority.OptIn(ctx, delegate); err != nil {
		t.Fatalf("OptIn: %v", err)
	}
	if _, err := authority.Grant(ctx, owner, alpha, delegate); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	requireDelegate(true)
	if err := authority.Revoke(ctx, owner, alpha); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	requireDelegate(false)
}
