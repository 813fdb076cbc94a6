// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/testutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{
		Path:   filepath.Join(t.TempDir(), "switchboard.db"),
		Clock:  clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func countRows(t *testing.T, store *Store, table string) int {
	t.Helper()
	var count int
	err := store.Read(context.Background(), func(conn *sqlite.Conn) error {
		return Exec(conn, "SELECT COUNT(*) FROM "+table, func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		})
	})
	if err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return count
}

func TestOpenRequiresDependencies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.db")
	if _, err := Open(Config{Path: path, Logger: slog.New(slog.DiscardHandler)}); err == nil {
		t.Error("Open without clock succeeded")
	}
	if _, err := Open(Config{Path: path, Clock: clock.Real()}); err == nil {
		t.Error("Open without logger succeeded")
	}
}

func TestUpdateRouterRollsBack(t *testing.T) {
	store := openTestStore(t)
	router := ref.MustParseRouter("owner@x.org/alpha")
	failure := errors.New("validation failed")

	err := store.UpdateRouter(context.Background(), router, func(conn *sqlite.Conn) error {
		if err := Exec(conn, "INSERT INTO routers (owner, name, created_at, updated_at) VALUES (?, ?, 0, 0)", nil,
			router.Owner().String(), router.Name()); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("UpdateRouter = %v, want %v", err, failure)
	}
	if count := countRows(t, store, "routers"); count != 0 {
		t.Errorf("routers = %d after rollback, want 0", count)
	}
}

func TestServicesCascadeAndPriceCheck(t *testing.T) {
	store := openTestStore(t)
	router := ref.MustParseRouter("owner@x.org/alpha")
	ctx := context.Background()

	err := store.UpdateRouter(ctx, router, func(conn *sqlite.Conn) error {
		if err := Exec(conn, "INSERT INTO routers (owner, name, created_at, updated_at) VALUES ('owner@x.org', 'alpha', 0, 0)", nil); err != nil {
			return err
		}
		return Exec(conn, "INSERT INTO services (owner, router, type, unit_price, charge_policy) VALUES ('owner@x.org', 'alpha', 'chat', 50000, 'per-request')", nil)
	})
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}

	err = store.UpdateRouter(ctx, router, func(conn *sqlite.Conn) error {
		return Exec(conn, "UPDATE services SET unit_price = -1", nil)
	})
	if err == nil {
		t.Error("negative unit_price accepted by schema")
	}

	err = store.UpdateRouter(ctx, router, func(conn *sqlite.Conn) error {
		return Exec(conn, "DELETE FROM routers", nil)
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if count := countRows(t, store, "services"); count != 0 {
		t.Errorf("services = %d after router delete, want 0", count)
	}
}

func TestUpdateRouterSerializesPerRouter(t *testing.T) {
	store := openTestStore(t)
	router := ref.MustParseRouter("owner@x.org/alpha")

	entered := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- store.UpdateRouter(context.Background(), router, func(conn *sqlite.Conn) error {
			close(entered)
			<-release
			return nil
		})
	}()
	testutil.RequireClosed(t, entered, 5*time.Second, "waiting for first critical section")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := store.UpdateRouter(ctx, router, func(conn *sqlite.Conn) error {
		t.Error("second critical section ran while the first held the router")
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("blocked UpdateRouter = %v, want deadline exceeded", err)
	}

	close(release)
	if err := testutil.RequireReceive(t, firstDone, 5*time.Second, "waiting for first UpdateRouter"); err != nil {
		t.Fatalf("first UpdateRouter: %v", err)
	}
}

func TestKeyedMutexMutualExclusionAndCleanup(t *testing.T) {
	locks := newKeyedMutex()
	var (
		inside  atomic.Int32
		maximum atomic.Int32
		group   sync.WaitGroup
	)
	for range 16 {
		group.Add(1)
		go func() {
			defer group.Done()
			unlock, err := locks.lock(context.Background(), "alpha")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			current := inside.Add(1)
			for {
				previous := maximum.Load()
				if current <= previous || maximum.CompareAndSwap(previous, current) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
			unlock()
		}()
	}
	group.Wait()
	if maximum.Load() != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maximum.Load())
	}
	if locks.size() != 0 {
		t.Errorf("slots leaked: %d", locks.size())
	}

	unlockAlpha, _ := locks.lock(context.Background(), "alpha")
	unlockBeta, err := locks.lock(context.Background(), "beta")
	if err != nil {
		t.Fatalf("independent key blocked: %v", err)
	}
	unlockAlpha()
	unlockBeta()
}
