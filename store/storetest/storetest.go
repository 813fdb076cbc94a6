// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package storetest opens throwaway stores for tests in other
// packages.
package storetest

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/store"
)

// Open returns a store in a fresh temporary directory, closed at the
// end of the test.
func Open(t testing.TB, clk clock.Clock) *store.Store {
	t.Helper()
	st, err := store.Open(store.Config{
		Path:   filepath.Join(t.TempDir(), "switchboard.db"),
		Clock:  clk,
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("storetest: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
