// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/compress"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/store/storetest"
)

var (
	alpha    = ref.MustParseRouter("owner@x.org/alpha")
	beta     = ref.MustParseRouter("owner@x.org/beta")
	delegate = ref.MustParsePrincipal("d@x.org")
	epoch    = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
)

type notePayload struct {
	Note string `cbor:"1,keyasint"`
}

func appendEntry(t *testing.T, st *store.Store, log *Log, router ref.Router, at time.Time, payload notePayload) Entry {
	t.Helper()
	var appended Entry
	err := st.UpdateRouter(context.Background(), router, func(conn *sqlite.Conn) error {
		var err error
		appended, err = log.Append(conn, Entry{
			Router:           router,
			Delegate:         delegate,
			ActionType:       "update_pricing",
			Reason:           "test",
			CreatedAt:        at,
			TokenFingerprint: "fp",
		}, payload)
		return err
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return appended
}

func TestListNewestFirstPerRouter(t *testing.T) {
	for _, tag := range []compress.Tag{compress.None, compress.LZ4, compress.Zstd} {
		t.Run(tag.String(), func(t *testing.T) {
			st := storetest.Open(t, clock.Fake(epoch))
			log := New(st, Config{Compression: tag})

			first := appendEntry(t, st, log, alpha, epoch, notePayload{Note: "first"})
			appendEntry(t, st, log, beta, epoch.Add(time.Minute), notePayload{Note: "other router"})
			large := strings.Repeat("pricing change detail ", 200)
			second := appendEntry(t, st, log, alpha, epoch.Add(2*time.Minute), notePayload{Note: large})

			entries, err := log.List(context.Background(), alpha, 0)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(entries) != 2 || entries[0].ID != second.ID || entries[1].ID != first.ID {
				t.Fatalf("List = %+v, want [second, first]", entries)
			}
			var decoded notePayload
			if err := entries[0].DecodePayload(&decoded); err != nil || decoded.Note != large {
				t.Errorf("large payload did not survive storage: %v", err)
			}
			if entries[1].Reason != "test" || !entries[1].CreatedAt.Equal(epoch) || entries[1].Delegate != delegate {
				t.Errorf("entry = %+v", entries[1])
			}

			if limited, _ := log.List(context.Background(), alpha, 1); len(limited) != 1 || limited[0].ID != second.ID {
				t.Errorf("List limit 1 = %+v", limited)
			}
			if count, _ := log.Count(context.Background(), alpha); count != 2 {
				t.Errorf("Count = %d, want 2", count)
			}
		})
	}
}

func TestAppendRollsBackWithItsTransaction(t *testing.T) {
	st := storetest.Open(t, clock.Fake(epoch))
	log := New(st, Config{Compression: compress.Zstd})

	st.UpdateRouter(context.Background(), alpha, func(conn *sqlite.Conn) error {
		if _, err := log.Append(conn, Entry{Router: alpha, Delegate: delegate, ActionType: "update_pricing", CreatedAt: epoch}, notePayload{}); err != nil {
			t.Fatalf("Append: %v", err)
		}
		return context.Canceled
	})
	if count, _ := log.Count(context.Background(), alpha); count != 0 {
		t.Errorf("Count = %d after rollback, want 0", count)
	}
}

func TestEmptyReasonIsStoredAsNull(t *testing.T) {
	st := storetest.Open(t, clock.Fake(epoch))
	log := New(st, Config{})
	st.UpdateRouter(context.Background(), alpha, func(conn *sqlite.Conn) error {
		_, err := log.Append(conn, Entry{Router: alpha, Delegate: delegate, ActionType: "update_pricing", CreatedAt: epoch}, notePayload{Note: "x"})
		return err
	})
	var null bool
	st.Read(context.Background(), func(conn *sqlite.Conn) error {
		return store.Exec(conn, "SELECT reason IS NULL FROM audit_log", func(stmt *sqlite.Stmt) error {
			null = stmt.ColumnInt(0) == 1
			return nil
		})
	})
	if !null {
		t.Error("empty reason stored as a value, want NULL")
	}
}
