// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit is the append-only record of delegate actions.
//
// Entries are appended inside the same transaction as the change they
// describe, so an entry exists if and only if its change was applied.
// There is no update or delete: corrections are new entries. Payloads
// are CBOR, compressed when large enough to benefit.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/switchboard/lib/codec"
	"github.com/bureau-foundation/switchboard/lib/compress"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/store"
)

// DefaultLimit caps List when the caller passes a limit <= 0.
const DefaultLimit = 100

// Entry is one accepted delegate action.
type Entry struct {
	ID         string        `json:"id"`
	Router     ref.Router    `json:"router"`
	Delegate   ref.Principal `json:"delegate"`
	ActionType string        `json:"action_type"`

	// Payload is the CBOR-encoded action detail. Use DecodePayload.
	Payload codec.RawMessage `json:"-"`

	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// TokenFingerprint identifies the access token used, without
	// storing the token itself.
	TokenFingerprint string `json:"token_fingerprint"`
}

// DecodePayload decodes the entry's payload into v.
func (e *Entry) DecodePayload(v any) error {
	if err := codec.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("audit: decoding %s payload of entry %s: %w", e.ActionType, e.ID, err)
	}
	return nil
}

// Config configures a Log.
type Config struct {
	// Compression is the preferred payload compression. Payloads
	// below compress.MinimumSize are stored uncompressed regardless.
	Compression compress.Tag
}

// Log appends and lists audit entries.
type Log struct {
	store       *store.Store
	compression compress.Tag
}

// New returns a Log over st.
func New(st *store.Store, config Config) *Log {
	return &Log{store: st, compression: config.Compression}
}

// Append records an entry inside the caller's transaction. payload is
// CBOR-encoded; ID is assigned. Callers run Append in the same
// store.UpdateRouter callback as the change it records.
func (l *Log) Append(conn *sqlite.Conn, entry Entry, payload any) (Entry, error) {
	encoded, err := codec.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: encoding payload: %w", err)
	}
	packed, err := compress.Pack(encoded, l.compression)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: compressing payload: %w", err)
	}

	entry.ID = uuid.NewString()
	entry.Payload = encoded
	var reason any
	if entry.Reason != "" {
		reason = entry.Reason
	}
	err = store.Exec(conn, `INSERT INTO audit_log
		(id, owner, router, delegate, action_type, payload, reason, token_fingerprint, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, nil,
		entry.ID,
		entry.Router.Owner().String(),
		entry.Router.Name(),
		entry.Delegate.String(),
		entry.ActionType,
		packed,
		reason,
		entry.TokenFingerprint,
		entry.CreatedAt.UnixNano(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: appending to %s: %w", entry.Router, err)
	}
	return entry, nil
}

// List returns router's entries newest first, at most limit of them.
func (l *Log) List(ctx context.Context, router ref.Router, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	var entries []Entry
	err := l.store.Read(ctx, func(conn *sqlite.Conn) error {
		return store.Exec(conn, `SELECT id, delegate, action_type, payload, reason, token_fingerprint, created_at
			FROM audit_log WHERE owner = ? AND router = ?
			ORDER BY sequence DESC LIMIT ?`,
			func(stmt *sqlite.Stmt) error {
				entry, err := scanEntry(router, stmt)
				if err != nil {
					return err
				}
				entries = append(entries, entry)
				return nil
			}, router.Owner().String(), router.Name(), limit)
	})
	if err != nil {
		return nil, fmt.Errorf("audit: listing %s: %w", router, err)
	}
	return entries, nil
}

// Count returns the number of entries for router.
func (l *Log) Count(ctx context.Context, router ref.Router) (int, error) {
	var count int
	err := l.store.Read(ctx, func(conn *sqlite.Conn) error {
		return store.Exec(conn, "SELECT COUNT(*) FROM audit_log WHERE owner = ? AND router = ?",
			func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			}, router.Owner().String(), router.Name())
	})
	if err != nil {
		return 0, fmt.Errorf("audit: counting %s: %w", router, err)
	}
	return count, nil
}

func scanEntry(router ref.Router, stmt *sqlite.Stmt) (Entry, error) {
	delegate, err := ref.ParsePrincipal(stmt.ColumnText(1))
	if err != nil {
		return Entry{}, fmt.Errorf("stored delegate: %w", err)
	}
	packed := make([]byte, stmt.ColumnLen(3))
	stmt.ColumnBytes(3, packed)
	payload, err := compress.Unpack(packed)
	if err != nil {
		return Entry{}, fmt.Errorf("entry %s payload: %w", stmt.ColumnText(0), err)
	}
	return Entry{
		ID:               stmt.ColumnText(0),
		Router:           router,
		Delegate:         delegate,
		ActionType:       stmt.ColumnText(2),
		Payload:          payload,
		Reason:           stmt.ColumnText(4),
		TokenFingerprint: stmt.ColumnText(5),
		CreatedAt:        time.Unix(0, stmt.ColumnInt64(6)).UTC(),
	}, nil
}
