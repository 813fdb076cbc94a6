// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store owns switchboard's SQLite database: routers and their
// services, delegation opt-ins and grants, and the delegate audit log.
//
// Owner edits and delegate edits of a router run in that router's
// critical section ([Store.UpdateRouter]): an in-process lock keyed by
// router plus an IMMEDIATE transaction, so a concurrent owner edit,
// delegate edit, and revoke can never interleave. Reads run in a
// single deferred transaction and see one consistent snapshot.
//
// The registry, delegation, and audit packages issue their own SQL
// against the connection handed to their callbacks; this package only
// provides the schema and the transaction discipline.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/sqlitepool"
)

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the database file. The parent directory must exist.
	Path string

	// PoolSize is the number of connections. Zero uses the pool
	// default.
	PoolSize int

	// Clock stamps rows. Required.
	Clock clock.Clock

	// Logger is required.
	Logger *slog.Logger
}

// Store is the database handle. Safe for concurrent use.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
	locks  *keyedMutex
}

// Open opens or creates the database and applies the schema.
func Open(config Config) (*Store, error) {
	if config.Clock == nil {
		return nil, errors.New("store: Clock is required")
	}
	if config.Logger == nil {
		return nil, errors.New("store: Logger is required")
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     config.Path,
		PoolSize: config.PoolSize,
		Schema:   schema,
		Logger:   config.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{
		pool:   pool,
		clock:  config.Clock,
		logger: config.Logger,
		locks:  newKeyedMutex(),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

// Read runs fn against a consistent snapshot.
func (s *Store) Read(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	return s.pool.Read(ctx, fn)
}

// Write runs fn in an IMMEDIATE transaction that is not tied to a
// router (opt-ins, for example).
func (s *Store) Write(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	return s.pool.Write(ctx, fn)
}

// UpdateRouter runs fn inside router's critical section. fn's writes
// commit together if it returns nil and roll back otherwise.
func (s *Store) UpdateRouter(ctx context.Context, router ref.Router, fn func(conn *sqlite.Conn) error) error {
	unlock, err := s.locks.lock(ctx, router.String())
	if err != nil {
		return fmt.Errorf("store: waiting for %s: %w", router, err)
	}
	defer unlock()
	return s.pool.Write(ctx, fn)
}

// Exec runs a statement with positional arguments and calls each for
// every result row. each may be nil.
func Exec(conn *sqlite.Conn, query string, each func(stmt *sqlite.Stmt) error, args ...any) error {
	return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args:       args,
		ResultFunc: each,
	})
}

// Bool converts a Go bool to the INTEGER column representation.
func Bool(value bool) int64 {
	if value {
		return 1
	}
	return 0
}
