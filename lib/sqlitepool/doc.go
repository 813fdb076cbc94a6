// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool behind the
// router registry, delegation grants, and audit log.
//
// It wraps zombiezen.com/go/sqlite with WAL journaling, NORMAL
// synchronous, a 5 second busy timeout, and foreign keys enabled.
// [Pool.Write] runs a function in an IMMEDIATE transaction and
// [Pool.Read] in a snapshot read transaction; callers write SQL with
// sqlitex.Execute directly. There is no query builder.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/var/lib/switchboard/switchboard.db",
//	    Schema: schema,
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "UPDATE services SET unit_price = ? WHERE ...", ...)
//	})
package sqlitepool
