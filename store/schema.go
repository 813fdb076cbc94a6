// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

// Timestamps are Unix nanoseconds. Money columns are micro-units.
// grants and audit_log do not reference routers by foreign key:
// deleting a router that a grant still names is refused in code
// (registry.ErrRouterReferenced), and audit history outlives its
// router.
const schema = `
CREATE TABLE IF NOT EXISTS routers (
	owner       TEXT    NOT NULL,
	name        TEXT    NOT NULL,
	published   INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL,
	PRIMARY KEY (owner, name)
);

CREATE TABLE IF NOT EXISTS services (
	owner          TEXT    NOT NULL,
	router         TEXT    NOT NULL,
	type           TEXT    NOT NULL,
	enabled        INTEGER NOT NULL DEFAULT 1,
	unit_price     INTEGER NOT NULL CHECK (unit_price >= 0),
	charge_policy  TEXT    NOT NULL,
	PRIMARY KEY (owner, router, type),
	FOREIGN KEY (owner, router) REFERENCES routers (owner, name) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS opt_ins (
	principal    TEXT    PRIMARY KEY,
	opted_in_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS grants (
	owner         TEXT    NOT NULL,
	router        TEXT    NOT NULL,
	delegate      TEXT    NOT NULL,
	capabilities  TEXT    NOT NULL,
	token_id      TEXT    NOT NULL,
	access_token  TEXT    NOT NULL,
	granted_at    INTEGER NOT NULL,
	expires_at    INTEGER NOT NULL,
	PRIMARY KEY (owner, router)
);

CREATE INDEX IF NOT EXISTS grants_by_delegate ON grants (delegate);

CREATE TABLE IF NOT EXISTS revoked_tokens (
	token_id    TEXT    PRIMARY KEY,
	expires_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	sequence           INTEGER PRIMARY KEY AUTOINCREMENT,
	id                 TEXT    NOT NULL UNIQUE,
	owner              TEXT    NOT NULL,
	router             TEXT    NOT NULL,
	delegate           TEXT    NOT NULL,
	action_type        TEXT    NOT NULL,
	payload            BLOB    NOT NULL,
	reason             TEXT,
	token_fingerprint  TEXT    NOT NULL,
	created_at         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS audit_by_router ON audit_log (owner, router, sequence DESC);
`
