// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package delegation lets a router owner hand a bounded capability
// (pricing control) to another principal and audits everything the
// delegate does with it.
//
// [Authority] manages who may act: principals opt in to receiving
// grants, owners grant and revoke, and either party can end a grant.
// A router has at most one active grant; granting again replaces it
// and the replaced delegate's access token stops working at once.
//
// [Gateway] is the only path by which a delegate mutates a router. It
// checks, in order, that an active grant names the delegate, that the
// presented access token is the grant's current token, and that the
// grant carries the capability the action requires. Any failure is an
// [*AuthorizationError] with no side effects. The checks are repeated
// inside the router's critical section, so a revoke that lands between
// the first check and the write still wins. An accepted action and its
// audit entry commit in one transaction.
package delegation
