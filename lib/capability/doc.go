// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability maps capability tags to the actions they cover
// and to the handlers that carry those actions out.
//
// A delegation grant names capabilities ("pricing-control"), a
// delegate submits actions ("update_pricing"). The [Registry] answers
// which capability an action requires and builds one handler per
// capability at startup. Building fails with a [*MissingError] when a
// required capability has no registration, so an unhandled grant is
// a startup error rather than a runtime surprise.
package capability
