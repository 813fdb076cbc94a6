// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireNoReceive], and [RequireClosed] wrap the
// select-with-timeout pattern so individual tests never call
// time.After themselves. Everything else in the test suite runs on
// clock.FakeClock.
//
// [UniqueID] generates identifiers that do not collide across
// parallel tests.
//
// All helpers call t.Fatalf on failure rather than returning errors.
package testutil
