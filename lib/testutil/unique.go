// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns "prefix-N" with N strictly increasing across the
// test binary. Tests use it for router names and in-memory database
// names that must not collide when tests run in parallel.
//
//	name := testutil.UniqueID("router") // "router-1", "router-2", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
