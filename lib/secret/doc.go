// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret keeps key material out of the Go heap.
//
// The delegation token signing seed, the caller's ledger credential,
// and decrypted credential bundles live in a [Buffer]: an anonymous
// mmap region the garbage collector never copies, excluded from core
// dumps, locked against swap when the memlock limit allows, and
// zeroed on Close.
package secret
