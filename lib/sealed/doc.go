// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts ledger credentials to the ledger's public
// key with age (X25519).
//
// "switchboard ledger credentials" seals the new credential before it
// leaves the process, so neither the gateway in between nor a request
// log ever sees it in the clear. The in-process ledger holds the
// matching identity and opens it.
package sealed
