// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package billing runs priced calls: it holds the caller's payment
// before dispatch and settles it once the call's fate is known.
//
// For a service priced above zero, [Orchestrator.Invoke] opens a
// ledger transaction, sends the call with the transaction token in its
// payload, drives it to a terminal state with the poller, and then
// runs exactly one settlement: Confirm when the call completed with
// 200, Cancel for every other terminal outcome. A service priced at
// zero never touches the ledger.
//
// Settlement never changes the call's result. If Confirm or Cancel
// fails, the failure is recorded on the [Result] as a
// [*LedgerInconsistency], logged at WARN, and counted, so an operator
// can reconcile it; the caller still receives the call's own outcome.
//
// A call and its settlement outlive the caller's context. If the
// caller gives up, Invoke returns ctx.Err() at once and the work
// continues in the background; [Orchestrator.Wait] blocks until every
// such call has settled.
package billing
