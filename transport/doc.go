// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries encoded calls to the relay gateway and
// returns raw response envelopes.
//
// A [Transport] knows nothing about deferred calls, polling, or
// billing: it performs one exchange and hands back the envelope bytes.
// Failures to complete the exchange (connection refused, reset, DNS,
// a dead mailbox) are reported as [*Error], which upper layers treat
// as a distinct outcome that is never retried.
//
// Two implementations ship:
//
//   - [HTTP] talks to a gateway over HTTP. Gateways that relay for
//     store-and-forward routers answer with an envelope document
//     (content type [EnvelopeMediaType]) which is passed through
//     unchanged; gateways that answer natively have an envelope
//     synthesized from the HTTP status and body.
//   - [Memory] is an in-process mailbox that dispatches calls to
//     registered handlers. Tests and local development use it to
//     script 202/200 sequences without a network.
package transport
