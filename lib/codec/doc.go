// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides switchboard's standard CBOR configuration.
//
// Two serialization formats are used with a clear boundary:
//
//   - JSON for external interfaces: call envelopes, the ledger API,
//     the delegation HTTP surface, and CLI output.
//   - CBOR for internal data: signed delegation access tokens and
//     audit payloads at rest.
//
// The encoder uses Core Deterministic Encoding, so the same logical
// value always produces identical bytes. Token signatures and audit
// fingerprints depend on that.
//
// # Struct Tag Rules
//
// A `cbor` tag marks a type that is only ever CBOR. A `json` tag marks
// a type that may be serialized as both (fxamacker/cbor falls back to
// `json` tags). Never put both tags on the same field.
package codec
