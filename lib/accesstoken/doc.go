// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package accesstoken mints and verifies delegate access tokens.
//
// A router owner's grant hands the delegate a token. The delegate
// presents it with every control action; the gateway verifies the
// signature and expiry here, then checks the token ID against the
// router's active grant.
//
// # Wire format
//
// A token is a CBOR-encoded [Token] (Core Deterministic Encoding, via
// lib/codec) followed by a 64-byte Ed25519 signature over those
// bytes, the whole encoded as unpadded base64url so it fits in a
// header or a JSON string.
//
// # Keys
//
// The signing key is derived with HKDF-SHA256 from a 32-byte seed
// held in a secret.Buffer. The same seed always yields the same key,
// so tokens survive restarts without storing a private key on disk.
//
// # Revocation
//
// Replacing or revoking a grant adds the old token ID to a
// [Blacklist] so an in-process verifier rejects it immediately. The
// grant record in storage stays authoritative.
package accesstoken
