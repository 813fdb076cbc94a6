// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated identifier types for switchboard.
//
// [Principal] names a party (a router owner, a caller, a delegate) by
// email address. [Router] names a router by owner and name. [Address]
// names one endpoint on a router and knows how to render itself as
// the gateway path that carries a call.
//
// All types are immutable values with unexported fields. Construct
// them with the Parse functions; the zero value is invalid and
// reports IsZero. Each implements encoding.TextMarshaler and
// TextUnmarshaler so it serializes as a plain string in JSON, YAML,
// and CBOR.
package ref
