// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"fmt"
)

// EnvelopeMediaType marks a response body that is already a call
// envelope.
const EnvelopeMediaType = "application/vnd.switchboard.envelope+json"

// Call is one request on the wire. Calls are values: an identical
// logical request always produces an identical Call.
type Call struct {
	// Method is POST for dispatch and GET for poll re-issues.
	Method string

	// Path is the gateway path, for example
	// /v1/routers/owner@x.org/alpha/chat or /v1/poll/h-123.
	Path string

	// Body is the canonical JSON payload. Nil for GET.
	Body []byte

	// IdempotencyKey lets the gateway collapse duplicate deliveries
	// of the same call.
	IdempotencyKey string
}

// Transport performs one exchange and returns the response envelope.
type Transport interface {
	Do(ctx context.Context, call Call) ([]byte, error)
}

// Error reports that an exchange could not be completed. The remote
// side may or may not have seen the call.
type Error struct {
	Method string
	Path   string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// synthesize builds an envelope from a native HTTP response. JSON
// object bodies are embedded as objects; anything else becomes a
// string body.
func synthesize(status int, body []byte) []byte {
	var embedded json.RawMessage
	if json.Valid(body) && len(body) > 0 && firstNonSpace(body) == '{' {
		embedded = body
	} else {
		text, _ := json.Marshal(string(body))
		embedded = text
	}
	envelope, _ := json.Marshal(struct {
		StatusCode int             `json:"status_code"`
		Body       json.RawMessage `json:"body"`
	}{status, embedded})
	return envelope
}

func firstNonSpace(data []byte) byte {
	for _, character := range data {
		switch character {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return character
	}
	return 0
}
