// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package envelope translates between logical calls and the wire.
//
// Encode turns an address and payload into a [transport.Call]; Decode
// turns a response envelope into an [Outcome]. An envelope is a JSON
// document:
//
//	{"status_code": 202, "body": {"poll_handle": "h-7f3a"}}
//	{"status_code": 200, "body": {"answer": "..."}}
//	{"status_code": 500, "body": "upstream model unavailable"}
//
// 200 is terminal success, 202 means not yet ready and carries a poll
// handle, anything else is terminal failure. Bodies are either a JSON
// object or a plain string and callers must handle both.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bureau-foundation/switchboard/lib/digest"
	"github.com/bureau-foundation/switchboard/lib/netutil"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/transport"
)

// PollPathPrefix is the gateway path prefix for poll re-issues.
const PollPathPrefix = "/v1/poll/"

// Payload is the JSON object sent to a router endpoint.
type Payload map[string]any

// With returns a copy of p with key set to value. The receiver is not
// modified.
func (p Payload) With(key string, value any) Payload {
	copied := make(Payload, len(p)+1)
	for existing, existingValue := range p {
		copied[existing] = existingValue
	}
	copied[key] = value
	return copied
}

// Encode builds the dispatch call for payload at address. The body is
// canonical JSON (object keys sorted at every depth), so identical
// logical input yields a byte-identical call and idempotency key.
func Encode(address ref.Address, payload Payload) (transport.Call, error) {
	if address.IsZero() {
		return transport.Call{}, fmt.Errorf("envelope: address is required")
	}
	if payload == nil {
		payload = Payload{}
	}
	body, err := canonicalJSON(payload)
	if err != nil {
		return transport.Call{}, fmt.Errorf("envelope: encoding payload for %s: %w", address, err)
	}
	path := address.Path()
	return transport.Call{
		Method:         http.MethodPost,
		Path:           path,
		Body:           body,
		IdempotencyKey: digest.Call(http.MethodPost, path, body).String(),
	}, nil
}

// EncodePoll builds the GET call that re-issues a deferred call.
func EncodePoll(handle string) transport.Call {
	path := PollPathPrefix + url.PathEscape(handle)
	return transport.Call{
		Method:         http.MethodGet,
		Path:           path,
		IdempotencyKey: digest.Call(http.MethodGet, path, nil).String(),
	}
}

// Build renders an envelope document. body may be a string (plain
// body) or anything that marshals to a JSON object. Routers, relays,
// and test doubles use it to answer calls.
func Build(status int, body any) ([]byte, error) {
	var raw json.RawMessage
	switch typed := body.(type) {
	case nil:
		raw = json.RawMessage(`""`)
	case string:
		encoded, _ := json.Marshal(typed)
		raw = encoded
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return nil, fmt.Errorf("envelope: encoding body: %w", err)
		}
		if len(encoded) == 0 || encoded[0] != '{' {
			return nil, fmt.Errorf("envelope: body must be a JSON object or a string, got %s", netutil.Excerpt(encoded))
		}
		raw = encoded
	}
	return json.Marshal(document{StatusCode: &status, Body: raw})
}

// MustBuild is like Build but panics on error. Use in tests.
func MustBuild(status int, body any) []byte {
	data, err := Build(status, body)
	if err != nil {
		panic(err)
	}
	return data
}

type document struct {
	StatusCode *int            `json:"status_code"`
	Body       json.RawMessage `json:"body"`
}

// canonicalJSON re-encodes v through a generic value so map keys are
// sorted at every depth. Numbers keep their literal text.
func canonicalJSON(v any) ([]byte, error) {
	first, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(first))
	decoder.UseNumber()
	var generic any
	if err := decoder.Decode(&generic); err != nil {
		return nil, err
	}
	if _, isObject := generic.(map[string]any); !isObject {
		return nil, fmt.Errorf("payload must be a JSON object")
	}
	return json.Marshal(generic)
}
