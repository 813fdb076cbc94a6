// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bureau-foundation/switchboard/lib/netutil"
)

// Outcome is the decoded meaning of a response envelope: one of
// [Immediate], [Deferred], or [*ParseError].
type Outcome interface {
	outcome()
}

// Immediate is a terminal response. Status 200 is success; anything
// other than 200 and 202 is failure.
type Immediate struct {
	Status int
	Body   Body
}

// OK reports whether the response is terminal success.
func (i Immediate) OK() bool { return i.Status == http.StatusOK }

// Deferred means the call is accepted but not finished. Re-issue with
// EncodePoll(Handle).
type Deferred struct {
	Handle string
}

// ParseError is the outcome of an envelope that could not be
// understood. It is also an error so callers can return it directly.
type ParseError struct {
	Reason string
	Raw    []byte
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("envelope: %s: %s", e.Reason, netutil.Excerpt(e.Raw))
}

func (Immediate) outcome()   {}
func (Deferred) outcome()    {}
func (*ParseError) outcome() {}

// Body is an envelope body: either a JSON object or a plain string.
type Body struct {
	object json.RawMessage
	text   string
}

// ObjectBody wraps raw JSON object bytes.
func ObjectBody(raw json.RawMessage) Body { return Body{object: raw} }

// TextBody wraps a plain string.
func TextBody(text string) Body { return Body{text: text} }

// IsObject reports whether the body is a JSON object.
func (b Body) IsObject() bool { return b.object != nil }

// Text returns the string body, or "" for object bodies.
func (b Body) Text() string { return b.text }

// Raw returns the JSON object bytes, or nil for string bodies.
func (b Body) Raw() json.RawMessage { return b.object }

// Decode unmarshals an object body into v. String bodies are an
// error.
func (b Body) Decode(v any) error {
	if b.object == nil {
		return fmt.Errorf("envelope: body is a string, not an object: %s", netutil.Excerpt([]byte(b.text)))
	}
	return json.Unmarshal(b.object, v)
}

// String renders the body for display: the JSON text of an object
// body or the string itself.
func (b Body) String() string {
	if b.object != nil {
		return string(b.object)
	}
	return b.text
}

// MarshalJSON renders the body as it appears in an envelope.
func (b Body) MarshalJSON() ([]byte, error) {
	if b.object != nil {
		return b.object, nil
	}
	return json.Marshal(b.text)
}

// Decode interprets a response envelope. It never fails: anything
// that is not a well-formed envelope decodes to a *ParseError.
func Decode(raw []byte) Outcome {
	var parsed document
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return &ParseError{Reason: "envelope is not a JSON object", Raw: raw}
	}
	if parsed.StatusCode == nil {
		return &ParseError{Reason: "envelope has no status_code", Raw: raw}
	}
	status := *parsed.StatusCode
	if status < 100 || status > 599 {
		return &ParseError{Reason: fmt.Sprintf("status_code %d is out of range", status), Raw: raw}
	}

	body, ok := decodeBody(parsed.Body)
	if !ok {
		return &ParseError{Reason: "body must be a JSON object or a string", Raw: raw}
	}

	if status == http.StatusAccepted {
		var deferred struct {
			PollHandle string `json:"poll_handle"`
		}
		if !body.IsObject() || json.Unmarshal(body.object, &deferred) != nil || deferred.PollHandle == "" {
			return &ParseError{Reason: "202 envelope carries no poll_handle", Raw: raw}
		}
		return Deferred{Handle: deferred.PollHandle}
	}
	return Immediate{Status: status, Body: body}
}

func decodeBody(raw json.RawMessage) (Body, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Body{}, true
	}
	switch trimmed[0] {
	case '{':
		return Body{object: trimmed}, true
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return Body{}, false
		}
		return Body{text: text}, true
	}
	return Body{}, false
}
