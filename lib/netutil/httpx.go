// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP response reading for the
// gateway transport and the ledger client.
//
// Every response body read goes through MaxResponseSize so that a
// misbehaving gateway cannot exhaust memory. Remote error bodies are
// carried into typed errors, so [Excerpt] trims them to a size that
// is safe to log.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"
)

// MaxResponseSize bounds response body reads: 32 MB. Call envelopes and
// ledger replies are a few kilobytes.
const MaxResponseSize int64 = 32 << 20

// MaxExcerptLength is the number of bytes of a remote body kept in an
// error message.
const MaxExcerptLength = 512

// ReadResponse reads a response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a JSON response body (up to MaxResponseSize
// bytes) and decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an error response body and returns an excerpt for
// diagnostics. Read errors are ignored; a partial body is still useful.
func ErrorBody(body io.Reader) string {
	data, _ := ReadResponse(body)
	return Excerpt(data)
}

// Excerpt returns at most MaxExcerptLength bytes of data as a string,
// cut on a rune boundary and marked when truncated.
func Excerpt(data []byte) string {
	if len(data) <= MaxExcerptLength {
		return string(data)
	}
	cut := MaxExcerptLength
	for cut > 0 && !utf8.RuneStart(data[cut]) {
		cut--
	}
	return string(data[:cut]) + "…(truncated)"
}
