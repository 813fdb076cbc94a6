// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
)

// ErrNoRoute is the cause of the *Error returned by Memory when no
// handler matches a call's path.
var ErrNoRoute = errors.New("no handler for path")

// Handler answers one call with an envelope. Returning an error
// simulates a failed exchange.
type Handler func(ctx context.Context, call Call) ([]byte, error)

// Memory is an in-process Transport. Handlers are registered by path
// prefix; the longest matching prefix wins. Every call is recorded.
type Memory struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
}

// NewMemory returns an empty Memory transport.
func NewMemory() *Memory {
	return &Memory{handlers: make(map[string]Handler)}
}

// Handle registers handler for calls whose path starts with prefix.
func (m *Memory) Handle(prefix string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[prefix] = handler
}

// Do implements Transport.
func (m *Memory) Do(ctx context.Context, call Call) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, cloneCall(call))
	var (
		handler Handler
		longest = -1
	)
	for prefix, candidate := range m.handlers {
		if strings.HasPrefix(call.Path, prefix) && len(prefix) > longest {
			handler, longest = candidate, len(prefix)
		}
	}
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &Error{Method: call.Method, Path: call.Path, Err: err}
	}
	if handler == nil {
		return nil, &Error{Method: call.Method, Path: call.Path, Err: ErrNoRoute}
	}
	envelope, err := handler(ctx, call)
	if err != nil {
		var transportErr *Error
		if errors.As(err, &transportErr) {
			return nil, err
		}
		return nil, &Error{Method: call.Method, Path: call.Path, Err: err}
	}
	return envelope, nil
}

// Calls returns every call seen so far, in order.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]Call, len(m.calls))
	for index, call := range m.calls {
		calls[index] = cloneCall(call)
	}
	return calls
}

// Sequence returns a Handler that answers successive calls with the
// given envelopes in order and repeats the last one when exhausted.
func Sequence(envelopes ...[]byte) Handler {
	var (
		mu   sync.Mutex
		next int
	)
	return func(ctx context.Context, call Call) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(envelopes) == 0 {
			return nil, ErrNoRoute
		}
		envelope := envelopes[min(next, len(envelopes)-1)]
		next++
		return envelope, nil
	}
}

func cloneCall(call Call) Call {
	call.Body = slices.Clone(call.Body)
	return call
}
