// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package poller drives a dispatched call to a terminal state.
//
// A call is sent once. A 200 completes it; a 202 defers it with a poll
// handle, after which the poller waits per its [RetryPolicy] and
// re-issues a GET for the handle until the answer is terminal or the
// budget is spent. Each outcome maps to a distinct type:
//
//   - 200: a [Result]
//   - any status other than 200/202: [*RemoteError], immediately
//   - budget exhausted: [*TimeoutError]
//   - exchange failure: [*transport.Error], immediately, never retried
//   - unreadable envelope: [*envelope.ParseError], immediately
//
// Waits go through the injected clock, so a Run suspends only its own
// goroutine and tests drive it with [clock.FakeClock].
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/switchboard/envelope"
	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/transport"
)

// State is a call's position in the poll lifecycle.
type State int

const (
	StateSent State = iota
	StatePending
	StateCompleted
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateSent:
		return "sent"
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Transition is reported to an Observer each time a call changes
// state.
type Transition struct {
	State State

	// Attempt counts requests issued so far, including dispatch.
	Attempt int

	// Handle is the current poll handle, empty before deferral.
	Handle string
}

// Observer receives transitions synchronously from the Run goroutine.
type Observer func(Transition)

// Config configures a Poller.
type Config struct {
	Transport transport.Transport
	Clock     clock.Clock
	Policy    RetryPolicy

	// Logger and Observer are optional.
	Logger   *slog.Logger
	Observer Observer
}

// Poller runs calls. It holds no per-call state and is safe for
// concurrent use.
type Poller struct {
	transport transport.Transport
	clock     clock.Clock
	policy    RetryPolicy
	logger    *slog.Logger
	observer  Observer
}

// New validates config and returns a Poller.
func New(config Config) (*Poller, error) {
	if config.Transport == nil {
		return nil, errors.New("poller: Transport is required")
	}
	if config.Clock == nil {
		return nil, errors.New("poller: Clock is required")
	}
	if err := config.Policy.Validate(); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Poller{
		transport: config.Transport,
		clock:     config.Clock,
		policy:    config.Policy,
		logger:    logger,
		observer:  config.Observer,
	}, nil
}

// Policy returns the poller's retry policy.
func (p *Poller) Policy() RetryPolicy { return p.policy }

// Result is a successfully completed call.
type Result struct {
	Body envelope.Body

	// Attempts counts requests issued, including the dispatch.
	Attempts int

	// Handle is the last poll handle, empty if the call completed on
	// dispatch.
	Handle string
}

// Run dispatches call and polls until it is terminal. On failure the
// returned error is one of the types listed in the package
// documentation, or ctx.Err() if ctx ends first.
func (p *Poller) Run(ctx context.Context, call transport.Call) (*Result, error) {
	attempts := 0
	handle := ""
	p.notify(StateSent, attempts, handle)

	for {
		raw, err := p.transport.Do(ctx, call)
		attempts++
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			p.notify(StateFailed, attempts, handle)
			return nil, err
		}

		switch outcome := envelope.Decode(raw).(type) {
		case envelope.Immediate:
			if outcome.OK() {
				p.notify(StateCompleted, attempts, handle)
				return &Result{Body: outcome.Body, Attempts: attempts, Handle: handle}, nil
			}
			p.notify(StateFailed, attempts, handle)
			return nil, &RemoteError{
				Status: outcome.Status,
				Body:   outcome.Body,
				Fault:  ClassifyStatus(outcome.Status),
			}

		case *envelope.ParseError:
			p.notify(StateFailed, attempts, handle)
			return nil, outcome

		case envelope.Deferred:
			handle = outcome.Handle
			p.notify(StatePending, attempts, handle)
		}

		// attempts-1 polls have been issued; the next is poll number
		// attempts.
		if attempts-1 >= p.policy.MaxAttempts {
			p.notify(StateTimedOut, attempts, handle)
			return nil, &TimeoutError{Attempts: attempts - 1, Handle: handle}
		}
		if err := p.wait(ctx, p.policy.Delay(attempts)); err != nil {
			return nil, err
		}
		call = envelope.EncodePoll(handle)
	}
}

func (p *Poller) wait(ctx context.Context, delay time.Duration) error {
	timer := p.clock.NewTimer(delay)
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}
}

func (p *Poller) notify(state State, attempt int, handle string) {
	p.logger.Debug("call state", "state", state.String(), "attempt", attempt, "handle", handle)
	if p.observer != nil {
		p.observer(Transition{State: state, Attempt: attempt, Handle: handle})
	}
}
