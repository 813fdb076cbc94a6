// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package poller

import (
	"errors"
	"fmt"
	"time"
)

// Reference policy values.
const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 20
)

// RetryPolicy bounds the poll loop for a deferred call.
type RetryPolicy struct {
	// MaxAttempts is the number of poll re-issues allowed after the
	// call is first deferred. The initial dispatch is not counted.
	MaxAttempts int

	// Interval is the wait before the first poll.
	Interval time.Duration

	// Multiplier scales the wait after each poll. 1 keeps the
	// interval fixed.
	Multiplier float64

	// MaxInterval caps the wait when Multiplier > 1. Zero means no
	// cap.
	MaxInterval time.Duration
}

// DefaultRetryPolicy is a fixed 2s wait for at most 20 polls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Interval:    DefaultInterval,
		Multiplier:  1,
	}
}

// Validate reports every problem with the policy.
func (p RetryPolicy) Validate() error {
	var errs []error
	if p.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("poller: max attempts must be at least 1, got %d", p.MaxAttempts))
	}
	if p.Interval < 0 {
		errs = append(errs, fmt.Errorf("poller: interval must not be negative, got %s", p.Interval))
	}
	if p.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("poller: multiplier must be at least 1, got %g", p.Multiplier))
	}
	if p.MaxInterval < 0 {
		errs = append(errs, fmt.Errorf("poller: max interval must not be negative, got %s", p.MaxInterval))
	}
	return errors.Join(errs...)
}

// Delay returns the wait before poll number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.Interval)
	for range attempt - 1 {
		delay *= p.Multiplier
		if p.MaxInterval > 0 && delay >= float64(p.MaxInterval) {
			return p.MaxInterval
		}
	}
	return time.Duration(delay)
}
