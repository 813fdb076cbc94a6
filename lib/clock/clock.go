// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations used by switchboard. Production
// code injects Real(); tests inject Fake() and advance time explicitly.
//
// Anything that waits between poll attempts, stamps a grant, or feeds
// a rate limiter takes a Clock rather than calling the time package.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a Timer that fires once after d. Callers that
	// may abandon the wait (for example on context cancellation)
	// should prefer NewTimer over After and Stop the timer so the
	// pending waiter is released.
	NewTimer(d time.Duration) *Timer
}

// Timer is a single scheduled event. Read the fire time from C.
type Timer struct {
	// C receives the fire time. Buffered with capacity 1.
	C <-chan time.Time

	stopFunc func() bool
}

// Stop prevents the Timer from firing. Returns true if the call
// stopped the timer, false if it had already fired or been stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }
