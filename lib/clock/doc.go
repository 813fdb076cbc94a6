// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The call poller waits a fixed interval between attempts and the
// delegation gateway feeds timestamps to its rate limiter; both take a
// Clock so tests can drive them without sleeping:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go poll(ctx, c)
//	c.WaitForTimers(1)         // poller is now waiting
//	c.Advance(2 * time.Second) // release exactly one backoff
package clock
