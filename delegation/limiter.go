// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delegation

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/switchboard/lib/ref"
)

const (
	limiterIdleTTL     = 10 * time.Minute
	limiterSweepPeriod = 512
)

// delegateLimiter is a token bucket per delegate. Buckets idle for
// longer than limiterIdleTTL are swept every limiterSweepPeriod calls.
// A nil *delegateLimiter allows everything.
type delegateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[ref.Principal]*bucket
	calls   uint64
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newDelegateLimiter(perSecond float64, burst int) *delegateLimiter {
	if perSecond <= 0 || burst <= 0 {
		return nil
	}
	return &delegateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: make(map[ref.Principal]*bucket),
	}
}

// allow consumes one token from delegate's bucket at now.
func (l *delegateLimiter) allow(delegate ref.Principal, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[delegate]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[delegate] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.calls++
	if l.calls%limiterSweepPeriod == 0 {
		cutoff := now.Add(-limiterIdleTTL)
		for principal, idle := range l.buckets {
			if idle.lastSeen.Before(cutoff) {
				delete(l.buckets, principal)
			}
		}
	}
	return allowed
}

func (l *delegateLimiter) size() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
