// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statuscache caches each principal's delegation status.
//
// The cache is never authoritative. A missing entry is loaded from the
// live source (the delegation Authority) on first query, and an entry
// is dropped whenever the Authority reports that the principal's
// grants changed. Each principal carries a generation number bumped
// on every invalidation: loads started under an older generation are
// returned to the callers that were already waiting for them but are
// not stored, so no query that starts after an invalidation returns
// state from before it.
package statuscache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/bureau-foundation/switchboard/delegation"
	"github.com/bureau-foundation/switchboard/lib/metrics"
	"github.com/bureau-foundation/switchboard/lib/ref"
)

// Loader derives a principal's status from the source of truth.
// *delegation.Authority satisfies it.
type Loader interface {
	Status(ctx context.Context, principal ref.Principal) (delegation.Status, error)
}

// Observer is called after a principal's entry is invalidated.
// Observers run synchronously on the invalidating goroutine and must
// not block; an observer that wants fresh state calls Get.
type Observer func(principal ref.Principal)

// Config configures a Cache.
type Config struct {
	Loader  Loader
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Cache is a lazily populated status cache. Safe for concurrent use.
type Cache struct {
	loader  Loader
	logger  *slog.Logger
	metrics *metrics.Metrics
	flight  singleflight.Group

	mu          sync.Mutex
	entries     map[ref.Principal]delegation.Status
	generations map[ref.Principal]uint64
	observers   map[uint64]Observer
	nextID      uint64
}

// New returns an empty cache over config.Loader.
func New(config Config) (*Cache, error) {
	if config.Loader == nil {
		return nil, errors.New("statuscache: Loader is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{
		loader:      config.Loader,
		logger:      logger,
		metrics:     config.Metrics,
		entries:     make(map[ref.Principal]delegation.Status),
		generations: make(map[ref.Principal]uint64),
		observers:   make(map[uint64]Observer),
	}, nil
}

// Get returns principal's status, loading it on a miss. Concurrent
// misses for the same principal and generation share one load.
func (c *Cache) Get(ctx context.Context, principal ref.Principal) (delegation.Status, error) {
	c.mu.Lock()
	status, hit := c.entries[principal]
	generation := c.generations[principal]
	c.mu.Unlock()
	c.metrics.CacheLookup(hit)
	if hit {
		return status, nil
	}

	key := fmt.Sprintf("%s#%d", principal, generation)
	result := c.flight.DoChan(key, func() (any, error) {
		// Shared by every waiter, so no single caller's cancellation
		// may abort it.
		loaded, err := c.loader.Status(context.WithoutCancel(ctx), principal)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.generations[principal] == generation {
			c.entries[principal] = loaded
		}
		c.mu.Unlock()
		return loaded, nil
	})

	select {
	case <-ctx.Done():
		return delegation.Status{}, ctx.Err()
	case outcome := <-result:
		if outcome.Err != nil {
			return delegation.Status{}, fmt.Errorf("statuscache: loading %s: %w", principal, outcome.Err)
		}
		return outcome.Val.(delegation.Status), nil
	}
}

// Invalidate drops principal's entry and notifies observers. It has
// the signature of a delegation.Invalidator.
func (c *Cache) Invalidate(principal ref.Principal) {
	c.mu.Lock()
	delete(c.entries, principal)
	c.generations[principal]++
	observers := make([]Observer, 0, len(c.observers))
	for _, observer := range c.observers {
		observers = append(observers, observer)
	}
	c.mu.Unlock()

	c.logger.Debug("delegation status invalidated", "principal", principal.String())
	for _, observer := range observers {
		observer(principal)
	}
}

// Subscribe registers observer and returns a function that removes
// it. Calling the returned function more than once is harmless.
func (c *Cache) Subscribe(observer Observer) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.observers[id] = observer
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
