// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"sync"
)

// keyedMutex is a set of mutexes created on demand and discarded when
// no goroutine holds or waits for them. Waiting respects context
// cancellation.
type keyedMutex struct {
	mu    sync.Mutex
	slots map[string]*keyedSlot
}

type keyedSlot struct {
	// token has capacity 1; holding the lock means having sent to it.
	token chan struct{}
	refs  int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{slots: make(map[string]*keyedSlot)}
}

func (k *keyedMutex) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	slot, exists := k.slots[key]
	if !exists {
		slot = &keyedSlot{token: make(chan struct{}, 1)}
		k.slots[key] = slot
	}
	slot.refs++
	k.mu.Unlock()

	select {
	case slot.token <- struct{}{}:
	case <-ctx.Done():
		k.release(key, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.token
			k.release(key, slot)
		})
	}, nil
}

func (k *keyedMutex) release(key string, slot *keyedSlot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(k.slots, key)
	}
}

// size returns the number of live slots.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
