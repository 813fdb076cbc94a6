// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Constructor builds the handler for one capability.
type Constructor[H any] func() (H, error)

type registration[H any] struct {
	actions   []string
	construct Constructor[H]
}

// Registry maps capability tags to the action patterns they cover and
// to a handler constructor. H is the handler type the caller
// dispatches actions to.
//
// Registrations happen at startup; lookups are safe for concurrent use
// with each other and with late registrations.
type Registry[H any] struct {
	mu            sync.RWMutex
	registrations map[string]registration[H]
}

// NewRegistry returns an empty registry.
func NewRegistry[H any]() *Registry[H] {
	return &Registry[H]{registrations: make(map[string]registration[H])}
}

// Register associates tag with the action patterns it covers and the
// constructor for its handler. Patterns use [MatchAction] syntax.
// Registering the same tag twice is an error.
func (r *Registry[H]) Register(tag string, actions []string, construct Constructor[H]) error {
	if tag == "" {
		return fmt.Errorf("capability: empty tag")
	}
	if len(actions) == 0 {
		return fmt.Errorf("capability: %s covers no actions", tag)
	}
	if construct == nil {
		return fmt.Errorf("capability: %s has no constructor", tag)
	}
	for _, pattern := range actions {
		if !ValidPattern(pattern) {
			return fmt.Errorf("capability: %s: malformed action pattern %q", tag, pattern)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.registrations[tag]; exists {
		return fmt.Errorf("capability: %s registered twice", tag)
	}
	r.registrations[tag] = registration[H]{actions: slices.Clone(actions), construct: construct}
	return nil
}

// Tags returns the registered capability tags in sorted order.
func (r *Registry[H]) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.registrations))
	for tag := range r.registrations {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Required returns the capability tag that covers action. When several
// registrations cover it, the lexically first tag wins so the answer
// is stable.
func (r *Registry[H]) Required(action string) (string, bool) {
	for _, tag := range r.Tags() {
		r.mu.RLock()
		actions := r.registrations[tag].actions
		r.mu.RUnlock()
		if MatchAnyAction(actions, action) {
			return tag, true
		}
	}
	return "", false
}

// Build constructs one handler for each tag in required. Any tag
// without a registration is reported in a single *MissingError; a
// constructor failure is returned wrapped.
func (r *Registry[H]) Build(required []string) (map[string]H, error) {
	r.mu.RLock()
	var missing []string
	for _, tag := range required {
		if _, exists := r.registrations[tag]; !exists {
			missing = append(missing, tag)
		}
	}
	r.mu.RUnlock()
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingError{Tags: slices.Compact(missing)}
	}

	handlers := make(map[string]H, len(required))
	for _, tag := range required {
		if _, built := handlers[tag]; built {
			continue
		}
		r.mu.RLock()
		construct := r.registrations[tag].construct
		r.mu.RUnlock()
		handler, err := construct()
		if err != nil {
			return nil, fmt.Errorf("capability: constructing %s handler: %w", tag, err)
		}
		handlers[tag] = handler
	}
	return handlers, nil
}

// MissingError reports capabilities that are required but have no
// registered handler.
type MissingError struct {
	Tags []string
}

func (e *MissingError) Error() string {
	return "capability: no handler registered for " + strings.Join(e.Tags, ", ")
}
