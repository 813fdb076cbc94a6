// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

const maxNameLength = 64

// Router identifies a router by its owner and a name unique within
// that owner. The text form is "owner@x.org/name".
type Router struct {
	owner Principal
	name  string
}

// NewRouter validates name and combines it with owner.
func NewRouter(owner Principal, name string) (Router, error) {
	if owner.IsZero() {
		return Router{}, fmt.Errorf("router owner is required")
	}
	if err := validateName("router name", name); err != nil {
		return Router{}, err
	}
	return Router{owner: owner, name: name}, nil
}

// ParseRouter parses the "owner/name" text form.
func ParseRouter(raw string) (Router, error) {
	ownerText, name, found := strings.Cut(raw, "/")
	if !found {
		return Router{}, fmt.Errorf("router reference must be owner/name: %q", raw)
	}
	owner, err := ParsePrincipal(ownerText)
	if err != nil {
		return Router{}, fmt.Errorf("router reference %q: %w", raw, err)
	}
	return NewRouter(owner, name)
}

// MustParseRouter is like ParseRouter but panics on error.
func MustParseRouter(raw string) Router {
	router, err := ParseRouter(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRouter(%q): %v", raw, err))
	}
	return router
}

// Owner returns the principal that owns the router.
func (r Router) Owner() Principal { return r.owner }

// Name returns the router's name within its owner.
func (r Router) Name() string { return r.name }

// String returns "owner/name".
func (r Router) String() string {
	if r.IsZero() {
		return ""
	}
	return r.owner.String() + "/" + r.name
}

// IsZero reports whether r is the zero value.
func (r Router) IsZero() bool { return r.name == "" }

// MarshalText implements encoding.TextMarshaler.
func (r Router) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Router) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*r = Router{}
		return nil
	}
	parsed, err := ParseRouter(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// validateName accepts lowercase alphanumerics plus '-', '_' and '.',
// starting with an alphanumeric. Names appear verbatim in gateway
// paths, so nothing that needs escaping is allowed.
func validateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s is empty", kind)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%s exceeds %d bytes: %q", kind, maxNameLength, name)
	}
	for index := 0; index < len(name); index++ {
		character := name[index]
		switch {
		case character >= 'a' && character <= 'z', character >= '0' && character <= '9':
		case index > 0 && (character == '-' || character == '_' || character == '.'):
		default:
			return fmt.Errorf("%s %q: invalid character %q at offset %d", kind, name, character, index)
		}
	}
	return nil
}
