// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"net/url"
	"strings"
)

// Address is the logical destination of a call: an endpoint on a
// router. The text form is "owner@x.org/router/endpoint".
type Address struct {
	router   Router
	endpoint string
}

// NewAddress validates endpoint and combines it with router.
func NewAddress(router Router, endpoint string) (Address, error) {
	if router.IsZero() {
		return Address{}, fmt.Errorf("address router is required")
	}
	if err := validateName("endpoint", endpoint); err != nil {
		return Address{}, err
	}
	return Address{router: router, endpoint: endpoint}, nil
}

// ParseAddress parses the "owner/router/endpoint" text form.
func ParseAddress(raw string) (Address, error) {
	slash := strings.LastIndexByte(raw, '/')
	if slash < 0 {
		return Address{}, fmt.Errorf("address must be owner/router/endpoint: %q", raw)
	}
	router, err := ParseRouter(raw[:slash])
	if err != nil {
		return Address{}, fmt.Errorf("address %q: %w", raw, err)
	}
	return NewAddress(router, raw[slash+1:])
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(raw string) Address {
	address, err := ParseAddress(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseAddress(%q): %v", raw, err))
	}
	return address
}

// Router returns the router part of the address.
func (a Address) Router() Router { return a.router }

// Endpoint returns the endpoint name, which is also the service type
// the call is billed against.
func (a Address) Endpoint() string { return a.endpoint }

// Path returns the gateway request path for this address:
// /v1/routers/{owner}/{router}/{endpoint}. The owner is path-escaped;
// router and endpoint names never need escaping.
func (a Address) Path() string {
	return "/v1/routers/" + url.PathEscape(a.router.owner.String()) + "/" + a.router.name + "/" + a.endpoint
}

// String returns "owner/router/endpoint".
func (a Address) String() string {
	if a.IsZero() {
		return ""
	}
	return a.router.String() + "/" + a.endpoint
}

// IsZero reports whether a is the zero value.
func (a Address) IsZero() bool { return a.endpoint == "" }

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
