// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// maxPrincipalLength matches the SMTP path limit (RFC 5321 §4.5.3.1.3).
const maxPrincipalLength = 254

// Principal is an authenticated party, identified by a lowercase email
// address ("owner@x.org").
type Principal struct {
	email string
}

// ParsePrincipal validates an email-form identifier. Case is folded so
// that "Owner@X.org" and "owner@x.org" are the same principal.
func ParsePrincipal(raw string) (Principal, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return Principal{}, fmt.Errorf("empty principal")
	}
	if len(email) > maxPrincipalLength {
		return Principal{}, fmt.Errorf("principal exceeds %d bytes: %q", maxPrincipalLength, raw)
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 || at != strings.LastIndexByte(email, '@') || at == len(email)-1 {
		return Principal{}, fmt.Errorf("principal must be user@domain: %q", raw)
	}
	domain := email[at+1:]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return Principal{}, fmt.Errorf("principal domain %q is not a hostname", domain)
	}
	for _, character := range email {
		if character <= ' ' || character == '/' || character == '\\' || character == 0x7f {
			return Principal{}, fmt.Errorf("principal contains invalid character %q: %q", character, raw)
		}
	}
	return Principal{email: email}, nil
}

// MustParsePrincipal is like ParsePrincipal but panics on error. Use in
// tests where the input is known-valid.
func MustParsePrincipal(raw string) Principal {
	principal, err := ParsePrincipal(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParsePrincipal(%q): %v", raw, err))
	}
	return principal
}

// String returns the email address.
func (p Principal) String() string { return p.email }

// IsZero reports whether p is the zero value.
func (p Principal) IsZero() bool { return p.email == "" }

// MarshalText implements encoding.TextMarshaler.
func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.email), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// produces the zero value.
func (p *Principal) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*p = Principal{}
		return nil
	}
	parsed, err := ParsePrincipal(string(data))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
