// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delegation

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/switchboard/registry"
)

var (
	ErrNotOptedIn     = errors.New("delegation: delegate has not opted in")
	ErrSelfDelegation = errors.New("delegation: owner cannot delegate to themselves")
	ErrNoGrant        = errors.New("delegation: router has no active grant")
	ErrRateLimited    = errors.New("delegation: too many delegate actions, slow down")
)

// Reason explains an authorization failure.
type Reason string

const (
	ReasonNoGrant              Reason = "no active grant for this delegate"
	ReasonTokenMismatch        Reason = "access token does not match the active grant"
	ReasonCapabilityNotGranted Reason = "grant does not carry the required capability"
	ReasonNotOwner             Reason = "caller does not own the router"
	ReasonNotParty             Reason = "caller is neither the owner nor the delegate"
)

// AuthorizationError is returned when a grant, token, or capability
// check fails. Nothing was changed.
type AuthorizationError struct {
	Reason Reason
	Detail string
}

func (e *AuthorizationError) Error() string {
	if e.Detail == "" {
		return "delegation: unauthorized: " + string(e.Reason)
	}
	return fmt.Sprintf("delegation: unauthorized: %s (%s)", e.Reason, e.Detail)
}

// ValidationError reports an action whose change list is invalid.
// Nothing was changed.
type ValidationError = registry.ValidationError
