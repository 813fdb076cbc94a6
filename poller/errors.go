// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package poller

import (
	"fmt"

	"github.com/bureau-foundation/switchboard/envelope"
	"github.com/bureau-foundation/switchboard/lib/netutil"
)

// Fault attributes a remote failure.
type Fault int

const (
	// FaultProvider is a 5xx (or any non-4xx) failure on the router
	// side.
	FaultProvider Fault = iota

	// FaultCaller is a 4xx failure: the request itself was rejected.
	FaultCaller
)

func (f Fault) String() string {
	if f == FaultCaller {
		return "caller"
	}
	return "provider"
}

// ClassifyStatus returns the fault for a terminal failure status.
func ClassifyStatus(status int) Fault {
	if status >= 400 && status < 500 {
		return FaultCaller
	}
	return FaultProvider
}

// RemoteError is a terminal failure status from the router. It is
// never retried.
type RemoteError struct {
	Status int
	Body   envelope.Body
	Fault  Fault
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("poller: remote returned %d (%s fault): %s",
		e.Status, e.Fault, netutil.Excerpt([]byte(e.Body.String())))
}

// TimeoutError means the poll budget ran out while the call was still
// deferred. The call may still complete remotely.
type TimeoutError struct {
	Attempts int
	Handle   string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("poller: call still pending after %d polls (handle %s)", e.Attempts, e.Handle)
}
