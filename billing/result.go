// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/switchboard/envelope"
	"github.com/bureau-foundation/switchboard/lib/money"
	"github.com/bureau-foundation/switchboard/poller"
	"github.com/bureau-foundation/switchboard/transport"
)

// Billing is how a call's charge was resolved.
type Billing int

const (
	// NotBilled: the service is free; no transaction was opened.
	NotBilled Billing = iota

	// Confirmed: the call succeeded and the caller was charged.
	Confirmed

	// Cancelled: the call failed and the hold was released.
	Cancelled

	// Unconfirmed: settlement failed. The transaction is still open
	// at the ledger and needs reconciliation.
	Unconfirmed
)

func (b Billing) String() string {
	switch b {
	case NotBilled:
		return "not_billed"
	case Confirmed:
		return "confirmed"
	case Cancelled:
		return "cancelled"
	case Unconfirmed:
		return "unconfirmed"
	}
	return fmt.Sprintf("billing(%d)", int(b))
}

// Operation names a settlement request.
type Operation string

const (
	OperationConfirm Operation = "confirm"
	OperationCancel  Operation = "cancel"
)

// LedgerInconsistency records a settlement that failed after the call
// reached a terminal state.
type LedgerInconsistency struct {
	Operation Operation
	Token     string
	Err       error
}

func (e *LedgerInconsistency) Error() string {
	return fmt.Sprintf("billing: %s of transaction %s failed: %v", e.Operation, e.Token, e.Err)
}

func (e *LedgerInconsistency) Unwrap() error { return e.Err }

// Result is a terminal call together with its billing resolution.
type Result struct {
	// Body is the 200 response body. Empty when Err is set.
	Body envelope.Body

	// Err is the call's failure: *poller.RemoteError,
	// *poller.TimeoutError, *transport.Error, or
	// *envelope.ParseError. Nil when the call succeeded.
	Err error

	// Attempts counts requests issued, including the dispatch.
	Attempts int

	Price       money.Amount
	Transaction string
	Billing     Billing

	// Inconsistency is set when Billing is Unconfirmed.
	Inconsistency *LedgerInconsistency

	Duration time.Duration
}

// OK reports whether the call itself succeeded, regardless of
// billing.
func (r *Result) OK() bool { return r.Err == nil }

// Message is a one-line summary for people. A failed call and a
// successful call with unconfirmed billing always read differently.
func (r *Result) Message() string {
	if r.Err != nil {
		message := "call failed: " + describe(r.Err)
		switch r.Billing {
		case Cancelled:
			message += fmt.Sprintf("; the %s hold was released", r.Price)
		case Unconfirmed:
			message += fmt.Sprintf("; releasing the %s hold on transaction %s failed and will be reconciled",
				r.Price, r.Transaction)
		}
		return message
	}
	switch r.Billing {
	case Confirmed:
		return fmt.Sprintf("call succeeded; charged %s", r.Price)
	case Unconfirmed:
		return fmt.Sprintf("call succeeded, but billing could not be confirmed for transaction %s (%s); it will be reconciled",
			r.Transaction, r.Price)
	case Cancelled:
		// The ledger had already cancelled the transaction.
		return fmt.Sprintf("call succeeded; transaction %s was already cancelled, nothing charged", r.Transaction)
	}
	return "call succeeded"
}

func describe(err error) string {
	var (
		remote    *poller.RemoteError
		timeout   *poller.TimeoutError
		exchange  *transport.Error
		malformed *envelope.ParseError
	)
	switch {
	case errors.As(err, &remote):
		return fmt.Sprintf("the service answered %d (%s fault): %s", remote.Status, remote.Fault, remote.Body.String())
	case errors.As(err, &timeout):
		return fmt.Sprintf("no answer after %d polls; the service may still be working on it", timeout.Attempts)
	case errors.As(err, &exchange):
		return "could not reach the service: " + exchange.Err.Error()
	case errors.As(err, &malformed):
		return "unreadable response: " + malformed.Reason
	}
	return err.Error()
}

// outcomeLabel is the metrics label for a call error.
func outcomeLabel(err error) string {
	var (
		remote    *poller.RemoteError
		timeout   *poller.TimeoutError
		malformed *envelope.ParseError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &remote):
		return "remote_error"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &malformed):
		return "parse_error"
	}
	return "transport_error"
}
