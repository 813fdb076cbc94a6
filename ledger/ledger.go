// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ledger is the client contract for the prepaid billing
// ledger.
//
// A priced call is bracketed by a transaction: Open holds the amount
// against the caller's balance and returns a token, and exactly one of
// Confirm (pay the router owner) or Cancel (release the hold) settles
// it. Confirm and Cancel are idempotent: settling an already settled
// transaction returns an [Ack] with AlreadyTerminal set, never an
// error.
//
// [Client] speaks the ledger's HTTP API. [Memory] is an in-process
// reference ledger used by tests and local development; its Handler
// serves the same HTTP API, so the two are tested against each other.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/switchboard/lib/money"
	"github.com/bureau-foundation/switchboard/lib/ref"
)

// Status is a transaction's settlement state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the transaction is settled.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Account is a principal's ledger balance. Held is the sum of open
// transactions; it is not spendable.
type Account struct {
	Principal ref.Principal `json:"principal"`
	Balance   money.Amount  `json:"balance"`
	Held      money.Amount  `json:"held"`
}

// Transaction pays for one call.
type Transaction struct {
	ID        string        `json:"id"`
	Token     string        `json:"token"`
	Sender    ref.Principal `json:"sender"`
	Recipient ref.Principal `json:"recipient"`
	Amount    money.Amount  `json:"amount"`
	Status    Status        `json:"status"`
	Router    ref.Router    `json:"router"`
	Service   string        `json:"service"`
	CreatedAt time.Time     `json:"created_at"`
}

// OpenRequest describes the transaction to open. The sender is the
// authenticated caller.
type OpenRequest struct {
	Recipient ref.Principal `json:"recipient"`
	Amount    money.Amount  `json:"amount"`
	Router    ref.Router    `json:"router"`
	Service   string        `json:"service"`
}

// Validate checks the request before it leaves the process.
func (r OpenRequest) Validate() error {
	if r.Recipient.IsZero() {
		return fmt.Errorf("ledger: recipient is required")
	}
	if r.Amount <= 0 {
		return fmt.Errorf("ledger: amount must be positive, got %s", r.Amount)
	}
	if r.Router.IsZero() || r.Service == "" {
		return fmt.Errorf("ledger: router and service are required")
	}
	return nil
}

// Ack is the result of Confirm or Cancel. Status is the transaction's
// status after the request; when AlreadyTerminal is true the request
// changed nothing and Status may differ from the one requested.
type Ack struct {
	Token           string `json:"token"`
	Status          Status `json:"status"`
	AlreadyTerminal bool   `json:"already_terminal"`
}

// Ledger is the part of the ledger contract the billing orchestrator
// depends on.
type Ledger interface {
	Open(ctx context.Context, request OpenRequest) (*Transaction, error)
	Confirm(ctx context.Context, token string) (*Ack, error)
	Cancel(ctx context.Context, token string) (*Ack, error)
}

// Sentinel errors. Errors from Client and Memory match these with
// errors.Is.
var (
	ErrAuth              = errors.New("ledger: not authenticated")
	ErrNotFound          = errors.New("ledger: not found")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrInvalidRequest    = errors.New("ledger: invalid request")
)

// AuthError reports that the caller has no usable ledger identity.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return "ledger: authentication failed: " + e.Reason }

func (e *AuthError) Unwrap() error { return ErrAuth }
