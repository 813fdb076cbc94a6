// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/switchboard/envelope"
	"github.com/bureau-foundation/switchboard/ledger"
	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/metrics"
	"github.com/bureau-foundation/switchboard/lib/money"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/poller"
	"github.com/bureau-foundation/switchboard/transport"
)

// TokenField is the payload field carrying the transaction token.
const TokenField = "transaction_token"

// Pricer resolves what a call costs and who is paid.
// *registry.Registry satisfies it.
type Pricer interface {
	Price(ctx context.Context, caller ref.Principal, address ref.Address) (money.Amount, ref.Principal, error)
}

// Config configures an Orchestrator.
type Config struct {
	// Ledger acts with the caller's ledger identity.
	Ledger ledger.Ledger
	Poller *poller.Poller
	Pricer Pricer
	Clock  clock.Clock

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Orchestrator runs billed calls. Safe for concurrent use.
type Orchestrator struct {
	ledger  ledger.Ledger
	poller  *poller.Poller
	pricer  Pricer
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	inflight sync.WaitGroup
}

// New validates config and returns an Orchestrator.
func New(config Config) (*Orchestrator, error) {
	var missing []error
	if config.Ledger == nil {
		missing = append(missing, errors.New("billing: Ledger is required"))
	}
	if config.Poller == nil {
		missing = append(missing, errors.New("billing: Poller is required"))
	}
	if config.Pricer == nil {
		missing = append(missing, errors.New("billing: Pricer is required"))
	}
	if config.Clock == nil {
		missing = append(missing, errors.New("billing: Clock is required"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		ledger:  config.Ledger,
		poller:  config.Poller,
		pricer:  config.Pricer,
		clock:   config.Clock,
		logger:  logger,
		metrics: config.Metrics,
	}, nil
}

// Invoke prices, pays for, and runs one call.
//
// Errors before dispatch (unknown router or service, a disabled
// service, a ledger that refuses to open the transaction) are returned
// with a nil Result; nothing was sent and nothing needs settling.
//
// Once dispatched, Invoke returns a non-nil Result. If the call
// failed, the returned error is Result.Err, so callers can branch on
// the error type and still inspect Result.Billing.
//
// If ctx ends before the call is terminal, Invoke returns ctx.Err()
// and the call continues in the background; see Wait.
func (o *Orchestrator) Invoke(ctx context.Context, caller ref.Principal, address ref.Address, payload envelope.Payload) (*Result, error) {
	// Surface payloads that cannot be encoded before any money moves.
	if _, err := envelope.Encode(address, payload); err != nil {
		o.metrics.ObserveCall("rejected", NotBilled.String(), 0, 0)
		return nil, err
	}

	price, recipient, err := o.pricer.Price(ctx, caller, address)
	if err != nil {
		o.metrics.ObserveCall("rejected", NotBilled.String(), 0, 0)
		return nil, fmt.Errorf("billing: pricing %s: %w", address, err)
	}

	var transaction *ledger.Transaction
	if price > 0 {
		transaction, err = o.ledger.Open(ctx, ledger.OpenRequest{
			Recipient: recipient,
			Amount:    price,
			Router:    address.Router(),
			Service:   address.Endpoint(),
		})
		if err != nil {
			o.metrics.ObserveCall("rejected", NotBilled.String(), 0, 0)
			return nil, fmt.Errorf("billing: opening transaction for %s: %w", address, err)
		}
		payload = payload.With(TokenField, transaction.Token)
	}

	done := make(chan *Result, 1)
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		done <- o.execute(context.WithoutCancel(ctx), address, payload, price, transaction)
	}()

	select {
	case result := <-done:
		return result, result.Err
	case <-ctx.Done():
		o.logger.Info("caller abandoned call, settling in background",
			"address", address.String(),
			"price", price.String(),
		)
		return nil, ctx.Err()
	}
}

// Wait blocks until every call started by Invoke has settled.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

// execute runs the call to a terminal state and then settles it.
func (o *Orchestrator) execute(ctx context.Context, address ref.Address, payload envelope.Payload, price money.Amount, transaction *ledger.Transaction) *Result {
	started := o.clock.Now()
	result := &Result{Price: price, Billing: NotBilled}

	call, err := envelope.Encode(address, payload)
	if err == nil {
		var completed *poller.Result
		completed, err = o.poller.Run(ctx, call)
		if err == nil {
			result.Body = completed.Body
			result.Attempts = completed.Attempts
		}
	}
	result.Err = err
	result.Attempts = max(result.Attempts, attemptsOf(err))

	if transaction != nil {
		result.Transaction = transaction.Token
		o.settle(ctx, address, result)
	}
	result.Duration = o.clock.Now().Sub(started)

	o.metrics.ObserveCall(outcomeLabel(result.Err), result.Billing.String(), result.Attempts, result.Duration)
	if result.Err != nil {
		var exchange *transport.Error
		level := slog.LevelInfo
		if errors.As(result.Err, &exchange) {
			level = slog.LevelWarn
		}
		o.logger.Log(ctx, level, "call failed",
			"address", address.String(),
			"error", result.Err,
			"billing", result.Billing.String(),
		)
	}
	return result
}

// settle runs exactly one Confirm or Cancel for a terminal call.
func (o *Orchestrator) settle(ctx context.Context, address ref.Address, result *Result) {
	operation := OperationCancel
	settleFunc := o.ledger.Cancel
	if result.Err == nil {
		operation = OperationConfirm
		settleFunc = o.ledger.Confirm
	}

	ack, err := settleFunc(ctx, result.Transaction)
	if err != nil {
		result.Billing = Unconfirmed
		result.Inconsistency = &LedgerInconsistency{Operation: operation, Token: result.Transaction, Err: err}
		o.metrics.LedgerInconsistency(string(operation))
		o.logger.Warn("ledger inconsistency",
			"operation", string(operation),
			"token", result.Transaction,
			"address", address.String(),
			"price", result.Price.String(),
			"call_ok", result.Err == nil,
			"error", err,
		)
		return
	}

	switch ack.Status {
	case ledger.StatusCompleted:
		result.Billing = Confirmed
	case ledger.StatusCancelled:
		result.Billing = Cancelled
	default:
		result.Billing = Unconfirmed
		result.Inconsistency = &LedgerInconsistency{
			Operation: operation,
			Token:     result.Transaction,
			Err:       fmt.Errorf("ledger acknowledged with non-terminal status %q", ack.Status),
		}
		o.metrics.LedgerInconsistency(string(operation))
		o.logger.Warn("ledger inconsistency",
			"operation", string(operation),
			"token", result.Transaction,
			"status", string(ack.Status),
		)
		return
	}
	if ack.AlreadyTerminal {
		o.logger.Info("transaction was already settled",
			"operation", string(operation),
			"token", result.Transaction,
			"status", string(ack.Status),
		)
	}
}

func attemptsOf(err error) int {
	var timeout *poller.TimeoutError
	if errors.As(err, &timeout) {
		return timeout.Attempts + 1
	}
	return 0
}
