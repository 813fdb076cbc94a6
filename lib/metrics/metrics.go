// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics defines switchboard's Prometheus instruments.
//
// Instruments are registered on a caller-supplied registerer rather
// than the global default so that tests and embedded uses each get an
// isolated set. Every recording method is safe to call on a nil
// *Metrics, which lets library components treat metrics as optional.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "switchboard"

// Metrics holds every instrument switchboard records.
type Metrics struct {
	// calls counts terminal calls.
	// Labels: outcome (ok, remote_error, timeout, transport_error,
	// parse_error, rejected), billing (not_billed, confirmed,
	// cancelled, unconfirmed).
	calls *prometheus.CounterVec

	// pollAttempts observes how many requests a call needed to reach
	// a terminal state, counting the initial dispatch.
	pollAttempts prometheus.Histogram

	// callDuration observes wall time from dispatch to terminal.
	callDuration prometheus.Histogram

	// ledgerInconsistencies counts failed confirm/cancel resolutions.
	// Labels: operation (confirm, cancel).
	ledgerInconsistencies *prometheus.CounterVec

	// delegateActions counts gateway decisions.
	// Labels: action, result (applied, unauthorized, invalid,
	// rate_limited, error).
	delegateActions *prometheus.CounterVec

	// cacheLookups counts status cache reads.
	// Labels: result (hit, miss).
	cacheLookups *prometheus.CounterVec
}

// New registers switchboard's instruments on registerer.
func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "total",
			Help:      "Terminal calls by outcome and billing resolution",
		}, []string{"outcome", "billing"}),
		pollAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "attempts",
			Help:      "Requests issued per call, including the initial dispatch",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 20, 30},
		}),
		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "duration_seconds",
			Help:      "Time from dispatch to terminal state",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
		ledgerInconsistencies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "inconsistencies_total",
			Help:      "Transactions whose confirm or cancel failed after the call was terminal",
		}, []string{"operation"}),
		delegateActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delegation",
			Name:      "actions_total",
			Help:      "Delegate actions by type and gateway decision",
		}, []string{"action", "result"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "status_cache",
			Name:      "lookups_total",
			Help:      "Delegate status cache lookups by result",
		}, []string{"result"}),
	}
}

// ObserveCall records one terminal call.
func (m *Metrics) ObserveCall(outcome, billing string, attempts int, duration time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(outcome, billing).Inc()
	if attempts > 0 {
		m.pollAttempts.Observe(float64(attempts))
	}
	m.callDuration.Observe(duration.Seconds())
}

// LedgerInconsistency records a failed confirm or cancel.
func (m *Metrics) LedgerInconsistency(operation string) {
	if m == nil {
		return
	}
	m.ledgerInconsistencies.WithLabelValues(operation).Inc()
}

// DelegateAction records a gateway decision.
func (m *Metrics) DelegateAction(action, result string) {
	if m == nil {
		return
	}
	m.delegateActions.WithLabelValues(action, result).Inc()
}

// CacheLookup records a status cache read.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
