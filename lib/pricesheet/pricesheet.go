// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pricesheet parses router price sheets.
//
// A price sheet is a JSONC file (JSON with // and /* */ comments and
// trailing commas) that an owner or delegate edits by hand and applies
// in one step:
//
//	{
//	  // Spring promotion, approved by finance.
//	  "reason": "spring promo",
//	  "services": {
//	    "chat":   {"price": "0.04"},
//	    "search": {"price": "0.01", "charge_policy": "per-request"},
//	  },
//	}
//
// Prices are decimal strings in units of account (see lib/money).
// Omitting charge_policy keeps the service's current policy.
package pricesheet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/switchboard/lib/money"
)

// Sheet is a parsed price sheet.
type Sheet struct {
	Reason  string
	Entries []Entry
}

// Entry is one service's new pricing.
type Entry struct {
	Service string
	Price   money.Amount
	// ChargePolicy is empty when the sheet leaves the policy alone.
	ChargePolicy string
}

type document struct {
	Reason   string                   `json:"reason"`
	Services map[string]serviceEntry `json:"services"`
}

type serviceEntry struct {
	Price        *money.Amount `json:"price"`
	ChargePolicy string        `json:"charge_policy"`
}

// Parse parses JSONC price sheet data. Entries are returned sorted by
// service so applying a sheet is deterministic.
func Parse(data []byte) (*Sheet, error) {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.DisallowUnknownFields()

	var parsed document
	if err := decoder.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("pricesheet: %w", err)
	}
	if len(parsed.Services) == 0 {
		return nil, fmt.Errorf("pricesheet: no services listed")
	}

	sheet := &Sheet{Reason: parsed.Reason}
	for service, entry := range parsed.Services {
		if entry.Price == nil {
			return nil, fmt.Errorf("pricesheet: service %q has no price", service)
		}
		sheet.Entries = append(sheet.Entries, Entry{
			Service:      service,
			Price:        *entry.Price,
			ChargePolicy: entry.ChargePolicy,
		})
	}
	sort.Slice(sheet.Entries, func(i, j int) bool {
		return sheet.Entries[i].Service < sheet.Entries[j].Service
	})
	return sheet, nil
}

// ReadFile reads and parses a price sheet from disk.
func ReadFile(path string) (*Sheet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pricesheet: reading %s: %w", path, err)
	}
	sheet, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sheet, nil
}
