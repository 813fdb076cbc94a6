// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pricesheet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/switchboard/lib/money"
)

func TestParseWithCommentsAndTrailingCommas(t *testing.T) {
	sheet, err := Parse([]byte(`{
		// Spring promotion.
		"reason": "spring promo",
		"services": {
			/* cheaper search */
			"search": {"price": "0.01", "charge_policy": "per-request",},
			"chat":   {"price": 0.04},
		},
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if sheet.Reason != "spring promo" {
		t.Errorf("Reason = %q", sheet.Reason)
	}
	want := []Entry{
		{Service: "chat", Price: money.MustParse("0.04")},
		{Service: "search", Price: money.MustParse("0.01"), ChargePolicy: "per-request"},
	}
	if len(sheet.Entries) != len(want) {
		t.Fatalf("Entries = %+v", sheet.Entries)
	}
	for index := range want {
		if sheet.Entries[index] != want[index] {
			t.Errorf("Entries[%d] = %+v, want %+v", index, sheet.Entries[index], want[index])
		}
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"no services":     `{"reason": "x"}`,
		"missing price":   `{"services": {"chat": {"charge_policy": "per-request"}}}`,
		"negative price":  `{"services": {"chat": {"price": "-1"}}}`,
		"unknown field":   `{"services": {"chat": {"price": "1", "discount": 5}}}`,
		"not json at all": `price = 1`,
	}
	for name, input := range cases {
		if _, err := Parse([]byte(input)); err == nil {
			t.Errorf("%s: Parse succeeded", name)
		}
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alpha.jsonc")
	os.WriteFile(path, []byte(`{"services": {"chat": {"price": "0.05"}}}`), 0o644)
	sheet, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(sheet.Entries) != 1 || sheet.Entries[0].Price != money.MustParse("0.05") {
		t.Errorf("Entries = %+v", sheet.Entries)
	}
	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.jsonc")); err == nil {
		t.Error("ReadFile of missing file succeeded")
	}
}
