// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package money represents prices and balances as integer micro-units.
//
// One unit of account is 1,000,000 micro-units, so 0.05 is stored as
// 50000. Integer arithmetic keeps ledger amounts exact; the decimal
// form only exists at the edges (CLI, price sheets, JSON).
package money

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MicrosPerUnit is the number of micro-units in one unit of account.
const MicrosPerUnit = 1_000_000

// Amount is a quantity of micro-units. Prices and balances are never
// negative; [Parse] enforces that for text input.
type Amount int64

// Zero is the amount of an unpriced service.
const Zero Amount = 0

// FromMicros returns an Amount of n micro-units.
func FromMicros(n int64) Amount { return Amount(n) }

// Micros returns the amount in micro-units.
func (a Amount) Micros() int64 { return int64(a) }

// IsZero reports whether no money is involved.
func (a Amount) IsZero() bool { return a == 0 }

// Parse parses a decimal string with at most six fractional digits
// ("0.05", "12", "1.000001"). Negative amounts and exponents are
// rejected.
func Parse(text string) (Amount, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("money: empty amount")
	}
	whole, fraction, hasFraction := strings.Cut(text, ".")
	if whole == "" {
		whole = "0"
	}
	if hasFraction && (fraction == "" || len(fraction) > 6) {
		return 0, fmt.Errorf("money: %q must have between 1 and 6 fractional digits", text)
	}
	for _, part := range []string{whole, fraction} {
		for _, character := range part {
			if character < '0' || character > '9' {
				return 0, fmt.Errorf("money: invalid amount %q", text)
			}
		}
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units > (1<<63-1)/MicrosPerUnit-1 {
		return 0, fmt.Errorf("money: amount %q out of range", text)
	}
	var micros int64
	if hasFraction {
		padded := fraction + strings.Repeat("0", 6-len(fraction))
		micros, _ = strconv.ParseInt(padded, 10, 64)
	}
	return Amount(units*MicrosPerUnit + micros), nil
}

// MustParse is like Parse but panics on error. Use in tests.
func MustParse(text string) Amount {
	amount, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return amount
}

// String renders the amount in decimal with trailing zeros trimmed
// ("0.05", "12", "1.000001").
func (a Amount) String() string {
	sign := ""
	value := int64(a)
	if value < 0 {
		sign = "-"
		value = -value
	}
	units := value / MicrosPerUnit
	micros := value % MicrosPerUnit
	if micros == 0 {
		return sign + strconv.FormatInt(units, 10)
	}
	fraction := strings.TrimRight(fmt.Sprintf("%06d", micros), "0")
	return sign + strconv.FormatInt(units, 10) + "." + fraction
}

// MarshalJSON renders the amount as a JSON string so that no decimal
// value ever passes through a float.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a decimal string or a bare JSON number. A
// leading minus sign decodes to a negative amount; rejecting it is the
// receiver's validation, so it can be reported with the request's
// other problems.
func (a *Amount) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = strings.TrimSpace(unquoted)
	}
	magnitude, negative := strings.CutPrefix(text, "-")
	parsed, err := Parse(magnitude)
	if err != nil {
		return fmt.Errorf("money: invalid amount %q", text)
	}
	if negative {
		parsed = -parsed
	}
	*a = parsed
	return nil
}
