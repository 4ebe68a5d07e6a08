// Package money converts between human-readable decimal amounts ("12.50")
// and the ledger's int64 minor units. It is used only at the edges (CLI and
// policy files); the engine never sees decimals.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Parse converts a decimal string into minor units for a currency with the
// given scale. Negative amounts and amounts with more precision than the
// currency allows are rejected rather than rounded.
func Parse(s string, scale int32) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("amount is empty")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", s)
	}

	minor := d.Shift(scale)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", s, scale)
	}
	if !minor.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %q is out of range", s)
	}
	return minor.IntPart(), nil
}

// Format renders minor units as a fixed-point decimal string.
func Format(minor int64, scale int32) string {
	return decimal.New(minor, -scale).StringFixed(scale)
}
