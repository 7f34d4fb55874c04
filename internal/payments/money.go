package payments

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies are charged in whole units by the provider.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true,
	"kmf": true, "krw": true, "mga": true, "pyg": true, "rwf": true,
	"ugx": true, "vnd": true, "vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// MinorUnitExponent returns how many decimal places currency uses.
func MinorUnitExponent(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return 0
	}
	return 2
}

// ToMinorUnits converts a major-unit amount into the provider's integer
// minor units, rounding half away from zero.
func ToMinorUnits(amount float64, currency string) (int64, error) {
	d := decimal.NewFromFloat(amount)
	if d.Sign() <= 0 {
		return 0, fmt.Errorf("amount must be positive, got %s", d.String())
	}
	minor := d.Shift(MinorUnitExponent(currency)).Round(0)
	if !minor.IsInteger() || minor.GreaterThan(decimal.NewFromInt(1<<53)) {
		return 0, fmt.Errorf("amount %s is out of range", d.String())
	}
	return minor.IntPart(), nil
}

// FromMinorUnits converts provider minor units back to a major-unit decimal.
func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	return decimal.NewFromInt(minor).Shift(-MinorUnitExponent(currency))
}

// Bounds is the inclusive range of minor-unit amounts the provider accepts.
type Bounds struct {
	MinMinor int64
	MaxMinor int64
}

// Contains reports whether minor lies within the bounds.
func (b Bounds) Contains(minor int64) bool {
	return minor >= b.MinMinor && minor <= b.MaxMinor
}
