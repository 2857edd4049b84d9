package domain

import (
	"github.com/shopspring/decimal"
)

// minorUnitExponent is the number of decimal places between major and minor
// units (paise per rupee).
const minorUnitExponent = 2

// DefaultCurrency is used when a request does not name one.
const DefaultCurrency = "INR"

// ToMinor converts a major-unit amount to integer minor units, rounding half
// away from zero.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Shift(minorUnitExponent).Round(0).IntPart()
}

// FromMinor converts integer minor units to a major-unit amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -minorUnitExponent)
}

// HasMinorPrecision reports whether amount is representable in whole minor units.
func HasMinorPrecision(amount decimal.Decimal) bool {
	return amount.Shift(minorUnitExponent).IsInteger()
}

// SumFees adds up a fee breakdown.
func SumFees(items []FeeItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount)
	}
	return total
}
