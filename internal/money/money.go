// Package money converts between stored major-unit decimals and the integer
// minor units the payment gateway expects.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const minorExponent = 2

var minorFactor = decimal.New(1, minorExponent)

// ToMinor converts a major-unit amount to minor units, rounding half away
// from zero. Fractional minor units are never produced.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Mul(minorFactor).Round(0).IntPart()
}

// FromMinor converts minor units back to a major-unit decimal. It is exact.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -minorExponent)
}

// Format renders an amount with its currency code, e.g. "GHS 12.50".
func Format(currency string, amount decimal.Decimal) string {
	return fmt.Sprintf("%s %s", currency, amount.StringFixed(minorExponent))
}
