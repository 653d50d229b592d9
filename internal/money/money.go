package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnits converts an amount to minor currency units (cents) with
// round-half-to-even. Every amount that is shown to a buyer or sent to the
// processor goes through this function.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).RoundBank(0).IntPart()
}

// FromMinor converts minor units back to a decimal amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// Round returns d rounded to the cent using the same rule as MinorUnits.
func Round(d decimal.Decimal) decimal.Decimal {
	return FromMinor(MinorUnits(d))
}

var symbols = map[string]string{
	"myr": "RM",
	"sgd": "S$",
	"usd": "US$",
}

// Display formats an amount for receipts, e.g. "RM 20.00".
func Display(currency string, d decimal.Decimal) string {
	sym, ok := symbols[strings.ToLower(currency)]
	if !ok {
		sym = strings.ToUpper(currency)
	}
	return sym + " " + Round(d).StringFixed(2)
}
