package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMinorUnits_HalfEven(t *testing.T) {
	cases := map[string]int64{
		"19.995": 2000,
		"19.985": 1998,
		"10":     1000,
		"0.004":  0,
		"0.015":  2,
		"123.45": 12345,
	}
	for in, want := range cases {
		assert.Equal(t, want, MinorUnits(decimal.RequireFromString(in)), in)
	}
}

func TestDisplayMatchesCharge(t *testing.T) {
	total := decimal.RequireFromString("19.995")

	assert.Equal(t, "RM 20.00", Display("myr", total))
	assert.Equal(t, int64(2000), MinorUnits(total))
	assert.True(t, FromMinor(MinorUnits(total)).Equal(Round(total)))
}

func TestDisplay_UnknownCurrency(t *testing.T) {
	assert.Equal(t, "EUR 5.50", Display("eur", decimal.RequireFromString("5.5")))
}
