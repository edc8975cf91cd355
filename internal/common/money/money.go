package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency represents an ISO 4217 currency code
type Currency string

// BRL is the only currency the platform settles in
const BRL Currency = "BRL"

// MinorUnits is the number of decimal places kept for BRL amounts
const MinorUnits int32 = 2

var hundred = decimal.NewFromInt(100)

// Parse reads a decimal amount, accepting either "25.50" or "25,50"
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errors.New("empty amount")
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return d, nil
}

// Round rounds to BRL minor units
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnits)
}

// Percent returns pct% of base, rounded to cents
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return Round(base.Mul(pct).Div(hundred))
}

// HasValidScale reports whether d has no more than two decimal places
func HasValidScale(d decimal.Decimal) bool {
	return d.Equal(Round(d))
}

// Fixed formats with exactly two decimal places, as PSP payloads expect
func Fixed(d decimal.Decimal) string {
	return d.StringFixed(MinorUnits)
}

// Format renders an amount for statement descriptions, e.g. "R$ 25,00"
func Format(d decimal.Decimal) string {
	return "R$ " + strings.Replace(Fixed(d), ".", ",", 1)
}

// Sum adds amounts
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
