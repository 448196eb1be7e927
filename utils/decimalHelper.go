package utils

import "github.com/shopspring/decimal"

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// RoundHT rounds a pre-tax amount to 2 decimals, the precision used for all
// HT comparisons and summary arithmetic.
func RoundHT(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// SameHT compares two amounts at 2-decimal precision to avoid
// floating-point noise from upstream payloads.
func SameHT(a, b decimal.Decimal) bool {
	return a.Round(2).Equal(b.Round(2))
}
