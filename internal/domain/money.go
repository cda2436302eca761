package domain

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of fractional digits kept for monetary values.
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// Round2 rounds a monetary value to two places, half away from zero.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(MoneyPlaces)
}

// Percent returns value * pct / 100 rounded to two places.
func Percent(value, pct decimal.Decimal) decimal.Decimal {
	return Round2(value.Mul(pct).Div(hundred))
}

// ClampMoney restricts v to [lo, hi].
func ClampMoney(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
