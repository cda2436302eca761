package domain

import "github.com/shopspring/decimal"

// PriceBreakdown is computed once at order creation and stored verbatim.
type PriceBreakdown struct {
	Currency      string
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	DiscountCode  string
	DiscountID    string
	TaxPercentage decimal.Decimal
	Tax           decimal.Decimal
	Shipping      decimal.Decimal
	Total         decimal.Decimal
}

// ExpectedTotal recomputes the total from the stored inputs.
func (p PriceBreakdown) ExpectedTotal() decimal.Decimal {
	return p.Subtotal.Sub(p.Discount).Add(p.Tax).Add(p.Shipping)
}

// Reconciles reports whether the stored total matches its stored inputs.
func (p PriceBreakdown) Reconciles() bool {
	return p.Total.Equal(p.ExpectedTotal())
}
