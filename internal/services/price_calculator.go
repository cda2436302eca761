package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

// ErrPricingInvalidInput is returned when a line cannot be priced.
var ErrPricingInvalidInput = errors.New("pricing: invalid input")

// DefaultCurrency applies when the policy does not name one.
const DefaultCurrency = "INR"

// PricingPolicy carries the configured tax and shipping rules.
type PricingPolicy struct {
	TaxPercentage         decimal.Decimal
	ShippingFee           decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	Currency              string
}

// ShippingFor returns the fee for a post-discount subtotal. A zero threshold disables free shipping.
func (p PricingPolicy) ShippingFor(discountedSubtotal decimal.Decimal, waived bool) decimal.Decimal {
	if waived {
		return decimal.Zero
	}
	if p.FreeShippingThreshold.IsPositive() && discountedSubtotal.GreaterThanOrEqual(p.FreeShippingThreshold) {
		return decimal.Zero
	}
	return domain.Round2(p.ShippingFee)
}

func (p PricingPolicy) currency() string {
	if c := strings.ToUpper(strings.TrimSpace(p.Currency)); c != "" {
		return c
	}
	return DefaultCurrency
}

// PriceLine is one priced line fed to the calculator.
type PriceLine struct {
	Quantity  int
	UnitPrice decimal.Decimal
}

// ComputePrice turns priced lines into a breakdown. It performs no I/O.
// The discount is clamped to [0, subtotal]; tax applies to the discounted subtotal and excludes shipping.
// Each derived field is rounded half-up to two places once.
func ComputePrice(lines []PriceLine, discount, taxPercentage, shipping decimal.Decimal) (PriceBreakdown, error) {
	if len(lines) == 0 {
		return PriceBreakdown{}, fmt.Errorf("%w: at least one line is required", ErrPricingInvalidInput)
	}
	if taxPercentage.IsNegative() {
		return PriceBreakdown{}, fmt.Errorf("%w: tax percentage cannot be negative", ErrPricingInvalidInput)
	}
	if shipping.IsNegative() {
		return PriceBreakdown{}, fmt.Errorf("%w: shipping fee cannot be negative", ErrPricingInvalidInput)
	}

	raw := decimal.Zero
	for i, line := range lines {
		if line.Quantity < 1 {
			return PriceBreakdown{}, fmt.Errorf("%w: line %d quantity must be at least 1", ErrPricingInvalidInput, i)
		}
		if line.UnitPrice.IsNegative() {
			return PriceBreakdown{}, fmt.Errorf("%w: line %d unit price cannot be negative", ErrPricingInvalidInput, i)
		}
		raw = raw.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	subtotal := domain.Round2(raw)
	discount = domain.ClampMoney(domain.Round2(discount), decimal.Zero, subtotal)
	tax := domain.Percent(subtotal.Sub(discount), taxPercentage)
	shipping = domain.Round2(shipping)

	return PriceBreakdown{
		Subtotal:      subtotal,
		Discount:      discount,
		TaxPercentage: taxPercentage,
		Tax:           tax,
		Shipping:      shipping,
		Total:         subtotal.Sub(discount).Add(tax).Add(shipping),
	}, nil
}

// PriceOrder prices order lines under a policy, filling line totals and the currency.
func PriceOrder(items []OrderLineItem, discount DiscountResolution, policy PricingPolicy) ([]OrderLineItem, PriceBreakdown, error) {
	lines := make([]PriceLine, len(items))
	priced := make([]OrderLineItem, len(items))
	subtotal := decimal.Zero
	for i, item := range items {
		lines[i] = PriceLine{Quantity: item.Quantity, UnitPrice: item.UnitPrice}
		item.LineTotal = domain.Round2(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		priced[i] = item
		subtotal = subtotal.Add(item.LineTotal)
	}

	discountAmount := domain.ClampMoney(discount.Amount, decimal.Zero, subtotal)
	shipping := policy.ShippingFor(subtotal.Sub(discountAmount), discount.WaivesShipping)

	breakdown, err := ComputePrice(lines, discountAmount, policy.TaxPercentage, shipping)
	if err != nil {
		return nil, PriceBreakdown{}, err
	}
	breakdown.Currency = policy.currency()
	if !breakdown.Discount.IsZero() || discount.WaivesShipping {
		breakdown.DiscountCode = discount.Code
		breakdown.DiscountID = discount.DiscountID
	}
	return priced, breakdown, nil
}
