package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidProduct is returned by NewProduct when the inputs cannot form a product.
var ErrInvalidProduct = errors.New("product: invalid")

// Product is the catalog record owned by the catalog collaborator.
// MarginPercent is derived by NewProduct and never set directly.
type Product struct {
	ID            string
	Name          string
	SellingPrice  decimal.Decimal
	CostPrice     decimal.Decimal
	MarginPercent decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewProduct validates the inputs and derives MarginPercent.
func NewProduct(id, name string, sellingPrice, costPrice decimal.Decimal, now time.Time) (Product, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	switch {
	case id == "":
		return Product{}, fmt.Errorf("%w: id is required", ErrInvalidProduct)
	case name == "":
		return Product{}, fmt.Errorf("%w: name is required", ErrInvalidProduct)
	case sellingPrice.IsNegative():
		return Product{}, fmt.Errorf("%w: selling price must be non-negative", ErrInvalidProduct)
	case costPrice.IsNegative():
		return Product{}, fmt.Errorf("%w: cost price must be non-negative", ErrInvalidProduct)
	}

	margin := decimal.Zero
	if sellingPrice.IsPositive() {
		margin = Round2(sellingPrice.Sub(costPrice).Div(sellingPrice).Mul(hundred))
	}

	return Product{
		ID:            id,
		Name:          name,
		SellingPrice:  Round2(sellingPrice),
		CostPrice:     Round2(costPrice),
		MarginPercent: margin,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ProductSnapshot is the read-only view of price and stock used during checkout.
type ProductSnapshot struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	CostPrice decimal.Decimal
	Available int
	Reserved  int
}
