package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrInvalidDiscount is returned by NewDiscount when the definition is inconsistent.
var ErrInvalidDiscount = errors.New("discount: invalid definition")

// DefaultUsesPerCustomer applies when a discount does not configure a per-customer limit.
const DefaultUsesPerCustomer = 1

// DiscountType is the closed set of discount computations.
type DiscountType string

const (
	DiscountPercentage   DiscountType = "percentage"
	DiscountFixed        DiscountType = "fixed"
	DiscountBOGO         DiscountType = "bogo"
	DiscountFreeShipping DiscountType = "free_shipping"
	DiscountBundle       DiscountType = "bundle"
)

// ParseDiscountType maps a raw tag onto a known DiscountType.
func ParseDiscountType(raw string) (DiscountType, error) {
	t := DiscountType(strings.ToLower(strings.TrimSpace(raw)))
	switch t {
	case DiscountPercentage, DiscountFixed, DiscountBOGO, DiscountFreeShipping, DiscountBundle:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidDiscount, raw)
	}
}

var upperCaser = cases.Upper(language.Und)

// NormalizeDiscountCode trims and upper-cases a code for storage and lookup.
func NormalizeDiscountCode(code string) string {
	return upperCaser.String(strings.TrimSpace(code))
}

// CustomerUsage tracks how often one customer redeemed a discount.
type CustomerUsage struct {
	CustomerID string
	UsedCount  int
	LastUsedAt time.Time
}

// Discount is a redeemable code. Usage counters only move through the repository's
// conditional increment.
type Discount struct {
	ID                 string
	Code               string
	Description        string
	Type               DiscountType
	Value              decimal.Decimal
	MaxDiscount        *decimal.Decimal
	MinimumCartValue   decimal.Decimal
	MaxUses            *int
	UsesPerCustomer    int
	BuyQuantity        int
	GetQuantity        int
	ProductIDs         []string
	BundlePrice        decimal.Decimal
	ValidFrom          time.Time
	ValidUntil         time.Time
	Active             bool
	TotalUsed          int
	TotalDiscountGiven decimal.Decimal
	UsedBy             []CustomerUsage
	CreatedBy          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DiscountDefinition carries the admin-supplied fields for NewDiscount.
type DiscountDefinition struct {
	ID               string
	Code             string
	Description      string
	Type             string
	Value            decimal.Decimal
	MaxDiscount      *decimal.Decimal
	MinimumCartValue decimal.Decimal
	MaxUses          *int
	UsesPerCustomer  int
	BuyQuantity      int
	GetQuantity      int
	ProductIDs       []string
	BundlePrice      decimal.Decimal
	ValidFrom        time.Time
	ValidUntil       time.Time
	Active           bool
	CreatedBy        string
}

// NewDiscount validates a definition and returns a discount with zeroed usage counters.
func NewDiscount(def DiscountDefinition, now time.Time) (Discount, error) {
	code := NormalizeDiscountCode(def.Code)
	if code == "" {
		return Discount{}, fmt.Errorf("%w: code is required", ErrInvalidDiscount)
	}
	kind, err := ParseDiscountType(def.Type)
	if err != nil {
		return Discount{}, err
	}
	if def.Value.IsNegative() {
		return Discount{}, fmt.Errorf("%w: value cannot be negative", ErrInvalidDiscount)
	}
	if def.MinimumCartValue.IsNegative() {
		return Discount{}, fmt.Errorf("%w: minimum cart value cannot be negative", ErrInvalidDiscount)
	}
	if def.ValidFrom.IsZero() || def.ValidUntil.IsZero() {
		return Discount{}, fmt.Errorf("%w: validity window is required", ErrInvalidDiscount)
	}
	if def.ValidUntil.Before(def.ValidFrom) {
		return Discount{}, fmt.Errorf("%w: validUntil precedes validFrom", ErrInvalidDiscount)
	}
	if def.MaxUses != nil && *def.MaxUses < 1 {
		return Discount{}, fmt.Errorf("%w: maxUses must be positive", ErrInvalidDiscount)
	}
	if def.UsesPerCustomer < 0 {
		return Discount{}, fmt.Errorf("%w: usesPerCustomer cannot be negative", ErrInvalidDiscount)
	}
	if def.MaxDiscount != nil && def.MaxDiscount.IsNegative() {
		return Discount{}, fmt.Errorf("%w: maxDiscount cannot be negative", ErrInvalidDiscount)
	}

	switch kind {
	case DiscountPercentage:
		if def.Value.GreaterThan(hundred) {
			return Discount{}, fmt.Errorf("%w: percentage cannot exceed 100", ErrInvalidDiscount)
		}
	case DiscountFixed, DiscountFreeShipping:
	case DiscountBOGO:
		if def.BuyQuantity < 1 || def.GetQuantity < 1 {
			return Discount{}, fmt.Errorf("%w: bogo requires buy and get quantities", ErrInvalidDiscount)
		}
	case DiscountBundle:
		if len(def.ProductIDs) < 2 {
			return Discount{}, fmt.Errorf("%w: bundle requires at least two products", ErrInvalidDiscount)
		}
		if def.BundlePrice.IsNegative() {
			return Discount{}, fmt.Errorf("%w: bundle price cannot be negative", ErrInvalidDiscount)
		}
	}

	perCustomer := def.UsesPerCustomer
	if perCustomer == 0 {
		perCustomer = DefaultUsesPerCustomer
	}

	products := make([]string, 0, len(def.ProductIDs))
	for _, id := range def.ProductIDs {
		if id = strings.TrimSpace(id); id != "" && !slices.Contains(products, id) {
			products = append(products, id)
		}
	}

	var maxDiscount *decimal.Decimal
	if def.MaxDiscount != nil {
		v := Round2(*def.MaxDiscount)
		maxDiscount = &v
	}
	var maxUses *int
	if def.MaxUses != nil {
		v := *def.MaxUses
		maxUses = &v
	}

	return Discount{
		ID:                 strings.TrimSpace(def.ID),
		Code:               code,
		Description:        strings.TrimSpace(def.Description),
		Type:               kind,
		Value:              def.Value,
		MaxDiscount:        maxDiscount,
		MinimumCartValue:   Round2(def.MinimumCartValue),
		MaxUses:            maxUses,
		UsesPerCustomer:    perCustomer,
		BuyQuantity:        def.BuyQuantity,
		GetQuantity:        def.GetQuantity,
		ProductIDs:         products,
		BundlePrice:        Round2(def.BundlePrice),
		ValidFrom:          def.ValidFrom.UTC(),
		ValidUntil:         def.ValidUntil.UTC(),
		Active:             def.Active,
		TotalDiscountGiven: decimal.Zero,
		CreatedBy:          strings.TrimSpace(def.CreatedBy),
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// WithinWindow reports whether now falls inside [ValidFrom, ValidUntil].
func (d Discount) WithinWindow(now time.Time) bool {
	return !now.Before(d.ValidFrom) && !now.After(d.ValidUntil)
}

// Exhausted reports whether the total usage cap has been reached.
func (d Discount) Exhausted() bool {
	return d.MaxUses != nil && d.TotalUsed >= *d.MaxUses
}

// IsValid reports whether the discount is active, within its window and below its usage cap.
func (d Discount) IsValid(now time.Time) bool {
	return d.Active && d.WithinWindow(now) && !d.Exhausted()
}

// CustomerUses returns how many times the customer redeemed the discount.
func (d Discount) CustomerUses(customerID string) int {
	for _, usage := range d.UsedBy {
		if usage.CustomerID == customerID {
			return usage.UsedCount
		}
	}
	return 0
}

// PerCustomerLimit returns the effective per-customer cap.
func (d Discount) PerCustomerLimit() int {
	if d.UsesPerCustomer <= 0 {
		return DefaultUsesPerCustomer
	}
	return d.UsesPerCustomer
}

// CanCustomerUse reports whether the customer is still below the per-customer cap.
func (d Discount) CanCustomerUse(customerID string) bool {
	return d.CustomerUses(customerID) < d.PerCustomerLimit()
}

// ApplyUsage returns a copy with one more redemption recorded for the customer.
// Callers must have checked the limits first.
func (d Discount) ApplyUsage(customerID string, amount decimal.Decimal, now time.Time) Discount {
	next := d
	next.UsedBy = slices.Clone(d.UsedBy)
	next.TotalUsed++
	next.TotalDiscountGiven = Round2(d.TotalDiscountGiven.Add(amount))
	next.UpdatedAt = now

	for i := range next.UsedBy {
		if next.UsedBy[i].CustomerID == customerID {
			next.UsedBy[i].UsedCount++
			next.UsedBy[i].LastUsedAt = now
			return next
		}
	}
	next.UsedBy = append(next.UsedBy, CustomerUsage{CustomerID: customerID, UsedCount: 1, LastUsedAt: now})
	return next
}
