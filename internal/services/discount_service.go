package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

var (
	// ErrDiscountInvalidInput signals a malformed request or definition.
	ErrDiscountInvalidInput = errors.New("discount: invalid input")
	// ErrDiscountCodeNotFound indicates no discount exists for the code.
	ErrDiscountCodeNotFound = errors.New("discount: code not found")
	// ErrDiscountExpired indicates now falls outside the validity window.
	ErrDiscountExpired = errors.New("discount: expired")
	// ErrDiscountInactive indicates the discount was deactivated.
	ErrDiscountInactive = errors.New("discount: inactive")
	// ErrDiscountUsageLimitReached indicates the total usage cap is reached.
	ErrDiscountUsageLimitReached = errors.New("discount: usage limit reached")
	// ErrDiscountBelowMinimumCart indicates the cart subtotal is under the minimum.
	ErrDiscountBelowMinimumCart = errors.New("discount: cart below minimum value")
	// ErrDiscountPerCustomerLimitReached indicates the customer exhausted their uses.
	ErrDiscountPerCustomerLimitReached = errors.New("discount: per-customer limit reached")
	// ErrDiscountConflict indicates a duplicate code.
	ErrDiscountConflict = errors.New("discount: conflict")
)

// DiscountServiceDeps bundles collaborators required to construct the discount service.
type DiscountServiceDeps struct {
	Discounts   repositories.DiscountRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type discountService struct {
	repo   repositories.DiscountRepository
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

var _ DiscountService = (*discountService)(nil)

// NewDiscountService wires the discount repository into a DiscountService.
func NewDiscountService(deps DiscountServiceDeps) (DiscountService, error) {
	if deps.Discounts == nil {
		return nil, errors.New("discount service: discount repository is required")
	}
	return &discountService{
		repo:   deps.Discounts,
		clock:  utcClock(deps.Clock),
		newID:  idGenerator(deps.IDGenerator),
		logger: loggerOrNoop(deps.Logger),
	}, nil
}

// Resolve checks the code for a checkout and computes its amount. The first failing rule wins:
// existence, validity, minimum cart value, per-customer usage.
func (s *discountService) Resolve(ctx context.Context, cmd ResolveDiscountCommand) (DiscountResolution, error) {
	if strings.TrimSpace(cmd.CustomerID) == "" {
		return DiscountResolution{}, fmt.Errorf("%w: customer id is required", ErrDiscountInvalidInput)
	}
	return s.evaluate(ctx, cmd, true)
}

// Validate previews a code. The per-customer rule only applies when a customer is given.
func (s *discountService) Validate(ctx context.Context, cmd ResolveDiscountCommand) (DiscountResolution, error) {
	return s.evaluate(ctx, cmd, strings.TrimSpace(cmd.CustomerID) != "")
}

func (s *discountService) evaluate(ctx context.Context, cmd ResolveDiscountCommand, checkCustomer bool) (DiscountResolution, error) {
	code := domain.NormalizeDiscountCode(cmd.Code)
	if code == "" {
		return DiscountResolution{}, fmt.Errorf("%w: code is required", ErrDiscountInvalidInput)
	}
	if cmd.Subtotal.IsNegative() {
		return DiscountResolution{}, fmt.Errorf("%w: subtotal cannot be negative", ErrDiscountInvalidInput)
	}

	discount, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return DiscountResolution{}, mapRepositoryError(err, ErrDiscountCodeNotFound, ErrDiscountConflict)
	}

	now := s.clock()
	switch {
	case !discount.Active:
		return DiscountResolution{}, fmt.Errorf("%w: %s", ErrDiscountInactive, code)
	case now.Before(discount.ValidFrom):
		return DiscountResolution{}, fmt.Errorf("%w: %s is not valid before %s", ErrDiscountExpired, code, discount.ValidFrom.Format(time.RFC3339))
	case now.After(discount.ValidUntil):
		return DiscountResolution{}, fmt.Errorf("%w: %s ended %s", ErrDiscountExpired, code, discount.ValidUntil.Format(time.RFC3339))
	case discount.Exhausted():
		return DiscountResolution{}, fmt.Errorf("%w: %s", ErrDiscountUsageLimitReached, code)
	}

	if cmd.Subtotal.LessThan(discount.MinimumCartValue) {
		return DiscountResolution{}, fmt.Errorf("%w: %s requires %s", ErrDiscountBelowMinimumCart, code, discount.MinimumCartValue.StringFixed(domain.MoneyPlaces))
	}
	if checkCustomer && !discount.CanCustomerUse(cmd.CustomerID) {
		return DiscountResolution{}, fmt.Errorf("%w: %s", ErrDiscountPerCustomerLimitReached, code)
	}

	amount, waives := discountAmount(discount, cmd.Subtotal, cmd.Items)
	return DiscountResolution{
		DiscountID:     discount.ID,
		Code:           discount.Code,
		Type:           discount.Type,
		Amount:         amount,
		WaivesShipping: waives,
	}, nil
}

// discountAmount dispatches on the discount type. The result never exceeds the subtotal.
func discountAmount(d Discount, subtotal decimal.Decimal, items []DiscountLine) (decimal.Decimal, bool) {
	amount := decimal.Zero
	waives := false

	switch d.Type {
	case domain.DiscountPercentage:
		amount = domain.Percent(subtotal, d.Value)
		if d.MaxDiscount != nil && amount.GreaterThan(*d.MaxDiscount) {
			amount = *d.MaxDiscount
		}
	case domain.DiscountFixed:
		amount = domain.Round2(d.Value)
	case domain.DiscountBOGO:
		amount = bogoAmount(d, items)
	case domain.DiscountBundle:
		amount = bundleAmount(d, items)
	case domain.DiscountFreeShipping:
		waives = true
	}

	return domain.ClampMoney(amount, decimal.Zero, subtotal), waives
}

// bogoAmount gives GetQuantity free units for every BuyQuantity+GetQuantity units of an eligible line.
func bogoAmount(d Discount, items []DiscountLine) decimal.Decimal {
	group := d.BuyQuantity + d.GetQuantity
	if group <= 0 || d.GetQuantity <= 0 {
		return decimal.Zero
	}
	eligible := productFilter(d.ProductIDs)

	amount := decimal.Zero
	for _, item := range items {
		if !eligible(item.ProductID) || item.Quantity < group {
			continue
		}
		free := (item.Quantity / group) * d.GetQuantity
		amount = amount.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(free))))
	}
	return domain.Round2(amount)
}

// bundleAmount prices each complete set of bundle products at BundlePrice.
func bundleAmount(d Discount, items []DiscountLine) decimal.Decimal {
	if len(d.ProductIDs) < 2 {
		return decimal.Zero
	}
	quantities := make(map[string]int, len(items))
	prices := make(map[string]decimal.Decimal, len(items))
	for _, item := range items {
		quantities[item.ProductID] += item.Quantity
		prices[item.ProductID] = item.UnitPrice
	}

	sets := -1
	regular := decimal.Zero
	for _, id := range d.ProductIDs {
		qty := quantities[id]
		if qty == 0 {
			return decimal.Zero
		}
		if sets < 0 || qty < sets {
			sets = qty
		}
		regular = regular.Add(prices[id])
	}

	saving := regular.Sub(d.BundlePrice)
	if !saving.IsPositive() {
		return decimal.Zero
	}
	return domain.Round2(saving.Mul(decimal.NewFromInt(int64(sets))))
}

func productFilter(ids []string) func(string) bool {
	if len(ids) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(id string) bool {
		_, ok := set[id]
		return ok
	}
}

// RecordUsage increments the usage counters. The repository re-checks both caps atomically,
// so a redemption that lost a race is rejected here even if Resolve accepted it.
func (s *discountService) RecordUsage(ctx context.Context, cmd RecordDiscountUsageCommand) (Discount, error) {
	code := domain.NormalizeDiscountCode(cmd.Code)
	customerID := strings.TrimSpace(cmd.CustomerID)
	if code == "" || customerID == "" {
		return Discount{}, fmt.Errorf("%w: code and customer id are required", ErrDiscountInvalidInput)
	}

	updated, err := s.repo.RecordUsage(ctx, repositories.DiscountUsage{
		DiscountID: cmd.DiscountID,
		Code:       code,
		CustomerID: customerID,
		OrderID:    cmd.OrderID,
		Amount:     domain.Round2(cmd.Amount),
		UsedAt:     s.clock(),
	})
	if err != nil {
		var usageErr *repositories.DiscountError
		if errors.As(err, &usageErr) {
			switch usageErr.Code {
			case repositories.DiscountErrorUsageLimit:
				return Discount{}, fmt.Errorf("%w: %s", ErrDiscountUsageLimitReached, code)
			case repositories.DiscountErrorPerCustomerLimit:
				return Discount{}, fmt.Errorf("%w: %s", ErrDiscountPerCustomerLimitReached, code)
			}
		}
		return Discount{}, mapRepositoryError(err, ErrDiscountCodeNotFound, ErrDiscountConflict)
	}

	s.logger(ctx, "discount.usage.recorded", map[string]any{
		"code":      code,
		"customer":  customerID,
		"order":     cmd.OrderID,
		"totalUsed": updated.TotalUsed,
	})
	return updated, nil
}

func (s *discountService) CreateDiscount(ctx context.Context, def DiscountDefinition) (Discount, error) {
	if strings.TrimSpace(def.ID) == "" {
		def.ID = discountIDPrefix + s.newID()
	}
	def.Description = sanitizeText(def.Description)

	discount, err := domain.NewDiscount(def, s.clock())
	if err != nil {
		return Discount{}, fmt.Errorf("%w: %v", ErrDiscountInvalidInput, err)
	}
	if err := s.repo.Insert(ctx, discount); err != nil {
		return Discount{}, mapRepositoryError(err, ErrDiscountCodeNotFound, ErrDiscountConflict)
	}

	s.logger(ctx, "discount.created", map[string]any{
		"code":  discount.Code,
		"type":  string(discount.Type),
		"actor": discount.CreatedBy,
	})
	return discount, nil
}

func (s *discountService) GetDiscount(ctx context.Context, code string) (Discount, error) {
	normalized := domain.NormalizeDiscountCode(code)
	if normalized == "" {
		return Discount{}, fmt.Errorf("%w: code is required", ErrDiscountInvalidInput)
	}
	discount, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		return Discount{}, mapRepositoryError(err, ErrDiscountCodeNotFound, ErrDiscountConflict)
	}
	return discount, nil
}

func (s *discountService) SetDiscountActive(ctx context.Context, cmd SetDiscountActiveCommand) (Discount, error) {
	code := domain.NormalizeDiscountCode(cmd.Code)
	if code == "" {
		return Discount{}, fmt.Errorf("%w: code is required", ErrDiscountInvalidInput)
	}
	discount, err := s.repo.SetActive(ctx, code, cmd.Active, s.clock())
	if err != nil {
		return Discount{}, mapRepositoryError(err, ErrDiscountCodeNotFound, ErrDiscountConflict)
	}
	s.logger(ctx, "discount.active.changed", map[string]any{
		"code":   code,
		"active": cmd.Active,
		"actor":  cmd.ActorID,
	})
	return discount, nil
}
