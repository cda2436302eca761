package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// DiscountRepository stores discounts keyed by their normalised code.
type DiscountRepository struct {
	mu        sync.Mutex
	discounts map[string]domain.Discount
}

// NewDiscountRepository constructs an empty discount repository.
func NewDiscountRepository() *DiscountRepository {
	return &DiscountRepository{discounts: make(map[string]domain.Discount)}
}

func (r *DiscountRepository) Insert(_ context.Context, discount domain.Discount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.discounts[discount.Code]; exists {
		return conflict("discount %s already exists", discount.Code)
	}
	discount.UsedBy = slices.Clone(discount.UsedBy)
	r.discounts[discount.Code] = discount
	return nil
}

func (r *DiscountRepository) FindByCode(_ context.Context, code string) (domain.Discount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	discount, ok := r.discounts[domain.NormalizeDiscountCode(code)]
	if !ok {
		return domain.Discount{}, notFound("discount %s not found", code)
	}
	discount.UsedBy = slices.Clone(discount.UsedBy)
	return discount, nil
}

func (r *DiscountRepository) SetActive(_ context.Context, code string, active bool, now time.Time) (domain.Discount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := domain.NormalizeDiscountCode(code)
	discount, ok := r.discounts[key]
	if !ok {
		return domain.Discount{}, notFound("discount %s not found", code)
	}
	discount.Active = active
	discount.UpdatedAt = now
	r.discounts[key] = discount
	discount.UsedBy = slices.Clone(discount.UsedBy)
	return discount, nil
}

func (r *DiscountRepository) RecordUsage(_ context.Context, usage repositories.DiscountUsage) (domain.Discount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := domain.NormalizeDiscountCode(usage.Code)
	discount, ok := r.discounts[key]
	if !ok {
		return domain.Discount{}, notFound("discount %s not found", usage.Code)
	}
	if discount.Exhausted() {
		return domain.Discount{}, repositories.NewDiscountError(repositories.DiscountErrorUsageLimit, key)
	}
	if !discount.CanCustomerUse(usage.CustomerID) {
		return domain.Discount{}, repositories.NewDiscountError(repositories.DiscountErrorPerCustomerLimit, key)
	}

	updated := discount.ApplyUsage(usage.CustomerID, usage.Amount, usage.UsedAt)
	r.discounts[key] = updated
	updated.UsedBy = slices.Clone(updated.UsedBy)
	return updated, nil
}
