package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/orderflow/internal/domain"
	pfirestore "github.com/hanko-field/orderflow/internal/platform/firestore"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const discountsCollection = "discounts"

// DiscountRepository keys discounts by normalised code. Usage increments run in a
// transaction that re-checks both caps against the stored counters.
type DiscountRepository struct {
	provider  *pfirestore.Provider
	discounts *pfirestore.BaseRepository[discountDocument]
}

var _ repositories.DiscountRepository = (*DiscountRepository)(nil)

func NewDiscountRepository(provider *pfirestore.Provider) (*DiscountRepository, error) {
	if provider == nil {
		return nil, errors.New("discount repository requires firestore provider")
	}
	return &DiscountRepository{
		provider:  provider,
		discounts: pfirestore.NewBaseRepository[discountDocument](provider, discountsCollection),
	}, nil
}

func (r *DiscountRepository) Insert(ctx context.Context, discount domain.Discount) error {
	ref, err := r.discounts.DocumentRef(ctx, domain.NormalizeDiscountCode(discount.Code))
	if err != nil {
		return err
	}
	_, err = ref.Create(ctx, newDiscountDocument(discount))
	return pfirestore.WrapError("discounts.insert", err)
}

func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (domain.Discount, error) {
	doc, err := r.discounts.Get(ctx, domain.NormalizeDiscountCode(code))
	if err != nil {
		return domain.Discount{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *DiscountRepository) SetActive(ctx context.Context, code string, active bool, now time.Time) (domain.Discount, error) {
	key := domain.NormalizeDiscountCode(code)
	var updated domain.Discount
	err := r.mutate(ctx, key, func(current domain.Discount) (domain.Discount, error) {
		current.Active = active
		current.UpdatedAt = now
		updated = current
		return current, nil
	})
	if err != nil {
		return domain.Discount{}, wrapDiscountError("discounts.setActive", err)
	}
	return updated, nil
}

func (r *DiscountRepository) RecordUsage(ctx context.Context, usage repositories.DiscountUsage) (domain.Discount, error) {
	key := domain.NormalizeDiscountCode(usage.Code)
	var updated domain.Discount
	err := r.mutate(ctx, key, func(current domain.Discount) (domain.Discount, error) {
		if current.Exhausted() {
			return domain.Discount{}, repositories.NewDiscountError(repositories.DiscountErrorUsageLimit, key)
		}
		if !current.CanCustomerUse(usage.CustomerID) {
			return domain.Discount{}, repositories.NewDiscountError(repositories.DiscountErrorPerCustomerLimit, key)
		}
		updated = current.ApplyUsage(usage.CustomerID, usage.Amount, usage.UsedAt)
		return updated, nil
	})
	if err != nil {
		return domain.Discount{}, wrapDiscountError("discounts.recordUsage", err)
	}
	return updated, nil
}

func (r *DiscountRepository) mutate(ctx context.Context, key string, change func(domain.Discount) (domain.Discount, error)) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.discounts.DocumentRef(ctx, key)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc discountDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode discount %s: %w", key, err)
		}
		next, err := change(doc.toDomain(key))
		if err != nil {
			return err
		}
		return tx.Set(ref, newDiscountDocument(next))
	})
}

func wrapDiscountError(op string, err error) error {
	var discountErr *repositories.DiscountError
	if errors.As(err, &discountErr) {
		return discountErr
	}
	return pfirestore.WrapError(op, err)
}
