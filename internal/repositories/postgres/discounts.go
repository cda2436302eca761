package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// DiscountRepository keys discounts by normalised code. Mutations lock the row with
// SELECT ... FOR UPDATE so the usage caps are checked against committed counters.
type DiscountRepository struct {
	db db
}

var _ repositories.DiscountRepository = (*DiscountRepository)(nil)

func (r *DiscountRepository) Insert(ctx context.Context, discount domain.Discount) error {
	doc, err := json.Marshal(discount)
	if err != nil {
		return fmt.Errorf("discounts.insert: encode %s: %w", discount.Code, err)
	}
	_, err = r.db.conn(ctx).Exec(ctx, `
		INSERT INTO discounts (code, active, total_used, document, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, domain.NormalizeDiscountCode(discount.Code), discount.Active, discount.TotalUsed, doc, discount.UpdatedAt.UTC())
	return wrapError("discounts.insert", err)
}

func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (domain.Discount, error) {
	return r.load(ctx, r.db.conn(ctx), domain.NormalizeDiscountCode(code), false)
}

func (r *DiscountRepository) SetActive(ctx context.Context, code string, active bool, now time.Time) (domain.Discount, error) {
	return r.mutate(ctx, "discounts.setActive", code, func(d domain.Discount) (domain.Discount, error) {
		d.Active = active
		d.UpdatedAt = now
		return d, nil
	})
}

func (r *DiscountRepository) RecordUsage(ctx context.Context, usage repositories.DiscountUsage) (domain.Discount, error) {
	key := domain.NormalizeDiscountCode(usage.Code)
	return r.mutate(ctx, "discounts.recordUsage", key, func(d domain.Discount) (domain.Discount, error) {
		if d.Exhausted() {
			return domain.Discount{}, repositories.NewDiscountError(repositories.DiscountErrorUsageLimit, key)
		}
		if !d.CanCustomerUse(usage.CustomerID) {
			return domain.Discount{}, repositories.NewDiscountError(repositories.DiscountErrorPerCustomerLimit, key)
		}
		return d.ApplyUsage(usage.CustomerID, usage.Amount, usage.UsedAt), nil
	})
}

func (r *DiscountRepository) mutate(ctx context.Context, op, code string, change func(domain.Discount) (domain.Discount, error)) (domain.Discount, error) {
	key := domain.NormalizeDiscountCode(code)
	var updated domain.Discount
	err := r.db.withTx(ctx, func(ctx context.Context, q querier) error {
		current, err := r.load(ctx, q, key, true)
		if err != nil {
			return err
		}
		next, err := change(current)
		if err != nil {
			return err
		}
		doc, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode discount %s: %w", key, err)
		}
		if _, err := q.Exec(ctx, `
			UPDATE discounts SET active = $2, total_used = $3, document = $4, updated_at = $5 WHERE code = $1
		`, key, next.Active, next.TotalUsed, doc, next.UpdatedAt.UTC()); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		var discountErr *repositories.DiscountError
		if errors.As(err, &discountErr) {
			return domain.Discount{}, discountErr
		}
		return domain.Discount{}, wrapError(op, err)
	}
	return updated, nil
}

func (r *DiscountRepository) load(ctx context.Context, q querier, key string, lock bool) (domain.Discount, error) {
	query := `SELECT document FROM discounts WHERE code = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var doc []byte
	if err := q.QueryRow(ctx, query, key).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Discount{}, notFound("discounts.find", "discount %s not found", key)
		}
		return domain.Discount{}, wrapError("discounts.find", err)
	}
	var discount domain.Discount
	if err := json.Unmarshal(doc, &discount); err != nil {
		return domain.Discount{}, fmt.Errorf("decode discount %s: %w", key, err)
	}
	return discount, nil
}
