package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// PaymentRepository stores payment attempts as JSONB documents with version checked updates.
type PaymentRepository struct {
	db db
}

var _ repositories.PaymentRepository = (*PaymentRepository)(nil)

func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	doc, err := json.Marshal(payment)
	if err != nil {
		return fmt.Errorf("payments.insert: encode %s: %w", payment.ID, err)
	}
	_, err = r.db.conn(ctx).Exec(ctx, `
		INSERT INTO payments (id, order_id, intent_id, status, version, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, payment.ID, payment.OrderID, payment.Gateway.IntentID, string(payment.Status), payment.Version, doc,
		payment.CreatedAt.UTC(), payment.UpdatedAt.UTC())
	return wrapError("payments.insert", err)
}

func (r *PaymentRepository) Update(ctx context.Context, payment domain.Payment, expectedVersion int) error {
	doc, err := json.Marshal(payment)
	if err != nil {
		return fmt.Errorf("payments.update: encode %s: %w", payment.ID, err)
	}
	tag, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE payments
		SET intent_id = $3, status = $4, version = $5, document = $6, updated_at = $7
		WHERE id = $1 AND version = $2
	`, payment.ID, expectedVersion, payment.Gateway.IntentID, string(payment.Status), payment.Version, doc, payment.UpdatedAt.UTC())
	if err != nil {
		return wrapError("payments.update", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.FindByID(ctx, payment.ID); err != nil {
			return err
		}
		return conflict("payments.update", "payment %s is not at version %d", payment.ID, expectedVersion)
	}
	return nil
}

func (r *PaymentRepository) Delete(ctx context.Context, paymentID string) error {
	tag, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM payments WHERE id = $1`, paymentID)
	if err != nil {
		return wrapError("payments.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("payments.delete", "payment %s not found", paymentID)
	}
	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	return r.findOne(ctx, "payments.find", `SELECT document FROM payments WHERE id = $1`, paymentID)
}

func (r *PaymentRepository) FindByIntentID(ctx context.Context, intentID string) (domain.Payment, error) {
	return r.findOne(ctx, "payments.findByIntent", `SELECT document FROM payments WHERE intent_id = $1 AND intent_id <> '' LIMIT 1`, intentID)
}

func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT document FROM payments WHERE order_id = $1 ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, wrapError("payments.listByOrder", err)
	}
	payments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Payment, error) {
		var doc []byte
		if err := row.Scan(&doc); err != nil {
			return domain.Payment{}, err
		}
		var payment domain.Payment
		if err := json.Unmarshal(doc, &payment); err != nil {
			return domain.Payment{}, fmt.Errorf("decode payment: %w", err)
		}
		return payment, nil
	})
	if err != nil {
		return nil, wrapError("payments.listByOrder", err)
	}
	return payments, nil
}

func (r *PaymentRepository) findOne(ctx context.Context, op, query, arg string) (domain.Payment, error) {
	var doc []byte
	if err := r.db.conn(ctx).QueryRow(ctx, query, arg).Scan(&doc); err != nil {
		return domain.Payment{}, wrapError(op, err)
	}
	var payment domain.Payment
	if err := json.Unmarshal(doc, &payment); err != nil {
		return domain.Payment{}, fmt.Errorf("%s: decode %s: %w", op, arg, err)
	}
	return payment, nil
}
