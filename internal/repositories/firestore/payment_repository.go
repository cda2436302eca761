package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/orderflow/internal/domain"
	pfirestore "github.com/hanko-field/orderflow/internal/platform/firestore"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const paymentsCollection = "payments"

// PaymentRepository stores payment attempts with optimistic version checks.
type PaymentRepository struct {
	provider *pfirestore.Provider
	payments *pfirestore.BaseRepository[paymentDocument]
}

var _ repositories.PaymentRepository = (*PaymentRepository)(nil)

func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	return &PaymentRepository{
		provider: provider,
		payments: pfirestore.NewBaseRepository[paymentDocument](provider, paymentsCollection),
	}, nil
}

func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	ref, err := r.payments.DocumentRef(ctx, payment.ID)
	if err != nil {
		return err
	}
	_, err = ref.Create(ctx, newPaymentDocument(payment))
	return pfirestore.WrapError("payments.insert", err)
}

func (r *PaymentRepository) Update(ctx context.Context, payment domain.Payment, expectedVersion int) error {
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.payments.DocumentRef(ctx, payment.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var current paymentDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("decode payment %s: %w", payment.ID, err)
		}
		if current.Version != expectedVersion {
			return versionConflict("payment", payment.ID, expectedVersion, current.Version)
		}
		return tx.Set(ref, newPaymentDocument(payment))
	})
	return pfirestore.WrapError("payments.update", err)
}

func (r *PaymentRepository) Delete(ctx context.Context, paymentID string) error {
	ref, err := r.payments.DocumentRef(ctx, paymentID)
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx, firestore.Exists)
	return pfirestore.WrapError("payments.delete", err)
}

func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	doc, err := r.payments.Get(ctx, strings.TrimSpace(paymentID))
	if err != nil {
		return domain.Payment{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *PaymentRepository) FindByIntentID(ctx context.Context, intentID string) (domain.Payment, error) {
	intentID = strings.TrimSpace(intentID)
	docs, err := r.payments.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("gateway.intentId", "==", intentID).Limit(1)
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if len(docs) == 0 {
		return domain.Payment{}, pfirestore.WrapError("payments.findByIntent", status.Errorf(codes.NotFound, "payment with intent %s not found", intentID))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	docs, err := r.payments.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", strings.TrimSpace(orderID)).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	payments := make([]domain.Payment, 0, len(docs))
	for _, doc := range docs {
		payments = append(payments, doc.Data.toDomain(doc.ID))
	}
	return payments, nil
}
