package memory

import (
	"context"
	"sort"
	"sync"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

// PaymentRepository stores payment attempts.
type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]domain.Payment
}

// NewPaymentRepository constructs an empty payment repository.
func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{payments: make(map[string]domain.Payment)}
}

func (r *PaymentRepository) Insert(_ context.Context, payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payments[payment.ID]; exists {
		return conflict("payment %s already exists", payment.ID)
	}
	r.payments[payment.ID] = payment.Clone()
	return nil
}

func (r *PaymentRepository) Update(_ context.Context, payment domain.Payment, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.payments[payment.ID]
	if !ok {
		return notFound("payment %s not found", payment.ID)
	}
	if current.Version != expectedVersion {
		return conflict("payment %s version %d, expected %d", payment.ID, current.Version, expectedVersion)
	}
	r.payments[payment.ID] = payment.Clone()
	return nil
}

func (r *PaymentRepository) Delete(_ context.Context, paymentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payments[paymentID]; !ok {
		return notFound("payment %s not found", paymentID)
	}
	delete(r.payments, paymentID)
	return nil
}

func (r *PaymentRepository) FindByID(_ context.Context, paymentID string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	payment, ok := r.payments[paymentID]
	if !ok {
		return domain.Payment{}, notFound("payment %s not found", paymentID)
	}
	return payment.Clone(), nil
}

func (r *PaymentRepository) FindByIntentID(_ context.Context, intentID string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, payment := range r.payments {
		if intentID != "" && payment.Gateway.IntentID == intentID {
			return payment.Clone(), nil
		}
	}
	return domain.Payment{}, notFound("payment for intent %s not found", intentID)
}

func (r *PaymentRepository) ListByOrder(_ context.Context, orderID string) ([]domain.Payment, error) {
	r.mu.RLock()
	var out []domain.Payment
	for _, payment := range r.payments {
		if payment.OrderID == orderID {
			out = append(out, payment.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
