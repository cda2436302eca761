package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPaymentMaxRetries caps retries when configuration does not override it.
const DefaultPaymentMaxRetries = 3

// Payment is one payment attempt chain against an order.
type Payment struct {
	ID         string
	OrderID    string
	CustomerID string
	Amount     decimal.Decimal
	Currency   string
	Method     PaymentMethod
	Status     PaymentStatus
	Gateway    PaymentGateway
	Refund     *PaymentRefund
	Retries    int
	LastError  string
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
	PaidAt     *time.Time
	FailedAt   *time.Time
}

// PaymentGateway holds correlation data returned by the gateway.
type PaymentGateway struct {
	Name            string
	IntentID        string
	ClientSecret    string
	ReferenceID     string
	ResponseCode    string
	ResponseMessage string
}

// PaymentRefund is the refund sub-document embedded in a payment.
type PaymentRefund struct {
	Amount        decimal.Decimal
	TransactionID string
	Reason        string
	Status        string
	RefundedAt    time.Time
}

// Clone returns a deep copy safe to mutate.
func (p Payment) Clone() Payment {
	out := p
	if p.Refund != nil {
		r := *p.Refund
		out.Refund = &r
	}
	out.PaidAt = cloneTime(p.PaidAt)
	out.FailedAt = cloneTime(p.FailedAt)
	return out
}
