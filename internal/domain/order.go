package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates the order status axis.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
)

// PaymentStatus enumerates payment states, shared by payments and the order payment sub-document.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

// ShippingStatus enumerates the shipping sub-state.
type ShippingStatus string

const (
	ShippingStatusPending    ShippingStatus = "pending"
	ShippingStatusProcessing ShippingStatus = "processing"
	ShippingStatusShipped    ShippingStatus = "shipped"
	ShippingStatusInTransit  ShippingStatus = "in-transit"
	ShippingStatusDelivered  ShippingStatus = "delivered"
	ShippingStatusCancelled  ShippingStatus = "cancelled"
)

// PaymentMethod enumerates accepted payment methods.
type PaymentMethod string

const (
	PaymentMethodCreditCard PaymentMethod = "credit_card"
	PaymentMethodDebitCard  PaymentMethod = "debit_card"
	PaymentMethodUPI        PaymentMethod = "upi"
	PaymentMethodNetBanking PaymentMethod = "net_banking"
	PaymentMethodWallet     PaymentMethod = "wallet"
	PaymentMethodCOD        PaymentMethod = "cod"
)

// Valid reports whether the method is one of the accepted values.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCreditCard, PaymentMethodDebitCard, PaymentMethodUPI,
		PaymentMethodNetBanking, PaymentMethodWallet, PaymentMethodCOD:
		return true
	}
	return false
}

// ReturnItemStatus tracks each returned line.
type ReturnItemStatus string

const (
	ReturnItemPending   ReturnItemStatus = "pending"
	ReturnItemApproved  ReturnItemStatus = "approved"
	ReturnItemRejected  ReturnItemStatus = "rejected"
	ReturnItemProcessed ReturnItemStatus = "processed"
)

// Order is the aggregate root for a placed order. Items and Pricing are immutable after creation.
type Order struct {
	ID              string
	OrderNumber     string
	CustomerID      string
	Status          OrderStatus
	Items           []OrderLineItem
	Pricing         PriceBreakdown
	ShippingAddress Address
	BillingAddress  Address
	Payment         OrderPayment
	Shipping        OrderShipping
	Returns         *OrderReturns
	Notes           string
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ConfirmedAt     *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	CancelledReason string
	CancelledBy     string
	ReturnedAt      *time.Time
}

// OrderLineItem captures the product price at order creation.
type OrderLineItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// OrderPayment is the payment sub-document embedded in an order.
type OrderPayment struct {
	Method        PaymentMethod
	Status        PaymentStatus
	PaymentID     string
	TransactionID string
	PaidAmount    decimal.Decimal
	PaidAt        *time.Time
}

// OrderShipping is the shipping sub-document embedded in an order.
type OrderShipping struct {
	Status            ShippingStatus
	Carrier           string
	TrackingNumber    string
	EstimatedDelivery *time.Time
	ActualDelivery    *time.Time
	UpdatedAt         *time.Time
}

// OrderReturns is the returns sub-document embedded in an order.
type OrderReturns struct {
	Reason       string
	Items        []ReturnItem
	RefundAmount decimal.Decimal
	RequestedAt  time.Time
	DecidedAt    *time.Time
	DecidedBy    string
	Note         string
}

// ReturnItem is a single requested return line.
type ReturnItem struct {
	ProductID string
	Quantity  int
	Status    ReturnItemStatus
}

// QuantityOf returns the ordered quantity for a product across all lines.
func (o Order) QuantityOf(productID string) int {
	total := 0
	for _, item := range o.Items {
		if item.ProductID == productID {
			total += item.Quantity
		}
	}
	return total
}

// Clone returns a deep copy safe to mutate.
func (o Order) Clone() Order {
	out := o
	if o.Items != nil {
		out.Items = append([]OrderLineItem(nil), o.Items...)
	}
	out.Payment.PaidAt = cloneTime(o.Payment.PaidAt)
	out.Shipping.EstimatedDelivery = cloneTime(o.Shipping.EstimatedDelivery)
	out.Shipping.ActualDelivery = cloneTime(o.Shipping.ActualDelivery)
	out.Shipping.UpdatedAt = cloneTime(o.Shipping.UpdatedAt)
	if o.Returns != nil {
		r := *o.Returns
		r.Items = append([]ReturnItem(nil), o.Returns.Items...)
		r.DecidedAt = cloneTime(o.Returns.DecidedAt)
		out.Returns = &r
	}
	out.ConfirmedAt = cloneTime(o.ConfirmedAt)
	out.ShippedAt = cloneTime(o.ShippedAt)
	out.DeliveredAt = cloneTime(o.DeliveredAt)
	out.CancelledAt = cloneTime(o.CancelledAt)
	out.ReturnedAt = cloneTime(o.ReturnedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
