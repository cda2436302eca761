package firestore

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

// Amounts are stored as decimal strings so no precision is lost to float64.

func decimalString(d decimal.Decimal) string {
	return d.String()
}

func parseDecimal(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

type productDocument struct {
	Name          string    `firestore:"name"`
	SellingPrice  string    `firestore:"sellingPrice"`
	CostPrice     string    `firestore:"costPrice"`
	MarginPercent string    `firestore:"marginPercent"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func newProductDocument(p domain.Product) productDocument {
	return productDocument{
		Name:          p.Name,
		SellingPrice:  decimalString(p.SellingPrice),
		CostPrice:     decimalString(p.CostPrice),
		MarginPercent: decimalString(p.MarginPercent),
		CreatedAt:     p.CreatedAt.UTC(),
		UpdatedAt:     p.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:            id,
		Name:          d.Name,
		SellingPrice:  parseDecimal(d.SellingPrice),
		CostPrice:     parseDecimal(d.CostPrice),
		MarginPercent: parseDecimal(d.MarginPercent),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

// stockDocument keeps reorderGap denormalised so low-stock queries need no per-document comparison.
type stockDocument struct {
	ProductID    string    `firestore:"productId"`
	Available    int       `firestore:"available"`
	Reserved     int       `firestore:"reserved"`
	ReorderLevel int       `firestore:"reorderLevel"`
	ReorderGap   int       `firestore:"reorderGap"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func (s *stockDocument) recalculate() {
	threshold := s.ReorderLevel
	if threshold <= 0 {
		threshold = domain.DefaultReorderLevel
	}
	s.ReorderGap = s.Available - threshold
}

func (s stockDocument) toDomain(id string) domain.StockLevel {
	return domain.StockLevel{
		ProductID:    id,
		Available:    s.Available,
		Reserved:     s.Reserved,
		ReorderLevel: s.ReorderLevel,
		UpdatedAt:    s.UpdatedAt,
	}
}

type movementDocument struct {
	ProductID      string    `firestore:"productId"`
	Type           string    `firestore:"type"`
	Quantity       int       `firestore:"quantity"`
	Direction      int       `firestore:"direction"`
	Reference      string    `firestore:"reference,omitempty"`
	Reason         string    `firestore:"reason,omitempty"`
	ActorID        string    `firestore:"actorId,omitempty"`
	AvailableAfter int       `firestore:"availableAfter"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

func newMovementDocument(m domain.StockMovement) movementDocument {
	return movementDocument{
		ProductID:      m.ProductID,
		Type:           string(m.Type),
		Quantity:       m.Quantity,
		Direction:      m.Direction,
		Reference:      m.Reference,
		Reason:         m.Reason,
		ActorID:        m.ActorID,
		AvailableAfter: m.AvailableAfter,
		CreatedAt:      m.CreatedAt.UTC(),
	}
}

func (d movementDocument) toDomain(id string) domain.StockMovement {
	return domain.StockMovement{
		ID:             id,
		ProductID:      d.ProductID,
		Type:           domain.MovementType(d.Type),
		Quantity:       d.Quantity,
		Direction:      d.Direction,
		Reference:      d.Reference,
		Reason:         d.Reason,
		ActorID:        d.ActorID,
		AvailableAfter: d.AvailableAfter,
		CreatedAt:      d.CreatedAt,
	}
}

type addressDocument struct {
	FullName     string `firestore:"fullName"`
	Phone        string `firestore:"phone,omitempty"`
	Email        string `firestore:"email,omitempty"`
	AddressLine1 string `firestore:"addressLine1"`
	AddressLine2 string `firestore:"addressLine2,omitempty"`
	City         string `firestore:"city"`
	State        string `firestore:"state,omitempty"`
	ZipCode      string `firestore:"zipCode"`
	Country      string `firestore:"country,omitempty"`
}

func newAddressDocument(a domain.Address) addressDocument {
	return addressDocument(a)
}

func (d addressDocument) toDomain() domain.Address {
	return domain.Address(d)
}

type lineItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice string `firestore:"unitPrice"`
	LineTotal string `firestore:"lineTotal"`
}

type pricingDocument struct {
	Currency      string `firestore:"currency"`
	Subtotal      string `firestore:"subtotal"`
	Discount      string `firestore:"discount"`
	DiscountCode  string `firestore:"discountCode,omitempty"`
	DiscountID    string `firestore:"discountId,omitempty"`
	TaxPercentage string `firestore:"taxPercentage"`
	Tax           string `firestore:"tax"`
	Shipping      string `firestore:"shipping"`
	Total         string `firestore:"total"`
}

type orderPaymentDocument struct {
	Method        string     `firestore:"method"`
	Status        string     `firestore:"status"`
	PaymentID     string     `firestore:"paymentId,omitempty"`
	TransactionID string     `firestore:"transactionId,omitempty"`
	PaidAmount    string     `firestore:"paidAmount"`
	PaidAt        *time.Time `firestore:"paidAt,omitempty"`
}

type orderShippingDocument struct {
	Status            string     `firestore:"status"`
	Carrier           string     `firestore:"carrier,omitempty"`
	TrackingNumber    string     `firestore:"trackingNumber,omitempty"`
	EstimatedDelivery *time.Time `firestore:"estimatedDelivery,omitempty"`
	ActualDelivery    *time.Time `firestore:"actualDelivery,omitempty"`
	UpdatedAt         *time.Time `firestore:"updatedAt,omitempty"`
}

type returnItemDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int    `firestore:"quantity"`
	Status    string `firestore:"status"`
}

type orderReturnsDocument struct {
	Reason       string               `firestore:"reason"`
	Items        []returnItemDocument `firestore:"items"`
	RefundAmount string               `firestore:"refundAmount"`
	RequestedAt  time.Time            `firestore:"requestedAt"`
	DecidedAt    *time.Time           `firestore:"decidedAt,omitempty"`
	DecidedBy    string               `firestore:"decidedBy,omitempty"`
	Note         string               `firestore:"note,omitempty"`
}

type orderDocument struct {
	OrderNumber     string                `firestore:"orderNumber"`
	CustomerID      string                `firestore:"customerId"`
	Status          string                `firestore:"status"`
	Items           []lineItemDocument    `firestore:"items"`
	Pricing         pricingDocument       `firestore:"pricing"`
	ShippingAddress addressDocument       `firestore:"shippingAddress"`
	BillingAddress  addressDocument       `firestore:"billingAddress"`
	Payment         orderPaymentDocument  `firestore:"payment"`
	Shipping        orderShippingDocument `firestore:"shipping"`
	Returns         *orderReturnsDocument `firestore:"returns,omitempty"`
	Notes           string                `firestore:"notes,omitempty"`
	Version         int                   `firestore:"version"`
	CreatedAt       time.Time             `firestore:"createdAt"`
	UpdatedAt       time.Time             `firestore:"updatedAt"`
	ConfirmedAt     *time.Time            `firestore:"confirmedAt,omitempty"`
	ShippedAt       *time.Time            `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time            `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time            `firestore:"cancelledAt,omitempty"`
	CancelledReason string                `firestore:"cancelledReason,omitempty"`
	CancelledBy     string                `firestore:"cancelledBy,omitempty"`
	ReturnedAt      *time.Time            `firestore:"returnedAt,omitempty"`
}

func newOrderDocument(o domain.Order) orderDocument {
	items := make([]lineItemDocument, len(o.Items))
	for i, item := range o.Items {
		items[i] = lineItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: decimalString(item.UnitPrice),
			LineTotal: decimalString(item.LineTotal),
		}
	}
	doc := orderDocument{
		OrderNumber: o.OrderNumber,
		CustomerID:  o.CustomerID,
		Status:      string(o.Status),
		Items:       items,
		Pricing: pricingDocument{
			Currency:      o.Pricing.Currency,
			Subtotal:      decimalString(o.Pricing.Subtotal),
			Discount:      decimalString(o.Pricing.Discount),
			DiscountCode:  o.Pricing.DiscountCode,
			DiscountID:    o.Pricing.DiscountID,
			TaxPercentage: decimalString(o.Pricing.TaxPercentage),
			Tax:           decimalString(o.Pricing.Tax),
			Shipping:      decimalString(o.Pricing.Shipping),
			Total:         decimalString(o.Pricing.Total),
		},
		ShippingAddress: newAddressDocument(o.ShippingAddress),
		BillingAddress:  newAddressDocument(o.BillingAddress),
		Payment: orderPaymentDocument{
			Method:        string(o.Payment.Method),
			Status:        string(o.Payment.Status),
			PaymentID:     o.Payment.PaymentID,
			TransactionID: o.Payment.TransactionID,
			PaidAmount:    decimalString(o.Payment.PaidAmount),
			PaidAt:        o.Payment.PaidAt,
		},
		Shipping: orderShippingDocument{
			Status:            string(o.Shipping.Status),
			Carrier:           o.Shipping.Carrier,
			TrackingNumber:    o.Shipping.TrackingNumber,
			EstimatedDelivery: o.Shipping.EstimatedDelivery,
			ActualDelivery:    o.Shipping.ActualDelivery,
			UpdatedAt:         o.Shipping.UpdatedAt,
		},
		Notes:           o.Notes,
		Version:         o.Version,
		CreatedAt:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
		ConfirmedAt:     o.ConfirmedAt,
		ShippedAt:       o.ShippedAt,
		DeliveredAt:     o.DeliveredAt,
		CancelledAt:     o.CancelledAt,
		CancelledReason: o.CancelledReason,
		CancelledBy:     o.CancelledBy,
		ReturnedAt:      o.ReturnedAt,
	}
	if o.Returns != nil {
		returnItems := make([]returnItemDocument, len(o.Returns.Items))
		for i, item := range o.Returns.Items {
			returnItems[i] = returnItemDocument{ProductID: item.ProductID, Quantity: item.Quantity, Status: string(item.Status)}
		}
		doc.Returns = &orderReturnsDocument{
			Reason:       o.Returns.Reason,
			Items:        returnItems,
			RefundAmount: decimalString(o.Returns.RefundAmount),
			RequestedAt:  o.Returns.RequestedAt.UTC(),
			DecidedAt:    o.Returns.DecidedAt,
			DecidedBy:    o.Returns.DecidedBy,
			Note:         o.Returns.Note,
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderLineItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderLineItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: parseDecimal(item.UnitPrice),
			LineTotal: parseDecimal(item.LineTotal),
		}
	}
	order := domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		CustomerID:  d.CustomerID,
		Status:      domain.OrderStatus(d.Status),
		Items:       items,
		Pricing: domain.PriceBreakdown{
			Currency:      d.Pricing.Currency,
			Subtotal:      parseDecimal(d.Pricing.Subtotal),
			Discount:      parseDecimal(d.Pricing.Discount),
			DiscountCode:  d.Pricing.DiscountCode,
			DiscountID:    d.Pricing.DiscountID,
			TaxPercentage: parseDecimal(d.Pricing.TaxPercentage),
			Tax:           parseDecimal(d.Pricing.Tax),
			Shipping:      parseDecimal(d.Pricing.Shipping),
			Total:         parseDecimal(d.Pricing.Total),
		},
		ShippingAddress: d.ShippingAddress.toDomain(),
		BillingAddress:  d.BillingAddress.toDomain(),
		Payment: domain.OrderPayment{
			Method:        domain.PaymentMethod(d.Payment.Method),
			Status:        domain.PaymentStatus(d.Payment.Status),
			PaymentID:     d.Payment.PaymentID,
			TransactionID: d.Payment.TransactionID,
			PaidAmount:    parseDecimal(d.Payment.PaidAmount),
			PaidAt:        d.Payment.PaidAt,
		},
		Shipping: domain.OrderShipping{
			Status:            domain.ShippingStatus(d.Shipping.Status),
			Carrier:           d.Shipping.Carrier,
			TrackingNumber:    d.Shipping.TrackingNumber,
			EstimatedDelivery: d.Shipping.EstimatedDelivery,
			ActualDelivery:    d.Shipping.ActualDelivery,
			UpdatedAt:         d.Shipping.UpdatedAt,
		},
		Notes:           d.Notes,
		Version:         d.Version,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		ConfirmedAt:     d.ConfirmedAt,
		ShippedAt:       d.ShippedAt,
		DeliveredAt:     d.DeliveredAt,
		CancelledAt:     d.CancelledAt,
		CancelledReason: d.CancelledReason,
		CancelledBy:     d.CancelledBy,
		ReturnedAt:      d.ReturnedAt,
	}
	if d.Returns != nil {
		returnItems := make([]domain.ReturnItem, len(d.Returns.Items))
		for i, item := range d.Returns.Items {
			returnItems[i] = domain.ReturnItem{ProductID: item.ProductID, Quantity: item.Quantity, Status: domain.ReturnItemStatus(item.Status)}
		}
		order.Returns = &domain.OrderReturns{
			Reason:       d.Returns.Reason,
			Items:        returnItems,
			RefundAmount: parseDecimal(d.Returns.RefundAmount),
			RequestedAt:  d.Returns.RequestedAt,
			DecidedAt:    d.Returns.DecidedAt,
			DecidedBy:    d.Returns.DecidedBy,
			Note:         d.Returns.Note,
		}
	}
	return order
}

type paymentGatewayDocument struct {
	Name            string `firestore:"name"`
	IntentID        string `firestore:"intentId,omitempty"`
	ClientSecret    string `firestore:"clientSecret,omitempty"`
	ReferenceID     string `firestore:"referenceId,omitempty"`
	ResponseCode    string `firestore:"responseCode,omitempty"`
	ResponseMessage string `firestore:"responseMessage,omitempty"`
}

type paymentRefundDocument struct {
	Amount        string    `firestore:"amount"`
	TransactionID string    `firestore:"transactionId,omitempty"`
	Reason        string    `firestore:"reason,omitempty"`
	Status        string    `firestore:"status"`
	RefundedAt    time.Time `firestore:"refundedAt"`
}

type paymentDocument struct {
	OrderID    string                 `firestore:"orderId"`
	CustomerID string                 `firestore:"customerId"`
	Amount     string                 `firestore:"amount"`
	Currency   string                 `firestore:"currency"`
	Method     string                 `firestore:"method"`
	Status     string                 `firestore:"status"`
	Gateway    paymentGatewayDocument `firestore:"gateway"`
	Refund     *paymentRefundDocument `firestore:"refund,omitempty"`
	Retries    int                    `firestore:"retries"`
	LastError  string                 `firestore:"lastError,omitempty"`
	Version    int                    `firestore:"version"`
	CreatedAt  time.Time              `firestore:"createdAt"`
	UpdatedAt  time.Time              `firestore:"updatedAt"`
	PaidAt     *time.Time             `firestore:"paidAt,omitempty"`
	FailedAt   *time.Time             `firestore:"failedAt,omitempty"`
}

func newPaymentDocument(p domain.Payment) paymentDocument {
	doc := paymentDocument{
		OrderID:    p.OrderID,
		CustomerID: p.CustomerID,
		Amount:     decimalString(p.Amount),
		Currency:   p.Currency,
		Method:     string(p.Method),
		Status:     string(p.Status),
		Gateway:    paymentGatewayDocument(p.Gateway),
		Retries:    p.Retries,
		LastError:  p.LastError,
		Version:    p.Version,
		CreatedAt:  p.CreatedAt.UTC(),
		UpdatedAt:  p.UpdatedAt.UTC(),
		PaidAt:     p.PaidAt,
		FailedAt:   p.FailedAt,
	}
	if p.Refund != nil {
		doc.Refund = &paymentRefundDocument{
			Amount:        decimalString(p.Refund.Amount),
			TransactionID: p.Refund.TransactionID,
			Reason:        p.Refund.Reason,
			Status:        p.Refund.Status,
			RefundedAt:    p.Refund.RefundedAt.UTC(),
		}
	}
	return doc
}

func (d paymentDocument) toDomain(id string) domain.Payment {
	payment := domain.Payment{
		ID:         id,
		OrderID:    d.OrderID,
		CustomerID: d.CustomerID,
		Amount:     parseDecimal(d.Amount),
		Currency:   d.Currency,
		Method:     domain.PaymentMethod(d.Method),
		Status:     domain.PaymentStatus(d.Status),
		Gateway:    domain.PaymentGateway(d.Gateway),
		Retries:    d.Retries,
		LastError:  d.LastError,
		Version:    d.Version,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
		PaidAt:     d.PaidAt,
		FailedAt:   d.FailedAt,
	}
	if d.Refund != nil {
		payment.Refund = &domain.PaymentRefund{
			Amount:        parseDecimal(d.Refund.Amount),
			TransactionID: d.Refund.TransactionID,
			Reason:        d.Refund.Reason,
			Status:        d.Refund.Status,
			RefundedAt:    d.Refund.RefundedAt,
		}
	}
	return payment
}

type customerUsageDocument struct {
	CustomerID string    `firestore:"customerId"`
	UsedCount  int       `firestore:"usedCount"`
	LastUsedAt time.Time `firestore:"lastUsedAt"`
}

type discountDocument struct {
	ID                 string                  `firestore:"id"`
	Description        string                  `firestore:"description,omitempty"`
	Type               string                  `firestore:"type"`
	Value              string                  `firestore:"value"`
	MaxDiscount        *string                 `firestore:"maxDiscount,omitempty"`
	MinimumCartValue   string                  `firestore:"minimumCartValue"`
	MaxUses            *int                    `firestore:"maxUses,omitempty"`
	UsesPerCustomer    int                     `firestore:"usesPerCustomer"`
	BuyQuantity        int                     `firestore:"buyQuantity,omitempty"`
	GetQuantity        int                     `firestore:"getQuantity,omitempty"`
	ProductIDs         []string                `firestore:"productIds,omitempty"`
	BundlePrice        string                  `firestore:"bundlePrice,omitempty"`
	ValidFrom          time.Time               `firestore:"validFrom"`
	ValidUntil         time.Time               `firestore:"validUntil"`
	Active             bool                    `firestore:"active"`
	TotalUsed          int                     `firestore:"totalUsed"`
	TotalDiscountGiven string                  `firestore:"totalDiscountGiven"`
	UsedBy             []customerUsageDocument `firestore:"usedBy,omitempty"`
	CreatedBy          string                  `firestore:"createdBy,omitempty"`
	CreatedAt          time.Time               `firestore:"createdAt"`
	UpdatedAt          time.Time               `firestore:"updatedAt"`
}

func newDiscountDocument(d domain.Discount) discountDocument {
	doc := discountDocument{
		ID:                 d.ID,
		Description:        d.Description,
		Type:               string(d.Type),
		Value:              decimalString(d.Value),
		MinimumCartValue:   decimalString(d.MinimumCartValue),
		MaxUses:            d.MaxUses,
		UsesPerCustomer:    d.UsesPerCustomer,
		BuyQuantity:        d.BuyQuantity,
		GetQuantity:        d.GetQuantity,
		ProductIDs:         d.ProductIDs,
		BundlePrice:        decimalString(d.BundlePrice),
		ValidFrom:          d.ValidFrom.UTC(),
		ValidUntil:         d.ValidUntil.UTC(),
		Active:             d.Active,
		TotalUsed:          d.TotalUsed,
		TotalDiscountGiven: decimalString(d.TotalDiscountGiven),
		CreatedBy:          d.CreatedBy,
		CreatedAt:          d.CreatedAt.UTC(),
		UpdatedAt:          d.UpdatedAt.UTC(),
	}
	if d.MaxDiscount != nil {
		raw := decimalString(*d.MaxDiscount)
		doc.MaxDiscount = &raw
	}
	for _, usage := range d.UsedBy {
		doc.UsedBy = append(doc.UsedBy, customerUsageDocument(usage))
	}
	return doc
}

func (d discountDocument) toDomain(code string) domain.Discount {
	discount := domain.Discount{
		ID:                 d.ID,
		Code:               code,
		Description:        d.Description,
		Type:               domain.DiscountType(d.Type),
		Value:              parseDecimal(d.Value),
		MinimumCartValue:   parseDecimal(d.MinimumCartValue),
		MaxUses:            d.MaxUses,
		UsesPerCustomer:    d.UsesPerCustomer,
		BuyQuantity:        d.BuyQuantity,
		GetQuantity:        d.GetQuantity,
		ProductIDs:         d.ProductIDs,
		BundlePrice:        parseDecimal(d.BundlePrice),
		ValidFrom:          d.ValidFrom,
		ValidUntil:         d.ValidUntil,
		Active:             d.Active,
		TotalUsed:          d.TotalUsed,
		TotalDiscountGiven: parseDecimal(d.TotalDiscountGiven),
		CreatedBy:          d.CreatedBy,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
	if d.MaxDiscount != nil {
		v := parseDecimal(*d.MaxDiscount)
		discount.MaxDiscount = &v
	}
	for _, usage := range d.UsedBy {
		discount.UsedBy = append(discount.UsedBy, domain.CustomerUsage(usage))
	}
	return discount
}
