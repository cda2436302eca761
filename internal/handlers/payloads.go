package handlers

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

// Amounts are rendered as fixed two-place strings so clients never see float rounding.
func money(v decimal.Decimal) string { return v.StringFixed(2) }

func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func timePtrString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return timeString(*t)
}

type addressPayload struct {
	FullName     string `json:"full_name"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state,omitempty"`
	ZipCode      string `json:"zip_code"`
	Country      string `json:"country"`
}

func (a addressPayload) toDomain() domain.Address {
	return domain.Address{
		FullName:     a.FullName,
		Phone:        a.Phone,
		Email:        a.Email,
		AddressLine1: a.AddressLine1,
		AddressLine2: a.AddressLine2,
		City:         a.City,
		State:        a.State,
		ZipCode:      a.ZipCode,
		Country:      a.Country,
	}
}

func buildAddress(a domain.Address) addressPayload {
	return addressPayload{
		FullName:     a.FullName,
		Phone:        a.Phone,
		Email:        a.Email,
		AddressLine1: a.AddressLine1,
		AddressLine2: a.AddressLine2,
		City:         a.City,
		State:        a.State,
		ZipCode:      a.ZipCode,
		Country:      a.Country,
	}
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

type pricingPayload struct {
	Currency      string `json:"currency"`
	Subtotal      string `json:"subtotal"`
	Discount      string `json:"discount"`
	DiscountCode  string `json:"discount_code,omitempty"`
	TaxPercentage string `json:"tax_percentage"`
	Tax           string `json:"tax"`
	Shipping      string `json:"shipping"`
	Total         string `json:"total"`
}

type orderPaymentPayload struct {
	Method        string `json:"method"`
	Status        string `json:"status"`
	PaymentID     string `json:"payment_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	PaidAmount    string `json:"paid_amount"`
	PaidAt        string `json:"paid_at,omitempty"`
}

type orderShippingPayload struct {
	Status            string `json:"status"`
	Carrier           string `json:"carrier,omitempty"`
	TrackingNumber    string `json:"tracking_number,omitempty"`
	EstimatedDelivery string `json:"estimated_delivery,omitempty"`
	ActualDelivery    string `json:"actual_delivery,omitempty"`
}

type returnItemPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Status    string `json:"status"`
}

type orderReturnsPayload struct {
	Reason       string              `json:"reason"`
	Items        []returnItemPayload `json:"items"`
	RefundAmount string              `json:"refund_amount"`
	RequestedAt  string              `json:"requested_at"`
	DecidedAt    string              `json:"decided_at,omitempty"`
	DecidedBy    string              `json:"decided_by,omitempty"`
	Note         string              `json:"note,omitempty"`
}

type orderPayload struct {
	ID              string               `json:"id"`
	OrderNumber     string               `json:"order_number"`
	CustomerID      string               `json:"customer_id"`
	Status          string               `json:"status"`
	Items           []orderItemPayload   `json:"items"`
	Pricing         pricingPayload       `json:"pricing"`
	ShippingAddress addressPayload       `json:"shipping_address"`
	BillingAddress  addressPayload       `json:"billing_address"`
	Payment         orderPaymentPayload  `json:"payment"`
	Shipping        orderShippingPayload `json:"shipping"`
	Returns         *orderReturnsPayload `json:"returns,omitempty"`
	Notes           string               `json:"notes,omitempty"`
	CancelledReason string               `json:"cancelled_reason,omitempty"`
	Version         int                  `json:"version"`
	CreatedAt       string               `json:"created_at"`
	UpdatedAt       string               `json:"updated_at"`
	ConfirmedAt     string               `json:"confirmed_at,omitempty"`
	ShippedAt       string               `json:"shipped_at,omitempty"`
	DeliveredAt     string               `json:"delivered_at,omitempty"`
	CancelledAt     string               `json:"cancelled_at,omitempty"`
	ReturnedAt      string               `json:"returned_at,omitempty"`
}

func buildOrder(o domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: money(item.UnitPrice),
			LineTotal: money(item.LineTotal),
		})
	}
	payload := orderPayload{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		CustomerID:  o.CustomerID,
		Status:      string(o.Status),
		Items:       items,
		Pricing: pricingPayload{
			Currency:      o.Pricing.Currency,
			Subtotal:      money(o.Pricing.Subtotal),
			Discount:      money(o.Pricing.Discount),
			DiscountCode:  o.Pricing.DiscountCode,
			TaxPercentage: o.Pricing.TaxPercentage.String(),
			Tax:           money(o.Pricing.Tax),
			Shipping:      money(o.Pricing.Shipping),
			Total:         money(o.Pricing.Total),
		},
		ShippingAddress: buildAddress(o.ShippingAddress),
		BillingAddress:  buildAddress(o.BillingAddress),
		Payment: orderPaymentPayload{
			Method:        string(o.Payment.Method),
			Status:        string(o.Payment.Status),
			PaymentID:     o.Payment.PaymentID,
			TransactionID: o.Payment.TransactionID,
			PaidAmount:    money(o.Payment.PaidAmount),
			PaidAt:        timePtrString(o.Payment.PaidAt),
		},
		Shipping: orderShippingPayload{
			Status:            string(o.Shipping.Status),
			Carrier:           o.Shipping.Carrier,
			TrackingNumber:    o.Shipping.TrackingNumber,
			EstimatedDelivery: timePtrString(o.Shipping.EstimatedDelivery),
			ActualDelivery:    timePtrString(o.Shipping.ActualDelivery),
		},
		Notes:           o.Notes,
		CancelledReason: o.CancelledReason,
		Version:         o.Version,
		CreatedAt:       timeString(o.CreatedAt),
		UpdatedAt:       timeString(o.UpdatedAt),
		ConfirmedAt:     timePtrString(o.ConfirmedAt),
		ShippedAt:       timePtrString(o.ShippedAt),
		DeliveredAt:     timePtrString(o.DeliveredAt),
		CancelledAt:     timePtrString(o.CancelledAt),
		ReturnedAt:      timePtrString(o.ReturnedAt),
	}
	if o.Returns != nil {
		returns := &orderReturnsPayload{
			Reason:       o.Returns.Reason,
			RefundAmount: money(o.Returns.RefundAmount),
			RequestedAt:  timeString(o.Returns.RequestedAt),
			DecidedAt:    timePtrString(o.Returns.DecidedAt),
			DecidedBy:    o.Returns.DecidedBy,
			Note:         o.Returns.Note,
		}
		for _, item := range o.Returns.Items {
			returns.Items = append(returns.Items, returnItemPayload{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				Status:    string(item.Status),
			})
		}
		payload.Returns = returns
	}
	return payload
}

type paymentPayload struct {
	ID           string `json:"id"`
	OrderID      string `json:"order_id"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Method       string `json:"method"`
	Status       string `json:"status"`
	Gateway      string `json:"gateway"`
	IntentID     string `json:"intent_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	ReferenceID  string `json:"reference_id,omitempty"`
	Retries      int    `json:"retries"`
	LastError    string `json:"last_error,omitempty"`
	RefundAmount string `json:"refund_amount,omitempty"`
	RefundStatus string `json:"refund_status,omitempty"`
	CreatedAt    string `json:"created_at"`
	PaidAt       string `json:"paid_at,omitempty"`
	FailedAt     string `json:"failed_at,omitempty"`
}

func buildPayment(p domain.Payment) paymentPayload {
	payload := paymentPayload{
		ID:           p.ID,
		OrderID:      p.OrderID,
		Amount:       money(p.Amount),
		Currency:     p.Currency,
		Method:       string(p.Method),
		Status:       string(p.Status),
		Gateway:      p.Gateway.Name,
		IntentID:     p.Gateway.IntentID,
		ClientSecret: p.Gateway.ClientSecret,
		ReferenceID:  p.Gateway.ReferenceID,
		Retries:      p.Retries,
		LastError:    p.LastError,
		CreatedAt:    timeString(p.CreatedAt),
		PaidAt:       timePtrString(p.PaidAt),
		FailedAt:     timePtrString(p.FailedAt),
	}
	if p.Refund != nil {
		payload.RefundAmount = money(p.Refund.Amount)
		payload.RefundStatus = p.Refund.Status
	}
	return payload
}

type productPayload struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	SellingPrice  string `json:"selling_price"`
	CostPrice     string `json:"cost_price,omitempty"`
	MarginPercent string `json:"margin_percent,omitempty"`
	Available     *int   `json:"available,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// buildProduct hides cost and margin unless the caller is staff.
func buildProduct(p domain.Product, staff bool) productPayload {
	payload := productPayload{
		ID:           p.ID,
		Name:         p.Name,
		SellingPrice: money(p.SellingPrice),
		UpdatedAt:    timeString(p.UpdatedAt),
	}
	if staff {
		payload.CostPrice = money(p.CostPrice)
		payload.MarginPercent = p.MarginPercent.StringFixed(2)
	}
	return payload
}

type stockLevelPayload struct {
	ProductID    string `json:"product_id"`
	Available    int    `json:"available"`
	Reserved     int    `json:"reserved"`
	ReorderLevel int    `json:"reorder_level"`
	Low          bool   `json:"low"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

func buildStockLevel(l domain.StockLevel) stockLevelPayload {
	return stockLevelPayload{
		ProductID:    l.ProductID,
		Available:    l.Available,
		Reserved:     l.Reserved,
		ReorderLevel: l.ReorderLevel,
		Low:          l.IsLow(),
		UpdatedAt:    timeString(l.UpdatedAt),
	}
}

type movementPayload struct {
	ID             string `json:"id"`
	ProductID      string `json:"product_id"`
	Type           string `json:"type"`
	Quantity       int    `json:"quantity"`
	Delta          int    `json:"delta"`
	Reference      string `json:"reference,omitempty"`
	Reason         string `json:"reason,omitempty"`
	ActorID        string `json:"actor_id,omitempty"`
	AvailableAfter int    `json:"available_after"`
	CreatedAt      string `json:"created_at"`
}

func buildMovement(m domain.StockMovement) movementPayload {
	return movementPayload{
		ID:             m.ID,
		ProductID:      m.ProductID,
		Type:           string(m.Type),
		Quantity:       m.Quantity,
		Delta:          m.Delta(),
		Reference:      m.Reference,
		Reason:         m.Reason,
		ActorID:        m.ActorID,
		AvailableAfter: m.AvailableAfter,
		CreatedAt:      timeString(m.CreatedAt),
	}
}

type discountPayload struct {
	ID                 string   `json:"id"`
	Code               string   `json:"code"`
	Description        string   `json:"description,omitempty"`
	Type               string   `json:"type"`
	Value              string   `json:"value"`
	MaxDiscount        string   `json:"max_discount,omitempty"`
	MinimumCartValue   string   `json:"minimum_cart_value"`
	MaxUses            *int     `json:"max_uses,omitempty"`
	UsesPerCustomer    int      `json:"uses_per_customer"`
	BuyQuantity        int      `json:"buy_quantity,omitempty"`
	GetQuantity        int      `json:"get_quantity,omitempty"`
	ProductIDs         []string `json:"product_ids,omitempty"`
	BundlePrice        string   `json:"bundle_price,omitempty"`
	ValidFrom          string   `json:"valid_from"`
	ValidUntil         string   `json:"valid_until"`
	Active             bool     `json:"active"`
	TotalUsed          int      `json:"total_used"`
	TotalDiscountGiven string   `json:"total_discount_given"`
}

func buildDiscount(d domain.Discount) discountPayload {
	payload := discountPayload{
		ID:                 d.ID,
		Code:               d.Code,
		Description:        d.Description,
		Type:               string(d.Type),
		Value:              d.Value.String(),
		MinimumCartValue:   money(d.MinimumCartValue),
		MaxUses:            d.MaxUses,
		UsesPerCustomer:    d.UsesPerCustomer,
		BuyQuantity:        d.BuyQuantity,
		GetQuantity:        d.GetQuantity,
		ProductIDs:         d.ProductIDs,
		ValidFrom:          timeString(d.ValidFrom),
		ValidUntil:         timeString(d.ValidUntil),
		Active:             d.Active,
		TotalUsed:          d.TotalUsed,
		TotalDiscountGiven: money(d.TotalDiscountGiven),
	}
	if d.MaxDiscount != nil {
		payload.MaxDiscount = money(*d.MaxDiscount)
	}
	if d.Type == domain.DiscountBundle {
		payload.BundlePrice = money(d.BundlePrice)
	}
	return payload
}
