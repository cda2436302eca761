package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const checkoutDebitReason = "checkout"

// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
var ErrCheckoutInvalidInput = errors.New("checkout: invalid input")

// CheckoutServiceDeps wires the dependencies required by the checkout orchestrator.
type CheckoutServiceDeps struct {
	Catalog    CatalogService
	Discounts  DiscountService
	Stock      StockLedger
	Orders     OrderService
	Payments   PaymentService
	UnitOfWork repositories.UnitOfWork
	Pricing    PricingPolicy
	// StrictDiscounts turns a rejected discount code into a checkout failure instead of a zero discount.
	StrictDiscounts bool
	Clock           func() time.Time
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	catalog         CatalogService
	discounts       DiscountService
	stock           StockLedger
	orders          OrderService
	payments        PaymentService
	unitOfWork      repositories.UnitOfWork
	pricing         PricingPolicy
	strictDiscounts bool
	now             func() time.Time
	logger          func(ctx context.Context, event string, fields map[string]any)
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("checkout service: catalog service is required")
	case deps.Discounts == nil:
		return nil, errors.New("checkout service: discount service is required")
	case deps.Stock == nil:
		return nil, errors.New("checkout service: stock ledger is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order service is required")
	case deps.Payments == nil:
		return nil, errors.New("checkout service: payment service is required")
	}
	if deps.Pricing.TaxPercentage.IsNegative() || deps.Pricing.ShippingFee.IsNegative() {
		return nil, errors.New("checkout service: pricing policy cannot be negative")
	}

	return &checkoutService{
		catalog:         deps.Catalog,
		discounts:       deps.Discounts,
		stock:           deps.Stock,
		orders:          deps.Orders,
		payments:        deps.Payments,
		unitOfWork:      unitOrNoop(deps.UnitOfWork),
		pricing:         deps.Pricing,
		strictDiscounts: deps.StrictDiscounts,
		now:             utcClock(deps.Clock),
		logger:          loggerOrNoop(deps.Logger),
	}, nil
}

// PlaceOrder prices the cart from catalog snapshots, then debits stock, creates the order and records
// discount usage as one unit of work. Payment is initiated once that unit has committed.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (CheckoutResult, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	lines, err := normaliseCheckoutLines(cmd.Items)
	if err != nil {
		return CheckoutResult{}, err
	}
	if customerID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: customer id is required", ErrCheckoutInvalidInput)
	}
	if !cmd.PaymentMethod.Valid() {
		return CheckoutResult{}, fmt.Errorf("%w: unsupported payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}
	if err := validateAddress(cmd.ShippingAddress); err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: shipping %v", ErrCheckoutInvalidInput, err)
	}
	if cmd.BillingAddress != nil {
		if err := validateAddress(*cmd.BillingAddress); err != nil {
			return CheckoutResult{}, fmt.Errorf("%w: billing %v", ErrCheckoutInvalidInput, err)
		}
	}

	items, err := s.snapshotLines(ctx, lines)
	if err != nil {
		return CheckoutResult{}, err
	}

	resolution, err := s.resolveDiscount(ctx, customerID, cmd.DiscountCode, items)
	if err != nil {
		return CheckoutResult{}, err
	}

	priced, pricing, err := PriceOrder(items, resolution, s.pricing)
	if err != nil {
		return CheckoutResult{}, err
	}

	var order Order
	err = s.unitOfWork.RunInTx(ctx, func(ctx context.Context) error {
		created, err := s.orders.Create(ctx, CreateOrderCommand{
			CustomerID:      customerID,
			Items:           priced,
			Pricing:         pricing,
			ShippingAddress: cmd.ShippingAddress,
			BillingAddress:  cmd.BillingAddress,
			PaymentMethod:   cmd.PaymentMethod,
			Notes:           cmd.Notes,
		})
		if err != nil {
			return err
		}

		for _, item := range created.Items {
			if _, err := s.stock.Debit(ctx, StockCommand{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				Type:      domain.MovementOutbound,
				Reference: created.OrderNumber,
				Reason:    checkoutDebitReason,
				ActorID:   customerID,
			}); err != nil {
				return err
			}
		}

		if resolution.DiscountID != "" && (pricing.Discount.IsPositive() || resolution.WaivesShipping) {
			if _, err := s.discounts.RecordUsage(ctx, RecordDiscountUsageCommand{
				DiscountID: resolution.DiscountID,
				Code:       resolution.Code,
				CustomerID: customerID,
				OrderID:    created.ID,
				Amount:     pricing.Discount,
			}); err != nil {
				return err
			}
		}
		order = created
		return nil
	})
	if err != nil {
		s.logger(ctx, "checkout.failed", map[string]any{
			"customerId": customerID,
			"error":      err.Error(),
		})
		return CheckoutResult{}, err
	}

	s.logger(ctx, "checkout.order.placed", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"total":       order.Pricing.Total.StringFixed(domain.MoneyPlaces),
		"discount":    order.Pricing.DiscountCode,
	})

	result := CheckoutResult{Order: order}
	payment, err := s.payments.Initiate(ctx, InitiatePaymentCommand{
		OrderID:        order.ID,
		CustomerID:     customerID,
		Method:         cmd.PaymentMethod,
		IdempotencyKey: checkoutIdempotencyKey(cmd.IdempotencyKey, customerID, order.ID),
	})
	if err != nil {
		// The order stands; the buyer can initiate payment again.
		s.logger(ctx, "checkout.payment.initiate_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return result, nil
	}
	result.Payment = &payment
	if refreshed, err := s.orders.GetOrder(ctx, order.ID); err == nil {
		result.Order = refreshed
	}
	return result, nil
}

// CancelOrder cancels the order, which re-credits stock, and optionally refunds every completed payment.
// Refund failures are returned alongside the cancelled order.
func (s *checkoutService) CancelOrder(ctx context.Context, cmd CheckoutCancelCommand) (CheckoutCancelResult, error) {
	order, err := s.orders.Cancel(ctx, CancelOrderCommand{
		OrderID:    cmd.OrderID,
		Reason:     cmd.Reason,
		ActorID:    cmd.ActorID,
		CustomerID: cmd.CustomerID,
	})
	if err != nil {
		return CheckoutCancelResult{}, err
	}
	result := CheckoutCancelResult{Order: order}
	if !cmd.Refund {
		return result, nil
	}

	list, err := s.payments.ListByOrder(ctx, order.ID)
	if err != nil {
		return result, err
	}
	reason := cmd.RefundReason
	if strings.TrimSpace(reason) == "" {
		reason = cmd.Reason
	}
	var errs []error
	for _, p := range list {
		if p.Status != domain.PaymentStatusCompleted {
			continue
		}
		refunded, err := s.payments.Refund(ctx, RefundPaymentCommand{PaymentID: p.ID, Reason: reason, ActorID: cmd.ActorID})
		if err != nil {
			s.logger(ctx, "checkout.cancel.refund_failed", map[string]any{
				"orderId":   order.ID,
				"paymentId": p.ID,
				"error":     err.Error(),
			})
			errs = append(errs, err)
			continue
		}
		result.Refunded = append(result.Refunded, refunded)
	}
	if refreshed, err := s.orders.GetOrder(ctx, order.ID); err == nil {
		result.Order = refreshed
	}
	return result, errors.Join(errs...)
}

// RestockReturn credits approved return items back to the ledger.
func (s *checkoutService) RestockReturn(ctx context.Context, cmd ReturnDecisionCommand) (Order, error) {
	return s.orders.RestockReturn(ctx, cmd)
}

// snapshotLines reads each product's committed price and stock. Client prices never reach pricing.
func (s *checkoutService) snapshotLines(ctx context.Context, lines []PlaceOrderLine) ([]OrderLineItem, error) {
	items := make([]OrderLineItem, 0, len(lines))
	for _, line := range lines {
		snapshot, err := s.catalog.GetSnapshot(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if snapshot.Available < line.Quantity {
			return nil, fmt.Errorf("%w: %s has %d available, %d requested", ErrStockInsufficient, line.ProductID, snapshot.Available, line.Quantity)
		}
		items = append(items, OrderLineItem{
			ProductID: snapshot.ProductID,
			Name:      snapshot.Name,
			Quantity:  line.Quantity,
			UnitPrice: snapshot.UnitPrice,
		})
	}
	return items, nil
}

// resolveDiscount absorbs a rejected code into a zero discount unless strict mode is on.
// Persistence failures always abort.
func (s *checkoutService) resolveDiscount(ctx context.Context, customerID, code string, items []OrderLineItem) (DiscountResolution, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return DiscountResolution{}, nil
	}

	subtotal := decimal.Zero
	lines := make([]DiscountLine, 0, len(items))
	for _, item := range items {
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		lines = append(lines, DiscountLine{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}

	resolution, err := s.discounts.Resolve(ctx, ResolveDiscountCommand{
		Code:       code,
		CustomerID: customerID,
		Subtotal:   domain.Round2(subtotal),
		Items:      lines,
	})
	if err == nil {
		return resolution, nil
	}
	if s.strictDiscounts || ClassifyError(err) == ErrorKindDependency {
		return DiscountResolution{}, err
	}
	s.logger(ctx, "checkout.discount.ignored", map[string]any{
		"code":       code,
		"customerId": customerID,
		"reason":     err.Error(),
	})
	return DiscountResolution{}, nil
}

// normaliseCheckoutLines validates requested lines and merges repeated products.
func normaliseCheckoutLines(lines []PlaceOrderLine) ([]PlaceOrderLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrCheckoutInvalidInput)
	}
	merged := make([]PlaceOrderLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for i, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: item %d has no product id", ErrCheckoutInvalidInput, i)
		}
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: item %d quantity must be at least 1", ErrCheckoutInvalidInput, i)
		}
		if pos, ok := index[productID]; ok {
			merged[pos].Quantity += line.Quantity
			continue
		}
		index[productID] = len(merged)
		merged = append(merged, PlaceOrderLine{ProductID: productID, Quantity: line.Quantity})
	}
	return merged, nil
}

// checkoutIdempotencyKey derives a stable gateway key for the order's first payment attempt.
func checkoutIdempotencyKey(requestKey, customerID, orderID string) string {
	if key := strings.TrimSpace(requestKey); key != "" {
		return key
	}
	sum := sha256.Sum256([]byte(customerID + "|" + orderID))
	return hex.EncodeToString(sum[:])
}
