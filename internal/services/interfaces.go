package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Address            = domain.Address
	Product            = domain.Product
	ProductSnapshot    = domain.ProductSnapshot
	Discount           = domain.Discount
	DiscountDefinition = domain.DiscountDefinition
	PriceBreakdown     = domain.PriceBreakdown
	StockLevel         = domain.StockLevel
	StockMovement      = domain.StockMovement
	Order              = domain.Order
	OrderLineItem      = domain.OrderLineItem
	OrderReturns       = domain.OrderReturns
	ReturnItem         = domain.ReturnItem
	Payment            = domain.Payment
	SystemHealthReport = domain.SystemHealthReport
)

// CatalogService is the read path for product price and stock, plus catalog maintenance.
type CatalogService interface {
	GetSnapshot(ctx context.Context, productID string) (ProductSnapshot, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	UpsertProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
}

// DiscountService resolves codes into amounts and tracks their redemption.
type DiscountService interface {
	Resolve(ctx context.Context, cmd ResolveDiscountCommand) (DiscountResolution, error)
	Validate(ctx context.Context, cmd ResolveDiscountCommand) (DiscountResolution, error)
	RecordUsage(ctx context.Context, cmd RecordDiscountUsageCommand) (Discount, error)
	CreateDiscount(ctx context.Context, def DiscountDefinition) (Discount, error)
	GetDiscount(ctx context.Context, code string) (Discount, error)
	SetDiscountActive(ctx context.Context, cmd SetDiscountActiveCommand) (Discount, error)
}

// StockLedger owns available/reserved counters and the append-only movement log.
type StockLedger interface {
	Debit(ctx context.Context, cmd StockCommand) (StockMovement, error)
	Credit(ctx context.Context, cmd StockCommand) (StockMovement, error)
	Adjust(ctx context.Context, cmd StockAdjustCommand) (StockMovement, error)
	Reserve(ctx context.Context, cmd StockCommand) (StockMovement, error)
	Release(ctx context.Context, cmd StockCommand) (StockMovement, error)
	GetLevel(ctx context.Context, productID string) (StockLevel, error)
	ListMovements(ctx context.Context, productID string, limit int) ([]StockMovement, error)
	ListLowStock(ctx context.Context, threshold int, limit int) ([]StockLevel, error)
}

// OrderService drives an order through its status, payment, shipping and return sub-states.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	UpdateShipping(ctx context.Context, cmd UpdateShippingCommand) (Order, error)
	UpdateShippingAddress(ctx context.Context, cmd UpdateShippingAddressCommand) (Order, error)
	AddNote(ctx context.Context, cmd AddOrderNoteCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	RequestReturn(ctx context.Context, cmd RequestReturnCommand) (Order, error)
	ApproveReturn(ctx context.Context, cmd ReturnDecisionCommand) (Order, error)
	RejectReturn(ctx context.Context, cmd ReturnDecisionCommand) (Order, error)
	RestockReturn(ctx context.Context, cmd ReturnDecisionCommand) (Order, error)
	SetPaymentState(ctx context.Context, cmd SetOrderPaymentCommand) (Order, error)
}

// PaymentService tracks payment attempts and reconciles gateway results with orders.
type PaymentService interface {
	Initiate(ctx context.Context, cmd InitiatePaymentCommand) (Payment, error)
	Verify(ctx context.Context, cmd VerifyPaymentCommand) (Payment, error)
	MarkCompleted(ctx context.Context, cmd MarkPaymentCompletedCommand) (Payment, error)
	MarkFailed(ctx context.Context, cmd MarkPaymentFailedCommand) (Payment, error)
	Retry(ctx context.Context, cmd RetryPaymentCommand) (Payment, error)
	Refund(ctx context.Context, cmd RefundPaymentCommand) (Payment, error)
	HandleWebhook(ctx context.Context, cmd PaymentWebhookCommand) (Payment, error)
	GetPayment(ctx context.Context, paymentID string) (Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]Payment, error)
}

// CheckoutService composes the pipeline into place, cancel and return flows.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (CheckoutResult, error)
	CancelOrder(ctx context.Context, cmd CheckoutCancelCommand) (CheckoutCancelResult, error)
	RestockReturn(ctx context.Context, cmd ReturnDecisionCommand) (Order, error)
}

// CounterService issues human readable sequence numbers.
type CounterService interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// SystemService aggregates utility endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Command and DTO definitions ------------------------------------------------

type UpsertProductCommand struct {
	ProductID    string
	Name         string
	SellingPrice decimal.Decimal
	CostPrice    decimal.Decimal
	ActorID      string
}

// DiscountLine is a priced cart line used by item-aware discount types.
type DiscountLine struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

type ResolveDiscountCommand struct {
	Code       string
	CustomerID string
	Subtotal   decimal.Decimal
	Items      []DiscountLine
}

// DiscountResolution is the outcome of a successful resolve.
type DiscountResolution struct {
	DiscountID     string
	Code           string
	Type           domain.DiscountType
	Amount         decimal.Decimal
	WaivesShipping bool
}

type RecordDiscountUsageCommand struct {
	DiscountID string
	Code       string
	CustomerID string
	OrderID    string
	Amount     decimal.Decimal
}

type SetDiscountActiveCommand struct {
	Code    string
	Active  bool
	ActorID string
}

// StockCommand moves a positive quantity of one product.
type StockCommand struct {
	ProductID string
	Quantity  int
	Type      domain.MovementType
	Reference string
	Reason    string
	ActorID   string
}

type StockAdjustCommand struct {
	ProductID    string
	NewAvailable int
	Reason       string
	Reference    string
	ActorID      string
}

type CreateOrderCommand struct {
	CustomerID      string
	Items           []OrderLineItem
	Pricing         PriceBreakdown
	ShippingAddress Address
	BillingAddress  *Address
	PaymentMethod   domain.PaymentMethod
	Notes           string
}

type OrderListFilter struct {
	CustomerID string
	Status     []string
	Pagination Pagination
}

type UpdateOrderStatusCommand struct {
	OrderID string
	Status  string
	ActorID string
}

type UpdateShippingCommand struct {
	OrderID           string
	Status            string
	Carrier           string
	TrackingNumber    string
	EstimatedDelivery *time.Time
	ActorID           string
}

type UpdateShippingAddressCommand struct {
	OrderID string
	Address Address
	ActorID string
}

type AddOrderNoteCommand struct {
	OrderID string
	Note    string
	ActorID string
}

type CancelOrderCommand struct {
	OrderID string
	Reason  string
	ActorID string
	// CustomerID, when set, restricts cancellation to the order's owner.
	CustomerID string
}

// ReturnLine requests the return of a quantity of one ordered product.
type ReturnLine struct {
	ProductID string
	Quantity  int
}

type RequestReturnCommand struct {
	OrderID    string
	CustomerID string
	Items      []ReturnLine
	Reason     string
}

type ReturnDecisionCommand struct {
	OrderID      string
	ActorID      string
	Note         string
	RefundAmount *decimal.Decimal
}

type SetOrderPaymentCommand struct {
	OrderID       string
	PaymentID     string
	Status        domain.PaymentStatus
	TransactionID string
	PaidAmount    decimal.Decimal
}

type InitiatePaymentCommand struct {
	OrderID        string
	CustomerID     string
	Amount         *decimal.Decimal
	Method         domain.PaymentMethod
	IdempotencyKey string
}

type VerifyPaymentCommand struct {
	PaymentID   string
	IntentID    string
	ReferenceID string
	Signature   string
}

type MarkPaymentCompletedCommand struct {
	PaymentID  string
	GatewayRef string
	Code       string
	Message    string
}

type MarkPaymentFailedCommand struct {
	PaymentID string
	Reason    string
	Code      string
}

type RetryPaymentCommand struct {
	PaymentID string
}

type RefundPaymentCommand struct {
	PaymentID string
	Reason    string
	Amount    *decimal.Decimal
	ActorID   string
}

type PaymentWebhookCommand struct {
	Provider  string
	Payload   []byte
	Signature string
}

// PlaceOrderLine is a requested line; any client supplied price is ignored.
type PlaceOrderLine struct {
	ProductID string
	Quantity  int
}

type PlaceOrderCommand struct {
	CustomerID      string
	Items           []PlaceOrderLine
	ShippingAddress Address
	BillingAddress  *Address
	DiscountCode    string
	PaymentMethod   domain.PaymentMethod
	Notes           string
	IdempotencyKey  string
}

// CheckoutResult carries the created order and, when the gateway accepted it, the pending payment.
type CheckoutResult struct {
	Order   Order
	Payment *Payment
}

type CheckoutCancelCommand struct {
	OrderID      string
	Reason       string
	ActorID      string
	CustomerID   string
	Refund       bool
	RefundReason string
}

type CheckoutCancelResult struct {
	Order    Order
	Refunded []Payment
}
