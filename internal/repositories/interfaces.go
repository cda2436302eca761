package repositories

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	Products() ProductRepository
	Stock() StockRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Discounts() DiscountRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations so they apply or roll back together.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository persists catalog records.
type ProductRepository interface {
	Upsert(ctx context.Context, product domain.Product) (domain.Product, error)
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// StockRepository owns the per-product counters and the movement log.
// Apply must perform the availability check and the write as one atomic step.
type StockRepository interface {
	Apply(ctx context.Context, mutation StockMutation) (StockMutationResult, error)
	Get(ctx context.Context, productID string) (domain.StockLevel, error)
	ListMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error)
	ListLowStock(ctx context.Context, query LowStockQuery) ([]domain.StockLevel, error)
}

// StockMutation describes one atomic change to a stock level.
// When SetAvailable is non-nil the available counter is replaced and the variance is recorded;
// otherwise AvailableDelta and ReservedDelta are applied.
type StockMutation struct {
	ProductID       string
	AvailableDelta  int
	ReservedDelta   int
	SetAvailable    *int
	CreateIfMissing bool
	Movement        domain.StockMovement
}

// StockMutationResult returns the level after the mutation and the persisted movement.
type StockMutationResult struct {
	Level    domain.StockLevel
	Movement domain.StockMovement
}

// LowStockQuery filters levels at or under a threshold. A zero threshold uses each level's reorder level.
type LowStockQuery struct {
	Threshold int
	Limit     int
}

// OrderRepository persists orders. Update is conditional on the stored version.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order, expectedVersion int) error
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// PaymentRepository persists payment attempts. Update is conditional on the stored version.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	Update(ctx context.Context, payment domain.Payment, expectedVersion int) error
	Delete(ctx context.Context, paymentID string) error
	FindByID(ctx context.Context, paymentID string) (domain.Payment, error)
	FindByIntentID(ctx context.Context, intentID string) (domain.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
}

// DiscountRepository persists discount definitions and enforces usage limits atomically.
type DiscountRepository interface {
	Insert(ctx context.Context, discount domain.Discount) error
	FindByCode(ctx context.Context, code string) (domain.Discount, error)
	SetActive(ctx context.Context, code string, active bool, now time.Time) (domain.Discount, error)
	RecordUsage(ctx context.Context, usage DiscountUsage) (domain.Discount, error)
}

// DiscountUsage is one redemption. RecordUsage rejects it with a DiscountError when
// the total or per-customer cap is already reached.
type DiscountUsage struct {
	DiscountID string
	Code       string
	CustomerID string
	OrderID    string
	Amount     decimal.Decimal
	UsedAt     time.Time
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	CustomerID string
	Status     []string
	Pagination domain.Pagination
}
