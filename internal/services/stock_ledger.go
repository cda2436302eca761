package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/txn"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const (
	defaultMovementLimit = 50
	maxMovementLimit     = 500
	defaultLowStockLimit = 100
)

var (
	// ErrStockInvalidInput signals a malformed ledger command.
	ErrStockInvalidInput = errors.New("stock: invalid input")
	// ErrStockInsufficient indicates a debit would drive available stock below zero.
	ErrStockInsufficient = errors.New("stock: insufficient stock")
	// ErrStockNotFound indicates the product has no stock record.
	ErrStockNotFound = errors.New("stock: not found")
)

// StockLedgerDeps bundles collaborators required to construct the stock ledger.
type StockLedgerDeps struct {
	Stock       repositories.StockRepository
	Events      EventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type stockLedger struct {
	repo   repositories.StockRepository
	events EventPublisher
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

var _ StockLedger = (*stockLedger)(nil)

// NewStockLedger wires the stock repository into a StockLedger.
func NewStockLedger(deps StockLedgerDeps) (StockLedger, error) {
	if deps.Stock == nil {
		return nil, errors.New("stock ledger: stock repository is required")
	}
	return &stockLedger{
		repo:   deps.Stock,
		events: deps.Events,
		clock:  utcClock(deps.Clock),
		newID:  idGenerator(deps.IDGenerator),
		logger: loggerOrNoop(deps.Logger),
	}, nil
}

// Debit removes units from available stock. The check and the decrement are a single
// conditional write in the repository; a debit that would go negative is rejected.
func (l *stockLedger) Debit(ctx context.Context, cmd StockCommand) (StockMovement, error) {
	if err := validateStockCommand(cmd); err != nil {
		return StockMovement{}, err
	}
	return l.apply(ctx, "debit", repositories.StockMutation{
		ProductID:      strings.TrimSpace(cmd.ProductID),
		AvailableDelta: -cmd.Quantity,
		Movement:       l.movement(cmd, domain.MovementOutbound),
	})
}

// Credit adds units to available stock, creating the ledger entry on first receipt.
func (l *stockLedger) Credit(ctx context.Context, cmd StockCommand) (StockMovement, error) {
	if err := validateStockCommand(cmd); err != nil {
		return StockMovement{}, err
	}
	return l.apply(ctx, "credit", repositories.StockMutation{
		ProductID:       strings.TrimSpace(cmd.ProductID),
		AvailableDelta:  cmd.Quantity,
		CreateIfMissing: true,
		Movement:        l.movement(cmd, domain.MovementInbound),
	})
}

// Adjust replaces the available count after a physical count and records the signed variance.
func (l *stockLedger) Adjust(ctx context.Context, cmd StockAdjustCommand) (StockMovement, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return StockMovement{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	if cmd.NewAvailable < 0 {
		return StockMovement{}, fmt.Errorf("%w: available count cannot be negative", ErrStockInvalidInput)
	}
	target := cmd.NewAvailable
	return l.apply(ctx, "adjust", repositories.StockMutation{
		ProductID:       productID,
		SetAvailable:    &target,
		CreateIfMissing: true,
		Movement: l.movement(StockCommand{
			Reference: cmd.Reference,
			Reason:    cmd.Reason,
			ActorID:   cmd.ActorID,
		}, domain.MovementPhysicalCount),
	})
}

// Reserve moves units from available to reserved.
func (l *stockLedger) Reserve(ctx context.Context, cmd StockCommand) (StockMovement, error) {
	if err := validateStockCommand(cmd); err != nil {
		return StockMovement{}, err
	}
	cmd.Type = domain.MovementReserve
	return l.apply(ctx, "reserve", repositories.StockMutation{
		ProductID:      strings.TrimSpace(cmd.ProductID),
		AvailableDelta: -cmd.Quantity,
		ReservedDelta:  cmd.Quantity,
		Movement:       l.movement(cmd, domain.MovementReserve),
	})
}

// Release returns reserved units to available stock.
func (l *stockLedger) Release(ctx context.Context, cmd StockCommand) (StockMovement, error) {
	if err := validateStockCommand(cmd); err != nil {
		return StockMovement{}, err
	}
	cmd.Type = domain.MovementRelease
	return l.apply(ctx, "release", repositories.StockMutation{
		ProductID:      strings.TrimSpace(cmd.ProductID),
		AvailableDelta: cmd.Quantity,
		ReservedDelta:  -cmd.Quantity,
		Movement:       l.movement(cmd, domain.MovementRelease),
	})
}

func (l *stockLedger) GetLevel(ctx context.Context, productID string) (StockLevel, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return StockLevel{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	level, err := l.repo.Get(ctx, productID)
	if err != nil {
		return StockLevel{}, mapRepositoryError(err, ErrStockNotFound, nil)
	}
	return level, nil
}

// ListMovements returns the most recent movements first.
func (l *stockLedger) ListMovements(ctx context.Context, productID string, limit int) ([]StockMovement, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	switch {
	case limit <= 0:
		limit = defaultMovementLimit
	case limit > maxMovementLimit:
		limit = maxMovementLimit
	}
	movements, err := l.repo.ListMovements(ctx, productID, limit)
	if err != nil {
		return nil, mapRepositoryError(err, ErrStockNotFound, nil)
	}
	return movements, nil
}

// ListLowStock lists levels at or under threshold, or under their own reorder level when threshold is zero.
func (l *stockLedger) ListLowStock(ctx context.Context, threshold int, limit int) ([]StockLevel, error) {
	if threshold < 0 {
		return nil, fmt.Errorf("%w: threshold cannot be negative", ErrStockInvalidInput)
	}
	if limit <= 0 {
		limit = defaultLowStockLimit
	}
	levels, err := l.repo.ListLowStock(ctx, repositories.LowStockQuery{Threshold: threshold, Limit: limit})
	if err != nil {
		return nil, mapRepositoryError(err, ErrStockNotFound, nil)
	}
	return levels, nil
}

func (l *stockLedger) apply(ctx context.Context, op string, mutation repositories.StockMutation) (StockMovement, error) {
	result, err := l.repo.Apply(ctx, mutation)
	if err != nil {
		return StockMovement{}, mapStockError(op, err)
	}

	movement := result.Movement
	reservedDelta := mutation.ReservedDelta
	txn.OnRollback(ctx, func(ctx context.Context) error {
		return l.reverse(ctx, movement, reservedDelta)
	})

	l.logger(ctx, "stock."+op, map[string]any{
		"productId": movement.ProductID,
		"movement":  movement.ID,
		"delta":     movement.Delta(),
		"available": result.Level.Available,
		"reference": movement.Reference,
	})

	if movement.Delta() < 0 && result.Level.IsLow() {
		level := result.Level
		txn.AfterCommit(ctx, func(ctx context.Context) {
			publishEvent(ctx, l.events, l.logger, DomainEvent{
				Type:          EventStockLow,
				AggregateType: "stock",
				AggregateID:   level.ProductID,
				OccurredAt:    l.clock(),
				Metadata: map[string]any{
					"available":    level.Available,
					"reserved":     level.Reserved,
					"reorderLevel": level.ReorderLevel,
				},
			})
		})
	}
	return movement, nil
}

// reverse appends a compensating movement; the ledger is never rewritten.
func (l *stockLedger) reverse(ctx context.Context, movement StockMovement, reservedDelta int) error {
	if movement.Delta() == 0 && reservedDelta == 0 {
		return nil
	}
	_, err := l.repo.Apply(ctx, repositories.StockMutation{
		ProductID:      movement.ProductID,
		AvailableDelta: -movement.Delta(),
		ReservedDelta:  -reservedDelta,
		Movement: domain.StockMovement{
			ID:        movementIDPrefix + l.newID(),
			Type:      domain.MovementAdjustment,
			Reference: movement.ID,
			Reason:    "rollback",
			ActorID:   movement.ActorID,
			CreatedAt: l.clock(),
		},
	})
	if err != nil {
		return fmt.Errorf("stock: reverse movement %s: %w", movement.ID, err)
	}
	return nil
}

func (l *stockLedger) movement(cmd StockCommand, fallback domain.MovementType) domain.StockMovement {
	kind := cmd.Type
	if kind == "" {
		kind = fallback
	}
	return domain.StockMovement{
		ID:        movementIDPrefix + l.newID(),
		Type:      kind,
		Reference: strings.TrimSpace(cmd.Reference),
		Reason:    sanitizeText(cmd.Reason),
		ActorID:   strings.TrimSpace(cmd.ActorID),
		CreatedAt: l.clock(),
	}
}

func validateStockCommand(cmd StockCommand) error {
	if strings.TrimSpace(cmd.ProductID) == "" {
		return fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	if cmd.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrStockInvalidInput)
	}
	return nil
}

func mapStockError(op string, err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %s", ErrStockInsufficient, stockErr.Message)
		case repositories.StockErrorNotFound:
			return fmt.Errorf("%w: product %s", ErrStockNotFound, stockErr.ProductID)
		case repositories.StockErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrStockInvalidInput, stockErr.Message)
		}
	}
	return fmt.Errorf("stock %s: %w", op, mapRepositoryError(err, ErrStockNotFound, nil))
}
