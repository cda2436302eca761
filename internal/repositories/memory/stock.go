package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

type stockEntry struct {
	mu        sync.Mutex
	level     domain.StockLevel
	movements []domain.StockMovement
}

// StockRepository keeps one lock per product so debits on different products never contend.
type StockRepository struct {
	mu      sync.RWMutex
	entries map[string]*stockEntry
}

// NewStockRepository constructs an empty ledger.
func NewStockRepository() *StockRepository {
	return &StockRepository{entries: make(map[string]*stockEntry)}
}

func (r *StockRepository) entry(productID string, create bool) *stockEntry {
	r.mu.RLock()
	e, ok := r.entries[productID]
	r.mu.RUnlock()
	if ok || !create {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.entries[productID]; ok {
		return e
	}
	e = &stockEntry{level: domain.StockLevel{ProductID: productID, ReorderLevel: domain.DefaultReorderLevel}}
	r.entries[productID] = e
	return e
}

func (r *StockRepository) Apply(_ context.Context, m repositories.StockMutation) (repositories.StockMutationResult, error) {
	if m.ProductID == "" {
		return repositories.StockMutationResult{}, repositories.NewStockError(repositories.StockErrorInvalidInput, "", "product id is required", nil)
	}

	e := r.entry(m.ProductID, m.CreateIfMissing)
	if e == nil {
		return repositories.StockMutationResult{}, repositories.NewStockError(repositories.StockErrorNotFound, m.ProductID, "stock record not found", nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	level := e.level
	availableDelta := m.AvailableDelta
	if m.SetAvailable != nil {
		availableDelta = *m.SetAvailable - level.Available
	}

	nextAvailable := level.Available + availableDelta
	nextReserved := level.Reserved + m.ReservedDelta
	if nextAvailable < 0 {
		return repositories.StockMutationResult{}, repositories.NewInsufficientStockError(m.ProductID, level.Available, -availableDelta)
	}
	if nextReserved < 0 {
		return repositories.StockMutationResult{}, repositories.NewInsufficientStockError(m.ProductID, level.Reserved, -m.ReservedDelta)
	}

	level.Available = nextAvailable
	level.Reserved = nextReserved
	level.UpdatedAt = m.Movement.CreatedAt
	e.level = level

	movement := repositories.CompleteMovement(m.Movement, m.ProductID, availableDelta, level.Available)
	e.movements = append(e.movements, movement)

	return repositories.StockMutationResult{Level: level, Movement: movement}, nil
}

func (r *StockRepository) Get(_ context.Context, productID string) (domain.StockLevel, error) {
	e := r.entry(productID, false)
	if e == nil {
		return domain.StockLevel{}, notFound("stock for %s not found", productID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level, nil
}

func (r *StockRepository) ListMovements(_ context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	e := r.entry(productID, false)
	if e == nil {
		return nil, notFound("stock for %s not found", productID)
	}
	e.mu.Lock()
	movements := slices.Clone(e.movements)
	e.mu.Unlock()

	slices.Reverse(movements)
	if limit > 0 && len(movements) > limit {
		movements = movements[:limit]
	}
	return movements, nil
}

func (r *StockRepository) ListLowStock(_ context.Context, query repositories.LowStockQuery) ([]domain.StockLevel, error) {
	r.mu.RLock()
	entries := make([]*stockEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var out []domain.StockLevel
	for _, e := range entries {
		e.mu.Lock()
		level := e.level
		e.mu.Unlock()
		if repositories.IsLowStock(level, query.Threshold) {
			out = append(out, level)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Available == out[j].Available {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].Available < out[j].Available
	})
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}
