package memory

import (
	"context"
	"sync"

	"github.com/hanko-field/orderflow/internal/repositories"
)

// CounterRepository hands out monotonically increasing sequence values.
type CounterRepository struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewCounterRepository constructs an empty counter repository.
func NewCounterRepository() *CounterRepository {
	return &CounterRepository{values: make(map[string]int64)}
}

func (r *CounterRepository) Next(_ context.Context, counterID string, step int64) (int64, error) {
	if counterID == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step <= 0 {
		step = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[counterID] += step
	return r.values[counterID], nil
}
