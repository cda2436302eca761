package redis

import (
	"context"
	"strings"

	"github.com/hanko-field/orderflow/internal/repositories"
)

// CounterRepository issues sequence values with INCRBY. Values are never reused, even when the
// surrounding checkout later rolls back.
type CounterRepository struct {
	client *Client
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository(client *Client) *CounterRepository {
	return &CounterRepository{client: client}
}

func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	counterID = strings.TrimSpace(counterID)
	if counterID == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step <= 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "step must be positive", nil)
	}
	value, err := r.client.rdb.IncrBy(ctx, r.client.Key("counters", counterID), step).Result()
	if err != nil {
		return 0, repositories.NewCounterError(repositories.CounterErrorUnknown, "increment counter "+counterID, err)
	}
	return value, nil
}
