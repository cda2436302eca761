package postgres

import (
	"context"
	"strings"

	"github.com/hanko-field/orderflow/internal/repositories"
)

// CounterRepository increments sequences with a single upsert statement. It always uses the
// pool so an open unit of work never holds the counter row lock; values are not reused after a rollback.
type CounterRepository struct {
	db db
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step <= 0 {
		step = 1
	}
	var value int64
	err := r.db.pool.QueryRow(ctx, `
		INSERT INTO counters (id, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE
		SET value = counters.value + EXCLUDED.value, updated_at = now()
		RETURNING value
	`, id, step).Scan(&value)
	if err != nil {
		return 0, wrapError("counters.next", err)
	}
	return value, nil
}
