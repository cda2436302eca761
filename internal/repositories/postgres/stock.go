package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const defaultLowStockLimit = 50

// StockRepository applies deltas with a conditional UPDATE so the availability check and the
// write are one statement; the movement row is inserted in the same transaction.
type StockRepository struct {
	db db
}

var _ repositories.StockRepository = (*StockRepository)(nil)

func (r *StockRepository) Apply(ctx context.Context, m repositories.StockMutation) (repositories.StockMutationResult, error) {
	productID := strings.TrimSpace(m.ProductID)
	if productID == "" {
		return repositories.StockMutationResult{}, repositories.NewStockError(repositories.StockErrorInvalidInput, "", "product id is required", nil)
	}
	at := m.Movement.CreatedAt.UTC()
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var result repositories.StockMutationResult
	err := r.db.withTx(ctx, func(ctx context.Context, q querier) error {
		if m.CreateIfMissing {
			if _, err := q.Exec(ctx, `
				INSERT INTO stock_levels (product_id, available, reserved, reorder_level, updated_at)
				VALUES ($1, 0, 0, 0, $2)
				ON CONFLICT (product_id) DO NOTHING
			`, productID, at); err != nil {
				return err
			}
		}

		delta := m.AvailableDelta
		if m.SetAvailable != nil {
			var current int
			err := q.QueryRow(ctx, `SELECT available FROM stock_levels WHERE product_id = $1 FOR UPDATE`, productID).Scan(&current)
			if errors.Is(err, pgx.ErrNoRows) {
				return repositories.NewStockError(repositories.StockErrorNotFound, productID, "stock record not found", nil)
			}
			if err != nil {
				return err
			}
			delta = *m.SetAvailable - current
		}

		level := domain.StockLevel{ProductID: productID}
		err := q.QueryRow(ctx, `
			UPDATE stock_levels
			SET available = available + $2, reserved = reserved + $3, updated_at = $4
			WHERE product_id = $1 AND available + $2 >= 0 AND reserved + $3 >= 0
			RETURNING available, reserved, reorder_level, updated_at
		`, productID, delta, m.ReservedDelta, at).Scan(&level.Available, &level.Reserved, &level.ReorderLevel, &level.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return r.explainRejected(ctx, q, productID, delta, m.ReservedDelta)
		}
		if err != nil {
			return err
		}
		level.UpdatedAt = level.UpdatedAt.UTC()

		movement := repositories.CompleteMovement(m.Movement, productID, delta, level.Available)
		if movement.ID == "" {
			movement.ID = "mov_" + ulid.Make().String()
		}
		movement.CreatedAt = at
		if _, err := q.Exec(ctx, `
			INSERT INTO stock_movements (id, product_id, type, quantity, direction, reference, reason, actor_id, available_after, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, movement.ID, productID, string(movement.Type), movement.Quantity, movement.Direction,
			movement.Reference, movement.Reason, movement.ActorID, movement.AvailableAfter, movement.CreatedAt); err != nil {
			return err
		}

		result = repositories.StockMutationResult{Level: level, Movement: movement}
		return nil
	})
	if err != nil {
		return repositories.StockMutationResult{}, wrapStockError("stock.apply", err)
	}
	return result, nil
}

// explainRejected tells a missing record apart from a rejected debit after the conditional UPDATE matched nothing.
func (r *StockRepository) explainRejected(ctx context.Context, q querier, productID string, delta, reservedDelta int) error {
	var available, reserved int
	err := q.QueryRow(ctx, `SELECT available, reserved FROM stock_levels WHERE product_id = $1`, productID).Scan(&available, &reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return repositories.NewStockError(repositories.StockErrorNotFound, productID, "stock record not found", nil)
	}
	if err != nil {
		return err
	}
	if available+delta < 0 {
		return repositories.NewInsufficientStockError(productID, available, -delta)
	}
	return repositories.NewInsufficientStockError(productID, reserved, -reservedDelta)
}

func (r *StockRepository) Get(ctx context.Context, productID string) (domain.StockLevel, error) {
	level := domain.StockLevel{ProductID: productID}
	err := r.db.conn(ctx).QueryRow(ctx, `
		SELECT available, reserved, reorder_level, updated_at FROM stock_levels WHERE product_id = $1
	`, productID).Scan(&level.Available, &level.Reserved, &level.ReorderLevel, &level.UpdatedAt)
	if err != nil {
		return domain.StockLevel{}, wrapError("stock.get", err)
	}
	level.UpdatedAt = level.UpdatedAt.UTC()
	return level, nil
}

func (r *StockRepository) ListMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	if _, err := r.Get(ctx, productID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT id, product_id, type, quantity, direction, reference, reason, actor_id, available_after, created_at
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, wrapError("stock.movements", err)
	}
	defer rows.Close()

	var movements []domain.StockMovement
	for rows.Next() {
		var m domain.StockMovement
		var kind string
		if err := rows.Scan(&m.ID, &m.ProductID, &kind, &m.Quantity, &m.Direction, &m.Reference, &m.Reason, &m.ActorID, &m.AvailableAfter, &m.CreatedAt); err != nil {
			return nil, wrapError("stock.movements", err)
		}
		m.Type = domain.MovementType(kind)
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("stock.movements", err)
	}
	return movements, nil
}

func (r *StockRepository) ListLowStock(ctx context.Context, query repositories.LowStockQuery) ([]domain.StockLevel, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLowStockLimit
	}
	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT product_id, available, reserved, reorder_level, updated_at
		FROM stock_levels
		WHERE available <= CASE
			WHEN $1 > 0 THEN $1
			WHEN reorder_level > 0 THEN reorder_level
			ELSE $2
		END
		ORDER BY available ASC, product_id ASC
		LIMIT $3
	`, query.Threshold, domain.DefaultReorderLevel, limit)
	if err != nil {
		return nil, wrapError("stock.lowStock", err)
	}
	defer rows.Close()

	var levels []domain.StockLevel
	for rows.Next() {
		var level domain.StockLevel
		if err := rows.Scan(&level.ProductID, &level.Available, &level.Reserved, &level.ReorderLevel, &level.UpdatedAt); err != nil {
			return nil, wrapError("stock.lowStock", err)
		}
		level.UpdatedAt = level.UpdatedAt.UTC()
		levels = append(levels, level)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("stock.lowStock", err)
	}
	return levels, nil
}

func wrapStockError(op string, err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return wrapError(op, err)
}
