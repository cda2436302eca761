package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/pagination"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// OrderRepository stores the order aggregate as a JSONB document next to the indexed columns
// used for lookups. The unique index on order_number rejects duplicates.
type OrderRepository struct {
	db db
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	doc, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("orders.insert: encode %s: %w", order.ID, err)
	}
	_, err = r.db.conn(ctx).Exec(ctx, `
		INSERT INTO orders (id, order_number, customer_id, status, version, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, order.ID, order.OrderNumber, order.CustomerID, string(order.Status), order.Version, doc,
		order.CreatedAt.UTC(), order.UpdatedAt.UTC())
	return wrapError("orders.insert", err)
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int) error {
	doc, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("orders.update: encode %s: %w", order.ID, err)
	}
	tag, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE orders
		SET status = $3, version = $4, document = $5, updated_at = $6
		WHERE id = $1 AND version = $2
	`, order.ID, expectedVersion, string(order.Status), order.Version, doc, order.UpdatedAt.UTC())
	if err != nil {
		return wrapError("orders.update", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.FindByID(ctx, order.ID); err != nil {
			return err
		}
		return conflict("orders.update", "order %s is not at version %d", order.ID, expectedVersion)
	}
	return nil
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	tag, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return wrapError("orders.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("orders.delete", "order %s not found", orderID)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, "orders.find", `SELECT document FROM orders WHERE id = $1`, orderID)
}

func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	return r.findOne(ctx, "orders.findByNumber", `SELECT document FROM orders WHERE order_number = $1`, orderNumber)
}

func (r *OrderRepository) findOne(ctx context.Context, op, query string, arg string) (domain.Order, error) {
	var doc []byte
	if err := r.db.conn(ctx).QueryRow(ctx, query, arg).Scan(&doc); err != nil {
		return domain.Order{}, wrapError(op, err)
	}
	var order domain.Order
	if err := json.Unmarshal(doc, &order); err != nil {
		return domain.Order{}, fmt.Errorf("%s: decode %s: %w", op, arg, err)
	}
	return order, nil
}

// List pages newest first on (created_at, id). The page token carries the column value so the
// keyset comparison uses the stored precision.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	var after *time.Time
	if !cursor.IsZero() {
		after = &cursor.CreatedAt
	}
	statuses := filter.Status
	if statuses == nil {
		statuses = []string{}
	}

	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT document, created_at
		FROM orders
		WHERE ($1 = '' OR customer_id = $1)
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		  AND ($3::timestamptz IS NULL OR (created_at, id) < ($3::timestamptz, $4))
		ORDER BY created_at DESC, id DESC
		LIMIT $5
	`, filter.CustomerID, statuses, after, cursor.ID, pageSize+1)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError("orders.list", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrderRow)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError("orders.list", err)
	}

	page := domain.CursorPage[domain.Order]{}
	if len(orders) > pageSize {
		last := orders[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.createdAt, ID: last.order.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
		orders = orders[:pageSize]
	}
	page.Items = make([]domain.Order, len(orders))
	for i, row := range orders {
		page.Items[i] = row.order
	}
	return page, nil
}

type orderRow struct {
	order     domain.Order
	createdAt time.Time
}

func scanOrderRow(row pgx.CollectableRow) (orderRow, error) {
	var doc []byte
	var out orderRow
	if err := row.Scan(&doc, &out.createdAt); err != nil {
		return orderRow{}, err
	}
	if err := json.Unmarshal(doc, &out.order); err != nil {
		return orderRow{}, fmt.Errorf("decode order: %w", err)
	}
	return out, nil
}
