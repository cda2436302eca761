package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/pagination"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// OrderRepository stores orders with a unique order-number index.
type OrderRepository struct {
	mu       sync.RWMutex
	orders   map[string]domain.Order
	byNumber map[string]string
}

// NewOrderRepository constructs an empty order repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:   make(map[string]domain.Order),
		byNumber: make(map[string]string),
	}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return conflict("order %s already exists", order.ID)
	}
	if order.OrderNumber != "" {
		if _, taken := r.byNumber[order.OrderNumber]; taken {
			return conflict("order number %s already exists", order.OrderNumber)
		}
		r.byNumber[order.OrderNumber] = order.ID
	}
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *OrderRepository) Update(_ context.Context, order domain.Order, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[order.ID]
	if !ok {
		return notFound("order %s not found", order.ID)
	}
	if current.Version != expectedVersion {
		return conflict("order %s version %d, expected %d", order.ID, current.Version, expectedVersion)
	}
	order.OrderNumber = current.OrderNumber
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *OrderRepository) Delete(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[orderID]
	if !ok {
		return notFound("order %s not found", orderID)
	}
	delete(r.byNumber, current.OrderNumber)
	delete(r.orders, orderID)
	return nil
}

func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("order %s not found", orderID)
	}
	return order.Clone(), nil
}

func (r *OrderRepository) FindByNumber(_ context.Context, orderNumber string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byNumber[orderNumber]
	if !ok {
		return domain.Order{}, notFound("order number %s not found", orderNumber)
	}
	return r.orders[id].Clone(), nil
}

func (r *OrderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	r.mu.RLock()
	matched := make([]domain.Order, 0)
	for _, order := range r.orders {
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, string(order.Status)) {
			continue
		}
		if !cursor.After(order.CreatedAt, order.ID) {
			continue
		}
		matched = append(matched, order.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := domain.CursorPage[domain.Order]{}
	if len(matched) > pageSize {
		last := matched[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
		matched = matched[:pageSize]
	}
	page.Items = matched
	return page, nil
}
