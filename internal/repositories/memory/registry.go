// Package memory implements the repositories on process memory. It backs local development
// and the service tests; every mutation is atomic under a mutex and the unit of work compensates.
package memory

import (
	"context"

	"github.com/hanko-field/orderflow/internal/platform/txn"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// Registry wires the in-memory repositories together.
type Registry struct {
	*txn.JournalUnitOfWork

	products  *ProductRepository
	stock     *StockRepository
	orders    *OrderRepository
	payments  *PaymentRepository
	discounts *DiscountRepository
	counters  *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...txn.Option) *Registry {
	return &Registry{
		JournalUnitOfWork: txn.NewJournalUnitOfWork(opts...),
		products:          NewProductRepository(),
		stock:             NewStockRepository(),
		orders:            NewOrderRepository(),
		payments:          NewPaymentRepository(),
		discounts:         NewDiscountRepository(),
		counters:          NewCounterRepository(),
	}
}

func (r *Registry) Close(context.Context) error { return nil }
func (r *Registry) Ping(context.Context) error  { return nil }

func (r *Registry) Products() repositories.ProductRepository   { return r.products }
func (r *Registry) Stock() repositories.StockRepository        { return r.stock }
func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Payments() repositories.PaymentRepository   { return r.payments }
func (r *Registry) Discounts() repositories.DiscountRepository { return r.discounts }
func (r *Registry) Counters() repositories.CounterRepository   { return r.counters }
