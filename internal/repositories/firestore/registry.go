// Package firestore implements the repositories on Cloud Firestore. Each mutation runs in its
// own Firestore transaction; the embedded journal unit of work compensates across repositories.
package firestore

import (
	"context"
	"errors"

	"google.golang.org/api/iterator"

	pfirestore "github.com/hanko-field/orderflow/internal/platform/firestore"
	"github.com/hanko-field/orderflow/internal/platform/txn"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// Registry wires the Firestore repositories to a shared provider.
type Registry struct {
	*txn.JournalUnitOfWork

	provider  *pfirestore.Provider
	products  *ProductRepository
	stock     *StockRepository
	orders    *OrderRepository
	payments  *PaymentRepository
	discounts *DiscountRepository
	counters  *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository on top of provider.
func NewRegistry(provider *pfirestore.Provider, opts ...txn.Option) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	reg := &Registry{JournalUnitOfWork: txn.NewJournalUnitOfWork(opts...), provider: provider}

	var err error
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, err
	}
	if reg.stock, err = NewStockRepository(provider); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.payments, err = NewPaymentRepository(provider); err != nil {
		return nil, err
	}
	if reg.discounts, err = NewDiscountRepository(provider); err != nil {
		return nil, err
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

// Ping reads at most one product document to prove the client can reach the database.
func (r *Registry) Ping(ctx context.Context) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	iter := client.Collection(productsCollection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return pfirestore.WrapError("firestore.ping", err)
	}
	return nil
}

func (r *Registry) Products() repositories.ProductRepository   { return r.products }
func (r *Registry) Stock() repositories.StockRepository        { return r.stock }
func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Payments() repositories.PaymentRepository   { return r.payments }
func (r *Registry) Discounts() repositories.DiscountRepository { return r.discounts }
func (r *Registry) Counters() repositories.CounterRepository   { return r.counters }
