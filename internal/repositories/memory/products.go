package memory

import (
	"context"
	"sync"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

// ProductRepository stores catalog records.
type ProductRepository struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

// NewProductRepository constructs an empty product repository.
func NewProductRepository() *ProductRepository {
	return &ProductRepository{products: make(map[string]domain.Product)}
}

func (r *ProductRepository) Upsert(_ context.Context, product domain.Product) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.products[product.ID]; ok {
		product.CreatedAt = existing.CreatedAt
	}
	r.products[product.ID] = product
	return product, nil
}

func (r *ProductRepository) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.products[productID]
	if !ok {
		return domain.Product{}, notFound("product %s not found", productID)
	}
	return product, nil
}
