package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/orderflow/internal/domain"
	pfirestore "github.com/hanko-field/orderflow/internal/platform/firestore"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const productsCollection = "products"

// ProductRepository persists catalog records keyed by product id.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
	}, nil
}

// Upsert writes the product and keeps the original creation time of an existing record.
func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	id := strings.TrimSpace(product.ID)
	var saved domain.Product
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.products.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		doc := newProductDocument(product)
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var existing productDocument
			if err := snap.DataTo(&existing); err != nil {
				return fmt.Errorf("decode product %s: %w", id, err)
			}
			doc.CreatedAt = existing.CreatedAt
		case status.Code(err) != codes.NotFound:
			return err
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = doc.toDomain(id)
		return nil
	})
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.upsert", err)
	}
	return saved, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}
