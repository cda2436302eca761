package postgres

import (
	"context"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// ProductRepository persists catalog rows.
type ProductRepository struct {
	db db
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	err := r.db.conn(ctx).QueryRow(ctx, `
		INSERT INTO products (id, name, selling_price, cost_price, margin_percent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    selling_price = EXCLUDED.selling_price,
		    cost_price = EXCLUDED.cost_price,
		    margin_percent = EXCLUDED.margin_percent,
		    updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`, product.ID, product.Name, product.SellingPrice, product.CostPrice, product.MarginPercent,
		product.CreatedAt.UTC(), product.UpdatedAt.UTC()).Scan(&product.CreatedAt)
	if err != nil {
		return domain.Product{}, wrapError("products.upsert", err)
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return product, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	var p domain.Product
	err := r.db.conn(ctx).QueryRow(ctx, `
		SELECT id, name, selling_price, cost_price, margin_percent, created_at, updated_at
		FROM products
		WHERE id = $1
	`, productID).Scan(&p.ID, &p.Name, &p.SellingPrice, &p.CostPrice, &p.MarginPercent, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Product{}, wrapError("products.find", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}
