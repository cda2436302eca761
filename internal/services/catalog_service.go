package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

var (
	// ErrCatalogInvalidInput signals malformed product data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrProductNotFound indicates the product does not exist.
	ErrProductNotFound = errors.New("catalog: product not found")
	// ErrCatalogConflict indicates a concurrent catalog write won.
	ErrCatalogConflict = errors.New("catalog: conflict")
)

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Products repositories.ProductRepository
	Stock    repositories.StockRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products repositories.ProductRepository
	stock    repositories.StockRepository
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService wires the product and stock repositories into a CatalogService.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("catalog service: stock repository is required")
	}
	return &catalogService{
		products: deps.Products,
		stock:    deps.Stock,
		clock:    utcClock(deps.Clock),
		logger:   loggerOrNoop(deps.Logger),
	}, nil
}

// GetSnapshot joins the product's current selling price with its stock counters.
// A product without a stock record reports zero availability.
func (s *catalogService) GetSnapshot(ctx context.Context, productID string) (ProductSnapshot, error) {
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return ProductSnapshot{}, err
	}

	snapshot := ProductSnapshot{
		ProductID: product.ID,
		Name:      product.Name,
		UnitPrice: product.SellingPrice,
		CostPrice: product.CostPrice,
	}

	level, err := s.stock.Get(ctx, product.ID)
	switch {
	case err == nil:
		snapshot.Available = level.Available
		snapshot.Reserved = level.Reserved
	case isRepositoryNotFound(err):
	default:
		return ProductSnapshot{}, mapRepositoryError(err, nil, nil)
	}
	return snapshot, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, mapRepositoryError(err, ErrProductNotFound, ErrCatalogConflict)
	}
	return product, nil
}

func (s *catalogService) UpsertProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	product, err := domain.NewProduct(cmd.ProductID, cmd.Name, cmd.SellingPrice, cmd.CostPrice, s.clock())
	if err != nil {
		return Product{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}

	saved, err := s.products.Upsert(ctx, product)
	if err != nil {
		return Product{}, mapRepositoryError(err, ErrProductNotFound, ErrCatalogConflict)
	}

	s.logger(ctx, "catalog.product.upserted", map[string]any{
		"productId": saved.ID,
		"price":     saved.SellingPrice.String(),
		"actor":     cmd.ActorID,
	})
	return saved, nil
}
