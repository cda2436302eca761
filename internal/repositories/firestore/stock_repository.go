package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/orderflow/internal/domain"
	pfirestore "github.com/hanko-field/orderflow/internal/platform/firestore"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const (
	stockCollection     = "stock"
	movementsCollection = "movements"
	defaultLowStockPage = 50
)

// StockRepository keeps one document per product and its movements in a subcollection.
// Every Apply reads, checks and writes inside a single Firestore transaction.
type StockRepository struct {
	provider *pfirestore.Provider
	stocks   *pfirestore.BaseRepository[stockDocument]
}

var _ repositories.StockRepository = (*StockRepository)(nil)

func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	return &StockRepository{
		provider: provider,
		stocks:   pfirestore.NewBaseRepository[stockDocument](provider, stockCollection),
	}, nil
}

func (r *StockRepository) Apply(ctx context.Context, m repositories.StockMutation) (repositories.StockMutationResult, error) {
	productID := strings.TrimSpace(m.ProductID)
	if productID == "" {
		return repositories.StockMutationResult{}, repositories.NewStockError(repositories.StockErrorInvalidInput, "", "product id is required", nil)
	}

	var result repositories.StockMutationResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		stockRef, err := r.stocks.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}

		var doc stockDocument
		snap, err := tx.Get(stockRef)
		switch {
		case err == nil:
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode stock %s: %w", productID, err)
			}
		case status.Code(err) == codes.NotFound:
			if !m.CreateIfMissing {
				return repositories.NewStockError(repositories.StockErrorNotFound, productID, fmt.Sprintf("stock %s not found", productID), err)
			}
			doc = stockDocument{ProductID: productID}
		default:
			return err
		}

		delta := m.AvailableDelta
		if m.SetAvailable != nil {
			delta = *m.SetAvailable - doc.Available
		}
		if doc.Available+delta < 0 {
			return repositories.NewInsufficientStockError(productID, doc.Available, -delta)
		}
		if doc.Reserved+m.ReservedDelta < 0 {
			return repositories.NewInsufficientStockError(productID, doc.Reserved, -m.ReservedDelta)
		}

		doc.ProductID = productID
		doc.Available += delta
		doc.Reserved += m.ReservedDelta
		doc.UpdatedAt = m.Movement.CreatedAt.UTC()
		doc.recalculate()
		if err := tx.Set(stockRef, doc); err != nil {
			return err
		}

		movement := repositories.CompleteMovement(m.Movement, productID, delta, doc.Available)
		movementRef := stockRef.Collection(movementsCollection).NewDoc()
		if movement.ID != "" {
			movementRef = stockRef.Collection(movementsCollection).Doc(movement.ID)
		}
		movement.ID = movementRef.ID
		if err := tx.Create(movementRef, newMovementDocument(movement)); err != nil {
			return err
		}

		result = repositories.StockMutationResult{Level: doc.toDomain(productID), Movement: movement}
		return nil
	})
	if err != nil {
		return repositories.StockMutationResult{}, wrapStockError("stock.apply", err)
	}
	return result, nil
}

func (r *StockRepository) Get(ctx context.Context, productID string) (domain.StockLevel, error) {
	doc, err := r.stocks.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.StockLevel{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *StockRepository) ListMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	stockRef, err := r.stocks.DocumentRef(ctx, strings.TrimSpace(productID))
	if err != nil {
		return nil, err
	}
	if _, err := stockRef.Get(ctx); err != nil {
		return nil, pfirestore.WrapError("stock.movements", err)
	}

	query := stockRef.Collection(movementsCollection).OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	iter := query.Documents(ctx)
	defer iter.Stop()

	var movements []domain.StockMovement
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("stock.movements", err)
		}
		var doc movementDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode movement %s: %w", snap.Ref.ID, err)
		}
		movements = append(movements, doc.toDomain(snap.Ref.ID))
	}
	return movements, nil
}

func (r *StockRepository) ListLowStock(ctx context.Context, query repositories.LowStockQuery) ([]domain.StockLevel, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLowStockPage
	}
	docs, err := r.stocks.Query(ctx, func(q firestore.Query) firestore.Query {
		if query.Threshold > 0 {
			q = q.Where("available", "<=", query.Threshold).OrderBy("available", firestore.Asc)
		} else {
			q = q.Where("reorderGap", "<=", 0).OrderBy("reorderGap", firestore.Asc).OrderBy("available", firestore.Asc)
		}
		return q.OrderBy("productId", firestore.Asc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	levels := make([]domain.StockLevel, 0, len(docs))
	for _, doc := range docs {
		levels = append(levels, doc.Data.toDomain(doc.ID))
	}
	return levels, nil
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
