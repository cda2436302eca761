package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/orderflow/internal/repositories"
)

// DefaultOrderNumberPrefix is used when no prefix is configured.
const DefaultOrderNumberPrefix = "ORD"

const orderCounterID = "orders"

var (
	// ErrCounterInvalidInput indicates the caller supplied invalid counter parameters.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterExhausted indicates the requested counter cannot increment further due to max bounds.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository  repositories.CounterRepository
	Clock       func() time.Time
	OrderPrefix string
}

type counterService struct {
	repo   repositories.CounterRepository
	clock  func() time.Time
	prefix string
}

var _ CounterService = (*counterService)(nil)

// NewCounterService constructs a service that formats sequence numbers drawn from an atomic counter.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	prefix := strings.ToUpper(strings.TrimSpace(deps.OrderPrefix))
	if prefix == "" {
		prefix = DefaultOrderNumberPrefix
	}
	return &counterService{
		repo:   deps.Repository,
		clock:  utcClock(deps.Clock),
		prefix: prefix,
	}, nil
}

// NextOrderNumber returns {prefix}-{unix millis}-{sequence}. The sequence comes from an atomic
// increment, never from counting existing orders.
func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	seq, err := s.repo.Next(ctx, orderCounterID, 1)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			switch counterErr.Code {
			case repositories.CounterErrorInvalidInput:
				return "", fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
			case repositories.CounterErrorExhausted:
				return "", fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
			}
		}
		return "", mapRepositoryError(err, nil, nil)
	}
	return fmt.Sprintf("%s-%d-%06d", s.prefix, s.clock().UnixMilli(), seq), nil
}
