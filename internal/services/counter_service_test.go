package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hanko-field/orderflow/internal/repositories"
	"github.com/hanko-field/orderflow/internal/repositories/memory"
)

type stubCounterRepository struct {
	nextFn func(context.Context, string, int64) (int64, error)
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	return s.nextFn(ctx, counterID, step)
}

func TestCounterServiceNextOrderNumberFormat(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &stubCounterRepository{nextFn: func(_ context.Context, id string, step int64) (int64, error) {
		if id != "orders" || step != 1 {
			t.Fatalf("unexpected counter call %s/%d", id, step)
		}
		return 42, nil
	}}

	svc, err := NewCounterService(CounterServiceDeps{Repository: repo, Clock: func() time.Time { return now }, OrderPrefix: "ord"})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}
	number, err := svc.NextOrderNumber(context.Background())
	if err != nil {
		t.Fatalf("next order number: %v", err)
	}
	want := "ORD-1748779200000-000042"
	if number != want {
		t.Fatalf("expected %s, got %s", want, number)
	}
}

func TestCounterServiceMapsCounterErrors(t *testing.T) {
	repo := &stubCounterRepository{nextFn: func(context.Context, string, int64) (int64, error) {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, "max reached", nil)
	}}
	svc, err := NewCounterService(CounterServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}
	if _, err := svc.NextOrderNumber(context.Background()); !errors.Is(err, ErrCounterExhausted) {
		t.Fatalf("expected ErrCounterExhausted, got %v", err)
	}
}

func TestCounterServiceConcurrentNumbersAreUnique(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewCounterService(CounterServiceDeps{
		Repository: memory.NewCounterRepository(),
		Clock:      func() time.Time { return fixed },
	})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	const workers = 32
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers)
		wg   sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := svc.NextOrderNumber(context.Background())
			if err != nil {
				t.Errorf("next order number: %v", err)
				return
			}
			mu.Lock()
			seen[number] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != workers {
		t.Fatalf("expected %d unique numbers, got %d", workers, len(seen))
	}
}
