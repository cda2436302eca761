package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []DomainEvent
	err    error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, event DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func newTestLedger(t *testing.T, reg *memory.Registry, events EventPublisher) StockLedger {
	t.Helper()
	ledger, err := NewStockLedger(StockLedgerDeps{
		Stock:  reg.Stock(),
		Events: events,
		Clock:  func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new stock ledger: %v", err)
	}
	return ledger
}

func TestStockLedgerDebitCreditAdjust(t *testing.T) {
	ctx := context.Background()
	reg := memory.NewRegistry()
	ledger := newTestLedger(t, reg, nil)

	if _, err := ledger.Credit(ctx, StockCommand{ProductID: "p1", Quantity: 5, Reason: "<b>receipt</b>"}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	mv, err := ledger.Debit(ctx, StockCommand{ProductID: "p1", Quantity: 2, Reference: "ord_1"})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if mv.Type != domain.MovementOutbound || mv.Delta() != -2 || mv.AvailableAfter != 3 {
		t.Fatalf("unexpected movement %+v", mv)
	}

	adj, err := ledger.Adjust(ctx, StockAdjustCommand{ProductID: "p1", NewAvailable: 1, Reason: "count"})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if adj.Delta() != -2 || adj.Type != domain.MovementPhysicalCount {
		t.Fatalf("expected variance -2, got %+v", adj)
	}

	movements, err := ledger.ListMovements(ctx, "p1", 0)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 3 || movements[0].ID != adj.ID {
		t.Fatalf("expected newest first, got %+v", movements)
	}
	if movements[2].Reason != "receipt" {
		t.Fatalf("expected sanitized reason, got %q", movements[2].Reason)
	}
}

func TestStockLedgerRejectsOverdraw(t *testing.T) {
	ctx := context.Background()
	reg := memory.NewRegistry()
	ledger := newTestLedger(t, reg, nil)

	if _, err := ledger.Credit(ctx, StockCommand{ProductID: "p1", Quantity: 3}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	_, err := ledger.Debit(ctx, StockCommand{ProductID: "p1", Quantity: 10})
	if !errors.Is(err, ErrStockInsufficient) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if ClassifyError(err) != ErrorKindBusinessRule {
		t.Fatalf("expected business rule kind, got %s", ClassifyError(err))
	}
	level, err := ledger.GetLevel(ctx, "p1")
	if err != nil {
		t.Fatalf("get level: %v", err)
	}
	if level.Available != 3 {
		t.Fatalf("stock mutated by rejected debit: %d", level.Available)
	}

	if _, err := ledger.Debit(ctx, StockCommand{ProductID: "missing", Quantity: 1}); !errors.Is(err, ErrStockNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := ledger.Debit(ctx, StockCommand{ProductID: "p1", Quantity: 0}); !errors.Is(err, ErrStockInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestStockLedgerConcurrentLastUnit(t *testing.T) {
	ctx := context.Background()
	for round := 0; round < 25; round++ {
		reg := memory.NewRegistry()
		ledger := newTestLedger(t, reg, nil)
		if _, err := ledger.Credit(ctx, StockCommand{ProductID: "p1", Quantity: 1}); err != nil {
			t.Fatalf("credit: %v", err)
		}

		var wg sync.WaitGroup
		var ok, insufficient atomic.Int32
		start := make(chan struct{})
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := ledger.Debit(ctx, StockCommand{ProductID: "p1", Quantity: 1})
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, ErrStockInsufficient):
					insufficient.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		if ok.Load() != 1 || insufficient.Load() != 1 {
			t.Fatalf("round %d: expected one success and one rejection, got %d/%d", round, ok.Load(), insufficient.Load())
		}
	}
}

func TestStockLedgerReserveRelease(t *testing.T) {
	ctx := context.Background()
	reg := memory.NewRegistry()
	ledger := newTestLedger(t, reg, nil)

	if _, err := ledger.Credit(ctx, StockCommand{ProductID: "p1", Quantity: 4}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := ledger.Reserve(ctx, StockCommand{ProductID: "p1", Quantity: 3}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := ledger.Release(ctx, StockCommand{ProductID: "p1", Quantity: 5}); !errors.Is(err, ErrStockInsufficient) {
		t.Fatalf("expected release beyond reserved to fail, got %v", err)
	}
	if _, err := ledger.Release(ctx, StockCommand{ProductID: "p1", Quantity: 1}); err != nil {
		t.Fatalf("release: %v", err)
	}
	level, _ := ledger.GetLevel(ctx, "p1")
	if level.Available != 2 || level.Reserved != 2 {
		t.Fatalf("unexpected level %+v", level)
	}
}

func TestStockLedgerRollbackAppendsReversal(t *testing.T) {
	ctx := context.Background()
	reg := memory.NewRegistry()
	ledger := newTestLedger(t, reg, nil)
	if _, err := ledger.Credit(ctx, StockCommand{ProductID: "p1", Quantity: 5}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	failure := errors.New("later step failed")
	err := reg.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := ledger.Debit(ctx, StockCommand{ProductID: "p1", Quantity: 2}); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected failure, got %v", err)
	}

	level, _ := ledger.GetLevel(ctx, "p1")
	if level.Available != 5 {
		t.Fatalf("expected debit compensated, available=%d", level.Available)
	}
	movements, _ := ledger.ListMovements(ctx, "p1", 10)
	if len(movements) != 3 || movements[0].Reason != "rollback" || movements[0].Delta() != 2 {
		t.Fatalf("expected reversal movement on top, got %+v", movements)
	}
}

func TestStockLedgerLowStockEventAfterCommit(t *testing.T) {
	ctx := context.Background()
	reg := memory.NewRegistry()
	events := &recordingPublisher{}
	ledger := newTestLedger(t, reg, events)
	if _, err := ledger.Credit(ctx, StockCommand{ProductID: "p1", Quantity: 12}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	_ = reg.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := ledger.Debit(ctx, StockCommand{ProductID: "p1", Quantity: 5}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if len(events.types()) != 0 {
		t.Fatalf("rolled back debit must not publish, got %v", events.types())
	}

	if _, err := ledger.Debit(ctx, StockCommand{ProductID: "p1", Quantity: 5}); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if got := events.types(); len(got) != 1 || got[0] != EventStockLow {
		t.Fatalf("expected one stock.low event, got %v", got)
	}

	low, err := ledger.ListLowStock(ctx, 0, 0)
	if err != nil {
		t.Fatalf("list low stock: %v", err)
	}
	if len(low) != 1 || low[0].ProductID != "p1" {
		t.Fatalf("unexpected low stock %+v", low)
	}
}
