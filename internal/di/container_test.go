package di

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/config"
	"github.com/hanko-field/orderflow/internal/platform/events"
	"github.com/hanko-field/orderflow/internal/repositories/memory"
	"github.com/hanko-field/orderflow/internal/services"
)

func memoryConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	values := map[string]string{
		"API_AUTH_JWT_SECRET":   "jwt-secret",
		"API_PSP_MANUAL_SECRET": "manual-secret",
	}
	for k, v := range env {
		values[k] = v
	}
	cfg, err := config.Load(context.Background(), config.WithEnvMap(values), config.WithoutSystemEnv(), config.WithEnvFile(""))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestNewContainerMemoryCheckout(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c, err := NewContainer(ctx, memoryConfig(t, nil), zaptest.NewLogger(t), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	if _, ok := c.Events.(events.Noop); !ok {
		t.Fatalf("expected noop publisher, got %T", c.Events)
	}

	svc := c.Services
	if _, err := svc.Catalog.UpsertProduct(ctx, services.UpsertProductCommand{
		ProductID:    "prod-1",
		Name:         "Widget",
		SellingPrice: decimal.NewFromInt(100),
		CostPrice:    decimal.NewFromInt(60),
		ActorID:      "seller-1",
	}); err != nil {
		t.Fatalf("upsert product: %v", err)
	}
	if _, err := svc.Stock.Credit(ctx, services.StockCommand{ProductID: "prod-1", Quantity: 5, Type: domain.MovementInbound}); err != nil {
		t.Fatalf("credit stock: %v", err)
	}

	result, err := svc.Checkout.PlaceOrder(ctx, services.PlaceOrderCommand{
		CustomerID:      "buyer-1",
		Items:           []services.PlaceOrderLine{{ProductID: "prod-1", Quantity: 2}},
		ShippingAddress: services.Address{FullName: "Asha Rao", AddressLine1: "12 MG Road", City: "Pune", ZipCode: "411001", Country: "in"},
		PaymentMethod:   domain.PaymentMethodCOD,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if result.Order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending order, got %s", result.Order.Status)
	}
	if !strings.HasPrefix(result.Order.OrderNumber, c.Config.Orders.NumberPrefix+"-") {
		t.Fatalf("unexpected order number %q", result.Order.OrderNumber)
	}
	if result.Payment == nil {
		t.Fatal("expected manual gateway to accept the payment")
	}

	level, err := svc.Stock.GetLevel(ctx, "prod-1")
	if err != nil {
		t.Fatalf("get level: %v", err)
	}
	if level.Available != 3 {
		t.Fatalf("expected 3 available after checkout, got %d", level.Available)
	}

	report, err := svc.System.HealthReport(ctx)
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected healthy memory store, got %+v", report)
	}
}

func TestNewContainerUsesSuppliedRegistry(t *testing.T) {
	reg := memory.NewRegistry()
	cfg := memoryConfig(t, nil)
	cfg.Store.Backend = "cassandra"

	c, err := NewContainer(context.Background(), cfg, nil, WithRegistry(reg))
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	if c.Repositories != reg {
		t.Fatal("expected supplied registry to be used")
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewContainerRejectsUnknownStore(t *testing.T) {
	cfg := memoryConfig(t, nil)
	cfg.Store.Backend = "cassandra"
	if _, err := NewContainer(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for unknown store backend")
	}
}

func TestNewContainerRedisCounterNeedsRedis(t *testing.T) {
	cfg := memoryConfig(t, nil)
	cfg.Orders.CounterBackend = config.CounterRedis
	if _, err := NewContainer(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error when redis counter has no redis address")
	}
}

func TestCloseRunsInReverseOrder(t *testing.T) {
	var order []string
	c := &Container{}
	for _, name := range []string{"store", "redis", "events"} {
		c.closers = append(c.closers, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if strings.Join(order, ",") != "events,redis,store" {
		t.Fatalf("unexpected close order %v", order)
	}
}
