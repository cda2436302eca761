package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/orderflow/internal/repositories/memory"
)

var discountNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestDiscountService(t *testing.T) (DiscountService, *memory.DiscountRepository) {
	t.Helper()
	repo := memory.NewDiscountRepository()
	svc, err := NewDiscountService(DiscountServiceDeps{
		Discounts: repo,
		Clock:     func() time.Time { return discountNow },
	})
	if err != nil {
		t.Fatalf("new discount service: %v", err)
	}
	return svc, repo
}

func mustCreateDiscount(t *testing.T, svc DiscountService, def DiscountDefinition) Discount {
	t.Helper()
	if def.ValidFrom.IsZero() {
		def.ValidFrom = discountNow.Add(-24 * time.Hour)
	}
	if def.ValidUntil.IsZero() {
		def.ValidUntil = discountNow.Add(24 * time.Hour)
	}
	d, err := svc.CreateDiscount(context.Background(), def)
	if err != nil {
		t.Fatalf("create discount %s: %v", def.Code, err)
	}
	return d
}

func TestDiscountServiceResolvePercentage(t *testing.T) {
	svc, _ := newTestDiscountService(t)
	mustCreateDiscount(t, svc, DiscountDefinition{Code: "save10", Type: "percentage", Value: dec("10"), Active: true})

	res, err := svc.Resolve(context.Background(), ResolveDiscountCommand{Code: "SAVE10", CustomerID: "cust-a", Subtotal: dec("200")})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Amount.Equal(dec("20")) {
		t.Fatalf("expected 20, got %s", res.Amount)
	}
	if res.DiscountID == "" || res.Code != "SAVE10" {
		t.Fatalf("unexpected resolution %+v", res)
	}
}

func TestDiscountServiceAmounts(t *testing.T) {
	capped := dec("15")
	tests := []struct {
		name     string
		def      DiscountDefinition
		subtotal string
		items    []DiscountLine
		want     string
		waives   bool
	}{
		{
			name:     "percentage capped",
			def:      DiscountDefinition{Code: "PCT", Type: "percentage", Value: dec("10"), MaxDiscount: &capped, Active: true},
			subtotal: "200",
			want:     "15",
		},
		{
			name:     "fixed clamped to subtotal",
			def:      DiscountDefinition{Code: "FLAT", Type: "fixed", Value: dec("500"), Active: true},
			subtotal: "120",
			want:     "120",
		},
		{
			name:     "bogo buy two get one",
			def:      DiscountDefinition{Code: "B2G1", Type: "bogo", BuyQuantity: 2, GetQuantity: 1, ProductIDs: []string{"p1"}, Active: true},
			subtotal: "700",
			items: []DiscountLine{
				{ProductID: "p1", Quantity: 7, UnitPrice: dec("50")},
				{ProductID: "p2", Quantity: 3, UnitPrice: dec("100")},
			},
			want: "100",
		},
		{
			name:     "bundle",
			def:      DiscountDefinition{Code: "KIT", Type: "bundle", ProductIDs: []string{"p1", "p2"}, BundlePrice: dec("120"), Active: true},
			subtotal: "400",
			items: []DiscountLine{
				{ProductID: "p1", Quantity: 2, UnitPrice: dec("50")},
				{ProductID: "p2", Quantity: 3, UnitPrice: dec("100")},
			},
			want: "60",
		},
		{
			name:     "free shipping",
			def:      DiscountDefinition{Code: "SHIP", Type: "free_shipping", Active: true},
			subtotal: "80",
			want:     "0",
			waives:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newTestDiscountService(t)
			mustCreateDiscount(t, svc, tc.def)

			res, err := svc.Validate(context.Background(), ResolveDiscountCommand{Code: tc.def.Code, Subtotal: dec(tc.subtotal), Items: tc.items})
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if !res.Amount.Equal(dec(tc.want)) {
				t.Fatalf("expected %s, got %s", tc.want, res.Amount)
			}
			if res.WaivesShipping != tc.waives {
				t.Fatalf("expected waives=%v", tc.waives)
			}
		})
	}
}

func TestDiscountServiceRejectionReasons(t *testing.T) {
	svc, _ := newTestDiscountService(t)
	ctx := context.Background()
	one := 1

	mustCreateDiscount(t, svc, DiscountDefinition{Code: "OFF", Type: "fixed", Value: dec("5"), Active: false})
	mustCreateDiscount(t, svc, DiscountDefinition{Code: "OLD", Type: "fixed", Value: dec("5"), Active: true,
		ValidFrom: discountNow.Add(-72 * time.Hour), ValidUntil: discountNow.Add(-48 * time.Hour)})
	mustCreateDiscount(t, svc, DiscountDefinition{Code: "BIG", Type: "fixed", Value: dec("5"), Active: true, MinimumCartValue: dec("1000")})
	mustCreateDiscount(t, svc, DiscountDefinition{Code: "ONCE", Type: "fixed", Value: dec("5"), Active: true, MaxUses: &one})

	if _, err := svc.RecordUsage(ctx, RecordDiscountUsageCommand{Code: "ONCE", CustomerID: "cust-a", Amount: dec("5")}); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	tests := []struct {
		code string
		want error
	}{
		{"MISSING", ErrDiscountCodeNotFound},
		{"OFF", ErrDiscountInactive},
		{"OLD", ErrDiscountExpired},
		{"BIG", ErrDiscountBelowMinimumCart},
		{"ONCE", ErrDiscountUsageLimitReached},
	}
	for _, tc := range tests {
		_, err := svc.Resolve(ctx, ResolveDiscountCommand{Code: tc.code, CustomerID: "cust-b", Subtotal: dec("100")})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.code, tc.want, err)
		}
		if ClassifyError(err) == ErrorKindDependency {
			t.Fatalf("%s: rejection classified as dependency failure", tc.code)
		}
	}
}

func TestDiscountServicePerCustomerLimit(t *testing.T) {
	svc, _ := newTestDiscountService(t)
	ctx := context.Background()
	mustCreateDiscount(t, svc, DiscountDefinition{Code: "WELCOME", Type: "fixed", Value: dec("5"), Active: true, UsesPerCustomer: 1})

	if _, err := svc.RecordUsage(ctx, RecordDiscountUsageCommand{Code: "welcome", CustomerID: "cust-a", Amount: dec("5")}); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	if _, err := svc.Resolve(ctx, ResolveDiscountCommand{Code: "WELCOME", CustomerID: "cust-a", Subtotal: dec("100")}); !errors.Is(err, ErrDiscountPerCustomerLimitReached) {
		t.Fatalf("expected per-customer limit, got %v", err)
	}
	if _, err := svc.Resolve(ctx, ResolveDiscountCommand{Code: "WELCOME", CustomerID: "cust-b", Subtotal: dec("100")}); err != nil {
		t.Fatalf("other customer should still resolve: %v", err)
	}
	if _, err := svc.RecordUsage(ctx, RecordDiscountUsageCommand{Code: "WELCOME", CustomerID: "cust-a", Amount: dec("5")}); !errors.Is(err, ErrDiscountPerCustomerLimitReached) {
		t.Fatalf("expected repository to reject second usage, got %v", err)
	}
}

func TestDiscountServiceRecordUsageAccumulates(t *testing.T) {
	svc, _ := newTestDiscountService(t)
	ctx := context.Background()
	mustCreateDiscount(t, svc, DiscountDefinition{Code: "MANY", Type: "fixed", Value: dec("5"), Active: true, UsesPerCustomer: 5})

	for i := 0; i < 3; i++ {
		if _, err := svc.RecordUsage(ctx, RecordDiscountUsageCommand{Code: "MANY", CustomerID: "cust-a", Amount: dec("5")}); err != nil {
			t.Fatalf("record usage %d: %v", i, err)
		}
	}
	d, err := svc.GetDiscount(ctx, "many")
	if err != nil {
		t.Fatalf("get discount: %v", err)
	}
	if d.TotalUsed != 3 || d.CustomerUses("cust-a") != 3 {
		t.Fatalf("unexpected counters %+v", d)
	}
	if !d.TotalDiscountGiven.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("expected 15 given, got %s", d.TotalDiscountGiven)
	}
}

func TestDiscountServiceCreateValidation(t *testing.T) {
	svc, _ := newTestDiscountService(t)
	ctx := context.Background()

	_, err := svc.CreateDiscount(ctx, DiscountDefinition{Code: "BAD", Type: "percentage", Value: dec("150"),
		ValidFrom: discountNow, ValidUntil: discountNow.Add(time.Hour)})
	if !errors.Is(err, ErrDiscountInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	mustCreateDiscount(t, svc, DiscountDefinition{Code: "dup", Type: "fixed", Value: dec("1"), Active: true})
	_, err = svc.CreateDiscount(ctx, DiscountDefinition{Code: "DUP", Type: "fixed", Value: dec("1"),
		ValidFrom: discountNow, ValidUntil: discountNow.Add(time.Hour)})
	if !errors.Is(err, ErrDiscountConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	d, err := svc.SetDiscountActive(ctx, SetDiscountActiveCommand{Code: "dup", Active: false})
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if d.Active {
		t.Fatalf("expected inactive")
	}
}
