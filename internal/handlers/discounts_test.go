package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/services"
)

func catalogWith(products ...services.Product) *stubCatalogService {
	stub := &stubCatalogService{products: map[string]services.Product{}}
	for _, p := range products {
		stub.products[p.ID] = p
	}
	return stub
}

func TestDiscountHandlersValidatePricesFromCatalog(t *testing.T) {
	authn := newTestAuthenticator(t)
	var captured services.ResolveDiscountCommand
	discounts := &stubDiscountService{
		validateFn: func(_ context.Context, cmd services.ResolveDiscountCommand) (services.DiscountResolution, error) {
			captured = cmd
			return services.DiscountResolution{
				DiscountID: "dsc_1",
				Code:       "SAVE10",
				Type:       domain.DiscountPercentage,
				Amount:     cmd.Subtotal.Mul(decimal.RequireFromString("0.1")),
			}, nil
		},
	}
	catalog := catalogWith(services.Product{ID: "prod-1", Name: "Widget", SellingPrice: decimal.RequireFromString("12.50")})
	h := NewDiscountHandlers(authn, discounts, catalog)

	rr := serve(t, "", h.Routes, http.MethodPost, "/discounts:validate", bearer(t, authn, "seller-1", auth.RoleSeller), map[string]any{
		"code":  "save10",
		"items": []map[string]any{{"product_id": "prod-1", "quantity": 4}},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !captured.Subtotal.Equal(decimal.NewFromInt(50)) || captured.CustomerID != "seller-1" {
		t.Fatalf("unexpected resolve command %+v", captured)
	}
	if len(captured.Items) != 1 || !captured.Items[0].UnitPrice.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("expected catalog priced lines, got %+v", captured.Items)
	}
	resp := decodeResponse[discountResolutionPayload](t, rr)
	if resp.Amount != "5.00" || resp.Subtotal != "50.00" {
		t.Fatalf("unexpected resolution %+v", resp)
	}
}

func TestDiscountHandlersValidateErrors(t *testing.T) {
	authn := newTestAuthenticator(t)
	discounts := &stubDiscountService{
		validateFn: func(context.Context, services.ResolveDiscountCommand) (services.DiscountResolution, error) {
			return services.DiscountResolution{}, services.ErrDiscountBelowMinimumCart
		},
	}
	catalog := catalogWith(services.Product{ID: "prod-1", SellingPrice: decimal.NewFromInt(1)})
	h := NewDiscountHandlers(authn, discounts, catalog)
	token := bearer(t, authn, "buyer-1", auth.RoleBuyer)

	rr := serve(t, "", h.Routes, http.MethodPost, "/discounts:validate", token, map[string]any{
		"code":  "BIG",
		"items": []map[string]any{{"product_id": "prod-1", "quantity": 1}},
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if env := decodeResponse[errorEnvelope](t, rr); env.Error != "discount_minimum_not_met" {
		t.Fatalf("unexpected code %s", env.Error)
	}

	rr = serve(t, "", h.Routes, http.MethodPost, "/discounts:validate", token, map[string]any{
		"code":  "BIG",
		"items": []map[string]any{{"product_id": "missing", "quantity": 1}},
	})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown product, got %d", rr.Code)
	}

	rr = serve(t, "", h.Routes, http.MethodPost, "/discounts:validate", "", map[string]any{"code": "BIG"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestDiscountHandlersAdmin(t *testing.T) {
	authn := newTestAuthenticator(t)
	var created services.DiscountDefinition
	var toggled services.SetDiscountActiveCommand
	discounts := &stubDiscountService{
		createFn: func(_ context.Context, def services.DiscountDefinition) (services.Discount, error) {
			created = def
			return services.Discount{ID: "dsc_1", Code: "SPRING", Type: domain.DiscountFixed, Value: def.Value, Active: def.Active}, nil
		},
		activeFn: func(_ context.Context, cmd services.SetDiscountActiveCommand) (services.Discount, error) {
			toggled = cmd
			return services.Discount{ID: "dsc_1", Code: cmd.Code, Active: cmd.Active}, nil
		},
	}
	h := NewDiscountHandlers(authn, discounts, catalogWith())
	admin := bearer(t, authn, "admin-1", auth.RoleAdmin)

	from := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	rr := serve(t, "/admin", h.AdminRoutes, http.MethodPost, "/admin/discounts", admin, map[string]any{
		"code":        "spring",
		"type":        "fixed",
		"value":       "5",
		"max_uses":    100,
		"valid_from":  from,
		"valid_until": from.AddDate(0, 1, 0),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if !created.Active || created.CreatedBy != "admin-1" || created.MaxUses == nil || *created.MaxUses != 100 {
		t.Fatalf("unexpected definition %+v", created)
	}
	if !created.ValidFrom.Equal(from) || !created.Value.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected window or value %+v", created)
	}

	rr = serve(t, "/admin", h.AdminRoutes, http.MethodPost, "/admin/discounts", admin, map[string]any{"code": "x", "type": "fixed"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without value, got %d", rr.Code)
	}

	rr = serve(t, "/admin", h.AdminRoutes, http.MethodPost, "/admin/discounts/SPRING:deactivate", admin, nil)
	if rr.Code != http.StatusOK || toggled.Active || toggled.Code != "SPRING" {
		t.Fatalf("unexpected deactivate %d %+v", rr.Code, toggled)
	}

	rr = serve(t, "/admin", h.AdminRoutes, http.MethodPost, "/admin/discounts/SPRING:activate", bearer(t, authn, "seller-1", auth.RoleSeller), nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for seller, got %d", rr.Code)
	}
}

func TestCatalogHandlers(t *testing.T) {
	authn := newTestAuthenticator(t)
	var upserted services.UpsertProductCommand
	catalog := catalogWith(services.Product{
		ID:            "prod-1",
		Name:          "Widget",
		SellingPrice:  decimal.RequireFromString("12.5"),
		CostPrice:     decimal.RequireFromString("5"),
		MarginPercent: decimal.RequireFromString("60"),
	})
	catalog.upsertFn = func(_ context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
		upserted = cmd
		return services.Product{ID: cmd.ProductID, Name: cmd.Name, SellingPrice: cmd.SellingPrice, CostPrice: cmd.CostPrice}, nil
	}
	h := NewCatalogHandlers(authn, catalog)

	rr := serve(t, "", h.Routes, http.MethodGet, "/products/prod-1", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected public read, got %d", rr.Code)
	}
	resp := decodeResponse[productPayload](t, rr)
	if resp.SellingPrice != "12.50" || resp.CostPrice != "" || resp.Available == nil || *resp.Available != 7 {
		t.Fatalf("unexpected public product %+v", resp)
	}

	rr = serve(t, "/admin", h.AdminRoutes, http.MethodPut, "/admin/products/prod-2", bearer(t, authn, "seller-1", auth.RoleSeller), map[string]any{
		"name":          "Gadget",
		"selling_price": "20",
		"cost_price":    "8",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if upserted.ProductID != "prod-2" || !upserted.SellingPrice.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected upsert %+v", upserted)
	}
	if resp := decodeResponse[productPayload](t, rr); resp.CostPrice != "8.00" {
		t.Fatalf("staff response should include cost, got %+v", resp)
	}

	rr = serve(t, "/admin", h.AdminRoutes, http.MethodPut, "/admin/products/prod-2", bearer(t, authn, "seller-1", auth.RoleSeller), map[string]any{
		"name":          "Gadget",
		"selling_price": "cheap",
		"cost_price":    "8",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
