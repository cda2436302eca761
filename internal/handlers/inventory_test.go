package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/services"
)

func TestInventoryHandlersAddAndRemove(t *testing.T) {
	authn := newTestAuthenticator(t)
	var credited, debited services.StockCommand
	stock := &stubStockLedger{
		creditFn: func(_ context.Context, cmd services.StockCommand) (services.StockMovement, error) {
			credited = cmd
			return services.StockMovement{ID: "mov_1", ProductID: cmd.ProductID, Type: cmd.Type, Quantity: cmd.Quantity, AvailableAfter: 15}, nil
		},
		debitFn: func(_ context.Context, cmd services.StockCommand) (services.StockMovement, error) {
			debited = cmd
			return services.StockMovement{}, fmt.Errorf("%w: %s has 2", services.ErrStockInsufficient, cmd.ProductID)
		},
	}
	h := NewInventoryHandlers(authn, stock)
	seller := bearer(t, authn, "seller-1", auth.RoleSeller)

	rr := serve(t, "/admin", h.Routes, http.MethodPost, "/admin/inventory/prod-1:add", seller, map[string]any{"quantity": 5, "reference": "PO-9"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if credited.ProductID != "prod-1" || credited.Type != domain.MovementInbound || credited.Quantity != 5 || credited.ActorID != "seller-1" {
		t.Fatalf("unexpected credit command %+v", credited)
	}
	if resp := decodeResponse[movementPayload](t, rr); resp.AvailableAfter != 15 {
		t.Fatalf("expected available after 15, got %+v", resp)
	}

	rr = serve(t, "/admin", h.Routes, http.MethodPost, "/admin/inventory/prod-1:add", seller, map[string]any{"quantity": 1, "type": "RETURN"})
	if rr.Code != http.StatusOK || credited.Type != domain.MovementReturn {
		t.Fatalf("expected explicit movement type to be honoured, got %d %s", rr.Code, credited.Type)
	}

	rr = serve(t, "/admin", h.Routes, http.MethodPost, "/admin/inventory/prod-1:remove", seller, map[string]any{"quantity": 3})
	if rr.Code != http.StatusConflict || debited.Type != domain.MovementOutbound {
		t.Fatalf("expected 409 insufficient stock, got %d %+v", rr.Code, debited)
	}

	rr = serve(t, "/admin", h.Routes, http.MethodPost, "/admin/inventory/prod-1:add", bearer(t, authn, "buyer-1", auth.RoleBuyer), map[string]any{"quantity": 1})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for buyer, got %d", rr.Code)
	}
}

func TestInventoryHandlersAdjustRequiresTarget(t *testing.T) {
	authn := newTestAuthenticator(t)
	var captured services.StockAdjustCommand
	stock := &stubStockLedger{
		adjustFn: func(_ context.Context, cmd services.StockAdjustCommand) (services.StockMovement, error) {
			captured = cmd
			return services.StockMovement{ID: "mov_2", ProductID: cmd.ProductID, Type: domain.MovementAdjustment}, nil
		},
	}
	h := NewInventoryHandlers(authn, stock)
	admin := bearer(t, authn, "admin-1", auth.RoleAdmin)

	rr := serve(t, "/admin", h.Routes, http.MethodPost, "/admin/inventory/prod-1:adjust", admin, map[string]any{"reason": "count"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without new_available, got %d", rr.Code)
	}

	rr = serve(t, "/admin", h.Routes, http.MethodPost, "/admin/inventory/prod-1:adjust", admin, map[string]any{"new_available": 0, "reason": "count"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.NewAvailable != 0 || captured.Reason != "count" {
		t.Fatalf("unexpected adjust command %+v", captured)
	}
}

func TestInventoryHandlersReads(t *testing.T) {
	authn := newTestAuthenticator(t)
	var threshold, limit int
	stock := &stubStockLedger{
		levelFn: func(_ context.Context, productID string) (services.StockLevel, error) {
			if productID != "prod-1" {
				return services.StockLevel{}, services.ErrStockNotFound
			}
			return services.StockLevel{ProductID: productID, Available: 3, Reserved: 1, ReorderLevel: 5}, nil
		},
		lowStockFn: func(_ context.Context, th, lim int) ([]services.StockLevel, error) {
			threshold, limit = th, lim
			return []services.StockLevel{{ProductID: "prod-1", Available: 3, ReorderLevel: 5}}, nil
		},
	}
	h := NewInventoryHandlers(authn, stock)
	seller := bearer(t, authn, "seller-1", auth.RoleSeller)

	rr := serve(t, "/admin", h.Routes, http.MethodGet, "/admin/inventory/prod-1", seller, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if resp := decodeResponse[stockLevelPayload](t, rr); resp.Available != 3 || !resp.Low {
		t.Fatalf("unexpected level payload %+v", resp)
	}

	rr = serve(t, "/admin", h.Routes, http.MethodGet, "/admin/inventory/prod-9", seller, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = serve(t, "/admin", h.Routes, http.MethodGet, "/admin/inventory:low-stock?threshold=4&limit=10", seller, nil)
	if rr.Code != http.StatusOK || threshold != 4 || limit != 10 {
		t.Fatalf("unexpected low stock call %d threshold=%d limit=%d", rr.Code, threshold, limit)
	}
	if resp := decodeResponse[stockLevelListResponse](t, rr); len(resp.Items) != 1 {
		t.Fatalf("expected one low level, got %d", len(resp.Items))
	}

	rr = serve(t, "/admin", h.Routes, http.MethodGet, "/admin/inventory:low-stock?threshold=-1", seller, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative threshold, got %d", rr.Code)
	}

	rr = serve(t, "/admin", h.Routes, http.MethodGet, "/admin/inventory/prod-1/movements?limit=1000", seller, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized limit, got %d", rr.Code)
	}
}
