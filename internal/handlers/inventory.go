package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/httpx"
	"github.com/hanko-field/orderflow/internal/services"
)

const (
	defaultMovementLimit = 50
	maxMovementLimit     = 500
	defaultLowStockLimit = 100
)

type stockChangeRequest struct {
	Quantity  int    `json:"quantity"`
	Type      string `json:"type"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

type stockAdjustRequest struct {
	NewAvailable *int   `json:"new_available"`
	Reference    string `json:"reference"`
	Reason       string `json:"reason"`
}

type movementListResponse struct {
	Items []movementPayload `json:"items"`
}

type stockLevelListResponse struct {
	Items []stockLevelPayload `json:"items"`
}

// InventoryHandlers exposes the stock ledger to sellers and admins under /admin/inventory.
type InventoryHandlers struct {
	authn *auth.Authenticator
	stock services.StockLedger
}

func NewInventoryHandlers(authn *auth.Authenticator, stock services.StockLedger) *InventoryHandlers {
	return &InventoryHandlers{authn: authn, stock: stock}
}

// Routes registers inventory paths on the /admin group.
func (h *InventoryHandlers) Routes(r chi.Router) {
	staff := r.With(h.authn.RequireAuth(auth.RoleSeller, auth.RoleAdmin))
	staff.Get("/inventory:low-stock", h.lowStock)
	staff.Get("/inventory/{productID}", h.level)
	staff.Get("/inventory/{productID}/movements", h.movements)
	staff.Post("/inventory/{productID}:add", h.change(domain.MovementInbound, services.StockLedger.Credit))
	staff.Post("/inventory/{productID}:remove", h.change(domain.MovementOutbound, services.StockLedger.Debit))
	staff.Post("/inventory/{productID}:reserve", h.change(domain.MovementReserve, services.StockLedger.Reserve))
	staff.Post("/inventory/{productID}:release", h.change(domain.MovementRelease, services.StockLedger.Release))
	staff.Post("/inventory/{productID}:adjust", h.adjust)
}

type stockOp func(services.StockLedger, context.Context, services.StockCommand) (services.StockMovement, error)

func (h *InventoryHandlers) change(fallback domain.MovementType, op stockOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		identity, ok := caller(w, r)
		if !ok {
			return
		}
		var req stockChangeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		movementType := fallback
		if t := strings.TrimSpace(req.Type); t != "" {
			movementType = domain.MovementType(strings.ToLower(t))
		}
		movement, err := op(h.stock, ctx, services.StockCommand{
			ProductID: chi.URLParam(r, "productID"),
			Quantity:  req.Quantity,
			Type:      movementType,
			Reference: req.Reference,
			Reason:    req.Reason,
			ActorID:   identity.UserID,
		})
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, buildMovement(movement))
	}
}

func (h *InventoryHandlers) adjust(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := caller(w, r)
	if !ok {
		return
	}
	var req stockAdjustRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.NewAvailable == nil {
		badRequest(ctx, w, "new_available is required")
		return
	}
	movement, err := h.stock.Adjust(ctx, services.StockAdjustCommand{
		ProductID:    chi.URLParam(r, "productID"),
		NewAvailable: *req.NewAvailable,
		Reason:       req.Reason,
		Reference:    req.Reference,
		ActorID:      identity.UserID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildMovement(movement))
}

func (h *InventoryHandlers) level(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	level, err := h.stock.GetLevel(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildStockLevel(level))
}

func (h *InventoryHandlers) movements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := queryInt(r, "limit", defaultMovementLimit)
	if err != nil || limit <= 0 || limit > maxMovementLimit {
		badRequest(ctx, w, "limit must be between 1 and 500")
		return
	}
	list, err := h.stock.ListMovements(ctx, chi.URLParam(r, "productID"), limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := movementListResponse{Items: make([]movementPayload, 0, len(list))}
	for _, m := range list {
		resp.Items = append(resp.Items, buildMovement(m))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *InventoryHandlers) lowStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	// Zero selects each product's own reorder level.
	threshold, err := queryInt(r, "threshold", 0)
	if err != nil || threshold < 0 {
		badRequest(ctx, w, "threshold must be a non-negative integer")
		return
	}
	limit, err := queryInt(r, "limit", defaultLowStockLimit)
	if err != nil || limit <= 0 {
		badRequest(ctx, w, "limit must be a positive integer")
		return
	}
	levels, err := h.stock.ListLowStock(ctx, threshold, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := stockLevelListResponse{Items: make([]stockLevelPayload, 0, len(levels))}
	for _, l := range levels {
		resp.Items = append(resp.Items, buildStockLevel(l))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
