package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/httpx"
	"github.com/hanko-field/orderflow/internal/services"
)

type upsertProductRequest struct {
	Name         string `json:"name"`
	SellingPrice string `json:"selling_price"`
	CostPrice    string `json:"cost_price"`
}

// CatalogHandlers serves product reads publicly and maintenance to staff.
type CatalogHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

func NewCatalogHandlers(authn *auth.Authenticator, catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{authn: authn, catalog: catalog}
}

// Routes registers the public product read on the API root.
func (h *CatalogHandlers) Routes(r chi.Router) {
	r.Get("/products/{productID}", h.getProduct)
}

// AdminRoutes registers product maintenance on the /admin group.
func (h *CatalogHandlers) AdminRoutes(r chi.Router) {
	r.With(h.authn.RequireAuth(auth.RoleSeller, auth.RoleAdmin)).Put("/products/{productID}", h.upsertProduct)
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID := chi.URLParam(r, "productID")
	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := buildProduct(product, false)
	if snapshot, err := h.catalog.GetSnapshot(ctx, productID); err == nil {
		available := snapshot.Available
		payload.Available = &available
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *CatalogHandlers) upsertProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := caller(w, r)
	if !ok {
		return
	}
	var req upsertProductRequest
	if !decodeBody(w, r, &req) {
		return
	}
	selling, err := parseRequiredAmount(req.SellingPrice)
	if err != nil {
		badRequest(ctx, w, "selling_price must be a decimal")
		return
	}
	cost, err := parseRequiredAmount(req.CostPrice)
	if err != nil {
		badRequest(ctx, w, "cost_price must be a decimal")
		return
	}
	product, err := h.catalog.UpsertProduct(ctx, services.UpsertProductCommand{
		ProductID:    chi.URLParam(r, "productID"),
		Name:         req.Name,
		SellingPrice: selling,
		CostPrice:    cost,
		ActorID:      identity.UserID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProduct(product, true))
}
