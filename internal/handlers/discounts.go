package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/httpx"
	"github.com/hanko-field/orderflow/internal/services"
)

type validateDiscountRequest struct {
	Code  string                  `json:"code"`
	Items []placeOrderLineRequest `json:"items"`
}

type discountResolutionPayload struct {
	DiscountID     string `json:"discount_id"`
	Code           string `json:"code"`
	Type           string `json:"type"`
	Subtotal       string `json:"subtotal"`
	Amount         string `json:"amount"`
	WaivesShipping bool   `json:"waives_shipping"`
}

type createDiscountRequest struct {
	Code             string    `json:"code"`
	Description      string    `json:"description"`
	Type             string    `json:"type"`
	Value            string    `json:"value"`
	MaxDiscount      string    `json:"max_discount"`
	MinimumCartValue string    `json:"minimum_cart_value"`
	MaxUses          *int      `json:"max_uses"`
	UsesPerCustomer  int       `json:"uses_per_customer"`
	BuyQuantity      int       `json:"buy_quantity"`
	GetQuantity      int       `json:"get_quantity"`
	ProductIDs       []string  `json:"product_ids"`
	BundlePrice      string    `json:"bundle_price"`
	ValidFrom        time.Time `json:"valid_from"`
	ValidUntil       time.Time `json:"valid_until"`
	Active           *bool     `json:"active"`
}

// DiscountHandlers validates codes for shoppers and administers them for admins.
type DiscountHandlers struct {
	authn     *auth.Authenticator
	discounts services.DiscountService
	catalog   services.CatalogService
}

func NewDiscountHandlers(authn *auth.Authenticator, discounts services.DiscountService, catalog services.CatalogService) *DiscountHandlers {
	return &DiscountHandlers{authn: authn, discounts: discounts, catalog: catalog}
}

// Routes registers /discounts:validate on the API root.
func (h *DiscountHandlers) Routes(r chi.Router) {
	r.With(h.authn.RequireAuth()).Post("/discounts:validate", h.validate)
}

// AdminRoutes registers discount administration on the /admin group.
func (h *DiscountHandlers) AdminRoutes(r chi.Router) {
	admin := r.With(h.authn.RequireAuth(auth.RoleAdmin))
	admin.Post("/discounts", h.create)
	admin.Get("/discounts/{code}", h.get)
	admin.Post("/discounts/{code}:activate", h.setActive(true))
	admin.Post("/discounts/{code}:deactivate", h.setActive(false))
}

func (h *DiscountHandlers) validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := caller(w, r)
	if !ok {
		return
	}
	var req validateDiscountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		badRequest(ctx, w, "items are required")
		return
	}

	// Lines are priced from the catalog; the cart total is never taken from the client.
	subtotal := decimal.Zero
	lines := make([]services.DiscountLine, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			badRequest(ctx, w, "quantity must be positive")
			return
		}
		product, err := h.catalog.GetProduct(ctx, item.ProductID)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		subtotal = subtotal.Add(product.SellingPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		lines = append(lines, services.DiscountLine{
			ProductID: product.ID,
			Quantity:  item.Quantity,
			UnitPrice: product.SellingPrice,
		})
	}

	resolution, err := h.discounts.Validate(ctx, services.ResolveDiscountCommand{
		Code:       req.Code,
		CustomerID: identity.UserID,
		Subtotal:   domain.Round2(subtotal),
		Items:      lines,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, discountResolutionPayload{
		DiscountID:     resolution.DiscountID,
		Code:           resolution.Code,
		Type:           string(resolution.Type),
		Subtotal:       money(subtotal),
		Amount:         money(resolution.Amount),
		WaivesShipping: resolution.WaivesShipping,
	})
}

func (h *DiscountHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := caller(w, r)
	if !ok {
		return
	}
	var req createDiscountRequest
	if !decodeBody(w, r, &req) {
		return
	}

	def := domain.DiscountDefinition{
		Code:            req.Code,
		Description:     req.Description,
		Type:            req.Type,
		MaxUses:         req.MaxUses,
		UsesPerCustomer: req.UsesPerCustomer,
		BuyQuantity:     req.BuyQuantity,
		GetQuantity:     req.GetQuantity,
		ProductIDs:      req.ProductIDs,
		ValidFrom:       req.ValidFrom,
		ValidUntil:      req.ValidUntil,
		Active:          req.Active == nil || *req.Active,
		CreatedBy:       identity.UserID,
	}
	var err error
	if def.Value, err = parseRequiredAmount(req.Value); err != nil {
		badRequest(ctx, w, "value must be a decimal")
		return
	}
	if def.MaxDiscount, err = parseAmount(req.MaxDiscount); err != nil {
		badRequest(ctx, w, "max_discount must be a decimal")
		return
	}
	minimum, err := parseAmount(req.MinimumCartValue)
	if err != nil {
		badRequest(ctx, w, "minimum_cart_value must be a decimal")
		return
	}
	if minimum != nil {
		def.MinimumCartValue = *minimum
	}
	bundle, err := parseAmount(req.BundlePrice)
	if err != nil {
		badRequest(ctx, w, "bundle_price must be a decimal")
		return
	}
	if bundle != nil {
		def.BundlePrice = *bundle
	}

	discount, err := h.discounts.CreateDiscount(ctx, def)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildDiscount(discount))
}

func (h *DiscountHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	discount, err := h.discounts.GetDiscount(ctx, chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildDiscount(discount))
}

func (h *DiscountHandlers) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		identity, ok := caller(w, r)
		if !ok {
			return
		}
		discount, err := h.discounts.SetDiscountActive(ctx, services.SetDiscountActiveCommand{
			Code:    strings.TrimSpace(chi.URLParam(r, "code")),
			Active:  active,
			ActorID: identity.UserID,
		})
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, buildDiscount(discount))
	}
}
