package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/httpx"
	"github.com/hanko-field/orderflow/internal/platform/idempotency"
	"github.com/hanko-field/orderflow/internal/platform/pagination"
	"github.com/hanko-field/orderflow/internal/services"
)

var orderStatusFilters = []string{
	string(domain.OrderStatusPending),
	string(domain.OrderStatusConfirmed),
	string(domain.OrderStatusProcessing),
	string(domain.OrderStatusShipped),
	string(domain.OrderStatusDelivered),
	string(domain.OrderStatusCancelled),
	string(domain.OrderStatusReturned),
}

type placeOrderLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type placeOrderRequest struct {
	Items           []placeOrderLineRequest `json:"items"`
	ShippingAddress addressPayload          `json:"shipping_address"`
	BillingAddress  *addressPayload         `json:"billing_address"`
	DiscountCode    string                  `json:"discount_code"`
	PaymentMethod   string                  `json:"payment_method"`
	Notes           string                  `json:"notes"`
}

type placeOrderResponse struct {
	Order   orderPayload    `json:"order"`
	Payment *paymentPayload `json:"payment,omitempty"`
}

type cancelOrderRequest struct {
	Reason       string `json:"reason"`
	Refund       bool   `json:"refund"`
	RefundReason string `json:"refund_reason"`
}

type cancelOrderResponse struct {
	Order       orderPayload     `json:"order"`
	Refunded    []paymentPayload `json:"refunded,omitempty"`
	RefundError string           `json:"refund_error,omitempty"`
}

type returnLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type requestReturnRequest struct {
	Items  []returnLineRequest `json:"items"`
	Reason string              `json:"reason"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

// OrderHandlers serves the buyer facing /orders endpoints. Sellers and admins may read every order.
type OrderHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	orders   services.OrderService
}

func NewOrderHandlers(authn *auth.Authenticator, checkout services.CheckoutService, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{authn: authn, checkout: checkout, orders: orders}
}

func (h *OrderHandlers) Routes(r chi.Router) {
	r.Use(h.authn.RequireAuth())
	r.With(h.authn.RequireAuth(auth.RoleBuyer)).Post("/", h.placeOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.With(h.authn.RequireAuth(auth.RoleBuyer, auth.RoleAdmin)).Post("/{orderID}:cancel", h.cancelOrder)
	r.With(h.authn.RequireAuth(auth.RoleBuyer)).Post("/{orderID}:return", h.requestReturn)
	r.With(h.authn.RequireAuth(auth.RoleBuyer, auth.RoleAdmin)).Put("/{orderID}/shipping-address", h.updateShippingAddress)
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := caller(w, r)
	if !ok {
		return
	}
	var req placeOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cmd := services.PlaceOrderCommand{
		CustomerID:      identity.UserID,
		ShippingAddress: req.ShippingAddress.toDomain(),
		DiscountCode:    req.DiscountCode,
		PaymentMethod:   domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		Notes:           req.Notes,
		IdempotencyKey:  strings.TrimSpace(r.Header.Get(idempotency.DefaultHeader)),
	}
	for _, line := range req.Items {
		cmd.Items = append(cmd.Items, services.PlaceOrderLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	if req.BillingAddress != nil {
		billing := req.BillingAddress.toDomain()
		cmd.BillingAddress = &billing
	}

	result, err := h.checkout.PlaceOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := placeOrderResponse{Order: buildOrder(result.Order)}
	if result.Payment != nil {
		payment := buildPayment(*result.Payment)
		resp.Payment = &payment
	}
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := caller(w, r)
	if !ok {
		return
	}
	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: 20,
		MaxPageSize:     100,
		AllowedStatuses: orderStatusFilters,
	})
	if err != nil {
		badRequest(ctx, w, err.Error())
		return
	}

	filter := services.OrderListFilter{
		Status:     params.Statuses,
		Pagination: services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	}
	if !identity.IsStaff() {
		filter.CustomerID = identity.UserID
	} else if customer := strings.TrimSpace(r.URL.Query().Get("customerId")); customer != "" {
		filter.CustomerID = customer
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := orderListResponse{Items: make([]orderPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, order := range page.Items {
		resp.Items = append(resp.Items, buildOrder(order))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := caller(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	// Other buyers' orders are reported as missing rather than forbidden.
	if !identity.IsStaff() && order.CustomerID != identity.UserID {
		notFound(ctx, w, "order")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrder(order))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := caller(w, r)
	if !ok {
		return
	}
	var req cancelOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cmd := services.CheckoutCancelCommand{
		OrderID:      chi.URLParam(r, "orderID"),
		Reason:       req.Reason,
		ActorID:      identity.UserID,
		Refund:       req.Refund,
		RefundReason: req.RefundReason,
	}
	if !identity.HasRole(auth.RoleAdmin) {
		cmd.CustomerID = identity.UserID
	}

	result, err := h.checkout.CancelOrder(ctx, cmd)
	if err != nil && result.Order.ID == "" {
		writeServiceError(ctx, w, err)
		return
	}
	resp := cancelOrderResponse{Order: buildOrder(result.Order)}
	for _, p := range result.Refunded {
		resp.Refunded = append(resp.Refunded, buildPayment(p))
	}
	// The order is cancelled even when a refund failed; the failure is reported alongside it.
	if err != nil {
		resp.RefundError = err.Error()
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *OrderHandlers) requestReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := caller(w, r)
	if !ok {
		return
	}
	var req requestReturnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cmd := services.RequestReturnCommand{
		OrderID:    chi.URLParam(r, "orderID"),
		CustomerID: identity.UserID,
		Reason:     req.Reason,
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.ReturnLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	order, err := h.orders.RequestReturn(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrder(order))
}

func (h *OrderHandlers) updateShippingAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := caller(w, r)
	if !ok {
		return
	}
	var req addressPayload
	if !decodeBody(w, r, &req) {
		return
	}
	orderID := chi.URLParam(r, "orderID")
	if !identity.HasRole(auth.RoleAdmin) {
		current, err := h.orders.GetOrder(ctx, orderID)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		if current.CustomerID != identity.UserID {
			notFound(ctx, w, "order")
			return
		}
	}
	order, err := h.orders.UpdateShippingAddress(ctx, services.UpdateShippingAddressCommand{
		OrderID: orderID,
		Address: req.toDomain(),
		ActorID: identity.UserID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrder(order))
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type updateShippingRequest struct {
	Status            string     `json:"status"`
	Carrier           string     `json:"carrier"`
	TrackingNumber    string     `json:"tracking_number"`
	EstimatedDelivery *time.Time `json:"estimated_delivery"`
}

type addNoteRequest struct {
	Note string `json:"note"`
}

type returnDecisionRequest struct {
	Note         string `json:"note"`
	RefundAmount string `json:"refund_amount"`
}

// AdminOrderHandlers serves fulfilment and return decisions under /admin/orders.
type AdminOrderHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	orders   services.OrderService
}

func NewAdminOrderHandlers(authn *auth.Authenticator, checkout services.CheckoutService, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, checkout: checkout, orders: orders}
}

func (h *AdminOrderHandlers) Routes(r chi.Router) {
	staff := r.With(h.authn.RequireAuth(auth.RoleSeller, auth.RoleAdmin))
	staff.Post("/{orderID}:status", h.updateStatus)
	staff.Post("/{orderID}:shipping", h.updateShipping)
	staff.Post("/{orderID}:note", h.addNote)
	staff.Get("/by-number/{orderNumber}", h.getByNumber)

	admin := r.With(h.authn.RequireAuth(auth.RoleAdmin))
	admin.Post("/{orderID}/return:approve", h.approveReturn)
	admin.Post("/{orderID}/return:reject", h.rejectReturn)
	admin.Post("/{orderID}/return:restock", h.restockReturn)
}

func (h *AdminOrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := caller(w, r)
	if !ok {
		return
	}
	var req updateStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Status:  req.Status,
		ActorID: identity.UserID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrder(order))
}

func (h *AdminOrderHandlers) updateShipping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := caller(w, r)
	if !ok {
		return
	}
	var req updateShippingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	order, err := h.orders.UpdateShipping(ctx, services.UpdateShippingCommand{
		OrderID:           chi.URLParam(r, "orderID"),
		Status:            req.Status,
		Carrier:           req.Carrier,
		TrackingNumber:    req.TrackingNumber,
		EstimatedDelivery: req.EstimatedDelivery,
		ActorID:           identity.UserID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrder(order))
}

func (h *AdminOrderHandlers) addNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := caller(w, r)
	if !ok {
		return
	}
	var req addNoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respondOrder(w, r, func() (services.Order, error) {
		return h.orders.AddNote(ctx, services.AddOrderNoteCommand{
			OrderID: chi.URLParam(r, "orderID"),
			Note:    req.Note,
			ActorID: identity.UserID,
		})
	})
}

func (h *AdminOrderHandlers) getByNumber(w http.ResponseWriter, r *http.Request) {
	h.respondOrder(w, r, func() (services.Order, error) {
		return h.orders.GetOrderByNumber(r.Context(), chi.URLParam(r, "orderNumber"))
	})
}

func (h *AdminOrderHandlers) decision(w http.ResponseWriter, r *http.Request) (services.ReturnDecisionCommand, bool) {
	identity, ok := caller(w, r)
	if !ok {
		return services.ReturnDecisionCommand{}, false
	}
	var req returnDecisionRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return services.ReturnDecisionCommand{}, false
	}
	amount, err := parseAmount(req.RefundAmount)
	if err != nil {
		badRequest(r.Context(), w, "refund_amount must be a decimal")
		return services.ReturnDecisionCommand{}, false
	}
	return services.ReturnDecisionCommand{
		OrderID:      chi.URLParam(r, "orderID"),
		ActorID:      identity.UserID,
		Note:         req.Note,
		RefundAmount: amount,
	}, true
}

func (h *AdminOrderHandlers) approveReturn(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.decision(w, r)
	if !ok {
		return
	}
	h.respondOrder(w, r, func() (services.Order, error) { return h.orders.ApproveReturn(r.Context(), cmd) })
}

func (h *AdminOrderHandlers) rejectReturn(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.decision(w, r)
	if !ok {
		return
	}
	h.respondOrder(w, r, func() (services.Order, error) { return h.orders.RejectReturn(r.Context(), cmd) })
}

func (h *AdminOrderHandlers) restockReturn(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.decision(w, r)
	if !ok {
		return
	}
	h.respondOrder(w, r, func() (services.Order, error) { return h.checkout.RestockReturn(r.Context(), cmd) })
}

func (h *AdminOrderHandlers) respondOrder(w http.ResponseWriter, r *http.Request, fn func() (services.Order, error)) {
	order, err := fn()
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrder(order))
}
