package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/httpx"
	"github.com/hanko-field/orderflow/internal/platform/idempotency"
	"github.com/hanko-field/orderflow/internal/platform/requestctx"
	"github.com/hanko-field/orderflow/internal/services"
)

const maxWebhookBodyBytes = 1 << 20

type initiatePaymentRequest struct {
	OrderID string `json:"order_id"`
	Amount  string `json:"amount"`
	Method  string `json:"method"`
}

type verifyPaymentRequest struct {
	IntentID    string `json:"intent_id"`
	ReferenceID string `json:"reference_id"`
	Signature   string `json:"signature"`
}

type refundPaymentRequest struct {
	Reason string `json:"reason"`
	Amount string `json:"amount"`
}

type paymentListResponse struct {
	Items []paymentPayload `json:"items"`
}

// PaymentHandlers exposes payment attempts to their owners.
type PaymentHandlers struct {
	authn    *auth.Authenticator
	payments services.PaymentService
}

func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{authn: authn, payments: payments}
}

func (h *PaymentHandlers) Routes(r chi.Router) {
	r.Use(h.authn.RequireAuth())
	r.With(h.authn.RequireAuth(auth.RoleBuyer)).Post("/", h.initiate)
	r.Get("/", h.listByOrder)
	r.Get("/{paymentID}", h.get)
	r.Post("/{paymentID}:verify", h.verify)
	r.Post("/{paymentID}:retry", h.retry)
}

func (h *PaymentHandlers) initiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := caller(w, r)
	if !ok {
		return
	}
	var req initiatePaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(ctx, w, "amount must be a decimal")
		return
	}
	payment, err := h.payments.Initiate(ctx, services.InitiatePaymentCommand{
		OrderID:        strings.TrimSpace(req.OrderID),
		CustomerID:     identity.UserID,
		Amount:         amount,
		Method:         domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.Method))),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotency.DefaultHeader)),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildPayment(payment))
}

func (h *PaymentHandlers) listByOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := caller(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(r.URL.Query().Get("orderId"))
	if orderID == "" {
		badRequest(ctx, w, "orderId is required")
		return
	}
	list, err := h.payments.ListByOrder(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := paymentListResponse{Items: make([]paymentPayload, 0, len(list))}
	for _, p := range list {
		if !identity.IsStaff() && p.CustomerID != identity.UserID {
			notFound(ctx, w, "order")
			return
		}
		resp.Items = append(resp.Items, buildPayment(p))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// owned loads the payment and hides it from callers other than its owner or staff.
func (h *PaymentHandlers) owned(w http.ResponseWriter, r *http.Request) (services.Payment, bool) {
	ctx := r.Context()
	identity, ok := caller(w, r)
	if !ok {
		return services.Payment{}, false
	}
	payment, err := h.payments.GetPayment(ctx, chi.URLParam(r, "paymentID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return services.Payment{}, false
	}
	if !identity.IsStaff() && payment.CustomerID != identity.UserID {
		notFound(ctx, w, "payment")
		return services.Payment{}, false
	}
	return payment, true
}

func (h *PaymentHandlers) get(w http.ResponseWriter, r *http.Request) {
	payment, ok := h.owned(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildPayment(payment))
}

func (h *PaymentHandlers) verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payment, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req verifyPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	updated, err := h.payments.Verify(ctx, services.VerifyPaymentCommand{
		PaymentID:   payment.ID,
		IntentID:    req.IntentID,
		ReferenceID: req.ReferenceID,
		Signature:   req.Signature,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildPayment(updated))
}

func (h *PaymentHandlers) retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payment, ok := h.owned(w, r)
	if !ok {
		return
	}
	updated, err := h.payments.Retry(ctx, services.RetryPaymentCommand{PaymentID: payment.ID})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildPayment(updated))
}

// AdminPaymentHandlers serves refunds under /admin/payments.
type AdminPaymentHandlers struct {
	authn    *auth.Authenticator
	payments services.PaymentService
}

func NewAdminPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService) *AdminPaymentHandlers {
	return &AdminPaymentHandlers{authn: authn, payments: payments}
}

func (h *AdminPaymentHandlers) Routes(r chi.Router) {
	r.With(h.authn.RequireAuth(auth.RoleAdmin)).Post("/{paymentID}:refund", h.refund)
}

func (h *AdminPaymentHandlers) refund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := caller(w, r)
	if !ok {
		return
	}
	var req refundPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(ctx, w, "amount must be a decimal")
		return
	}
	payment, err := h.payments.Refund(ctx, services.RefundPaymentCommand{
		PaymentID: chi.URLParam(r, "paymentID"),
		Reason:    req.Reason,
		Amount:    amount,
		ActorID:   identity.UserID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildPayment(payment))
}

type manualCallbackRequest struct {
	PaymentID   string `json:"payment_id"`
	ReferenceID string `json:"reference_id"`
	Signature   string `json:"signature"`
}

type webhookAck struct {
	Status    string `json:"status"`
	PaymentID string `json:"payment_id,omitempty"`
}

// PaymentWebhookHandlers receives gateway callbacks under /webhooks/payments.
type PaymentWebhookHandlers struct {
	payments services.PaymentService
	manual   func(http.Handler) http.Handler
}

// NewPaymentWebhookHandlers wires webhook endpoints. manualGuard authenticates the manual gateway
// callback; when nil the manual route is not mounted.
func NewPaymentWebhookHandlers(payments services.PaymentService, manualGuard func(http.Handler) http.Handler) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{payments: payments, manual: manualGuard}
}

func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	r.Post("/payments/stripe", h.stripe)
	if h.manual != nil {
		r.With(h.manual).Post("/payments/manual", h.manualCallback)
	}
}

func (h *PaymentWebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		badRequest(ctx, w, "unable to read webhook body")
		return
	}
	payment, err := h.payments.HandleWebhook(ctx, services.PaymentWebhookCommand{
		Provider:  "stripe",
		Payload:   payload,
		Signature: r.Header.Get("Stripe-Signature"),
	})
	if err != nil {
		// Events for intents this service never created are acknowledged so the gateway stops retrying.
		if errors.Is(err, services.ErrPaymentNotFound) {
			requestctx.Logger(ctx).Info("webhook for unknown payment ignored", zap.Error(err))
			httpx.WriteJSON(w, http.StatusOK, webhookAck{Status: "ignored"})
			return
		}
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, webhookAck{Status: "processed", PaymentID: payment.ID})
}

func (h *PaymentWebhookHandlers) manualCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req manualCallbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	payment, err := h.payments.Verify(ctx, services.VerifyPaymentCommand{
		PaymentID:   strings.TrimSpace(req.PaymentID),
		ReferenceID: req.ReferenceID,
		Signature:   req.Signature,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, webhookAck{Status: "processed", PaymentID: payment.ID})
}
