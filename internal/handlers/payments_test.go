package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/services"
)

func samplePayment(id, customer string) services.Payment {
	return services.Payment{
		ID:         id,
		OrderID:    "ord_1",
		CustomerID: customer,
		Amount:     decimal.RequireFromString("21.6"),
		Currency:   "USD",
		Method:     domain.PaymentMethodCreditCard,
		Status:     domain.PaymentStatusPending,
		Gateway:    domain.PaymentGateway{Name: "stripe", IntentID: "pi_1"},
	}
}

func TestPaymentHandlersInitiate(t *testing.T) {
	authn := newTestAuthenticator(t)
	var captured services.InitiatePaymentCommand
	payments := &stubPaymentService{
		initiateFn: func(_ context.Context, cmd services.InitiatePaymentCommand) (services.Payment, error) {
			captured = cmd
			return samplePayment("pay_1", cmd.CustomerID), nil
		},
	}
	h := NewPaymentHandlers(authn, payments)

	rr := serve(t, "/payments", h.Routes, http.MethodPost, "/payments", bearer(t, authn, "buyer-1", auth.RoleBuyer), map[string]any{
		"order_id": "ord_1",
		"method":   "UPI",
		"amount":   "10.00",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.CustomerID != "buyer-1" || captured.Method != domain.PaymentMethodUPI {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.Amount == nil || !captured.Amount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected amount 10, got %v", captured.Amount)
	}
	resp := decodeResponse[paymentPayload](t, rr)
	if resp.ID != "pay_1" || resp.Amount != "21.60" || resp.IntentID != "pi_1" {
		t.Fatalf("unexpected payload %+v", resp)
	}
}

func TestPaymentHandlersOwnershipChecks(t *testing.T) {
	authn := newTestAuthenticator(t)
	retried := false
	payments := &stubPaymentService{
		getFn: func(_ context.Context, id string) (services.Payment, error) {
			return samplePayment(id, "buyer-1"), nil
		},
		retryFn: func(_ context.Context, cmd services.RetryPaymentCommand) (services.Payment, error) {
			retried = true
			return samplePayment(cmd.PaymentID, "buyer-1"), nil
		},
	}
	h := NewPaymentHandlers(authn, payments)

	rr := serve(t, "/payments", h.Routes, http.MethodPost, "/payments/pay_1:retry", bearer(t, authn, "buyer-2", auth.RoleBuyer), nil)
	if rr.Code != http.StatusNotFound || retried {
		t.Fatalf("expected 404 without retry for another buyer, got %d retried=%v", rr.Code, retried)
	}

	rr = serve(t, "/payments", h.Routes, http.MethodPost, "/payments/pay_1:retry", bearer(t, authn, "buyer-1", auth.RoleBuyer), nil)
	if rr.Code != http.StatusOK || !retried {
		t.Fatalf("expected owner retry, got %d", rr.Code)
	}

	rr = serve(t, "/payments", h.Routes, http.MethodGet, "/payments/pay_1", bearer(t, authn, "admin-1", auth.RoleAdmin), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected admin read, got %d", rr.Code)
	}
}

func TestPaymentHandlersRetryLimit(t *testing.T) {
	authn := newTestAuthenticator(t)
	payments := &stubPaymentService{
		getFn: func(_ context.Context, id string) (services.Payment, error) {
			return samplePayment(id, "buyer-1"), nil
		},
		retryFn: func(context.Context, services.RetryPaymentCommand) (services.Payment, error) {
			return services.Payment{}, fmt.Errorf("%w: 3 attempts", services.ErrPaymentRetryLimitExceeded)
		},
	}
	h := NewPaymentHandlers(authn, payments)

	rr := serve(t, "/payments", h.Routes, http.MethodPost, "/payments/pay_1:retry", bearer(t, authn, "buyer-1", auth.RoleBuyer), nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if env := decodeResponse[errorEnvelope](t, rr); env.Error != "retry_limit_exceeded" {
		t.Fatalf("unexpected code %s", env.Error)
	}
}

func TestPaymentHandlersVerify(t *testing.T) {
	authn := newTestAuthenticator(t)
	var captured services.VerifyPaymentCommand
	payments := &stubPaymentService{
		getFn: func(_ context.Context, id string) (services.Payment, error) {
			return samplePayment(id, "buyer-1"), nil
		},
		verifyFn: func(_ context.Context, cmd services.VerifyPaymentCommand) (services.Payment, error) {
			captured = cmd
			p := samplePayment(cmd.PaymentID, "buyer-1")
			p.Status = domain.PaymentStatusCompleted
			return p, nil
		},
	}
	h := NewPaymentHandlers(authn, payments)

	rr := serve(t, "/payments", h.Routes, http.MethodPost, "/payments/pay_1:verify", bearer(t, authn, "buyer-1", auth.RoleBuyer), map[string]any{
		"intent_id": "pi_1",
		"signature": "sig",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.PaymentID != "pay_1" || captured.IntentID != "pi_1" || captured.Signature != "sig" {
		t.Fatalf("unexpected verify command %+v", captured)
	}
	if resp := decodeResponse[paymentPayload](t, rr); resp.Status != string(domain.PaymentStatusCompleted) {
		t.Fatalf("expected completed payment, got %s", resp.Status)
	}
}

func TestPaymentHandlersListByOrder(t *testing.T) {
	authn := newTestAuthenticator(t)
	payments := &stubPaymentService{
		listFn: func(_ context.Context, orderID string) ([]services.Payment, error) {
			return []services.Payment{samplePayment("pay_1", "buyer-1"), samplePayment("pay_2", "buyer-1")}, nil
		},
	}
	h := NewPaymentHandlers(authn, payments)

	rr := serve(t, "/payments", h.Routes, http.MethodGet, "/payments?orderId=ord_1", bearer(t, authn, "buyer-1", auth.RoleBuyer), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if resp := decodeResponse[paymentListResponse](t, rr); len(resp.Items) != 2 {
		t.Fatalf("expected two payments, got %d", len(resp.Items))
	}

	rr = serve(t, "/payments", h.Routes, http.MethodGet, "/payments?orderId=ord_1", bearer(t, authn, "buyer-2", auth.RoleBuyer), nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another buyer, got %d", rr.Code)
	}

	rr = serve(t, "/payments", h.Routes, http.MethodGet, "/payments", bearer(t, authn, "buyer-1", auth.RoleBuyer), nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without orderId, got %d", rr.Code)
	}
}

func TestAdminPaymentHandlersRefund(t *testing.T) {
	authn := newTestAuthenticator(t)
	var captured services.RefundPaymentCommand
	payments := &stubPaymentService{
		refundFn: func(_ context.Context, cmd services.RefundPaymentCommand) (services.Payment, error) {
			captured = cmd
			if cmd.Amount != nil && cmd.Amount.GreaterThan(decimal.NewFromInt(100)) {
				return services.Payment{}, fmt.Errorf("%w: exceeds captured amount", services.ErrPaymentNotRefundable)
			}
			p := samplePayment(cmd.PaymentID, "buyer-1")
			p.Status = domain.PaymentStatusRefunded
			p.Refund = &domain.PaymentRefund{Amount: *cmd.Amount, Status: "succeeded"}
			return p, nil
		},
	}
	h := NewAdminPaymentHandlers(authn, payments)
	admin := bearer(t, authn, "admin-1", auth.RoleAdmin)

	rr := serve(t, "/admin/payments", h.Routes, http.MethodPost, "/admin/payments/pay_1:refund", admin, map[string]any{"amount": "5", "reason": "damaged"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ActorID != "admin-1" || captured.Reason != "damaged" {
		t.Fatalf("unexpected refund command %+v", captured)
	}
	if resp := decodeResponse[paymentPayload](t, rr); resp.RefundAmount != "5.00" {
		t.Fatalf("expected refund amount 5.00, got %s", resp.RefundAmount)
	}

	rr = serve(t, "/admin/payments", h.Routes, http.MethodPost, "/admin/payments/pay_1:refund", admin, map[string]any{"amount": "500"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}

	rr = serve(t, "/admin/payments", h.Routes, http.MethodPost, "/admin/payments/pay_1:refund", bearer(t, authn, "seller-1", auth.RoleSeller), map[string]any{})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for seller, got %d", rr.Code)
	}
}

func TestPaymentWebhookHandlersStripe(t *testing.T) {
	var captured services.PaymentWebhookCommand
	payments := &stubPaymentService{
		webhookFn: func(_ context.Context, cmd services.PaymentWebhookCommand) (services.Payment, error) {
			captured = cmd
			if bytes.Contains(cmd.Payload, []byte("pi_unknown")) {
				return services.Payment{}, fmt.Errorf("%w: pi_unknown", services.ErrPaymentNotFound)
			}
			if cmd.Signature != "t=1,v1=good" {
				return services.Payment{}, fmt.Errorf("%w: bad signature", services.ErrPaymentVerificationFailed)
			}
			return samplePayment("pay_1", "buyer-1"), nil
		},
	}
	h := NewPaymentWebhookHandlers(payments, nil)
	router := chi.NewRouter()
	router.Route("/webhooks", h.Routes)

	send := func(body, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", bytes.NewBufferString(body))
		req.Header.Set("Stripe-Signature", signature)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	rr := send(`{"id":"evt_1","data":{"object":{"id":"pi_1"}}}`, "t=1,v1=good")
	if rr.Code != http.StatusOK || captured.Provider != "stripe" {
		t.Fatalf("expected processed webhook, got %d provider=%s", rr.Code, captured.Provider)
	}
	if ack := decodeResponse[webhookAck](t, rr); ack.Status != "processed" || ack.PaymentID != "pay_1" {
		t.Fatalf("unexpected ack %+v", ack)
	}

	rr = send(`{"id":"evt_2"}`, "t=1,v1=bad")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad signature, got %d", rr.Code)
	}

	rr = send(`{"id":"evt_3","data":{"object":{"id":"pi_unknown"}}}`, "t=1,v1=good")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected unknown intents to be acknowledged, got %d", rr.Code)
	}
	if ack := decodeResponse[webhookAck](t, rr); ack.Status != "ignored" {
		t.Fatalf("expected ignored ack, got %+v", ack)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/manual", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code == http.StatusOK {
		t.Fatal("manual route must not be mounted without a guard")
	}
}

func TestPaymentWebhookHandlersManualRequiresSignature(t *testing.T) {
	var captured services.VerifyPaymentCommand
	payments := &stubPaymentService{
		verifyFn: func(_ context.Context, cmd services.VerifyPaymentCommand) (services.Payment, error) {
			captured = cmd
			p := samplePayment(cmd.PaymentID, "buyer-1")
			p.Status = domain.PaymentStatusCompleted
			return p, nil
		},
	}
	validator, err := auth.NewSignatureValidator("manual-webhook", "callback-secret", auth.NewMemoryNonceStore())
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	h := NewPaymentWebhookHandlers(payments, validator.RequireSignature)
	router := chi.NewRouter()
	router.Route("/webhooks", h.Routes)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/manual", bytes.NewBufferString(`{"payment_id":"pay_1","reference_id":"ref-1","signature":"abc"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without request signature, got %d", rr.Code)
	}
	if captured.PaymentID != "" {
		t.Fatal("verify must not run for unsigned callbacks")
	}

	body := `{"payment_id":"pay_1","reference_id":"ref-1","signature":"abc"}`
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req = httptest.NewRequest(http.MethodPost, "/webhooks/payments/manual", bytes.NewBufferString(body))
	req.Header.Set(auth.TimestampHeader, timestamp)
	req.Header.Set(auth.NonceHeader, "nonce-1")
	req.Header.Set(auth.SignatureHeader, validator.Sign(http.MethodPost, "/webhooks/payments/manual", timestamp, "nonce-1", []byte(body)))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected signed callback to be processed, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.PaymentID != "pay_1" || captured.ReferenceID != "ref-1" || captured.Signature != "abc" {
		t.Fatalf("unexpected verify command %+v", captured)
	}
}
