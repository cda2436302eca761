package services

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/payments"
)

type stubGateway struct {
	createFn  func(ctx context.Context, pc payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error)
	verifyFn  func(ctx context.Context, pc payments.PaymentContext, req payments.VerifyRequest) (payments.Verification, error)
	refundFn  func(ctx context.Context, pc payments.PaymentContext, req payments.RefundRequest) (payments.RefundResult, error)
	webhookFn func(provider string, payload []byte, sig string) (payments.WebhookEvent, error)

	mu      sync.Mutex
	intents int
	refunds []payments.RefundRequest
}

func (g *stubGateway) CreateIntent(ctx context.Context, pc payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error) {
	g.mu.Lock()
	g.intents++
	g.mu.Unlock()
	if g.createFn != nil {
		return g.createFn(ctx, pc, req)
	}
	return payments.Intent{Provider: "stripe", IntentID: "pi_" + req.PaymentID, ClientSecret: "secret", Status: payments.StatusPending}, nil
}

func (g *stubGateway) VerifySignature(ctx context.Context, pc payments.PaymentContext, req payments.VerifyRequest) (payments.Verification, error) {
	if g.verifyFn != nil {
		return g.verifyFn(ctx, pc, req)
	}
	return payments.Verification{Status: payments.StatusSucceeded, ReferenceID: req.ReferenceID}, nil
}

func (g *stubGateway) Refund(ctx context.Context, pc payments.PaymentContext, req payments.RefundRequest) (payments.RefundResult, error) {
	g.mu.Lock()
	g.refunds = append(g.refunds, req)
	g.mu.Unlock()
	if g.refundFn != nil {
		return g.refundFn(ctx, pc, req)
	}
	return payments.RefundResult{RefundID: "re_1", Status: "succeeded"}, nil
}

func (g *stubGateway) ParseWebhook(provider string, payload []byte, sig string) (payments.WebhookEvent, error) {
	if g.webhookFn != nil {
		return g.webhookFn(provider, payload, sig)
	}
	return payments.WebhookEvent{}, payments.ErrWebhookUnsupported
}

func (f *orderFixture) paymentService(t *testing.T, gateway paymentGateway, maxRetries int) PaymentService {
	t.Helper()
	svc, err := NewPaymentService(PaymentServiceDeps{
		Payments:   f.reg.Payments(),
		Orders:     f.svc,
		Gateway:    gateway,
		UnitOfWork: f.reg,
		Events:     f.events,
		MaxRetries: maxRetries,
	})
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	return svc
}

func TestPaymentServiceInitiateDefaultsToOrderTotal(t *testing.T) {
	f := newOrderFixture(t)
	order := f.createOrder(t, "cust-a")
	svc := f.paymentService(t, &stubGateway{}, 0)

	payment, err := svc.Initiate(context.Background(), InitiatePaymentCommand{OrderID: order.ID, CustomerID: "cust-a"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if !payment.Amount.Equal(dec("236")) || payment.Status != domain.PaymentStatusPending {
		t.Fatalf("unexpected payment %+v", payment)
	}
	if payment.Method != domain.PaymentMethodCreditCard || payment.Gateway.IntentID != "pi_"+payment.ID {
		t.Fatalf("unexpected gateway data %+v", payment.Gateway)
	}

	stored, err := f.svc.GetOrder(context.Background(), order.ID)
	if err != nil || stored.Payment.PaymentID != payment.ID {
		t.Fatalf("expected order to reference payment, got %+v %v", stored.Payment, err)
	}

	over := dec("500")
	if _, err := svc.Initiate(context.Background(), InitiatePaymentCommand{OrderID: order.ID, Amount: &over}); !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected amount above total rejected, got %v", err)
	}
	if _, err := svc.Initiate(context.Background(), InitiatePaymentCommand{OrderID: order.ID, CustomerID: "cust-b"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected foreign customer rejected, got %v", err)
	}
}

func TestPaymentServiceInitiateGatewayFailure(t *testing.T) {
	f := newOrderFixture(t)
	order := f.createOrder(t, "cust-a")
	gateway := &stubGateway{createFn: func(context.Context, payments.PaymentContext, payments.IntentRequest) (payments.Intent, error) {
		return payments.Intent{}, errors.New("psp down")
	}}
	svc := f.paymentService(t, gateway, 0)

	_, err := svc.Initiate(context.Background(), InitiatePaymentCommand{OrderID: order.ID})
	if !errors.Is(err, ErrPaymentGateway) || ClassifyError(err) != ErrorKindDependency {
		t.Fatalf("expected gateway dependency failure, got %v", err)
	}
	list, _ := svc.ListByOrder(context.Background(), order.ID)
	if len(list) != 0 {
		t.Fatalf("no payment should be stored, got %+v", list)
	}
}

func TestPaymentServiceMarkCompletedIsIdempotent(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, "cust-a")
	svc := f.paymentService(t, &stubGateway{}, 0)

	payment, err := svc.Initiate(ctx, InitiatePaymentCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	first, err := svc.MarkCompleted(ctx, MarkPaymentCompletedCommand{PaymentID: payment.ID, GatewayRef: "ch_1"})
	if err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	second, err := svc.MarkCompleted(ctx, MarkPaymentCompletedCommand{PaymentID: payment.ID, GatewayRef: "ch_1"})
	if err != nil {
		t.Fatalf("repeat mark completed: %v", err)
	}
	if second.Version != first.Version {
		t.Fatalf("repeat must not write, versions %d and %d", first.Version, second.Version)
	}

	stored, err := f.svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Payment.Status != domain.PaymentStatusCompleted || stored.Payment.TransactionID != "ch_1" || stored.Payment.PaidAt == nil {
		t.Fatalf("expected order payment completed, got %+v", stored.Payment)
	}

	completed := 0
	for _, kind := range f.events.types() {
		if kind == EventPaymentCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("expected one completed event, got %v", f.events.types())
	}

	if _, err := svc.MarkCompleted(ctx, MarkPaymentCompletedCommand{PaymentID: payment.ID, GatewayRef: "ch_2"}); !errors.Is(err, ErrPaymentConflict) {
		t.Fatalf("expected different reference to conflict, got %v", err)
	}
	if _, err := svc.Initiate(ctx, InitiatePaymentCommand{OrderID: order.ID}); !errors.Is(err, ErrPaymentAlreadyCompleted) {
		t.Fatalf("expected paid order to refuse new payments, got %v", err)
	}
}

func TestPaymentServiceRetryCap(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, "cust-a")
	gateway := &stubGateway{}
	svc := f.paymentService(t, gateway, 2)

	payment, err := svc.Initiate(ctx, InitiatePaymentCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := svc.Retry(ctx, RetryPaymentCommand{PaymentID: payment.ID}); !errors.Is(err, ErrPaymentInvalidState) {
		t.Fatalf("expected retry of pending payment rejected, got %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.MarkFailed(ctx, MarkPaymentFailedCommand{PaymentID: payment.ID, Reason: "declined"}); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
		retried, err := svc.Retry(ctx, RetryPaymentCommand{PaymentID: payment.ID})
		if err != nil {
			t.Fatalf("retry %d: %v", i+1, err)
		}
		if retried.Retries != i+1 || retried.Status != domain.PaymentStatusPending {
			t.Fatalf("unexpected retried payment %+v", retried)
		}
	}

	failed, err := svc.MarkFailed(ctx, MarkPaymentFailedCommand{PaymentID: payment.ID, Reason: "<b>declined</b>"})
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if failed.LastError != "declined" {
		t.Fatalf("expected sanitized reason, got %q", failed.LastError)
	}
	stored, _ := f.svc.GetOrder(ctx, order.ID)
	if stored.Payment.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected order payment failed, got %s", stored.Payment.Status)
	}

	_, err = svc.Retry(ctx, RetryPaymentCommand{PaymentID: payment.ID})
	if !errors.Is(err, ErrPaymentRetryLimitExceeded) || ClassifyError(err) != ErrorKindBusinessRule {
		t.Fatalf("expected retry limit, got %v", err)
	}
	if gateway.intents != 3 {
		t.Fatalf("expected initial intent plus two retries, got %d", gateway.intents)
	}
}

func TestPaymentServiceRefund(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, "cust-a")
	gateway := &stubGateway{}
	svc := f.paymentService(t, gateway, 0)

	payment, err := svc.Initiate(ctx, InitiatePaymentCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := svc.Refund(ctx, RefundPaymentCommand{PaymentID: payment.ID}); !errors.Is(err, ErrPaymentNotRefundable) {
		t.Fatalf("expected pending payment not refundable, got %v", err)
	}

	if _, err := svc.MarkCompleted(ctx, MarkPaymentCompletedCommand{PaymentID: payment.ID, GatewayRef: "ch_1"}); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	partial := dec("100")
	refunded, err := svc.Refund(ctx, RefundPaymentCommand{PaymentID: payment.ID, Amount: &partial, Reason: "damaged"})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.Status != domain.PaymentStatusRefunded || refunded.Refund == nil || !refunded.Refund.Amount.Equal(partial) {
		t.Fatalf("unexpected refunded payment %+v", refunded)
	}
	if len(gateway.refunds) != 1 || gateway.refunds[0].ReferenceID != "ch_1" {
		t.Fatalf("unexpected gateway refunds %+v", gateway.refunds)
	}

	stored, _ := f.svc.GetOrder(ctx, order.ID)
	if stored.Payment.Status != domain.PaymentStatusRefunded {
		t.Fatalf("expected order payment refunded, got %s", stored.Payment.Status)
	}
	if _, err := svc.Refund(ctx, RefundPaymentCommand{PaymentID: payment.ID}); !errors.Is(err, ErrPaymentNotRefundable) {
		t.Fatalf("expected second refund rejected, got %v", err)
	}
	if !slices.Contains(f.events.types(), EventPaymentRefunded) {
		t.Fatalf("expected refunded event, got %v", f.events.types())
	}
}

func TestPaymentServiceVerifyWithManualProvider(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, "cust-a")

	manual, err := payments.NewManualProvider("collector-secret")
	if err != nil {
		t.Fatalf("manual provider: %v", err)
	}
	manager, err := payments.NewManager(map[string]payments.Provider{payments.ManualProviderKey: manual})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	svc := f.paymentService(t, manager, 0)

	payment, err := svc.Initiate(ctx, InitiatePaymentCommand{OrderID: order.ID, Method: domain.PaymentMethodCOD})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if payment.Gateway.Name != payments.ManualProviderKey {
		t.Fatalf("expected manual gateway, got %q", payment.Gateway.Name)
	}

	_, err = svc.Verify(ctx, VerifyPaymentCommand{PaymentID: payment.ID, ReferenceID: "rcpt-9", Signature: "00ff"})
	if !errors.Is(err, ErrPaymentVerificationFailed) {
		t.Fatalf("expected verification failure, got %v", err)
	}
	failed, _ := svc.GetPayment(ctx, payment.ID)
	if failed.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected bad proof to fail the payment, got %s", failed.Status)
	}

	retried, err := svc.Retry(ctx, RetryPaymentCommand{PaymentID: payment.ID})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	verified, err := svc.Verify(ctx, VerifyPaymentCommand{PaymentID: retried.ID, ReferenceID: "rcpt-9", Signature: manual.Sign(retried.ID, "rcpt-9")})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Status != domain.PaymentStatusCompleted || verified.Gateway.ReferenceID != "rcpt-9" {
		t.Fatalf("unexpected verified payment %+v", verified)
	}
}

func TestPaymentServiceHandleWebhook(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, "cust-a")
	gateway := &stubGateway{}
	svc := f.paymentService(t, gateway, 0)

	payment, err := svc.Initiate(ctx, InitiatePaymentCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	gateway.webhookFn = func(string, []byte, string) (payments.WebhookEvent, error) {
		return payments.WebhookEvent{}, payments.ErrInvalidSignature
	}
	if _, err := svc.HandleWebhook(ctx, PaymentWebhookCommand{Provider: "stripe", Payload: []byte("{}"), Signature: "bad"}); !errors.Is(err, ErrPaymentVerificationFailed) {
		t.Fatalf("expected signature failure, got %v", err)
	}

	gateway.webhookFn = func(provider string, _ []byte, _ string) (payments.WebhookEvent, error) {
		return payments.WebhookEvent{ID: "evt_1", Type: "payment_intent.succeeded", IntentID: payment.Gateway.IntentID, Status: payments.StatusSucceeded, ReferenceID: "ch_9"}, nil
	}
	settled, err := svc.HandleWebhook(ctx, PaymentWebhookCommand{Provider: "stripe", Payload: []byte("{}"), Signature: "ok"})
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if settled.Status != domain.PaymentStatusCompleted || settled.Gateway.ReferenceID != "ch_9" {
		t.Fatalf("unexpected settled payment %+v", settled)
	}

	// Gateways redeliver; the second delivery must not change anything.
	again, err := svc.HandleWebhook(ctx, PaymentWebhookCommand{Provider: "stripe", Payload: []byte("{}"), Signature: "ok"})
	if err != nil || again.Version != settled.Version {
		t.Fatalf("expected redelivery to be a no-op, got %v version %d", err, again.Version)
	}
}
