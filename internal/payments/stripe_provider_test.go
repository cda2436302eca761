package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

type fakeIntentAPI struct {
	created *stripe.PaymentIntentParams
	intent  *stripe.PaymentIntent
	err     error
}

func (f *fakeIntentAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.created = params
	return f.intent, f.err
}

func (f *fakeIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.intent == nil || f.intent.ID != id {
		return nil, errors.New("no such intent")
	}
	return f.intent, nil
}

type fakeRefundAPI struct {
	params *stripe.RefundParams
}

func (f *fakeRefundAPI) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	f.params = params
	return &stripe.Refund{ID: "re_1", Status: stripe.RefundStatusSucceeded}, nil
}

func newTestStripeProvider(t *testing.T, intents *fakeIntentAPI, refunds *fakeRefundAPI) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		WebhookSecret: "whsec_test",
		Clients:       &stripeClients{intents: intents, refunds: refunds},
	})
	if err != nil {
		t.Fatalf("new stripe provider: %v", err)
	}
	return provider
}

func TestStripeProviderCreateIntentSendsMinorUnits(t *testing.T) {
	intents := &fakeIntentAPI{intent: &stripe.PaymentIntent{
		ID:           "pi_123",
		ClientSecret: "pi_123_secret",
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
	}}
	provider := newTestStripeProvider(t, intents, &fakeRefundAPI{})

	intent, err := provider.CreateIntent(context.Background(), IntentRequest{
		PaymentID:      "pay_1",
		OrderID:        "ord_1",
		Amount:         decimal.RequireFromString("192.40"),
		Currency:       "INR",
		IdempotencyKey: "idem-1",
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.IntentID != "pi_123" || intent.Status != StatusPending {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if got := *intents.created.Amount; got != 19240 {
		t.Fatalf("expected 19240 minor units, got %d", got)
	}
	if got := *intents.created.Currency; got != "inr" {
		t.Fatalf("expected lower-case currency, got %q", got)
	}
	if intents.created.Metadata["paymentId"] != "pay_1" {
		t.Fatalf("expected payment id in metadata")
	}
}

func TestStripeProviderVerifySignature(t *testing.T) {
	intents := &fakeIntentAPI{intent: &stripe.PaymentIntent{
		ID:           "pi_9",
		Status:       stripe.PaymentIntentStatusSucceeded,
		LatestCharge: &stripe.Charge{ID: "ch_9"},
	}}
	provider := newTestStripeProvider(t, intents, &fakeRefundAPI{})

	v, err := provider.VerifySignature(context.Background(), VerifyRequest{IntentID: "pi_9"})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.Status != StatusSucceeded || v.ReferenceID != "ch_9" {
		t.Fatalf("unexpected verification %+v", v)
	}

	if _, err := provider.VerifySignature(context.Background(), VerifyRequest{IntentID: "pi_9", ReferenceID: "pi_other"}); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestStripeProviderRefundMapsReason(t *testing.T) {
	refunds := &fakeRefundAPI{}
	provider := newTestStripeProvider(t, &fakeIntentAPI{}, refunds)

	res, err := provider.Refund(context.Background(), RefundRequest{
		PaymentID: "pay_1",
		IntentID:  "pi_1",
		Amount:    decimal.RequireFromString("10.5"),
		Reason:    "Requested_By_Customer",
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if res.RefundID != "re_1" {
		t.Fatalf("unexpected refund %+v", res)
	}
	if *refunds.params.Amount != 1050 {
		t.Fatalf("expected 1050, got %d", *refunds.params.Amount)
	}
	if *refunds.params.Reason != string(stripe.RefundReasonRequestedByCustomer) {
		t.Fatalf("unexpected reason %q", *refunds.params.Reason)
	}
}

func TestStripeProviderParseWebhook(t *testing.T) {
	provider := newTestStripeProvider(t, &fakeIntentAPI{}, &fakeRefundAPI{})
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_7","object":"payment_intent","status":"succeeded"}}}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})
	event, err := provider.ParseWebhook(signed.Payload, signed.Header)
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if event.IntentID != "pi_7" || event.Status != StatusSucceeded {
		t.Fatalf("unexpected event %+v", event)
	}

	if _, err := provider.ParseWebhook(payload, "t=1,v1=deadbeef"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
