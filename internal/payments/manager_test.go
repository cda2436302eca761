package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

type fakeProvider struct {
	lastOp string
	intent Intent
	verify Verification
	refund RefundResult
	err    error
}

func (f *fakeProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	f.lastOp = "create"
	return f.intent, f.err
}

func (f *fakeProvider) VerifySignature(ctx context.Context, req VerifyRequest) (Verification, error) {
	f.lastOp = "verify"
	return f.verify, f.err
}

func (f *fakeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	f.lastOp = "refund"
	return f.refund, f.err
}

func TestManagerRoutesCashOnDeliveryToManual(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{intent: Intent{IntentID: "pi_1"}}
	manual := &fakeProvider{intent: Intent{IntentID: "manual_pay_1"}}

	mgr, err := NewManager(map[string]Provider{
		StripeProviderKey: stripe,
		ManualProviderKey: manual,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	intent, err := mgr.CreateIntent(ctx, PaymentContext{Method: "cod"}, IntentRequest{PaymentID: "pay_1"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.Provider != ManualProviderKey || manual.lastOp != "create" {
		t.Fatalf("expected manual provider, got %q", intent.Provider)
	}

	intent, err = mgr.CreateIntent(ctx, PaymentContext{Method: "credit_card"}, IntentRequest{PaymentID: "pay_2"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.Provider != StripeProviderKey || stripe.lastOp != "create" {
		t.Fatalf("expected stripe provider, got %q", intent.Provider)
	}
}

func TestManagerPreferredProviderMustExist(t *testing.T) {
	mgr, err := NewManager(map[string]Provider{StripeProviderKey: &fakeProvider{}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	_, err = mgr.Refund(context.Background(), PaymentContext{PreferredProvider: "paypal"}, RefundRequest{})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestManagerRejectsEmptyRegistration(t *testing.T) {
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error for empty provider map")
	}
	if _, err := NewManager(map[string]Provider{" ": &fakeProvider{}}); err == nil {
		t.Fatalf("expected error for blank provider key")
	}
}

func TestManagerParseWebhookUnsupported(t *testing.T) {
	mgr, err := NewManager(map[string]Provider{ManualProviderKey: &fakeProvider{}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.ParseWebhook(ManualProviderKey, []byte("{}"), ""); !errors.Is(err, ErrWebhookUnsupported) {
		t.Fatalf("expected ErrWebhookUnsupported, got %v", err)
	}
}

func TestManualProviderVerifiesSignature(t *testing.T) {
	provider, err := NewManualProvider("s3cret")
	if err != nil {
		t.Fatalf("new manual provider: %v", err)
	}
	sig := provider.Sign("pay_1", "rcpt-9")

	v, err := provider.VerifySignature(context.Background(), VerifyRequest{PaymentID: "pay_1", ReferenceID: "rcpt-9", Signature: sig})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.Status != StatusSucceeded || v.ReferenceID != "rcpt-9" {
		t.Fatalf("unexpected verification %+v", v)
	}

	if _, err := provider.VerifySignature(context.Background(), VerifyRequest{PaymentID: "pay_2", ReferenceID: "rcpt-9", Signature: sig}); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for foreign payment, got %v", err)
	}
	if _, err := provider.VerifySignature(context.Background(), VerifyRequest{PaymentID: "pay_1", ReferenceID: "rcpt-9", Signature: "zz"}); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for bad encoding, got %v", err)
	}
}

func TestMinorUnits(t *testing.T) {
	if got := MinorUnits(decimal.RequireFromString("192.4")); got != 19240 {
		t.Fatalf("expected 19240, got %d", got)
	}
	if got := FromMinorUnits(23600); !got.Equal(decimal.NewFromInt(236)) {
		t.Fatalf("expected 236, got %s", got)
	}
}
