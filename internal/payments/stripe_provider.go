package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/hanko-field/orderflow/internal/platform/textutil"
)

// StripeProviderKey registers the Stripe gateway with the Manager.
const StripeProviderKey = "stripe"

const (
	stripeEventIntentSucceeded = "payment_intent.succeeded"
	stripeEventIntentFailed    = "payment_intent.payment_failed"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey           string
	AccountID        string
	WebhookSecret    string
	WebhookTolerance time.Duration
	Backends         *stripe.Backends
	Logger           StripeLogger
	Clients          *stripeClients
}

// StripeProvider implements Provider and WebhookParser on Stripe Payment Intents.
type StripeProvider struct {
	api              stripeClients
	account          string
	webhookSecret    string
	webhookTolerance time.Duration
	logger           StripeLogger
}

var (
	_ Provider      = (*StripeProvider)(nil)
	_ WebhookParser = (*StripeProvider)(nil)
)

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
			refunds: sc.Refunds,
		}
	}

	if clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	return &StripeProvider{
		api:              clients,
		account:          strings.TrimSpace(cfg.AccountID),
		webhookSecret:    strings.TrimSpace(cfg.WebhookSecret),
		webhookTolerance: tolerance,
		logger:           logger,
	}, nil
}

// CreateIntent creates a Stripe Payment Intent for the order amount.
func (p *StripeProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(MinorUnits(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.OrderNumber != "" {
		params.Description = stripe.String("Order " + req.OrderNumber)
	}
	params.Metadata = map[string]string{
		"paymentId": req.PaymentID,
		"orderId":   req.OrderID,
	}
	for k, v := range textutil.NormalizeStringMap(req.Metadata, textutil.StripeMetadata) {
		params.Metadata[k] = v
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"paymentId":     req.PaymentID,
		"status":        intent.Status,
	})

	return Intent{
		Provider:     StripeProviderKey,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       stripeIntentStatus(intent.Status),
	}, nil
}

// VerifySignature confirms with Stripe that the intent named by the client proof settled.
func (p *StripeProvider) VerifySignature(ctx context.Context, req VerifyRequest) (Verification, error) {
	if p == nil {
		return Verification{}, errors.New("stripe: provider is nil")
	}
	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" {
		return Verification{}, fmt.Errorf("%w: payment intent id missing", ErrInvalidSignature)
	}
	if ref := strings.TrimSpace(req.ReferenceID); ref != "" && ref != intentID {
		return Verification{}, fmt.Errorf("%w: reference does not match payment intent", ErrInvalidSignature)
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.api.intents.Get(intentID, params)
	if err != nil {
		return Verification{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}

	return stripeVerification(intent), nil
}

// Refund creates a refund for the provided Payment Intent.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if p == nil {
		return RefundResult{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentID),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Amount.IsPositive() {
		params.Amount = stripe.Int64(MinorUnits(req.Amount))
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	params.Metadata = map[string]string{"paymentId": req.PaymentID}

	refund, err := p.api.refunds.New(params)
	if err != nil {
		return RefundResult{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.refunded", map[string]any{
		"paymentIntent": req.IntentID,
		"refund":        refund.ID,
	})
	return RefundResult{RefundID: refund.ID, Status: string(refund.Status)}, nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts the payment intent outcome.
func (p *StripeProvider) ParseWebhook(payload []byte, signatureHeader string) (WebhookEvent, error) {
	if p == nil {
		return WebhookEvent{}, errors.New("stripe: provider is nil")
	}
	if p.webhookSecret == "" {
		return WebhookEvent{}, errors.New("stripe: webhook secret not configured")
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                p.webhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := WebhookEvent{ID: event.ID, Type: string(event.Type)}
	switch string(event.Type) {
	case stripeEventIntentSucceeded, stripeEventIntentFailed:
		var intent stripe.PaymentIntent
		if event.Data == nil {
			return WebhookEvent{}, errors.New("stripe: webhook event without data")
		}
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		v := stripeVerification(&intent)
		out.IntentID = intent.ID
		out.Status = v.Status
		out.ReferenceID = v.ReferenceID
		out.ResponseCode = v.ResponseCode
		out.ResponseMessage = v.ResponseMessage
	}
	return out, nil
}

func stripeVerification(intent *stripe.PaymentIntent) Verification {
	if intent == nil {
		return Verification{Status: StatusPending}
	}
	v := Verification{
		Status:       stripeIntentStatus(intent.Status),
		ReferenceID:  intent.ID,
		ResponseCode: string(intent.Status),
	}
	if intent.LatestCharge != nil && intent.LatestCharge.ID != "" {
		v.ReferenceID = intent.LatestCharge.ID
		if intent.LatestCharge.Refunded {
			v.Status = StatusRefunded
		}
	}
	if perr := intent.LastPaymentError; perr != nil {
		v.ResponseCode = string(perr.Code)
		v.ResponseMessage = perr.Msg
		if v.Status == StatusPending && intent.Status == stripe.PaymentIntentStatusRequiresPaymentMethod {
			v.Status = StatusFailed
		}
	}
	return v
}

func stripeIntentStatus(status stripe.PaymentIntentStatus) Status {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
