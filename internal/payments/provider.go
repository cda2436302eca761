package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Status enumerates the normalised payment states shared across gateways.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the gateway reports the payment as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway reports a failure.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded.
	StatusRefunded Status = "refunded"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a gateway.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidSignature is returned when a gateway proof or webhook signature does not verify.
	ErrInvalidSignature = errors.New("payments: invalid signature")
	// ErrWebhookUnsupported is returned when the gateway cannot parse webhooks.
	ErrWebhookUnsupported = errors.New("payments: webhooks not supported")
)

// IntentRequest asks a gateway to start collecting a payment.
type IntentRequest struct {
	PaymentID      string
	OrderID        string
	OrderNumber    string
	CustomerID     string
	Amount         decimal.Decimal
	Currency       string
	Method         string
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent is the gateway side handle of a payment.
type Intent struct {
	Provider     string
	IntentID     string
	ClientSecret string
	Status       Status
}

// VerifyRequest carries the proof a client presents after paying.
type VerifyRequest struct {
	PaymentID   string
	IntentID    string
	ReferenceID string
	Signature   string
}

// Verification is the gateway's verdict on a proof.
type Verification struct {
	Status          Status
	ReferenceID     string
	ResponseCode    string
	ResponseMessage string
}

// RefundRequest defines a gateway refund attempt.
type RefundRequest struct {
	PaymentID      string
	IntentID       string
	ReferenceID    string
	Amount         decimal.Decimal
	Currency       string
	Reason         string
	IdempotencyKey string
}

// RefundResult reports the gateway refund outcome.
type RefundResult struct {
	RefundID string
	Status   string
}

// WebhookEvent is a verified gateway callback normalised across providers.
type WebhookEvent struct {
	ID              string
	Type            string
	IntentID        string
	Status          Status
	ReferenceID     string
	ResponseCode    string
	ResponseMessage string
}

// Provider defines the gateway capability the payment coordinator relies on.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	VerifySignature(ctx context.Context, req VerifyRequest) (Verification, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// WebhookParser is implemented by gateways that push signed callbacks.
type WebhookParser interface {
	ParseWebhook(payload []byte, signatureHeader string) (WebhookEvent, error)
}

// Manager coordinates gateway selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	methodRoutes    map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the gateway used for methods without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithMethodRoutes maps payment methods (cod, upi, ...) to gateway keys.
func WithMethodRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.methodRoutes == nil {
			m.methodRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.methodRoutes[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied gateways.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap[StripeProviderKey]; ok {
		m.defaultProvider = StripeProviderKey
	}
	if _, ok := copyMap[ManualProviderKey]; ok {
		m.methodRoutes = map[string]string{"cod": ManualProviderKey}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a gateway.
type PaymentContext struct {
	PreferredProvider string
	Method            string
}

// ResolveProvider returns the gateway key that would serve the context.
func (m *Manager) ResolveProvider(ctx PaymentContext) (string, error) {
	key, _, err := m.resolveProvider(ctx)
	return key, err
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
		return "", nil, ErrUnsupportedProvider
	}
	method := strings.ToLower(strings.TrimSpace(ctx.Method))
	if method != "" && m.methodRoutes != nil {
		if providerKey, ok := m.methodRoutes[method]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateIntent delegates to the resolved gateway.
func (m *Manager) CreateIntent(ctx context.Context, paymentCtx PaymentContext, req IntentRequest) (Intent, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Intent{}, err
	}
	intent, err := provider.CreateIntent(ctx, req)
	if err != nil {
		return Intent{}, err
	}
	intent.Provider = key
	return intent, nil
}

// VerifySignature delegates to the resolved gateway.
func (m *Manager) VerifySignature(ctx context.Context, paymentCtx PaymentContext, req VerifyRequest) (Verification, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Verification{}, err
	}
	return provider.VerifySignature(ctx, req)
}

// Refund delegates to the resolved gateway.
func (m *Manager) Refund(ctx context.Context, paymentCtx PaymentContext, req RefundRequest) (RefundResult, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return RefundResult{}, err
	}
	return provider.Refund(ctx, req)
}

// ParseWebhook verifies and normalises a callback for the named gateway.
func (m *Manager) ParseWebhook(providerKey string, payload []byte, signatureHeader string) (WebhookEvent, error) {
	_, provider, err := m.resolveProvider(PaymentContext{PreferredProvider: providerKey})
	if err != nil {
		return WebhookEvent{}, err
	}
	parser, ok := provider.(WebhookParser)
	if !ok {
		return WebhookEvent{}, ErrWebhookUnsupported
	}
	return parser.ParseWebhook(payload, signatureHeader)
}

// MinorUnits converts a two-place decimal amount to the smallest currency unit.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts the smallest currency unit back to a decimal amount.
func FromMinorUnits(units int64) decimal.Decimal {
	return decimal.New(units, -2)
}
