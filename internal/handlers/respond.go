package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/httpx"
	"github.com/hanko-field/orderflow/internal/platform/requestctx"
	"github.com/hanko-field/orderflow/internal/services"
)

// writeServiceError maps a service failure onto the error envelope by its kind.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch services.ClassifyError(err) {
	case services.ErrorKindNotFound:
		httpx.WriteError(ctx, w, httpx.NewError("not_found", err.Error(), http.StatusNotFound))
	case services.ErrorKindValidation:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case services.ErrorKindBusinessRule:
		httpx.WriteError(ctx, w, httpx.NewError(businessCode(err), err.Error(), http.StatusConflict))
	case services.ErrorKindConflict:
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	default:
		requestctx.Logger(ctx).Error("request failed", zap.Error(err))
		if errors.Is(err, services.ErrRepositoryUnavailable) || errors.Is(err, services.ErrPaymentGateway) {
			httpx.WriteError(ctx, w, httpx.NewError("unavailable", "a dependency is unavailable, retry later", http.StatusServiceUnavailable))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("internal", "internal error", http.StatusInternalServerError))
	}
}

var businessCodes = []struct {
	err  error
	code string
}{
	{services.ErrStockInsufficient, "insufficient_stock"},
	{services.ErrDiscountExpired, "discount_expired"},
	{services.ErrDiscountInactive, "discount_inactive"},
	{services.ErrDiscountUsageLimitReached, "discount_exhausted"},
	{services.ErrDiscountBelowMinimumCart, "discount_minimum_not_met"},
	{services.ErrDiscountPerCustomerLimitReached, "discount_customer_limit"},
	{services.ErrOrderInvalidTransition, "invalid_transition"},
	{services.ErrPaymentRetryLimitExceeded, "retry_limit_exceeded"},
	{services.ErrPaymentNotRefundable, "not_refundable"},
	{services.ErrPaymentAlreadyCompleted, "already_completed"},
	{services.ErrPaymentInvalidState, "invalid_payment_state"},
	{services.ErrCounterExhausted, "counter_exhausted"},
}

func businessCode(err error) string {
	for _, bc := range businessCodes {
		if errors.Is(err, bc.err) {
			return bc.code
		}
	}
	return "business_rule"
}

func badRequest(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		badRequest(r.Context(), w, err.Error())
		return false
	}
	return true
}

// caller returns the authenticated identity; routes are mounted behind RequireAuth so a missing
// identity is a wiring fault answered with 401.
func caller(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UserID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func notFound(ctx context.Context, w http.ResponseWriter, what string) {
	httpx.WriteError(ctx, w, httpx.NewError("not_found", what+" not found", http.StatusNotFound))
}

// parseAmount reads an optional decimal string; an empty value yields nil.
func parseAmount(raw string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func parseRequiredAmount(raw string) (decimal.Decimal, error) {
	value, err := parseAmount(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if value == nil {
		return decimal.Zero, errors.New("amount is required")
	}
	return *value, nil
}
