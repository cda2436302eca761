package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/services"
)

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "1.0.0", CommitSHA: "abc123", Environment: "prod", StartedAt: start}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeResponse[healthResponse](t, rr)
	if resp.Status != domain.HealthStatusOK || resp.Uptime != "30s" || resp.Version != "1.0.0" {
		t.Fatalf("unexpected healthz payload %+v", resp)
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		system *stubSystemService
		status int
	}{
		{
			name: "healthy",
			system: &stubSystemService{report: services.SystemHealthReport{
				Status:      domain.HealthStatusOK,
				GeneratedAt: now,
				Checks: map[string]domain.SystemHealthCheck{
					"store": {Status: domain.HealthStatusOK, Latency: 3 * time.Millisecond},
					"redis": {Status: domain.HealthStatusOK},
				},
			}},
			status: http.StatusOK,
		},
		{
			name: "degraded stays ready",
			system: &stubSystemService{report: services.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{"events": {Status: domain.HealthStatusDegraded}},
			}},
			status: http.StatusOK,
		},
		{
			name: "store down",
			system: &stubSystemService{report: services.SystemHealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.SystemHealthCheck{"store": {Status: domain.HealthStatusError, Error: "timeout"}},
			}},
			status: http.StatusServiceUnavailable,
		},
		{
			name:   "report failure",
			system: &stubSystemService{err: errors.New("boom")},
			status: http.StatusServiceUnavailable,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandlers(WithHealthSystemService(tc.system))
			rr := httptest.NewRecorder()
			h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestHealthHandlersReadyzSortsChecks(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{report: services.SystemHealthReport{
		Status: domain.HealthStatusOK,
		Checks: map[string]domain.SystemHealthCheck{
			"store":  {Status: domain.HealthStatusOK},
			"events": {Status: domain.HealthStatusOK},
			"redis":  {Status: domain.HealthStatusOK},
		},
	}}))
	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	resp := decodeResponse[healthResponse](t, rr)
	if len(resp.Checks) != 3 || resp.Checks[0].Name != "events" || resp.Checks[2].Name != "store" {
		t.Fatalf("expected checks sorted by name, got %+v", resp.Checks)
	}
}

func TestNewRouterMountsGroups(t *testing.T) {
	authn := newTestAuthenticator(t)
	catalog := catalogWith(services.Product{ID: "prod-1", Name: "Widget", SellingPrice: decimal.NewFromInt(3)})
	catalogHandlers := NewCatalogHandlers(authn, catalog)
	inventory := NewInventoryHandlers(authn, &stubStockLedger{})

	router := NewRouter(
		WithRootRoutes(catalogHandlers.Routes),
		WithAdminRoutes(catalogHandlers.AdminRoutes, inventory.Routes),
		WithOrderRoutes(func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
		}),
	)

	cases := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"healthz", http.MethodGet, "/healthz", http.StatusOK},
		{"readyz without system service", http.MethodGet, "/readyz", http.StatusOK},
		{"public product", http.MethodGet, "/api/v1/products/prod-1", http.StatusOK},
		{"orders group", http.MethodGet, "/api/v1/orders", http.StatusTeapot},
		{"admin requires auth", http.MethodGet, "/api/v1/admin/inventory/prod-1", http.StatusUnauthorized},
		{"payments not wired", http.MethodPost, "/api/v1/payments", http.StatusNotImplemented},
		{"webhooks not wired", http.MethodPost, "/api/v1/webhooks/payments/stripe", http.StatusNotImplemented},
		{"unknown route", http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if env := decodeResponse[errorEnvelope](t, rr); env.Error != errorNotFoundCode {
		t.Fatalf("unexpected not found envelope %+v", env)
	}
}
