package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/services"
)

var errNotImplemented = errors.New("not implemented")

const testJWTSecret = "handler-test-secret"

func newTestAuthenticator(t *testing.T) *auth.Authenticator {
	t.Helper()
	authn, err := auth.NewAuthenticator(auth.JWTConfig{Secret: testJWTSecret})
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	return authn
}

func bearer(t *testing.T, authn *auth.Authenticator, userID, role string) string {
	t.Helper()
	token, err := authn.Issue(auth.Identity{UserID: userID, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + token
}

// serve mounts a registrar at prefix and performs one request through it.
func serve(t *testing.T, prefix string, register RouteRegistrar, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	if prefix == "" {
		register(router)
	} else {
		router.Route(prefix, func(r chi.Router) { register(r) })
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

type stubCheckoutService struct {
	placeFn   func(context.Context, services.PlaceOrderCommand) (services.CheckoutResult, error)
	cancelFn  func(context.Context, services.CheckoutCancelCommand) (services.CheckoutCancelResult, error)
	restockFn func(context.Context, services.ReturnDecisionCommand) (services.Order, error)
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.CheckoutResult, error) {
	if s.placeFn != nil {
		return s.placeFn(ctx, cmd)
	}
	return services.CheckoutResult{}, errNotImplemented
}

func (s *stubCheckoutService) CancelOrder(ctx context.Context, cmd services.CheckoutCancelCommand) (services.CheckoutCancelResult, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.CheckoutCancelResult{}, errNotImplemented
}

func (s *stubCheckoutService) RestockReturn(ctx context.Context, cmd services.ReturnDecisionCommand) (services.Order, error) {
	if s.restockFn != nil {
		return s.restockFn(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

type stubOrderService struct {
	services.OrderService

	getFn      func(context.Context, string) (services.Order, error)
	listFn     func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	statusFn   func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error)
	shippingFn func(context.Context, services.UpdateShippingCommand) (services.Order, error)
	returnFn   func(context.Context, services.RequestReturnCommand) (services.Order, error)
	approveFn  func(context.Context, services.ReturnDecisionCommand) (services.Order, error)
	rejectFn   func(context.Context, services.ReturnDecisionCommand) (services.Order, error)
	addressFn  func(context.Context, services.UpdateShippingAddressCommand) (services.Order, error)
	noteFn     func(context.Context, services.AddOrderNoteCommand) (services.Order, error)
	byNumberFn func(context.Context, string) (services.Order, error)
}

func (s *stubOrderService) UpdateShippingAddress(ctx context.Context, cmd services.UpdateShippingAddressCommand) (services.Order, error) {
	if s.addressFn != nil {
		return s.addressFn(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) AddNote(ctx context.Context, cmd services.AddOrderNoteCommand) (services.Order, error) {
	if s.noteFn != nil {
		return s.noteFn(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) GetOrderByNumber(ctx context.Context, orderNumber string) (services.Order, error) {
	if s.byNumberFn != nil {
		return s.byNumberFn(ctx, orderNumber)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) UpdateShipping(ctx context.Context, cmd services.UpdateShippingCommand) (services.Order, error) {
	if s.shippingFn != nil {
		return s.shippingFn(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) RequestReturn(ctx context.Context, cmd services.RequestReturnCommand) (services.Order, error) {
	if s.returnFn != nil {
		return s.returnFn(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) ApproveReturn(ctx context.Context, cmd services.ReturnDecisionCommand) (services.Order, error) {
	if s.approveFn != nil {
		return s.approveFn(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) RejectReturn(ctx context.Context, cmd services.ReturnDecisionCommand) (services.Order, error) {
	if s.rejectFn != nil {
		return s.rejectFn(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

type stubPaymentService struct {
	services.PaymentService

	initiateFn func(context.Context, services.InitiatePaymentCommand) (services.Payment, error)
	getFn      func(context.Context, string) (services.Payment, error)
	listFn     func(context.Context, string) ([]services.Payment, error)
	verifyFn   func(context.Context, services.VerifyPaymentCommand) (services.Payment, error)
	retryFn    func(context.Context, services.RetryPaymentCommand) (services.Payment, error)
	refundFn   func(context.Context, services.RefundPaymentCommand) (services.Payment, error)
	webhookFn  func(context.Context, services.PaymentWebhookCommand) (services.Payment, error)
}

func (s *stubPaymentService) Initiate(ctx context.Context, cmd services.InitiatePaymentCommand) (services.Payment, error) {
	if s.initiateFn != nil {
		return s.initiateFn(ctx, cmd)
	}
	return services.Payment{}, errNotImplemented
}

func (s *stubPaymentService) GetPayment(ctx context.Context, paymentID string) (services.Payment, error) {
	if s.getFn != nil {
		return s.getFn(ctx, paymentID)
	}
	return services.Payment{}, errNotImplemented
}

func (s *stubPaymentService) ListByOrder(ctx context.Context, orderID string) ([]services.Payment, error) {
	if s.listFn != nil {
		return s.listFn(ctx, orderID)
	}
	return nil, errNotImplemented
}

func (s *stubPaymentService) Verify(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Payment, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, cmd)
	}
	return services.Payment{}, errNotImplemented
}

func (s *stubPaymentService) Retry(ctx context.Context, cmd services.RetryPaymentCommand) (services.Payment, error) {
	if s.retryFn != nil {
		return s.retryFn(ctx, cmd)
	}
	return services.Payment{}, errNotImplemented
}

func (s *stubPaymentService) Refund(ctx context.Context, cmd services.RefundPaymentCommand) (services.Payment, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, cmd)
	}
	return services.Payment{}, errNotImplemented
}

func (s *stubPaymentService) HandleWebhook(ctx context.Context, cmd services.PaymentWebhookCommand) (services.Payment, error) {
	if s.webhookFn != nil {
		return s.webhookFn(ctx, cmd)
	}
	return services.Payment{}, errNotImplemented
}

type stubStockLedger struct {
	services.StockLedger

	creditFn   func(context.Context, services.StockCommand) (services.StockMovement, error)
	debitFn    func(context.Context, services.StockCommand) (services.StockMovement, error)
	adjustFn   func(context.Context, services.StockAdjustCommand) (services.StockMovement, error)
	levelFn    func(context.Context, string) (services.StockLevel, error)
	lowStockFn func(context.Context, int, int) ([]services.StockLevel, error)
}

func (s *stubStockLedger) Credit(ctx context.Context, cmd services.StockCommand) (services.StockMovement, error) {
	if s.creditFn != nil {
		return s.creditFn(ctx, cmd)
	}
	return services.StockMovement{}, errNotImplemented
}

func (s *stubStockLedger) Debit(ctx context.Context, cmd services.StockCommand) (services.StockMovement, error) {
	if s.debitFn != nil {
		return s.debitFn(ctx, cmd)
	}
	return services.StockMovement{}, errNotImplemented
}

func (s *stubStockLedger) Adjust(ctx context.Context, cmd services.StockAdjustCommand) (services.StockMovement, error) {
	if s.adjustFn != nil {
		return s.adjustFn(ctx, cmd)
	}
	return services.StockMovement{}, errNotImplemented
}

func (s *stubStockLedger) GetLevel(ctx context.Context, productID string) (services.StockLevel, error) {
	if s.levelFn != nil {
		return s.levelFn(ctx, productID)
	}
	return services.StockLevel{}, errNotImplemented
}

func (s *stubStockLedger) ListLowStock(ctx context.Context, threshold, limit int) ([]services.StockLevel, error) {
	if s.lowStockFn != nil {
		return s.lowStockFn(ctx, threshold, limit)
	}
	return nil, errNotImplemented
}

type stubDiscountService struct {
	services.DiscountService

	validateFn func(context.Context, services.ResolveDiscountCommand) (services.DiscountResolution, error)
	createFn   func(context.Context, services.DiscountDefinition) (services.Discount, error)
	activeFn   func(context.Context, services.SetDiscountActiveCommand) (services.Discount, error)
}

func (s *stubDiscountService) Validate(ctx context.Context, cmd services.ResolveDiscountCommand) (services.DiscountResolution, error) {
	if s.validateFn != nil {
		return s.validateFn(ctx, cmd)
	}
	return services.DiscountResolution{}, errNotImplemented
}

func (s *stubDiscountService) CreateDiscount(ctx context.Context, def services.DiscountDefinition) (services.Discount, error) {
	if s.createFn != nil {
		return s.createFn(ctx, def)
	}
	return services.Discount{}, errNotImplemented
}

func (s *stubDiscountService) SetDiscountActive(ctx context.Context, cmd services.SetDiscountActiveCommand) (services.Discount, error) {
	if s.activeFn != nil {
		return s.activeFn(ctx, cmd)
	}
	return services.Discount{}, errNotImplemented
}

type stubCatalogService struct {
	products map[string]services.Product
	upsertFn func(context.Context, services.UpsertProductCommand) (services.Product, error)
}

func (s *stubCatalogService) GetSnapshot(_ context.Context, productID string) (services.ProductSnapshot, error) {
	p, ok := s.products[productID]
	if !ok {
		return services.ProductSnapshot{}, services.ErrProductNotFound
	}
	return services.ProductSnapshot{ProductID: p.ID, Name: p.Name, UnitPrice: p.SellingPrice, Available: 7}, nil
}

func (s *stubCatalogService) GetProduct(_ context.Context, productID string) (services.Product, error) {
	p, ok := s.products[productID]
	if !ok {
		return services.Product{}, services.ErrProductNotFound
	}
	return p, nil
}

func (s *stubCatalogService) UpsertProduct(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, cmd)
	}
	return services.Product{}, errNotImplemented
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}
