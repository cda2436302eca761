package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/payments"
	"github.com/hanko-field/orderflow/internal/platform/txn"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const paymentUpdateAttempts = 3

var (
	// ErrPaymentInvalidInput signals a malformed payment request.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the payment could not be located.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentInvalidState indicates the payment cannot move from its current status.
	ErrPaymentInvalidState = errors.New("payment: invalid state")
	// ErrPaymentRetryLimitExceeded indicates the retry cap was reached.
	ErrPaymentRetryLimitExceeded = errors.New("payment: retry limit exceeded")
	// ErrPaymentNotRefundable indicates only completed payments can be refunded.
	ErrPaymentNotRefundable = errors.New("payment: not refundable")
	// ErrPaymentAlreadyCompleted indicates the order already holds a completed payment.
	ErrPaymentAlreadyCompleted = errors.New("payment: order already paid")
	// ErrPaymentConflict indicates concurrent modification or a mismatched gateway reference.
	ErrPaymentConflict = errors.New("payment: conflict")
	// ErrPaymentGateway wraps failures reported by the payment gateway.
	ErrPaymentGateway = errors.New("payment: gateway failure")
	// ErrPaymentVerificationFailed indicates a gateway proof or webhook signature did not verify.
	ErrPaymentVerificationFailed = errors.New("payment: verification failed")
)

// paymentGateway abstracts payments.Manager for easier testing.
type paymentGateway interface {
	CreateIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error)
	VerifySignature(ctx context.Context, paymentCtx payments.PaymentContext, req payments.VerifyRequest) (payments.Verification, error)
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.RefundResult, error)
	ParseWebhook(providerKey string, payload []byte, signatureHeader string) (payments.WebhookEvent, error)
}

// PaymentServiceDeps bundles collaborators required to construct the payment coordinator.
type PaymentServiceDeps struct {
	Payments    repositories.PaymentRepository
	Orders      OrderService
	Gateway     paymentGateway
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
	MaxRetries  int
}

type paymentService struct {
	repo       repositories.PaymentRepository
	orders     OrderService
	gateway    paymentGateway
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     EventPublisher
	logger     func(context.Context, string, map[string]any)
	maxRetries int
}

var _ PaymentService = (*paymentService)(nil)

// NewPaymentService wires the payment repository, order state machine and gateway together.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order service is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}
	maxRetries := deps.MaxRetries
	if maxRetries <= 0 {
		maxRetries = domain.DefaultPaymentMaxRetries
	}
	return &paymentService{
		repo:       deps.Payments,
		orders:     deps.Orders,
		gateway:    deps.Gateway,
		unitOfWork: unitOrNoop(deps.UnitOfWork),
		clock:      utcClock(deps.Clock),
		newID:      idGenerator(deps.IDGenerator),
		events:     deps.Events,
		logger:     loggerOrNoop(deps.Logger),
		maxRetries: maxRetries,
	}, nil
}

// Initiate opens a gateway intent for the order and records a pending payment attempt.
func (s *paymentService) Initiate(ctx context.Context, cmd InitiatePaymentCommand) (Payment, error) {
	order, err := s.orders.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return Payment{}, err
	}
	if cmd.CustomerID != "" && order.CustomerID != cmd.CustomerID {
		return Payment{}, fmt.Errorf("%w: %s", ErrOrderNotFound, order.ID)
	}
	if order.Status == domain.OrderStatusCancelled || order.Status == domain.OrderStatusReturned {
		return Payment{}, fmt.Errorf("%w: order is %s", ErrPaymentInvalidState, order.Status)
	}

	existing, err := s.repo.ListByOrder(ctx, order.ID)
	if err != nil {
		return Payment{}, mapRepositoryError(err, ErrPaymentNotFound, ErrPaymentConflict)
	}
	for _, p := range existing {
		if p.Status == domain.PaymentStatusCompleted {
			return Payment{}, fmt.Errorf("%w: payment %s", ErrPaymentAlreadyCompleted, p.ID)
		}
	}

	amount := order.Pricing.Total
	if cmd.Amount != nil {
		amount = domain.Round2(*cmd.Amount)
	}
	if !amount.IsPositive() || amount.GreaterThan(order.Pricing.Total) {
		return Payment{}, fmt.Errorf("%w: amount must be positive and at most the order total", ErrPaymentInvalidInput)
	}
	method := cmd.Method
	if method == "" {
		method = order.Payment.Method
	}
	if !method.Valid() {
		return Payment{}, fmt.Errorf("%w: unsupported payment method %q", ErrPaymentInvalidInput, method)
	}

	now := s.clock()
	payment := Payment{
		ID:         paymentIDPrefix + s.newID(),
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Amount:     amount,
		Currency:   order.Pricing.Currency,
		Method:     method,
		Status:     domain.PaymentStatusPending,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	idempotencyKey := strings.TrimSpace(cmd.IdempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	intent, err := s.gateway.CreateIntent(ctx, payments.PaymentContext{Method: string(method)}, payments.IntentRequest{
		PaymentID:      payment.ID,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		CustomerID:     order.CustomerID,
		Amount:         amount,
		Currency:       payment.Currency,
		Method:         string(method),
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return Payment{}, fmt.Errorf("%w: create intent: %v", ErrPaymentGateway, err)
	}
	payment.Gateway = domain.PaymentGateway{
		Name:         intent.Provider,
		IntentID:     intent.IntentID,
		ClientSecret: intent.ClientSecret,
	}

	err = s.unitOfWork.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Insert(ctx, payment); err != nil {
			return mapRepositoryError(err, ErrPaymentNotFound, ErrPaymentConflict)
		}
		paymentID := payment.ID
		txn.OnRollback(ctx, func(ctx context.Context) error {
			return s.repo.Delete(ctx, paymentID)
		})
		if _, err := s.orders.SetPaymentState(ctx, SetOrderPaymentCommand{
			OrderID:   order.ID,
			PaymentID: payment.ID,
			Status:    domain.PaymentStatusPending,
		}); err != nil {
			return err
		}
		s.afterCommit(ctx, EventPaymentInitiated, payment, order.OrderNumber, map[string]any{
			"provider": payment.Gateway.Name,
			"method":   string(payment.Method),
		})
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	return payment, nil
}

// Verify checks a client supplied proof with the gateway and settles the payment accordingly.
func (s *paymentService) Verify(ctx context.Context, cmd VerifyPaymentCommand) (Payment, error) {
	payment, err := s.GetPayment(ctx, cmd.PaymentID)
	if err != nil {
		return Payment{}, err
	}
	if payment.Status == domain.PaymentStatusCompleted && payment.Gateway.ReferenceID == strings.TrimSpace(cmd.ReferenceID) {
		return payment, nil
	}
	if payment.Status != domain.PaymentStatusPending {
		return Payment{}, fmt.Errorf("%w: payment is %s", ErrPaymentInvalidState, payment.Status)
	}

	intentID := strings.TrimSpace(cmd.IntentID)
	if intentID == "" {
		intentID = payment.Gateway.IntentID
	}
	verification, err := s.gateway.VerifySignature(ctx,
		payments.PaymentContext{PreferredProvider: payment.Gateway.Name},
		payments.VerifyRequest{
			PaymentID:   payment.ID,
			IntentID:    intentID,
			ReferenceID: strings.TrimSpace(cmd.ReferenceID),
			Signature:   strings.TrimSpace(cmd.Signature),
		})
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			if _, markErr := s.MarkFailed(ctx, MarkPaymentFailedCommand{PaymentID: payment.ID, Reason: "signature verification failed", Code: "invalid_signature"}); markErr != nil {
				s.logger(ctx, "payment.verify.mark_failed", map[string]any{"paymentId": payment.ID, "error": markErr.Error()})
			}
			return Payment{}, fmt.Errorf("%w: %v", ErrPaymentVerificationFailed, err)
		}
		return Payment{}, fmt.Errorf("%w: verify: %v", ErrPaymentGateway, err)
	}
	return s.settle(ctx, payment.ID, verification.Status, verification.ReferenceID, verification.ResponseCode, verification.ResponseMessage)
}

// MarkCompleted records the gateway capture and flips the order's payment sub-state in the same unit
// of work. Repeating the call with the same gateway reference is a no-op.
func (s *paymentService) MarkCompleted(ctx context.Context, cmd MarkPaymentCompletedCommand) (Payment, error) {
	ref := strings.TrimSpace(cmd.GatewayRef)
	if ref == "" {
		return Payment{}, fmt.Errorf("%w: gateway reference is required", ErrPaymentInvalidInput)
	}

	var (
		payment     Payment
		orderNumber string
		changed     bool
	)
	err := s.unitOfWork.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		payment, changed, err = s.mutate(ctx, cmd.PaymentID, func(p *Payment, now time.Time) (bool, error) {
			switch p.Status {
			case domain.PaymentStatusCompleted:
				if p.Gateway.ReferenceID == ref {
					return false, nil
				}
				return false, fmt.Errorf("%w: payment already completed with reference %s", ErrPaymentConflict, p.Gateway.ReferenceID)
			case domain.PaymentStatusPending, domain.PaymentStatusFailed:
			default:
				return false, fmt.Errorf("%w: cannot complete a %s payment", ErrPaymentInvalidState, p.Status)
			}
			p.Status = domain.PaymentStatusCompleted
			p.Gateway.ReferenceID = ref
			p.Gateway.ResponseCode = strings.TrimSpace(cmd.Code)
			p.Gateway.ResponseMessage = sanitizeText(cmd.Message)
			p.LastError = ""
			p.PaidAt = valuePtr(now)
			p.FailedAt = nil
			return true, nil
		})
		if err != nil || !changed {
			return err
		}

		siblings, err := s.repo.ListByOrder(ctx, payment.OrderID)
		if err != nil {
			return mapRepositoryError(err, ErrPaymentNotFound, ErrPaymentConflict)
		}
		for _, other := range siblings {
			if other.ID != payment.ID && other.Status == domain.PaymentStatusCompleted {
				return fmt.Errorf("%w: payment %s", ErrPaymentAlreadyCompleted, other.ID)
			}
		}

		order, err := s.orders.SetPaymentState(ctx, SetOrderPaymentCommand{
			OrderID:       payment.OrderID,
			PaymentID:     payment.ID,
			Status:        domain.PaymentStatusCompleted,
			TransactionID: ref,
			PaidAmount:    payment.Amount,
		})
		if err != nil {
			return err
		}
		orderNumber = order.OrderNumber
		s.afterCommit(ctx, EventPaymentCompleted, payment, orderNumber, map[string]any{
			"amount":    payment.Amount.StringFixed(domain.MoneyPlaces),
			"reference": ref,
		})
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	return payment, nil
}

// MarkFailed records a gateway failure. The order's payment sub-state follows when it points at this attempt.
func (s *paymentService) MarkFailed(ctx context.Context, cmd MarkPaymentFailedCommand) (Payment, error) {
	var payment Payment
	err := s.unitOfWork.RunInTx(ctx, func(ctx context.Context) error {
		var (
			changed bool
			err     error
		)
		payment, changed, err = s.mutate(ctx, cmd.PaymentID, func(p *Payment, now time.Time) (bool, error) {
			switch p.Status {
			case domain.PaymentStatusFailed:
				return false, nil
			case domain.PaymentStatusPending:
			default:
				return false, fmt.Errorf("%w: cannot fail a %s payment", ErrPaymentInvalidState, p.Status)
			}
			p.Status = domain.PaymentStatusFailed
			p.LastError = sanitizeText(cmd.Reason)
			p.Gateway.ResponseCode = strings.TrimSpace(cmd.Code)
			p.FailedAt = valuePtr(now)
			return true, nil
		})
		if err != nil || !changed {
			return err
		}

		order, err := s.orders.GetOrder(ctx, payment.OrderID)
		if err != nil {
			return err
		}
		if order.Payment.PaymentID == payment.ID {
			if _, err := s.orders.SetPaymentState(ctx, SetOrderPaymentCommand{
				OrderID:   order.ID,
				PaymentID: payment.ID,
				Status:    domain.PaymentStatusFailed,
			}); err != nil {
				return err
			}
		}
		s.afterCommit(ctx, EventPaymentFailed, payment, order.OrderNumber, map[string]any{
			"reason": payment.LastError,
			"code":   payment.Gateway.ResponseCode,
		})
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	return payment, nil
}

// Retry reopens a failed attempt with a fresh gateway intent, up to the configured cap.
func (s *paymentService) Retry(ctx context.Context, cmd RetryPaymentCommand) (Payment, error) {
	current, err := s.GetPayment(ctx, cmd.PaymentID)
	if err != nil {
		return Payment{}, err
	}
	if current.Status != domain.PaymentStatusFailed {
		return Payment{}, fmt.Errorf("%w: only failed payments can be retried, payment is %s", ErrPaymentInvalidState, current.Status)
	}
	if current.Retries >= s.maxRetries {
		return Payment{}, fmt.Errorf("%w: %d of %d retries used", ErrPaymentRetryLimitExceeded, current.Retries, s.maxRetries)
	}

	intent, err := s.gateway.CreateIntent(ctx,
		payments.PaymentContext{PreferredProvider: current.Gateway.Name, Method: string(current.Method)},
		payments.IntentRequest{
			PaymentID:      current.ID,
			OrderID:        current.OrderID,
			CustomerID:     current.CustomerID,
			Amount:         current.Amount,
			Currency:       current.Currency,
			Method:         string(current.Method),
			IdempotencyKey: uuid.NewString(),
		})
	if err != nil {
		return Payment{}, fmt.Errorf("%w: retry intent: %v", ErrPaymentGateway, err)
	}

	var payment Payment
	err = s.unitOfWork.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		payment, _, err = s.mutate(ctx, current.ID, func(p *Payment, _ time.Time) (bool, error) {
			if p.Status != domain.PaymentStatusFailed {
				return false, fmt.Errorf("%w: payment is %s", ErrPaymentInvalidState, p.Status)
			}
			if p.Retries >= s.maxRetries {
				return false, fmt.Errorf("%w: %d of %d retries used", ErrPaymentRetryLimitExceeded, p.Retries, s.maxRetries)
			}
			p.Retries++
			p.Status = domain.PaymentStatusPending
			p.LastError = ""
			p.FailedAt = nil
			p.Gateway.IntentID = intent.IntentID
			p.Gateway.ClientSecret = intent.ClientSecret
			p.Gateway.ResponseCode = ""
			p.Gateway.ResponseMessage = ""
			return true, nil
		})
		if err != nil {
			return err
		}
		order, err := s.orders.SetPaymentState(ctx, SetOrderPaymentCommand{
			OrderID:   payment.OrderID,
			PaymentID: payment.ID,
			Status:    domain.PaymentStatusPending,
		})
		if err != nil {
			return err
		}
		s.afterCommit(ctx, EventPaymentInitiated, payment, order.OrderNumber, map[string]any{
			"provider": payment.Gateway.Name,
			"retry":    payment.Retries,
		})
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	return payment, nil
}

// Refund returns money for a completed payment. Stock is not touched here.
func (s *paymentService) Refund(ctx context.Context, cmd RefundPaymentCommand) (Payment, error) {
	current, err := s.GetPayment(ctx, cmd.PaymentID)
	if err != nil {
		return Payment{}, err
	}
	if current.Status != domain.PaymentStatusCompleted {
		return Payment{}, fmt.Errorf("%w: payment is %s", ErrPaymentNotRefundable, current.Status)
	}

	amount := current.Amount
	if cmd.Amount != nil {
		amount = domain.Round2(*cmd.Amount)
	}
	if !amount.IsPositive() || amount.GreaterThan(current.Amount) {
		return Payment{}, fmt.Errorf("%w: refund amount must be positive and at most %s", ErrPaymentInvalidInput, current.Amount.StringFixed(domain.MoneyPlaces))
	}
	reason := sanitizeText(cmd.Reason)

	result, err := s.gateway.Refund(ctx,
		payments.PaymentContext{PreferredProvider: current.Gateway.Name},
		payments.RefundRequest{
			PaymentID:      current.ID,
			IntentID:       current.Gateway.IntentID,
			ReferenceID:    current.Gateway.ReferenceID,
			Amount:         amount,
			Currency:       current.Currency,
			Reason:         reason,
			IdempotencyKey: "refund_" + current.ID,
		})
	if err != nil {
		return Payment{}, fmt.Errorf("%w: refund: %v", ErrPaymentGateway, err)
	}

	var payment Payment
	err = s.unitOfWork.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		payment, _, err = s.mutate(ctx, current.ID, func(p *Payment, now time.Time) (bool, error) {
			if p.Status != domain.PaymentStatusCompleted {
				return false, fmt.Errorf("%w: payment is %s", ErrPaymentNotRefundable, p.Status)
			}
			p.Status = domain.PaymentStatusRefunded
			p.Refund = &domain.PaymentRefund{
				Amount:        amount,
				TransactionID: result.RefundID,
				Reason:        reason,
				Status:        result.Status,
				RefundedAt:    now,
			}
			return true, nil
		})
		if err != nil {
			return err
		}

		order, err := s.orders.GetOrder(ctx, payment.OrderID)
		if err != nil {
			return err
		}
		if order.Payment.PaymentID == payment.ID {
			if _, err := s.orders.SetPaymentState(ctx, SetOrderPaymentCommand{
				OrderID:   order.ID,
				PaymentID: payment.ID,
				Status:    domain.PaymentStatusRefunded,
			}); err != nil {
				return err
			}
		}
		s.afterCommit(ctx, EventPaymentRefunded, payment, order.OrderNumber, map[string]any{
			"amount":   amount.StringFixed(domain.MoneyPlaces),
			"refundId": result.RefundID,
			"actorId":  strings.TrimSpace(cmd.ActorID),
		})
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	return payment, nil
}

// HandleWebhook verifies a gateway callback and routes it to the matching settlement.
func (s *paymentService) HandleWebhook(ctx context.Context, cmd PaymentWebhookCommand) (Payment, error) {
	provider := strings.ToLower(strings.TrimSpace(cmd.Provider))
	if provider == "" || len(cmd.Payload) == 0 {
		return Payment{}, fmt.Errorf("%w: provider and payload are required", ErrPaymentInvalidInput)
	}
	event, err := s.gateway.ParseWebhook(provider, cmd.Payload, cmd.Signature)
	switch {
	case errors.Is(err, payments.ErrInvalidSignature):
		return Payment{}, fmt.Errorf("%w: %v", ErrPaymentVerificationFailed, err)
	case errors.Is(err, payments.ErrWebhookUnsupported), errors.Is(err, payments.ErrUnsupportedProvider):
		return Payment{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
	case err != nil:
		return Payment{}, fmt.Errorf("%w: webhook: %v", ErrPaymentGateway, err)
	}

	if event.IntentID == "" {
		return Payment{}, fmt.Errorf("%w: webhook %s carries no intent", ErrPaymentInvalidInput, event.ID)
	}
	payment, err := s.repo.FindByIntentID(ctx, event.IntentID)
	if err != nil {
		return Payment{}, mapRepositoryError(err, ErrPaymentNotFound, ErrPaymentConflict)
	}

	s.logger(ctx, "payment.webhook", map[string]any{
		"provider":  provider,
		"eventId":   event.ID,
		"type":      event.Type,
		"paymentId": payment.ID,
		"status":    string(event.Status),
	})

	ref := event.ReferenceID
	if ref == "" {
		ref = event.IntentID
	}
	return s.settle(ctx, payment.ID, event.Status, ref, event.ResponseCode, event.ResponseMessage)
}

func (s *paymentService) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return Payment{}, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return Payment{}, mapRepositoryError(err, ErrPaymentNotFound, ErrPaymentConflict)
	}
	return payment, nil
}

func (s *paymentService) ListByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	list, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError(err, ErrPaymentNotFound, ErrPaymentConflict)
	}
	return list, nil
}

func (s *paymentService) settle(ctx context.Context, paymentID string, status payments.Status, ref, code, message string) (Payment, error) {
	switch status {
	case payments.StatusSucceeded:
		return s.MarkCompleted(ctx, MarkPaymentCompletedCommand{PaymentID: paymentID, GatewayRef: ref, Code: code, Message: message})
	case payments.StatusFailed:
		reason := message
		if reason == "" {
			reason = "gateway reported failure"
		}
		return s.MarkFailed(ctx, MarkPaymentFailedCommand{PaymentID: paymentID, Reason: reason, Code: code})
	default:
		return s.GetPayment(ctx, paymentID)
	}
}

// mutate applies change to a fresh copy of the payment and writes it conditionally on the version.
// change reports whether anything changed; unchanged payments are returned without a write.
func (s *paymentService) mutate(ctx context.Context, paymentID string, change func(p *Payment, now time.Time) (bool, error)) (Payment, bool, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return Payment{}, false, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}

	var lastErr error
	for attempt := 0; attempt < paymentUpdateAttempts; attempt++ {
		current, err := s.repo.FindByID(ctx, paymentID)
		if err != nil {
			return Payment{}, false, mapRepositoryError(err, ErrPaymentNotFound, ErrPaymentConflict)
		}
		next := current.Clone()
		now := s.clock()
		changed, err := change(&next, now)
		if err != nil {
			return Payment{}, false, err
		}
		if !changed {
			return current, false, nil
		}

		expected := current.Version
		next.Version = expected + 1
		next.UpdatedAt = now
		lastErr = s.repo.Update(ctx, next, expected)
		if lastErr == nil {
			restore := current.Clone()
			restore.Version = next.Version + 1
			txn.OnRollback(ctx, func(ctx context.Context) error {
				return s.repo.Update(ctx, restore, next.Version)
			})
			return next, true, nil
		}
		if !isRepositoryConflict(lastErr) {
			break
		}
	}
	return Payment{}, false, mapRepositoryError(lastErr, ErrPaymentNotFound, ErrPaymentConflict)
}

func (s *paymentService) afterCommit(ctx context.Context, eventType string, payment Payment, orderNumber string, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["orderId"] = payment.OrderID
	metadata["status"] = string(payment.Status)
	event := DomainEvent{
		Type:          eventType,
		AggregateType: "payment",
		AggregateID:   payment.ID,
		OrderNumber:   orderNumber,
		ActorID:       payment.CustomerID,
		OccurredAt:    s.clock(),
		Metadata:      metadata,
	}
	txn.AfterCommit(ctx, func(ctx context.Context) {
		publishEvent(ctx, s.events, s.logger, event)
	})
}
