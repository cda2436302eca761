package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/txn"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const (
	orderNumberAttempts = 3
	orderUpdateAttempts = 3
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates a status, payment, shipping or return transition is not allowed.
	ErrOrderInvalidTransition = errors.New("order: invalid transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicate order numbers.
	ErrOrderConflict = errors.New("order: conflict")
)

// returned is deliberately absent: only ApproveReturn moves an order there.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
}

var shippingStateTransitions = map[domain.ShippingStatus][]domain.ShippingStatus{
	domain.ShippingStatusPending:    {domain.ShippingStatusProcessing, domain.ShippingStatusCancelled},
	domain.ShippingStatusProcessing: {domain.ShippingStatusShipped, domain.ShippingStatusCancelled},
	domain.ShippingStatusShipped:    {domain.ShippingStatusInTransit, domain.ShippingStatusDelivered, domain.ShippingStatusCancelled},
	domain.ShippingStatusInTransit:  {domain.ShippingStatusDelivered, domain.ShippingStatusCancelled},
}

var orderPaymentTransitions = map[domain.PaymentStatus][]domain.PaymentStatus{
	domain.PaymentStatusPending:   {domain.PaymentStatusCompleted, domain.PaymentStatusFailed, domain.PaymentStatusCancelled},
	domain.PaymentStatusFailed:    {domain.PaymentStatusPending, domain.PaymentStatusCompleted, domain.PaymentStatusCancelled},
	domain.PaymentStatusCompleted: {domain.PaymentStatusRefunded},
}

var addressEditableStatuses = []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusConfirmed}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Stock       StockLedger
	Counters    CounterService
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	stock      StockLedger
	counters   CounterService
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     EventPublisher
	logger     func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("order service: stock ledger is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
	}
	return &orderService{
		orders:     deps.Orders,
		stock:      deps.Stock,
		counters:   deps.Counters,
		unitOfWork: unitOrNoop(deps.UnitOfWork),
		clock:      utcClock(deps.Clock),
		newID:      idGenerator(deps.IDGenerator),
		events:     deps.Events,
		logger:     loggerOrNoop(deps.Logger),
	}, nil
}

// Create persists a pending order around an already computed price breakdown.
// Stock is debited by the caller inside the same unit of work.
func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if err := validateCreateOrder(cmd); err != nil {
		return Order{}, err
	}

	now := s.clock()
	billing := cmd.ShippingAddress
	if cmd.BillingAddress != nil {
		billing = *cmd.BillingAddress
	}

	order := Order{
		ID:              orderIDPrefix + s.newID(),
		CustomerID:      strings.TrimSpace(cmd.CustomerID),
		Status:          domain.OrderStatusPending,
		Items:           slices.Clone(cmd.Items),
		Pricing:         cmd.Pricing,
		ShippingAddress: normalizeAddress(cmd.ShippingAddress),
		BillingAddress:  normalizeAddress(billing),
		Payment: domain.OrderPayment{
			Method: cmd.PaymentMethod,
			Status: domain.PaymentStatusPending,
		},
		Shipping:  domain.OrderShipping{Status: domain.ShippingStatusPending},
		Notes:     sanitizeText(cmd.Notes),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var lastErr error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		number, err := s.counters.NextOrderNumber(ctx)
		if err != nil {
			return Order{}, err
		}
		order.OrderNumber = number

		lastErr = s.orders.Insert(ctx, order)
		if lastErr == nil {
			break
		}
		if !isRepositoryConflict(lastErr) {
			return Order{}, mapRepositoryError(lastErr, ErrOrderNotFound, ErrOrderConflict)
		}
		s.logger(ctx, "order.number.collision", map[string]any{
			"orderNumber": number,
			"attempt":     attempt + 1,
		})
	}
	if lastErr != nil {
		return Order{}, mapRepositoryError(lastErr, ErrOrderNotFound, ErrOrderConflict)
	}

	orderID := order.ID
	txn.OnRollback(ctx, func(ctx context.Context) error {
		return s.orders.Delete(ctx, orderID)
	})

	s.afterCommit(ctx, DomainEvent{
		Type:        EventOrderCreated,
		AggregateID: order.ID,
		OrderNumber: order.OrderNumber,
		ActorID:     order.CustomerID,
		Metadata: map[string]any{
			"total":    order.Pricing.Total.StringFixed(domain.MoneyPlaces),
			"currency": order.Pricing.Currency,
			"items":    len(order.Items),
		},
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return order, nil
}

func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	statuses := make([]string, 0, len(filter.Status))
	for _, raw := range filter.Status {
		status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
		if !knownOrderStatus(status) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, raw)
		}
		statuses = append(statuses, string(status))
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		CustomerID: strings.TrimSpace(filter.CustomerID),
		Status:     statuses,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return page, nil
}

// UpdateStatus moves the order along the status axis. Cancellation is routed through Cancel so
// stock is always re-credited; returned is only reachable by approving a return.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(cmd.Status)))
	if !knownOrderStatus(target) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}
	switch target {
	case domain.OrderStatusCancelled:
		return s.Cancel(ctx, CancelOrderCommand{OrderID: cmd.OrderID, ActorID: cmd.ActorID})
	case domain.OrderStatusReturned:
		return Order{}, fmt.Errorf("%w: returned is set by approving a return", ErrOrderInvalidTransition)
	}

	var previous domain.OrderStatus
	order, err := s.mutate(ctx, cmd.OrderID, func(order *Order, now time.Time) error {
		previous = order.Status
		return applyStatusTransition(order, target, now)
	})
	if err != nil {
		return Order{}, err
	}

	s.afterCommit(ctx, DomainEvent{
		Type:        EventOrderStatusChanged,
		AggregateID: order.ID,
		OrderNumber: order.OrderNumber,
		ActorID:     cmd.ActorID,
		Metadata: map[string]any{
			"previousStatus": string(previous),
			"currentStatus":  string(order.Status),
		},
	})
	return order, nil
}

func (s *orderService) UpdateShipping(ctx context.Context, cmd UpdateShippingCommand) (Order, error) {
	target := domain.ShippingStatus(strings.ToLower(strings.TrimSpace(cmd.Status)))
	if target != "" && !knownShippingStatus(target) {
		return Order{}, fmt.Errorf("%w: unknown shipping status %q", ErrOrderInvalidInput, cmd.Status)
	}

	order, err := s.mutate(ctx, cmd.OrderID, func(order *Order, now time.Time) error {
		if order.Status == domain.OrderStatusCancelled {
			return fmt.Errorf("%w: order %s is cancelled", ErrOrderInvalidTransition, order.ID)
		}
		if target != "" && target != order.Shipping.Status {
			if !slices.Contains(shippingStateTransitions[order.Shipping.Status], target) {
				return fmt.Errorf("%w: shipping %s -> %s", ErrOrderInvalidTransition, order.Shipping.Status, target)
			}
			order.Shipping.Status = target
			if target == domain.ShippingStatusDelivered {
				order.Shipping.ActualDelivery = valuePtr(now)
			}
		}
		if carrier := strings.TrimSpace(cmd.Carrier); carrier != "" {
			order.Shipping.Carrier = carrier
		}
		if tracking := strings.TrimSpace(cmd.TrackingNumber); tracking != "" {
			order.Shipping.TrackingNumber = tracking
		}
		if cmd.EstimatedDelivery != nil {
			order.Shipping.EstimatedDelivery = valuePtr(cmd.EstimatedDelivery.UTC())
		}
		order.Shipping.UpdatedAt = valuePtr(now)
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.afterCommit(ctx, DomainEvent{
		Type:        EventOrderShippingUpdated,
		AggregateID: order.ID,
		OrderNumber: order.OrderNumber,
		ActorID:     cmd.ActorID,
		Metadata: map[string]any{
			"shippingStatus": string(order.Shipping.Status),
			"carrier":        order.Shipping.Carrier,
			"trackingNumber": order.Shipping.TrackingNumber,
		},
	})
	return order, nil
}

// UpdateShippingAddress replaces the address snapshot while the order has not entered fulfilment.
func (s *orderService) UpdateShippingAddress(ctx context.Context, cmd UpdateShippingAddressCommand) (Order, error) {
	if err := validateAddress(cmd.Address); err != nil {
		return Order{}, err
	}
	return s.mutate(ctx, cmd.OrderID, func(order *Order, _ time.Time) error {
		if !slices.Contains(addressEditableStatuses, order.Status) {
			return fmt.Errorf("%w: address cannot change once the order is %s", ErrOrderInvalidTransition, order.Status)
		}
		order.ShippingAddress = normalizeAddress(cmd.Address)
		return nil
	})
}

func (s *orderService) AddNote(ctx context.Context, cmd AddOrderNoteCommand) (Order, error) {
	note := sanitizeText(cmd.Note)
	if note == "" {
		return Order{}, fmt.Errorf("%w: note is required", ErrOrderInvalidInput)
	}
	return s.mutate(ctx, cmd.OrderID, func(order *Order, _ time.Time) error {
		order.Notes = note
		return nil
	})
}

// Cancel moves the order to cancelled and re-credits every line in the same unit of work.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	var (
		order    Order
		previous domain.OrderStatus
	)
	err := s.unitOfWork.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.mutate(ctx, cmd.OrderID, func(order *Order, now time.Time) error {
			if cmd.CustomerID != "" && order.CustomerID != cmd.CustomerID {
				return fmt.Errorf("%w: %s", ErrOrderNotFound, order.ID)
			}
			previous = order.Status
			if err := applyStatusTransition(order, domain.OrderStatusCancelled, now); err != nil {
				return err
			}
			order.CancelledReason = sanitizeText(cmd.Reason)
			order.CancelledBy = strings.TrimSpace(cmd.ActorID)
			return nil
		})
		if err != nil {
			return err
		}

		for _, item := range order.Items {
			if _, err := s.stock.Credit(ctx, StockCommand{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				Type:      domain.MovementInbound,
				Reference: order.OrderNumber,
				Reason:    "order cancelled",
				ActorID:   cmd.ActorID,
			}); err != nil {
				return fmt.Errorf("order: re-credit %s: %w", item.ProductID, err)
			}
		}

		s.afterCommit(ctx, DomainEvent{
			Type:        EventOrderCancelled,
			AggregateID: order.ID,
			OrderNumber: order.OrderNumber,
			ActorID:     cmd.ActorID,
			Metadata: map[string]any{
				"previousStatus": string(previous),
				"reason":         order.CancelledReason,
			},
		})
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) RequestReturn(ctx context.Context, cmd RequestReturnCommand) (Order, error) {
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: at least one return item is required", ErrOrderInvalidInput)
	}
	requested := make(map[string]int, len(cmd.Items))
	for i, line := range cmd.Items {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" || line.Quantity < 1 {
			return Order{}, fmt.Errorf("%w: return item %d needs a product and a positive quantity", ErrOrderInvalidInput, i)
		}
		requested[productID] += line.Quantity
	}

	order, err := s.mutate(ctx, cmd.OrderID, func(order *Order, now time.Time) error {
		if cmd.CustomerID != "" && order.CustomerID != cmd.CustomerID {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, order.ID)
		}
		if order.Status != domain.OrderStatusDelivered {
			return fmt.Errorf("%w: only delivered orders can be returned, order is %s", ErrOrderInvalidTransition, order.Status)
		}
		if order.Returns != nil && hasReturnItems(order.Returns, domain.ReturnItemPending) {
			return fmt.Errorf("%w: a return is already pending", ErrOrderInvalidTransition)
		}

		items := make([]ReturnItem, 0, len(requested))
		for _, line := range cmd.Items {
			productID := strings.TrimSpace(line.ProductID)
			qty, ok := requested[productID]
			if !ok {
				continue
			}
			delete(requested, productID)
			if ordered := order.QuantityOf(productID); qty > ordered {
				return fmt.Errorf("%w: %d of %s requested, %d ordered", ErrOrderInvalidInput, qty, productID, ordered)
			}
			items = append(items, ReturnItem{ProductID: productID, Quantity: qty, Status: domain.ReturnItemPending})
		}

		order.Returns = &OrderReturns{
			Reason:       sanitizeText(cmd.Reason),
			Items:        items,
			RefundAmount: decimal.Zero,
			RequestedAt:  now,
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.afterCommit(ctx, DomainEvent{
		Type:        EventOrderReturnRequested,
		AggregateID: order.ID,
		OrderNumber: order.OrderNumber,
		ActorID:     cmd.CustomerID,
		Metadata:    map[string]any{"items": len(order.Returns.Items)},
	})
	return order, nil
}

// ApproveReturn marks pending items approved and moves the order delivered -> returned.
// Stock and refunds are separate, explicit steps.
func (s *orderService) ApproveReturn(ctx context.Context, cmd ReturnDecisionCommand) (Order, error) {
	if cmd.RefundAmount != nil && cmd.RefundAmount.IsNegative() {
		return Order{}, fmt.Errorf("%w: refund amount cannot be negative", ErrOrderInvalidInput)
	}
	order, err := s.mutate(ctx, cmd.OrderID, func(order *Order, now time.Time) error {
		if err := requirePendingReturn(order); err != nil {
			return err
		}
		refund := returnValue(*order)
		for i := range order.Returns.Items {
			if order.Returns.Items[i].Status == domain.ReturnItemPending {
				order.Returns.Items[i].Status = domain.ReturnItemApproved
			}
		}
		if cmd.RefundAmount != nil {
			refund = domain.ClampMoney(domain.Round2(*cmd.RefundAmount), decimal.Zero, order.Pricing.Total)
		}
		order.Returns.RefundAmount = refund
		decideReturn(order.Returns, cmd, now)

		order.Status = domain.OrderStatusReturned
		order.ReturnedAt = valuePtr(now)
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.afterCommit(ctx, DomainEvent{
		Type:        EventOrderReturnApproved,
		AggregateID: order.ID,
		OrderNumber: order.OrderNumber,
		ActorID:     cmd.ActorID,
		Metadata:    map[string]any{"refundAmount": order.Returns.RefundAmount.StringFixed(domain.MoneyPlaces)},
	})
	return order, nil
}

func (s *orderService) RejectReturn(ctx context.Context, cmd ReturnDecisionCommand) (Order, error) {
	order, err := s.mutate(ctx, cmd.OrderID, func(order *Order, now time.Time) error {
		if err := requirePendingReturn(order); err != nil {
			return err
		}
		for i := range order.Returns.Items {
			if order.Returns.Items[i].Status == domain.ReturnItemPending {
				order.Returns.Items[i].Status = domain.ReturnItemRejected
			}
		}
		decideReturn(order.Returns, cmd, now)
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.afterCommit(ctx, DomainEvent{
		Type:        EventOrderReturnRejected,
		AggregateID: order.ID,
		OrderNumber: order.OrderNumber,
		ActorID:     cmd.ActorID,
	})
	return order, nil
}

// RestockReturn credits approved return items back to stock and marks them processed.
func (s *orderService) RestockReturn(ctx context.Context, cmd ReturnDecisionCommand) (Order, error) {
	var order Order
	err := s.unitOfWork.RunInTx(ctx, func(ctx context.Context) error {
		var (
			restock []ReturnItem
			err     error
		)
		order, err = s.mutate(ctx, cmd.OrderID, func(order *Order, now time.Time) error {
			restock = restock[:0]
			if order.Status != domain.OrderStatusReturned || order.Returns == nil {
				return fmt.Errorf("%w: order has no approved return", ErrOrderInvalidTransition)
			}
			for i := range order.Returns.Items {
				if order.Returns.Items[i].Status == domain.ReturnItemApproved {
					restock = append(restock, order.Returns.Items[i])
					order.Returns.Items[i].Status = domain.ReturnItemProcessed
				}
			}
			if len(restock) == 0 {
				return fmt.Errorf("%w: no approved items left to restock", ErrOrderInvalidTransition)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, item := range restock {
			if _, err := s.stock.Credit(ctx, StockCommand{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				Type:      domain.MovementReturn,
				Reference: order.OrderNumber,
				Reason:    "return restocked",
				ActorID:   cmd.ActorID,
			}); err != nil {
				return fmt.Errorf("order: restock %s: %w", item.ProductID, err)
			}
		}

		s.afterCommit(ctx, DomainEvent{
			Type:        EventOrderReturnRestocked,
			AggregateID: order.ID,
			OrderNumber: order.OrderNumber,
			ActorID:     cmd.ActorID,
			Metadata:    map[string]any{"items": len(restock)},
		})
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// SetPaymentState updates the order's payment sub-document. Repeating the current state with the
// same payment is a no-op.
func (s *orderService) SetPaymentState(ctx context.Context, cmd SetOrderPaymentCommand) (Order, error) {
	target := cmd.Status
	if _, ok := orderPaymentTransitions[target]; !ok && target != domain.PaymentStatusRefunded && target != domain.PaymentStatusCancelled {
		return Order{}, fmt.Errorf("%w: unknown payment status %q", ErrOrderInvalidInput, target)
	}

	current, err := s.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if current.Payment.Status == target && current.Payment.PaymentID == cmd.PaymentID {
		return current, nil
	}

	return s.mutate(ctx, cmd.OrderID, func(order *Order, now time.Time) error {
		payment := &order.Payment
		if payment.Status == target && payment.PaymentID == cmd.PaymentID {
			return nil
		}
		if payment.Status != target && !slices.Contains(orderPaymentTransitions[payment.Status], target) {
			return fmt.Errorf("%w: payment %s -> %s", ErrOrderInvalidTransition, payment.Status, target)
		}
		payment.Status = target
		if cmd.PaymentID != "" {
			payment.PaymentID = cmd.PaymentID
		}
		if cmd.TransactionID != "" {
			payment.TransactionID = cmd.TransactionID
		}
		if target == domain.PaymentStatusCompleted {
			payment.PaidAmount = domain.Round2(cmd.PaidAmount)
			payment.PaidAt = valuePtr(now)
		}
		return nil
	})
}

// mutate loads, changes and conditionally writes an order, retrying a bounded number of times
// when another writer bumped the version first. The previous snapshot is restored on rollback.
func (s *orderService) mutate(ctx context.Context, orderID string, change func(order *Order, now time.Time) error) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var lastErr error
	for attempt := 0; attempt < orderUpdateAttempts; attempt++ {
		current, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}

		next := current.Clone()
		now := s.clock()
		if err := change(&next, now); err != nil {
			return Order{}, err
		}

		expected := current.Version
		next.Version = expected + 1
		next.UpdatedAt = now

		lastErr = s.orders.Update(ctx, next, expected)
		if lastErr == nil {
			restore := current.Clone()
			restore.Version = next.Version + 1
			txn.OnRollback(ctx, func(ctx context.Context) error {
				return s.orders.Update(ctx, restore, next.Version)
			})
			return next, nil
		}
		if !isRepositoryConflict(lastErr) {
			break
		}
	}
	return Order{}, mapRepositoryError(lastErr, ErrOrderNotFound, ErrOrderConflict)
}

func (s *orderService) afterCommit(ctx context.Context, event DomainEvent) {
	event.AggregateType = "order"
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.clock()
	}
	txn.AfterCommit(ctx, func(ctx context.Context) {
		publishEvent(ctx, s.events, s.logger, event)
	})
}

// applyStatusTransition validates the move on the status axis and stamps timestamps.
func applyStatusTransition(order *Order, target domain.OrderStatus, now time.Time) error {
	if !canTransition(order.Status, target) {
		return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, target)
	}
	order.Status = target

	switch target {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = valuePtr(now)
	case domain.OrderStatusProcessing:
		if order.Shipping.Status == domain.ShippingStatusPending {
			order.Shipping.Status = domain.ShippingStatusProcessing
			order.Shipping.UpdatedAt = valuePtr(now)
		}
	case domain.OrderStatusShipped:
		order.ShippedAt = valuePtr(now)
		if order.Shipping.Status == domain.ShippingStatusPending || order.Shipping.Status == domain.ShippingStatusProcessing {
			order.Shipping.Status = domain.ShippingStatusShipped
			order.Shipping.UpdatedAt = valuePtr(now)
		}
	case domain.OrderStatusDelivered:
		order.DeliveredAt = valuePtr(now)
		order.Shipping.Status = domain.ShippingStatusDelivered
		order.Shipping.ActualDelivery = valuePtr(now)
		order.Shipping.UpdatedAt = valuePtr(now)
	case domain.OrderStatusCancelled:
		order.CancelledAt = valuePtr(now)
		order.Shipping.Status = domain.ShippingStatusCancelled
		order.Shipping.UpdatedAt = valuePtr(now)
	}
	return nil
}

func canTransition(current, target domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[current], target)
}

func knownOrderStatus(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusConfirmed, domain.OrderStatusProcessing,
		domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusCancelled,
		domain.OrderStatusReturned:
		return true
	}
	return false
}

func knownShippingStatus(status domain.ShippingStatus) bool {
	switch status {
	case domain.ShippingStatusPending, domain.ShippingStatusProcessing, domain.ShippingStatusShipped,
		domain.ShippingStatusInTransit, domain.ShippingStatusDelivered, domain.ShippingStatusCancelled:
		return true
	}
	return false
}

func requirePendingReturn(order *Order) error {
	if order.Status != domain.OrderStatusDelivered || order.Returns == nil || !hasReturnItems(order.Returns, domain.ReturnItemPending) {
		return fmt.Errorf("%w: no pending return on order %s", ErrOrderInvalidTransition, order.ID)
	}
	return nil
}

func hasReturnItems(returns *OrderReturns, status domain.ReturnItemStatus) bool {
	for _, item := range returns.Items {
		if item.Status == status {
			return true
		}
	}
	return false
}

func decideReturn(returns *OrderReturns, cmd ReturnDecisionCommand, now time.Time) {
	returns.DecidedAt = valuePtr(now)
	returns.DecidedBy = strings.TrimSpace(cmd.ActorID)
	returns.Note = sanitizeText(cmd.Note)
}

// returnValue prices pending return items at their captured unit price, capped at the order total.
func returnValue(order Order) decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(order.Items))
	for _, item := range order.Items {
		prices[item.ProductID] = item.UnitPrice
	}
	total := decimal.Zero
	for _, item := range order.Returns.Items {
		if item.Status != domain.ReturnItemPending {
			continue
		}
		total = total.Add(prices[item.ProductID].Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return domain.ClampMoney(domain.Round2(total), decimal.Zero, order.Pricing.Total)
}

func validateCreateOrder(cmd CreateOrderCommand) error {
	if strings.TrimSpace(cmd.CustomerID) == "" {
		return fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one line item is required", ErrOrderInvalidInput)
	}
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" || item.Quantity < 1 {
			return fmt.Errorf("%w: line %d needs a product and a positive quantity", ErrOrderInvalidInput, i)
		}
	}
	if !cmd.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	if !cmd.Pricing.Reconciles() {
		return fmt.Errorf("%w: price breakdown does not reconcile", ErrOrderInvalidInput)
	}
	if err := validateAddress(cmd.ShippingAddress); err != nil {
		return err
	}
	if cmd.BillingAddress != nil {
		if err := validateAddress(*cmd.BillingAddress); err != nil {
			return err
		}
	}
	return nil
}

func validateAddress(addr Address) error {
	missing := make([]string, 0, 4)
	if strings.TrimSpace(addr.FullName) == "" {
		missing = append(missing, "fullName")
	}
	if strings.TrimSpace(addr.AddressLine1) == "" {
		missing = append(missing, "addressLine1")
	}
	if strings.TrimSpace(addr.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(addr.ZipCode) == "" {
		missing = append(missing, "zipCode")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: address is missing %s", ErrOrderInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

func normalizeAddress(addr Address) Address {
	return Address{
		FullName:     strings.TrimSpace(addr.FullName),
		Phone:        strings.TrimSpace(addr.Phone),
		Email:        strings.TrimSpace(addr.Email),
		AddressLine1: strings.TrimSpace(addr.AddressLine1),
		AddressLine2: strings.TrimSpace(addr.AddressLine2),
		City:         strings.TrimSpace(addr.City),
		State:        strings.TrimSpace(addr.State),
		ZipCode:      strings.TrimSpace(addr.ZipCode),
		Country:      strings.ToUpper(strings.TrimSpace(addr.Country)),
	}
}
