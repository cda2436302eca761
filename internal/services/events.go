package services

import (
	"context"
	"maps"
	"time"
)

const (
	EventOrderCreated         = "order.created"
	EventOrderStatusChanged   = "order.status.changed"
	EventOrderCancelled       = "order.cancelled"
	EventOrderShippingUpdated = "order.shipping.updated"
	EventOrderReturnRequested = "order.return.requested"
	EventOrderReturnApproved  = "order.return.approved"
	EventOrderReturnRejected  = "order.return.rejected"
	EventOrderReturnRestocked = "order.return.restocked"
	EventPaymentInitiated     = "payment.initiated"
	EventPaymentCompleted     = "payment.completed"
	EventPaymentFailed        = "payment.failed"
	EventPaymentRefunded      = "payment.refunded"
	EventStockLow             = "stock.low"
)

// EventPublisher delivers domain events to downstream consumers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event DomainEvent) error
}

// DomainEvent describes a committed change to an order, payment or stock level.
type DomainEvent struct {
	Type          string         `json:"type"`
	AggregateType string         `json:"aggregateType"`
	AggregateID   string         `json:"aggregateId"`
	OrderNumber   string         `json:"orderNumber,omitempty"`
	ActorID       string         `json:"actorId,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type eventLogger func(ctx context.Context, event string, fields map[string]any)

// publishEvent is best effort. Failures are logged and never surface to the caller.
func publishEvent(ctx context.Context, publisher EventPublisher, logger eventLogger, event DomainEvent) {
	if publisher == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := publisher.PublishEvent(ctx, event); err != nil && logger != nil {
		logger(ctx, "event.publish.failed", map[string]any{
			"type":      event.Type,
			"aggregate": event.AggregateID,
			"error":     err.Error(),
		})
	}
}

func noopLogger(context.Context, string, map[string]any) {}
