// Package events delivers domain events from the services layer to a message broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hanko-field/orderflow/internal/services"
)

// Noop drops every event. It backs the "none" events backend.
type Noop struct{}

var _ services.EventPublisher = Noop{}

func (Noop) PublishEvent(context.Context, services.DomainEvent) error { return nil }

// envelope is the JSON body plus the routing attributes shared by every broker.
type envelope struct {
	key        string
	data       []byte
	attributes map[string]string
}

func encode(event services.DomainEvent) (envelope, error) {
	if strings.TrimSpace(event.Type) == "" {
		return envelope{}, fmt.Errorf("events: event type is required")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return envelope{}, fmt.Errorf("events: marshal %s: %w", event.Type, err)
	}
	attrs := map[string]string{"type": event.Type}
	setAttr(attrs, "aggregateType", event.AggregateType)
	setAttr(attrs, "aggregateId", event.AggregateID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	return envelope{key: event.AggregateID, data: data, attributes: attrs}, nil
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
