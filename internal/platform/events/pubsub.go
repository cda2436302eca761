package events

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/orderflow/internal/services"
)

// PubSubPublisher publishes events to one topic. Messages are ordered per aggregate when the topic
// has message ordering enabled.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

var _ services.EventPublisher = (*PubSubPublisher)(nil)

func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub publisher: topic is required")
	}
	return &PubSubPublisher{topic: topic}, nil
}

func (p *PubSubPublisher) PublishEvent(ctx context.Context, event services.DomainEvent) error {
	env, err := encode(event)
	if err != nil {
		return err
	}
	msg := &pubsub.Message{Data: env.data, Attributes: env.attributes}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = env.key
	}
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Stop flushes buffered messages.
func (p *PubSubPublisher) Stop() {
	p.topic.Stop()
}
