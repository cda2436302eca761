package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/hanko-field/orderflow/internal/services"
)

const defaultDeliveryTimeout = 15 * time.Second

type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers         []string
	Topic           string
	ClientID        string
	DeliveryTimeout time.Duration
	Breaker         gobreaker.Settings
}

// KafkaPublisher produces events keyed by aggregate id behind a circuit breaker. Delivery reports are
// consumed asynchronously and failures are logged.
type KafkaPublisher struct {
	producer   producer
	topic      string
	deliveries chan kafka.Event
	breaker    *gobreaker.CircuitBreaker
	timeout    time.Duration
	logger     *zap.Logger
	done       chan struct{}
}

var _ services.EventPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka publisher: brokers are required")
	}
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(cfg.Brokers, ","),
		"client.id":          defaultString(cfg.ClientID, "orderflow"),
		"enable.idempotence": true,
		"acks":               "all",
	})
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: create producer: %w", err)
	}
	return newKafkaPublisher(p, cfg, logger)
}

func newKafkaPublisher(p producer, cfg KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka publisher: topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaultDeliveryTimeout
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker = gobreaker.Settings{
			Name:        "kafka-events",
			MaxRequests: 5,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
		}
	}
	pub := &KafkaPublisher{
		producer:   p,
		topic:      cfg.Topic,
		deliveries: make(chan kafka.Event, 128),
		breaker:    gobreaker.NewCircuitBreaker(cfg.Breaker),
		timeout:    cfg.DeliveryTimeout,
		logger:     logger,
		done:       make(chan struct{}),
	}
	go pub.handleDeliveries()
	return pub, nil
}

func (p *KafkaPublisher) PublishEvent(ctx context.Context, event services.DomainEvent) error {
	env, err := encode(event)
	if err != nil {
		return err
	}
	_, err = p.breaker.Execute(func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg := &kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
			Key:            []byte(env.key),
			Value:          env.data,
			Timestamp:      event.OccurredAt,
		}
		for k, v := range env.attributes {
			msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
		}
		return nil, p.producer.Produce(msg, p.deliveries)
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) handleDeliveries() {
	defer close(p.done)
	for evt := range p.deliveries {
		msg, ok := evt.(*kafka.Message)
		if !ok {
			continue
		}
		if msg.TopicPartition.Error != nil {
			p.logger.Warn("kafka delivery failed",
				zap.String("key", string(msg.Key)),
				zap.Error(msg.TopicPartition.Error),
			)
		}
	}
}

// Close flushes outstanding messages and shuts the producer down.
func (p *KafkaPublisher) Close() {
	if remaining := p.producer.Flush(int(p.timeout.Milliseconds())); remaining > 0 {
		p.logger.Warn("kafka publisher closed with undelivered messages", zap.Int("remaining", remaining))
	}
	p.producer.Close()
	close(p.deliveries)
	<-p.done
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
