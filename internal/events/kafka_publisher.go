package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/zacode/consultation-service/internal/config"
	"github.com/zacode/consultation-service/internal/observability"
)

// KafkaOpts customizes a KafkaPublisher.
type KafkaOpts func(*KafkaPublisher) error

// WithProducer injects an existing producer.
func WithProducer(producer sarama.SyncProducer) KafkaOpts {
	return func(p *KafkaPublisher) error {
		p.producer = producer
		return nil
	}
}

// WithPublisherMetrics counts publish attempts.
func WithPublisherMetrics(m *observability.Metrics) KafkaOpts {
	return func(p *KafkaPublisher) error {
		p.metrics = m
		return nil
	}
}

// KafkaPublisher forwards domain events to a Kafka topic, keyed by consultation id.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewKafkaPublisher connects a sync producer to cfg.Brokers unless one is injected.
func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.Logger, opts ...KafkaOpts) (*KafkaPublisher, error) {
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &KafkaPublisher{topic: cfg.Topic, logger: logger}
	for _, o := range opts {
		if err := o(p); err != nil {
			return nil, err
		}
	}
	if p.producer == nil {
		if len(cfg.Brokers) == 0 {
			return nil, errors.New("kafka brokers are required")
		}
		sc := sarama.NewConfig()
		sc.ClientID = cfg.ClientID
		sc.Producer.RequiredAcks = sarama.WaitForAll
		sc.Producer.Return.Successes = true
		sc.Producer.Retry.Max = 3
		producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		p.producer = producer
	}
	return p, nil
}

// Register subscribes the publisher to every consultation event.
func (p *KafkaPublisher) Register(d Dispatcher) {
	d.Subscribe(EventConsultationCreated, p.Handle)
	d.Subscribe(EventConsultationResponded, p.Handle)
}

// Handle publishes one event.
func (p *KafkaPublisher) Handle(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.ConsultationID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}
	partition, offset, err := p.producer.SendMessage(msg)
	p.metrics.RecordEvent(string(event.Type), err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	p.logger.Debug("event published",
		zap.String("event_type", string(event.Type)),
		zap.String("consultation_id", event.ConsultationID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close flushes and closes the producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
