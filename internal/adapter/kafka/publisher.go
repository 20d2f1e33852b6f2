package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/crime-data-service/internal/config"
	"github.com/couchcryptid/crime-data-service/internal/domain"
	"github.com/couchcryptid/crime-data-service/internal/observability"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces dataset events to a Kafka topic.
// It implements domain.EventPublisher.
type Publisher struct {
	writer  messageWriter
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPublisher creates a Kafka producer for the configured events topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Publisher{writer: w, logger: logger, metrics: metrics}
}

// Publish writes one event keyed by its dataset id, so every event of a
// dataset lands on the same partition. An empty EventID is filled in.
func (p *Publisher) Publish(ctx context.Context, event domain.DatasetEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	msg, err := serializeToMessage(event)
	if err != nil {
		p.metrics.EventsPublished.WithLabelValues(event.Type, "error").Inc()
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.EventsPublished.WithLabelValues(event.Type, "error").Inc()
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	p.metrics.EventsPublished.WithLabelValues(event.Type, "success").Inc()
	p.logger.Debug("event published", "type", event.Type, "event_id", event.EventID, "dataset_id", event.DatasetID)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a DatasetEvent into a Kafka message.
func serializeToMessage(event domain.DatasetEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize dataset event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(strconv.FormatInt(event.DatasetID, 10)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "occurred_at", Value: []byte(event.OccurredAt.Format(time.RFC3339))},
		},
	}, nil
}
