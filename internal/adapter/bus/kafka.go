package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/V4T54L/geofence-relay/internal/domain"
)

// KafkaBus writes to a Kafka topic keyed by geofence code, so events for one
// fence stay ordered within their partition.
type KafkaBus struct {
	writer  *kafka.Writer
	brokers []string
	topic   string
	group   string
	codec   Codec
	logger  *slog.Logger
}

// NewKafka creates a Kafka bus. No connection is made until the first write or read.
func NewKafka(brokers []string, topic, group string, codec Codec, logger *slog.Logger) *KafkaBus {
	name := KafkaTopicName(topic)
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  name,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaBus{
		writer:  w,
		brokers: brokers,
		topic:   name,
		group:   group,
		codec:   codec,
		logger:  logger.With("component", "kafka_bus"),
	}
}

func (b *KafkaBus) Publish(ctx context.Context, msg domain.EnrichedMessage) error {
	m, err := b.message(msg)
	if err != nil {
		return err
	}
	if err := b.writer.WriteMessages(ctx, m); err != nil {
		return fmt.Errorf("failed to write to kafka topic %s: %w", b.topic, err)
	}
	return nil
}

func (b *KafkaBus) message(msg domain.EnrichedMessage) (kafka.Message, error) {
	data, err := b.codec.Marshal(msg)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode message: %w", err)
	}
	return kafka.Message{
		Key:     []byte(msg.GeofenceCode),
		Value:   data,
		Headers: []kafka.Header{{Key: contentTypeHeader, Value: []byte(b.codec.ContentType())}},
	}, nil
}

// Subscribe consumes the topic as part of the configured group until ctx is done.
// Messages are committed after the handler runs, whether or not it succeeded.
func (b *KafkaBus) Subscribe(ctx context.Context, handler domain.MessageHandler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        b.brokers,
		Topic:          b.topic,
		GroupID:        b.group,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})
	defer reader.Close()

	b.logger.Info("starting kafka consumer", "brokers", b.brokers, "topic", b.topic, "group_id", b.group)
	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			b.logger.Error("fetch message failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		var msg domain.EnrichedMessage
		if err := b.codec.Unmarshal(m.Value, &msg); err != nil {
			b.logger.Warn("invalid message", "error", err, "offset", m.Offset)
		} else if err := handler(ctx, msg); err != nil {
			b.logger.Error("message handler failed", "geofence_code", msg.GeofenceCode, "error", err)
		}

		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			b.logger.Warn("failed to commit offset", "offset", m.Offset, "error", err)
		}
	}
}

// Close flushes pending messages and closes the writer.
func (b *KafkaBus) Close() error {
	return b.writer.Close()
}
