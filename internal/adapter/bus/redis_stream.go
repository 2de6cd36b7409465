package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/geofence-relay/internal/domain"
)

const (
	payloadField     = "payload"
	contentTypeField = "content_type"

	streamMaxLen    = 100000
	streamReadCount = 100
	streamBlock     = 2 * time.Second
)

// RedisStreamBus appends messages to a Redis stream and reads them back
// through a consumer group.
type RedisStreamBus struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	codec    Codec
	logger   *slog.Logger
}

// DialRedisStream connects to addr, a redis:// URL or host:port.
func DialRedisStream(addr, topic, group string, codec Codec, logger *slog.Logger) (*RedisStreamBus, error) {
	var opts *redis.Options
	if strings.Contains(addr, "://") {
		var err error
		if opts, err = redis.ParseURL(addr); err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
	} else {
		opts = &redis.Options{Addr: addr}
	}
	return NewRedisStream(redis.NewClient(opts), topic, group, codec, logger), nil
}

// NewRedisStream wraps an existing client. The stream key is the topic itself.
func NewRedisStream(client *redis.Client, topic, group string, codec Codec, logger *slog.Logger) *RedisStreamBus {
	host, _ := os.Hostname()
	return &RedisStreamBus{
		client:   client,
		stream:   topic,
		group:    group,
		consumer: fmt.Sprintf("%s-%d", host, os.Getpid()),
		codec:    codec,
		logger:   logger.With("component", "redis_stream_bus"),
	}
}

func (b *RedisStreamBus) Publish(ctx context.Context, msg domain.EnrichedMessage) error {
	data, err := b.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			payloadField:     data,
			contentTypeField: b.codec.ContentType(),
		},
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to XADD to redis stream: %w", err)
	}
	return nil
}

// Subscribe reads new entries for the consumer group until ctx is done.
// Every entry is acknowledged once handled, including undecodable ones.
func (b *RedisStreamBus) Subscribe(ctx context.Context, handler domain.MessageHandler) error {
	if err := b.setupConsumerGroup(ctx); err != nil {
		return err
	}
	b.logger.Info("starting stream consumer", "stream", b.stream, "group", b.group, "consumer", b.consumer)

	for {
		ids, err := b.readBatch(ctx, handler)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if len(ids) == 0 {
			continue
		}
		if err := b.client.XAck(ctx, b.stream, b.group, ids...).Err(); err != nil && ctx.Err() == nil {
			b.logger.Warn("failed to XACK messages", "count", len(ids), "error", err)
		}
	}
}

func (b *RedisStreamBus) readBatch(ctx context.Context, handler domain.MessageHandler) ([]string, error) {
	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.group,
		Consumer: b.consumer,
		Streams:  []string{b.stream, ">"},
		Count:    streamReadCount,
		Block:    streamBlock,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to XREADGROUP from redis: %w", err)
	}
	if len(streams) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(streams[0].Messages))
	for _, entry := range streams[0].Messages {
		ids = append(ids, entry.ID)

		payload, ok := entry.Values[payloadField].(string)
		if !ok {
			b.logger.Warn("invalid message format in stream, skipping", "message_id", entry.ID)
			continue
		}
		var msg domain.EnrichedMessage
		if err := b.codec.Unmarshal([]byte(payload), &msg); err != nil {
			b.logger.Warn("failed to decode message from stream, skipping", "message_id", entry.ID, "error", err)
			continue
		}
		if err := handler(ctx, msg); err != nil {
			b.logger.Error("message handler failed", "message_id", entry.ID, "error", err)
		}
	}
	return ids, nil
}

func (b *RedisStreamBus) setupConsumerGroup(ctx context.Context) error {
	err := b.client.XGroupCreateMkStream(ctx, b.stream, b.group, "$").Err()
	if err != nil && !isBusyGroupError(err) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func (b *RedisStreamBus) Close() error {
	return b.client.Close()
}

func isBusyGroupError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
