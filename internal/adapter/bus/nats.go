package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nuid"

	"github.com/V4T54L/geofence-relay/internal/domain"
)

const contentTypeHeader = "Content-Type"

// NATSBus publishes to a core NATS subject.
type NATSBus struct {
	conn    *nats.Conn
	subject string
	queue   string
	codec   Codec
	logger  *slog.Logger
}

// DialNATS connects to url. Subscribers sharing a non-empty queue group
// split the stream between them.
func DialNATS(url, topic, queue string, codec Codec, logger *slog.Logger) (*NATSBus, error) {
	logger = logger.With("component", "nats_bus")
	conn, err := nats.Connect(url,
		nats.Name("geofence-relay"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return NewNATS(conn, topic, queue, codec, logger), nil
}

// NewNATS wraps an existing connection.
func NewNATS(conn *nats.Conn, topic, queue string, codec Codec, logger *slog.Logger) *NATSBus {
	return &NATSBus{
		conn:    conn,
		subject: SubjectName(topic),
		queue:   queue,
		codec:   codec,
		logger:  logger,
	}
}

func (b *NATSBus) Publish(ctx context.Context, msg domain.EnrichedMessage) error {
	data, err := b.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	m := nats.NewMsg(b.subject)
	m.Header.Set(nats.MsgIdHdr, nuid.Next())
	m.Header.Set(contentTypeHeader, b.codec.ContentType())
	m.Data = data

	if err := b.conn.PublishMsg(m); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.subject, err)
	}
	return nil
}

// Subscribe delivers messages to handler until ctx is done.
func (b *NATSBus) Subscribe(ctx context.Context, handler domain.MessageHandler) error {
	cb := func(m *nats.Msg) {
		var msg domain.EnrichedMessage
		if err := b.codec.Unmarshal(m.Data, &msg); err != nil {
			b.logger.Warn("dropping undecodable message", "subject", m.Subject, "error", err)
			return
		}
		if err := handler(ctx, msg); err != nil {
			b.logger.Error("message handler failed", "geofence_code", msg.GeofenceCode, "error", err)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if b.queue != "" {
		sub, err = b.conn.QueueSubscribe(b.subject, b.queue, cb)
	} else {
		sub, err = b.conn.Subscribe(b.subject, cb)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}
	b.logger.Info("subscribed", "subject", b.subject, "queue", b.queue)

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
		b.logger.Warn("failed to unsubscribe", "error", err)
	}
	return nil
}

// Flush waits until the server has processed everything published so far.
// Without a ctx deadline the connection's default flush timeout applies.
func (b *NATSBus) Flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		return b.conn.Flush()
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains pending publishes and closes the connection.
func (b *NATSBus) Close() error {
	return b.conn.Drain()
}
