package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/V4T54L/geofence-relay/internal/domain"
)

const (
	mqttQoS            = 1
	mqttConnectTimeout = 10 * time.Second
	mqttDisconnectWait = 250 // ms
)

// MQTTOptions holds the broker connection settings.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// MQTTBus publishes with QoS 1 to an MQTT topic. Slash separated topics are
// used as-is.
type MQTTBus struct {
	client mqtt.Client
	topic  string
	codec  Codec
	logger *slog.Logger
}

// DialMQTT connects to the broker and waits for the connection to be established.
func DialMQTT(o MQTTOptions, topic string, codec Codec, logger *slog.Logger) (*MQTTBus, error) {
	logger = logger.With("component", "mqtt_bus")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("lost connection to MQTT broker", "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", o.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return NewMQTT(client, topic, codec, logger), nil
}

// NewMQTT wraps a connected client.
func NewMQTT(client mqtt.Client, topic string, codec Codec, logger *slog.Logger) *MQTTBus {
	return &MQTTBus{client: client, topic: topic, codec: codec, logger: logger}
}

func (b *MQTTBus) Publish(ctx context.Context, msg domain.EnrichedMessage) error {
	data, err := b.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return wait(ctx, b.client.Publish(b.topic, mqttQoS, false, data), "publish to "+b.topic)
}

// Subscribe delivers messages to handler until ctx is done.
func (b *MQTTBus) Subscribe(ctx context.Context, handler domain.MessageHandler) error {
	token := b.client.Subscribe(b.topic, mqttQoS, b.onMessage(ctx, handler))
	if err := wait(ctx, token, "subscribe to "+b.topic); err != nil {
		return err
	}
	b.logger.Info("subscribed", "topic", b.topic)

	<-ctx.Done()
	b.client.Unsubscribe(b.topic).WaitTimeout(time.Second)
	return nil
}

func (b *MQTTBus) onMessage(ctx context.Context, handler domain.MessageHandler) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		var msg domain.EnrichedMessage
		if err := b.codec.Unmarshal(m.Payload(), &msg); err != nil {
			b.logger.Warn("dropping undecodable message", "topic", m.Topic(), "error", err)
			return
		}
		if err := handler(ctx, msg); err != nil {
			b.logger.Error("message handler failed", "geofence_code", msg.GeofenceCode, "error", err)
		}
	}
}

func (b *MQTTBus) Close() error {
	b.client.Disconnect(mqttDisconnectWait)
	return nil
}

func wait(ctx context.Context, token mqtt.Token, op string) error {
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("failed to %s: %w", op, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return nil
}
