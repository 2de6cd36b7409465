// Package bus publishes enriched crossing events to a message broker and
// subscribes to them on the consumer side. Every driver implements domain.Bus.
package bus

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/V4T54L/geofence-relay/internal/domain"
	"github.com/V4T54L/geofence-relay/internal/pkg/config"
)

// Drivers.
const (
	DriverNATS  = "nats"
	DriverKafka = "kafka"
	DriverRedis = "redis"
	DriverMQTT  = "mqtt"
)

// DefaultTopic is the logical topic enriched events are published under.
const DefaultTopic = "geofencingSample/event"

// Config selects and configures a driver.
type Config struct {
	Driver        string
	Topic         string
	Codec         Codec
	ConsumerGroup string

	NATSURL      string
	KafkaBrokers []string
	RedisAddr    string
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
}

// ConfigFrom converts the environment settings into a bus Config.
func ConfigFrom(c config.BusConfig, redisAddr string) (Config, error) {
	codec, err := CodecByName(c.Codec)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Driver:        c.Driver,
		Topic:         c.Topic,
		Codec:         codec,
		ConsumerGroup: c.ConsumerGroup,
		NATSURL:       c.NATSURL,
		KafkaBrokers:  c.KafkaBrokers,
		RedisAddr:     redisAddr,
		MQTTBroker:    c.MQTTBroker,
		MQTTClientID:  c.MQTTClientID,
		MQTTUsername:  c.MQTTUsername,
		MQTTPassword:  c.MQTTPassword,
	}, nil
}

// New connects the configured driver.
func New(cfg Config, logger *slog.Logger) (domain.Bus, error) {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.Codec == nil {
		cfg.Codec = JSON
	}

	switch cfg.Driver {
	case DriverNATS:
		return DialNATS(cfg.NATSURL, cfg.Topic, cfg.ConsumerGroup, cfg.Codec, logger)
	case DriverKafka:
		return NewKafka(cfg.KafkaBrokers, cfg.Topic, cfg.ConsumerGroup, cfg.Codec, logger), nil
	case DriverRedis:
		return DialRedisStream(cfg.RedisAddr, cfg.Topic, cfg.ConsumerGroup, cfg.Codec, logger)
	case DriverMQTT:
		return DialMQTT(MQTTOptions{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		}, cfg.Topic, cfg.Codec, logger)
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
	}
}

// SubjectName maps a slash separated topic to a dot separated NATS subject.
func SubjectName(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}

// KafkaTopicName maps topic to the [a-zA-Z0-9._-] alphabet Kafka accepts.
func KafkaTopicName(topic string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/':
			return '.'
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, strings.Trim(topic, "/"))
}
