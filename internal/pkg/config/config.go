package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Fence store drivers.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Bus drivers.
const (
	BusNATS  = "nats"
	BusKafka = "kafka"
	BusRedis = "redis"
	BusMQTT  = "mqtt"
)

// Config holds all configuration of the ingest service.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	IngestServerAddr string  `env:"INGEST_SERVER_ADDR" envDefault:":8080"`
	AdminServerAddr  string  `env:"ADMIN_SERVER_ADDR" envDefault:":9091"`
	IngestUsername   string  `env:"INGEST_USERNAME" envDefault:"geofencing"`
	IngestPassword   string  `env:"INGEST_PASSWORD,required,notEmpty"`
	MaxPayloadBytes  int64   `env:"MAX_PAYLOAD_BYTES" envDefault:"1048576"` // 1MB
	RateLimitRPS     float64 `env:"INGEST_RATE_LIMIT_RPS" envDefault:"0"`   // 0 disables
	RateLimitBurst   int     `env:"INGEST_RATE_LIMIT_BURST" envDefault:"50"`

	FenceStore         string        `env:"FENCE_STORE" envDefault:"postgres"`
	PostgresURL        string        `env:"POSTGRES_URL"`
	RedisAddr          string        `env:"REDIS_ADDR"`
	FenceLookupTimeout time.Duration `env:"FENCE_LOOKUP_TIMEOUT" envDefault:"2s"`

	Bus BusConfig

	SpoolDir             string        `env:"SPOOL_DIR"`                                 // empty disables spooling
	SpoolSegmentBytes    int64         `env:"SPOOL_SEGMENT_BYTES" envDefault:"10485760"` // 10MB
	SpoolMaxBytes        int64         `env:"SPOOL_MAX_BYTES" envDefault:"1073741824"`   // 1GB
	SpoolRedriveInterval time.Duration `env:"SPOOL_REDRIVE_INTERVAL" envDefault:"30s"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// BusConfig selects the message bus. It is shared by the ingest service and the consumer.
type BusConfig struct {
	Driver        string   `env:"BUS_DRIVER" envDefault:"nats"`
	Topic         string   `env:"EVENT_TOPIC" envDefault:"geofencingSample/event"`
	Codec         string   `env:"BUS_CODEC" envDefault:"json"`
	NATSURL       string   `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	MQTTBroker    string   `env:"MQTT_BROKER" envDefault:"tcp://localhost:1883"`
	MQTTClientID  string   `env:"MQTT_CLIENT_ID" envDefault:"geofence-relay"`
	MQTTUsername  string   `env:"MQTT_USERNAME"`
	MQTTPassword  string   `env:"MQTT_PASSWORD"`
	ConsumerGroup string   `env:"CONSUMER_GROUP" envDefault:"geofence-consumers"`
}

// ConsumerConfig holds the configuration of the downstream consumer.
type ConsumerConfig struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	RedisAddr string `env:"REDIS_ADDR"`

	Bus BusConfig
}

// Load reads the ingest service configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadConsumer reads the consumer configuration from environment variables.
func LoadConsumer() (*ConsumerConfig, error) {
	_ = godotenv.Load()

	cfg := &ConsumerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := errors.Join(cfg.Bus.validate(cfg.RedisAddr)...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks driver names and the settings each driver needs.
func (c *Config) Validate() error {
	var errs []error

	switch c.FenceStore {
	case StorePostgres:
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("POSTGRES_URL is required when FENCE_STORE=postgres"))
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when FENCE_STORE=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown FENCE_STORE %q", c.FenceStore))
	}

	errs = append(errs, c.Bus.validate(c.RedisAddr)...)

	if c.MaxPayloadBytes <= 0 {
		errs = append(errs, errors.New("MAX_PAYLOAD_BYTES must be positive"))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, errors.New("INGEST_RATE_LIMIT_RPS must not be negative"))
	}
	if c.SpoolDir != "" && (c.SpoolSegmentBytes <= 0 || c.SpoolMaxBytes < c.SpoolSegmentBytes) {
		errs = append(errs, errors.New("SPOOL_MAX_BYTES must be at least SPOOL_SEGMENT_BYTES, both positive"))
	}

	return errors.Join(errs...)
}

func (b BusConfig) validate(redisAddr string) []error {
	var errs []error

	switch b.Driver {
	case BusNATS, BusKafka, BusMQTT:
	case BusRedis:
		if redisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when BUS_DRIVER=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown BUS_DRIVER %q", b.Driver))
	}

	if b.Codec != "json" && b.Codec != "msgpack" {
		errs = append(errs, fmt.Errorf("unknown BUS_CODEC %q", b.Codec))
	}
	if b.Topic == "" {
		errs = append(errs, errors.New("EVENT_TOPIC must not be empty"))
	}
	return errs
}
