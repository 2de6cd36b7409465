package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/V4T54L/geofence-relay/internal/adapter/bus"
	"github.com/V4T54L/geofence-relay/internal/domain"
	"github.com/V4T54L/geofence-relay/internal/pkg/config"
	"github.com/V4T54L/geofence-relay/internal/pkg/logger"
)

func main() {
	cfg, err := config.LoadConsumer()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info("starting consumer worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	busCfg, err := bus.ConfigFrom(cfg.Bus, cfg.RedisAddr)
	if err != nil {
		log.Error("invalid bus configuration", "error", err)
		os.Exit(1)
	}
	// MQTT client ids must be unique per connection.
	busCfg.MQTTClientID += "-consumer"

	eventBus, err := bus.New(busCfg, log)
	if err != nil {
		log.Error("failed to connect to message bus", "driver", cfg.Bus.Driver, "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	log.Info("consumer worker started", "driver", cfg.Bus.Driver, "topic", cfg.Bus.Topic, "group", cfg.Bus.ConsumerGroup)
	err = eventBus.Subscribe(ctx, func(ctx context.Context, msg domain.EnrichedMessage) error {
		log.Info("geofence crossing",
			"device", msg.DeviceDescriptor,
			"geofence_code", msg.GeofenceCode,
			"geofence_name", msg.Geofence.Properties.Name,
			"crossing_type", msg.CrossingType,
			"detected_time", msg.DetectedTime,
		)
		return nil
	})
	if err != nil {
		log.Error("subscription failed", "error", err)
		os.Exit(1)
	}

	log.Info("consumer worker shut down gracefully")
}
