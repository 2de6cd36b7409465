package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/geofence-relay/internal/adapter/api"
	"github.com/V4T54L/geofence-relay/internal/adapter/api/handler"
	"github.com/V4T54L/geofence-relay/internal/adapter/bus"
	"github.com/V4T54L/geofence-relay/internal/adapter/metrics"
	"github.com/V4T54L/geofence-relay/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/geofence-relay/internal/adapter/repository/redis"
	"github.com/V4T54L/geofence-relay/internal/adapter/repository/spool"
	"github.com/V4T54L/geofence-relay/internal/domain"
	"github.com/V4T54L/geofence-relay/internal/pkg/config"
	"github.com/V4T54L/geofence-relay/internal/pkg/logger"
	"github.com/V4T54L/geofence-relay/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	m := metrics.NewRelayMetrics()

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Geofence Store ---
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open geofence store", "store", cfg.FenceStore, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// --- Message Bus ---
	busCfg, err := bus.ConfigFrom(cfg.Bus, cfg.RedisAddr)
	if err != nil {
		logger.Error("invalid bus configuration", "error", err)
		os.Exit(1)
	}
	eventBus, err := bus.New(busCfg, logger)
	if err != nil {
		logger.Error("failed to connect to message bus", "driver", cfg.Bus.Driver, "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()
	logger.Info("connected to message bus", "driver", cfg.Bus.Driver, "topic", cfg.Bus.Topic, "codec", busCfg.Codec.Name())

	// --- Undelivered Event Spool ---
	var delivery domain.Publisher = eventBus
	if cfg.SpoolDir != "" {
		sp, err := spool.Open(cfg.SpoolDir, cfg.SpoolSegmentBytes, cfg.SpoolMaxBytes, logger)
		if err != nil {
			logger.Error("failed to open spool", "dir", cfg.SpoolDir, "error", err)
			os.Exit(1)
		}
		defer sp.Close()

		spooling := bus.NewSpooling(eventBus, sp, logger, m)
		if _, err := spooling.Redrive(ctx); err != nil {
			logger.Warn("spooled events left for a later redrive", "error", err)
		}
		go spooling.Run(ctx, cfg.SpoolRedriveInterval)
		delivery = spooling
	}

	// --- Live Tail ---
	sseBroker := handler.NewSSEBroker(ctx, logger, time.Second)
	publisher := bus.NewTee(delivery, sseBroker)

	// --- Use Cases ---
	enrich := usecase.NewEnrichEventsUseCase(store, publisher, logger, m, cfg.FenceLookupTimeout)
	ingest := usecase.NewIngestEventsUseCase(enrich, logger, m)
	manage := usecase.NewManageGeofencesUseCase(store, logger)

	// --- Admin and Metrics Server ---
	adminServer := &http.Server{
		Addr:    cfg.AdminServerAddr,
		Handler: api.NewAdminRouter(cfg, logger, manage, sseBroker, promhttp.Handler()),
	}

	go func() {
		logger.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin & metrics server failed", "error", err)
			stop()
		}
	}()

	// --- Ingest Server ---
	ingestServer := &http.Server{
		Addr:         cfg.IngestServerAddr,
		Handler:      api.NewRouter(cfg, logger, ingest),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		logger.Info("starting ingest server", "addr", ingestServer.Addr)
		if err := ingestServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ingest server failed", "error", err)
			stop() // Trigger shutdown on server error
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down servers...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := ingestServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ingest server shutdown failed", "error", err)
	}
	if err := ingest.Wait(shutdownCtx); err != nil {
		logger.Warn("abandoning in-flight batches", "error", err)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown failed", "error", err)
	}

	logger.Info("servers shut down gracefully")
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.GeofenceRepository, error) {
	switch cfg.FenceStore {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		repo := postgres.NewGeofenceRepository(db, logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return repo, nil
	case config.StoreRedis:
		client, err := redisrepo.NewClient(cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return redisrepo.NewGeofenceRepository(client, logger), nil
	default:
		return nil, fmt.Errorf("unknown fence store %q", cfg.FenceStore)
	}
}
