package usecase

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/V4T54L/geofence-relay/internal/adapter/metrics"
	"github.com/V4T54L/geofence-relay/internal/domain"
)

const (
	tracerName = "github.com/V4T54L/geofence-relay/internal/usecase"

	dropUnknownFence = "unknown_fence"
	dropPublishError = "publish_error"
)

// EnrichEventsUseCase resolves the geofence of every crossing event in a
// batch and publishes one enriched message per resolvable event, in input order.
type EnrichEventsUseCase struct {
	reader        domain.GeofenceReader
	publisher     domain.Publisher
	logger        *slog.Logger
	metrics       *metrics.RelayMetrics
	lookupTimeout time.Duration
}

// NewEnrichEventsUseCase creates the enrichment pipeline.
func NewEnrichEventsUseCase(reader domain.GeofenceReader, publisher domain.Publisher, logger *slog.Logger, m *metrics.RelayMetrics, lookupTimeout time.Duration) *EnrichEventsUseCase {
	return &EnrichEventsUseCase{
		reader:        reader,
		publisher:     publisher,
		logger:        logger.With("component", "enrichment_pipeline"),
		metrics:       m,
		lookupTimeout: lookupTimeout,
	}
}

// Process enriches and publishes a batch. It returns the number of messages
// published. Unknown fences and publish failures are not errors; only a
// cancelled context abandons the batch.
func (uc *EnrichEventsUseCase) Process(ctx context.Context, batch domain.NotificationBatch) (int, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "EnrichEvents.Process")
	span.SetAttributes(
		attribute.String("batch.id", batch.ID),
		attribute.Int("batch.size", len(batch.Events)),
	)
	defer span.End()

	start := time.Now()
	logger := uc.logger.With("batch_id", batch.ID)
	cache := NewFenceCache(uc.reader, uc.lookupTimeout, logger, uc.metrics)

	// 1. Trigger one resolution per distinct code, in first-occurrence order.
	var g errgroup.Group
	triggered := make(map[string]struct{}, len(batch.Events))
	for _, event := range batch.Events {
		code := event.GeofenceCode
		if _, ok := triggered[code]; ok {
			continue
		}
		triggered[code] = struct{}{}
		g.Go(func() error {
			cache.Resolve(ctx, code)
			return nil
		})
	}

	// 2. Barrier: every triggered resolution has settled past this point.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		logger.Error("batch abandoned before publishing", "error", err)
		return 0, err
	}

	// 3. Publish in input order.
	published := 0
	for i, event := range batch.Events {
		if err := ctx.Err(); err != nil {
			logger.Error("batch abandoned while publishing", "error", err, "published", published, "remaining", len(batch.Events)-i)
			return published, err
		}

		fence, _ := cache.Settled(event.GeofenceCode)
		if fence == nil {
			uc.drop(dropUnknownFence)
			logger.Debug("skipping event for unregistered geofence", "geofence_code", event.GeofenceCode, "device", event.DeviceDescriptor)
			continue
		}

		msg := domain.NewEnrichedMessage(event, *fence)
		if err := uc.publisher.Publish(ctx, msg); err != nil {
			uc.drop(dropPublishError)
			if uc.metrics != nil {
				uc.metrics.PublishErrors.Inc()
			}
			logger.Error("failed to publish enriched event", "error", err, "geofence_code", event.GeofenceCode)
			continue
		}
		published++
	}

	if uc.metrics != nil {
		uc.metrics.EventsPublished.Add(float64(published))
		uc.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	}
	logger.Info("processed notification batch",
		"events", len(batch.Events),
		"distinct_codes", len(triggered),
		"published", published,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return published, nil
}

func (uc *EnrichEventsUseCase) drop(reason string) {
	if uc.metrics != nil {
		uc.metrics.EventsDropped.WithLabelValues(reason).Inc()
	}
}
