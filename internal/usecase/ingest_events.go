package usecase

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/V4T54L/geofence-relay/internal/adapter/metrics"
	"github.com/V4T54L/geofence-relay/internal/domain"
	"github.com/V4T54L/geofence-relay/internal/validation"
)

// BatchProcessor enriches and publishes an accepted batch.
type BatchProcessor interface {
	Process(ctx context.Context, batch domain.NotificationBatch) (int, error)
}

// IngestEventsUseCase validates inbound notification payloads and hands
// accepted batches to the enrichment pipeline in the background.
type IngestEventsUseCase struct {
	processor BatchProcessor
	logger    *slog.Logger
	metrics   *metrics.RelayMetrics
	inflight  sync.WaitGroup
}

// NewIngestEventsUseCase creates a new IngestEventsUseCase.
func NewIngestEventsUseCase(processor BatchProcessor, logger *slog.Logger, m *metrics.RelayMetrics) *IngestEventsUseCase {
	return &IngestEventsUseCase{
		processor: processor,
		logger:    logger.With("component", "ingest"),
		metrics:   m,
	}
}

// Submit validates payload. A valid payload is dispatched for enrichment
// without waiting for it to complete; the caller only sees the validation result.
func (uc *IngestEventsUseCase) Submit(ctx context.Context, payload any) validation.Result {
	result := validation.Validate(payload)
	if !result.Valid {
		uc.count(metrics.StatusInvalid)
		uc.logger.Info("rejected notification payload", "violations", len(result.Errors))
		return result
	}

	batch := validation.ToBatch(uuid.NewString(), payload)
	uc.count(metrics.StatusAccepted)
	uc.logger.Debug("accepted notification batch", "batch_id", batch.ID, "events", len(batch.Events))

	uc.dispatch(context.WithoutCancel(ctx), batch)
	return result
}

func (uc *IngestEventsUseCase) dispatch(ctx context.Context, batch domain.NotificationBatch) {
	uc.inflight.Add(1)
	if uc.metrics != nil {
		uc.metrics.BatchesInFlight.Inc()
	}

	go func() {
		defer uc.inflight.Done()
		if uc.metrics != nil {
			defer uc.metrics.BatchesInFlight.Dec()
		}
		if _, err := uc.processor.Process(ctx, batch); err != nil {
			uc.logger.Error("enrichment failed", "batch_id", batch.ID, "error", err)
		}
	}()
}

// Wait blocks until every dispatched batch has finished or ctx is done.
func (uc *IngestEventsUseCase) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		uc.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordRejected counts payloads refused before validation.
func (uc *IngestEventsUseCase) RecordRejected(status string) {
	uc.count(status)
}

func (uc *IngestEventsUseCase) count(status string) {
	if uc.metrics != nil {
		uc.metrics.NotificationsTotal.WithLabelValues(status).Inc()
	}
}
