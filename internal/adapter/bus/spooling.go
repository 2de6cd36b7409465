package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/V4T54L/geofence-relay/internal/adapter/metrics"
	"github.com/V4T54L/geofence-relay/internal/domain"
)

// Spool stores messages the bus refused and hands them back for redelivery.
type Spool interface {
	Write(ctx context.Context, msg domain.EnrichedMessage) error
	Replay(ctx context.Context, handler func(ctx context.Context, msg domain.EnrichedMessage) error) (int, error)
}

// Spooling writes every message the primary publisher rejects to a spool.
// Publish still returns the primary error so callers count the failure.
type Spooling struct {
	primary domain.Publisher
	spool   Spool
	logger  *slog.Logger
	metrics *metrics.RelayMetrics
}

func NewSpooling(primary domain.Publisher, spool Spool, logger *slog.Logger, m *metrics.RelayMetrics) *Spooling {
	return &Spooling{
		primary: primary,
		spool:   spool,
		logger:  logger.With("component", "spooling_publisher"),
		metrics: m,
	}
}

func (s *Spooling) Publish(ctx context.Context, msg domain.EnrichedMessage) error {
	err := s.primary.Publish(ctx, msg)
	if err == nil {
		return nil
	}
	if spoolErr := s.spool.Write(context.WithoutCancel(ctx), msg); spoolErr != nil {
		s.logger.Error("failed to spool undelivered event", "geofence_code", msg.GeofenceCode, "error", spoolErr)
		return err
	}
	if s.metrics != nil {
		s.metrics.EventsSpooled.Inc()
	}
	return err
}

// Redrive republishes spooled messages in the order they were written.
// It stops at the first publish failure; the rest stay spooled.
func (s *Spooling) Redrive(ctx context.Context) (int, error) {
	n, err := s.spool.Replay(ctx, s.primary.Publish)
	if s.metrics != nil {
		s.metrics.EventsRedelivered.Add(float64(n))
	}
	if n > 0 || err != nil {
		s.logger.Info("spool redrive finished", "redelivered", n, "error", err)
	}
	return n, err
}

// Run redrives the spool every interval until ctx is cancelled.
func (s *Spooling) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Redrive(ctx)
		}
	}
}
