package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/V4T54L/geofence-relay/internal/adapter/metrics"
	"github.com/V4T54L/geofence-relay/internal/domain"
)

// FenceCache resolves geofence codes for a single batch. Each distinct code
// is fetched from the store at most once; concurrent callers share the
// in-flight fetch and failures are remembered as negative results.
// A FenceCache must not outlive the batch it was created for.
type FenceCache struct {
	reader  domain.GeofenceReader
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.RelayMetrics

	group    singleflight.Group
	mu       sync.Mutex
	resolved map[string]*domain.Geofence // nil value: not found
}

// NewFenceCache creates an empty cache. A zero timeout disables the per-fetch deadline.
func NewFenceCache(reader domain.GeofenceReader, timeout time.Duration, logger *slog.Logger, m *metrics.RelayMetrics) *FenceCache {
	return &FenceCache{
		reader:   reader,
		timeout:  timeout,
		logger:   logger,
		metrics:  m,
		resolved: make(map[string]*domain.Geofence),
	}
}

// Resolve returns the metadata for code, fetching it on first use.
func (c *FenceCache) Resolve(ctx context.Context, code string) (*domain.Geofence, bool) {
	if fence, ok := c.lookup(code); ok {
		return fence, fence != nil
	}

	v, _, _ := c.group.Do(code, func() (any, error) {
		// A previous flight for this code may have finished between lookup and Do.
		if fence, ok := c.lookup(code); ok {
			return fence, nil
		}
		fence := c.fetch(ctx, code)
		c.mu.Lock()
		c.resolved[code] = fence
		c.mu.Unlock()
		return fence, nil
	})

	fence, _ := v.(*domain.Geofence)
	return fence, fence != nil
}

// Settled reports the outcome recorded for code without fetching.
func (c *FenceCache) Settled(code string) (fence *domain.Geofence, settled bool) {
	return c.lookup(code)
}

func (c *FenceCache) lookup(code string) (*domain.Geofence, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fence, ok := c.resolved[code]
	return fence, ok
}

func (c *FenceCache) fetch(ctx context.Context, code string) *domain.Geofence {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "FenceCache.fetch")
	span.SetAttributes(attribute.String("geofence.code", code))
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	fence, err := c.reader.GetByCode(ctx, code)
	switch {
	case err == nil && fence != nil:
		c.count(metrics.LookupFound)
		c.logger.Debug("resolved geofence", "geofence_code", code)
		return fence
	case err == nil, errors.Is(err, domain.ErrGeofenceNotFound):
		c.count(metrics.LookupNotFound)
		c.logger.Debug("no geofence stored for code", "geofence_code", code)
	default:
		// Store faults are indistinguishable from unknown codes downstream.
		c.count(metrics.LookupError)
		c.logger.Warn("geofence lookup failed, treating as unknown", "geofence_code", code, "error", err)
		span.RecordError(err)
	}
	return nil
}

func (c *FenceCache) count(result string) {
	if c.metrics != nil {
		c.metrics.FenceLookupsTotal.WithLabelValues(result).Inc()
	}
}
