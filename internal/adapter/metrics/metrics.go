package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "geofence_relay"

// Status labels for NotificationsTotal.
const (
	StatusAccepted    = "accepted"
	StatusInvalid     = "invalid"
	StatusMalformed   = "malformed"
	StatusTooLarge    = "too_large"
	StatusEmpty       = "empty"
	StatusRateLimited = "rate_limited"
)

// Result labels for FenceLookupsTotal.
const (
	LookupFound    = "found"
	LookupNotFound = "not_found"
	LookupError    = "error"
)

// RelayMetrics holds all Prometheus metrics for the relay service.
type RelayMetrics struct {
	NotificationsTotal *prometheus.CounterVec
	EventsPublished    prometheus.Counter
	EventsDropped      *prometheus.CounterVec
	PublishErrors      prometheus.Counter
	EventsSpooled      prometheus.Counter
	EventsRedelivered  prometheus.Counter
	FenceLookupsTotal  *prometheus.CounterVec
	BatchDuration      prometheus.Histogram
	BatchesInFlight    prometheus.Gauge
}

// NewRelayMetrics registers the metrics with the default registry.
func NewRelayMetrics() *RelayMetrics {
	return NewRelayMetricsWith(prometheus.DefaultRegisterer)
}

// NewRelayMetricsWith registers the metrics with reg. Tests pass a fresh
// registry so that constructing metrics twice does not panic.
func NewRelayMetricsWith(reg prometheus.Registerer) *RelayMetrics {
	factory := promauto.With(reg)
	return &RelayMetrics{
		NotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "notifications_total",
			Help:      "Total number of notification batches received, by status.",
		}, []string{"status"}),
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_published_total",
			Help:      "Total number of enriched events published to the bus.",
		}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_dropped_total",
			Help:      "Total number of crossing events skipped, by reason.",
		}, []string{"reason"}),
		PublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "publish_errors_total",
			Help:      "Total number of failed publish attempts.",
		}),
		EventsSpooled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "spool",
			Name:      "events_spooled_total",
			Help:      "Total number of undelivered events written to the spool.",
		}),
		EventsRedelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "spool",
			Name:      "events_redelivered_total",
			Help:      "Total number of spooled events published on redrive.",
		}),
		FenceLookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "fence_lookups_total",
			Help:      "Total number of geofence store lookups, by result.",
		}, []string{"result"}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "batch_duration_seconds",
			Help:      "Time spent enriching and publishing one batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		BatchesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "batches_in_flight",
			Help:      "Number of accepted batches still being enriched.",
		}),
	}
}
