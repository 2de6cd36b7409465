package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/V4T54L/geofence-relay/internal/adapter/api/handler"
	"github.com/V4T54L/geofence-relay/internal/adapter/api/middleware"
	"github.com/V4T54L/geofence-relay/internal/adapter/metrics"
	"github.com/V4T54L/geofence-relay/internal/pkg/config"
)

// NewRouter creates and configures the HTTP router for the ingest service.
func NewRouter(cfg *config.Config, logger *slog.Logger, submitter handler.EventSubmitter) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", handler.Health)

	eventsHandler := handler.NewEventsHandler(submitter, logger, cfg.MaxPayloadBytes)
	r.Group(func(r chi.Router) {
		r.Use(middleware.BasicAuth(cfg.IngestUsername, cfg.IngestPassword, middleware.DefaultRealm, logger))
		r.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, logger, func() {
			submitter.RecordRejected(metrics.StatusRateLimited)
		}))
		r.Use(middleware.Decompress(logger))
		r.Method(http.MethodPost, "/events", eventsHandler)
	})

	return r
}
