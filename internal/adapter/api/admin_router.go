package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/V4T54L/geofence-relay/internal/adapter/api/handler"
	"github.com/V4T54L/geofence-relay/internal/adapter/api/middleware"
	"github.com/V4T54L/geofence-relay/internal/pkg/config"
)

// NewAdminRouter creates the router for geofence management, the live event
// tail and metrics. metrics may be nil.
func NewAdminRouter(cfg *config.Config, logger *slog.Logger, manager handler.GeofenceManager, tail http.Handler, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", handler.Health)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	geofences := handler.NewGeofenceHandler(manager, logger, cfg.MaxPayloadBytes)
	r.Group(func(r chi.Router) {
		r.Use(middleware.BasicAuth(cfg.IngestUsername, cfg.IngestPassword, middleware.DefaultRealm, logger))

		r.Route("/geofences", func(r chi.Router) {
			r.Get("/", geofences.List)
			r.Post("/", geofences.Create)
			r.Get("/{code}", geofences.Get)
			r.Put("/{code}", geofences.Update)
			r.Delete("/{code}", geofences.Delete)
		})
		if tail != nil {
			r.Get("/events/stream", tail.ServeHTTP)
		}
	})

	return r
}
