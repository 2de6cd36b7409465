package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/V4T54L/geofence-relay/internal/domain"
	"github.com/V4T54L/geofence-relay/internal/usecase"
)

// GeofenceManager is the management surface behind the geofence routes.
type GeofenceManager interface {
	List(ctx context.Context) (domain.GeofenceCollection, error)
	Get(ctx context.Context, code string) (*domain.Geofence, error)
	Create(ctx context.Context, fence domain.Geofence) (string, error)
	CreateMany(ctx context.Context, collection domain.GeofenceCollection) (int, error)
	Update(ctx context.Context, code string, update domain.Geofence) error
	Delete(ctx context.Context, code string) error
}

// GeofenceHandler handles HTTP requests for geofence management.
type GeofenceHandler struct {
	manager     GeofenceManager
	logger      *slog.Logger
	maxBodySize int64
}

// NewGeofenceHandler creates a new GeofenceHandler.
func NewGeofenceHandler(manager GeofenceManager, logger *slog.Logger, maxBodySize int64) *GeofenceHandler {
	return &GeofenceHandler{
		manager:     manager,
		logger:      logger.With("component", "geofence_handler"),
		maxBodySize: maxBodySize,
	}
}

// CreatedResponse carries the code assigned to a new geofence.
type CreatedResponse struct {
	Code string `json:"@code"`
}

// BulkCreatedResponse carries the number of geofences stored from a
// FeatureCollection.
type BulkCreatedResponse struct {
	Docs int `json:"docs"`
}

// List handles GET /geofences.
func (h *GeofenceHandler) List(w http.ResponseWriter, r *http.Request) {
	collection, err := h.manager.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list geofences", "error", err)
		respondWithError(w, h.logger, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, collection)
}

// Get handles GET /geofences/{code}.
func (h *GeofenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	fence, err := h.manager.Get(r.Context(), code)
	if err != nil {
		h.respondWithStoreError(w, err, code)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, fence)
}

// Create handles POST /geofences. The body is either a single Feature or a
// FeatureCollection whose features are all stored.
func (h *GeofenceHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, msgMalformed)
		return
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, msgMalformed)
		return
	}

	if head.Type == domain.FeatureCollectionType {
		var collection domain.GeofenceCollection
		if err := json.Unmarshal(body, &collection); err != nil {
			respondWithError(w, h.logger, http.StatusBadRequest, msgMalformed)
			return
		}
		n, err := h.manager.CreateMany(r.Context(), collection)
		if err != nil {
			h.respondWithWriteError(w, err, "failed to create geofences")
			return
		}
		respondWithJSON(w, h.logger, http.StatusCreated, BulkCreatedResponse{Docs: n})
		return
	}

	var fence domain.Geofence
	if err := json.Unmarshal(body, &fence); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, msgMalformed)
		return
	}
	code, err := h.manager.Create(r.Context(), fence)
	if err != nil {
		h.respondWithWriteError(w, err, "failed to create geofence")
		return
	}
	respondWithJSON(w, h.logger, http.StatusCreated, CreatedResponse{Code: code})
}

// Update handles PUT /geofences/{code}.
func (h *GeofenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var update domain.Geofence
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodySize)).Decode(&update); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, msgMalformed)
		return
	}

	err := h.manager.Update(r.Context(), code, update)
	switch {
	case err == nil:
		respondWithJSON(w, h.logger, http.StatusOK, CreatedResponse{Code: code})
	case errors.Is(err, domain.ErrGeofenceNotFound):
		respondWithError(w, h.logger, http.StatusNotFound, "Geofence not found")
	default:
		h.respondWithWriteError(w, err, "failed to update geofence")
	}
}

// Delete handles DELETE /geofences/{code}.
func (h *GeofenceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	if err := h.manager.Delete(r.Context(), code); err != nil {
		h.respondWithStoreError(w, err, code)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *GeofenceHandler) respondWithStoreError(w http.ResponseWriter, err error, code string) {
	if errors.Is(err, domain.ErrGeofenceNotFound) {
		respondWithError(w, h.logger, http.StatusNotFound, "Geofence not found")
		return
	}
	h.logger.Error("geofence store failure", "geofence_code", code, "error", err)
	respondWithError(w, h.logger, http.StatusInternalServerError, "Internal server error")
}

func (h *GeofenceHandler) respondWithWriteError(w http.ResponseWriter, err error, msg string) {
	var invalid *usecase.InvalidGeofenceError
	if errors.As(err, &invalid) {
		respondWithJSON(w, h.logger, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid geofence.",
			Details: invalid.Problems,
		})
		return
	}
	h.logger.Error(msg, "error", err)
	respondWithError(w, h.logger, http.StatusInternalServerError, "Internal server error")
}
