package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/V4T54L/geofence-relay/internal/adapter/metrics"
	"github.com/V4T54L/geofence-relay/internal/validation"
)

const (
	msgNoPayload      = "No payload provided in request body"
	msgMalformed      = "Malformed JSON payload"
	msgInvalidPayload = "Invalid payload."
	msgTooLarge       = "Payload too large"
)

// EventSubmitter accepts decoded notification payloads.
type EventSubmitter interface {
	Submit(ctx context.Context, payload any) validation.Result
	RecordRejected(status string)
}

// EventsHandler receives geofence crossing notifications from the SDK.
type EventsHandler struct {
	submitter   EventSubmitter
	logger      *slog.Logger
	maxBodySize int64
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(submitter EventSubmitter, logger *slog.Logger, maxBodySize int64) *EventsHandler {
	return &EventsHandler{
		submitter:   submitter,
		logger:      logger.With("component", "events_handler"),
		maxBodySize: maxBodySize,
	}
}

// ServeHTTP validates the batch and answers 202 before enrichment runs.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.submitter.RecordRejected(metrics.StatusTooLarge)
			respondWithError(w, h.logger, http.StatusRequestEntityTooLarge, msgTooLarge)
			return
		}
		h.logger.Warn("failed to read request body", "error", err)
		h.submitter.RecordRejected(metrics.StatusMalformed)
		respondWithError(w, h.logger, http.StatusBadRequest, msgMalformed)
		return
	}

	payload, err := decodePayload(body)
	if err != nil {
		h.submitter.RecordRejected(metrics.StatusMalformed)
		respondWithError(w, h.logger, http.StatusBadRequest, msgMalformed)
		return
	}
	if payload == nil {
		h.submitter.RecordRejected(metrics.StatusEmpty)
		respondWithError(w, h.logger, http.StatusBadRequest, msgNoPayload)
		return
	}

	result := h.submitter.Submit(r.Context(), payload)
	if !result.Valid {
		respondWithJSON(w, h.logger, http.StatusBadRequest, ErrorResponse{
			Error:   msgInvalidPayload,
			Details: result.Errors,
			Payload: json.RawMessage(body),
		})
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

var errTrailingData = errors.New("unexpected data after JSON value")

// decodePayload parses body keeping numbers exact. An empty body or JSON
// null yields a nil payload.
func decodePayload(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	return payload, nil
}
