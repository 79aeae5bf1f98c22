// Package handler provides HTTP handlers for the TheBox status gateway.
package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/seaward-systems/thebox/pkg/postgres"
)

// TrackHandler serves the persisted track table.
type TrackHandler struct {
	db     *postgres.Pool
	logger zerolog.Logger
}

// NewTrackHandler creates a new TrackHandler.
func NewTrackHandler(db *postgres.Pool, logger zerolog.Logger) *TrackHandler {
	return &TrackHandler{
		db:     db,
		logger: logger.With().Str("handler", "tracks").Logger(),
	}
}

// Routes returns the track routes.
func (h *TrackHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListTracks)
	r.Get("/{trackId}", h.GetTrack)

	return r
}

// TrackListResponse is the response for listing tracks.
type TrackListResponse struct {
	Tracks        []postgres.TrackRow `json:"tracks"`
	Total         int                 `json:"total"`
	CorrelationID string              `json:"correlation_id"`
}

// ListTracks handles GET /api/tracks.
func (h *TrackHandler) ListTracks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	filter := postgres.TrackFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  100,
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}

	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		if since, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			filter.Since = &since
		}
	}

	tracks, err := h.db.ListTracks(ctx, filter)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to list tracks")
		WriteError(w, http.StatusInternalServerError, "Failed to list tracks", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, TrackListResponse{
		Tracks:        tracks,
		Total:         len(tracks),
		CorrelationID: correlationID,
	})
}

// GetTrack handles GET /api/tracks/{trackId}.
func (h *TrackHandler) GetTrack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	trackID := chi.URLParam(r, "trackId")

	trackRow, err := h.db.GetTrack(ctx, trackID)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("track_id", trackID).Msg("Failed to get track")
		WriteError(w, http.StatusInternalServerError, "Failed to get track", correlationID)
		return
	}
	if trackRow == nil {
		WriteError(w, http.StatusNotFound, "Track not found", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, trackRow)
}
