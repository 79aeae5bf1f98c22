package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/seaward-systems/thebox/pkg/postgres"
)

// SightingHandler serves the archived corrected sightings.
type SightingHandler struct {
	db     *postgres.Pool
	logger zerolog.Logger
}

// NewSightingHandler creates a new SightingHandler.
func NewSightingHandler(db *postgres.Pool, logger zerolog.Logger) *SightingHandler {
	return &SightingHandler{
		db:     db,
		logger: logger.With().Str("handler", "sightings").Logger(),
	}
}

// Routes returns the sighting routes.
func (h *SightingHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListSightings)

	return r
}

// SightingListResponse is the response for listing sightings.
type SightingListResponse struct {
	Sightings     []postgres.SightingRow `json:"sightings"`
	Total         int                    `json:"total"`
	CorrelationID string                 `json:"correlation_id"`
}

// ListSightings handles GET /api/sightings.
func (h *SightingHandler) ListSightings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	objectID := r.URL.Query().Get("object_id")
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	sightings, err := h.db.ListSightings(ctx, objectID, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to list sightings")
		WriteError(w, http.StatusInternalServerError, "Failed to list sightings", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, SightingListResponse{
		Sightings:     sightings,
		Total:         len(sightings),
		CorrelationID: correlationID,
	})
}
