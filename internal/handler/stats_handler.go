package handler

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/shiva/tailwind/internal/model"
	"github.com/shiva/tailwind/internal/repository"
)

// StatsReader reads per-user journey statistics.
type StatsReader interface {
	GetStats(ctx context.Context, userID int64) (*model.UserStats, error)
}

// StatsHandler serves journey statistics.
type StatsHandler struct {
	stats StatsReader
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(stats StatsReader) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// GetStats handles GET /api/v1/users/{id}/stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	stats, err := h.stats.GetStats(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		// No deliveries yet.
		writeJSON(w, http.StatusOK, model.UserStats{
			UserID:           id,
			VisitedCountries: []string{},
			VisitedStates:    []string{},
			Rank:             "Paper Plane",
		})
		return
	}
	if err != nil {
		log.Printf("[handler] stats for user %d: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
