// Package handler contains HTTP request handlers for the Tailwind API.
package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/shiva/tailwind/internal/service"
)

// MatchHandler handles recipient matching HTTP requests.
type MatchHandler struct {
	matcher *service.MatchingService
}

// NewMatchHandler creates a new handler wired to the matching service.
func NewMatchHandler(matcher *service.MatchingService) *MatchHandler {
	return &MatchHandler{matcher: matcher}
}

// MatchRecipient handles POST /api/v1/match/{sender_id}
//
// Picks a random recipient for the sender, weighted toward distant users.
// With ?relaxed=true the distance floor and inactivity filter are dropped
// when the strict pool is empty.
//
// Response codes:
//
//	200  Recipient chosen (returns user, distance and weight)
//	400  Invalid sender_id or sender has no location
//	404  Sender not found, or nobody eligible
//	500  Unexpected error
func (h *MatchHandler) MatchRecipient(w http.ResponseWriter, r *http.Request) {
	senderID, ok := pathID(w, r, "sender_id")
	if !ok {
		return
	}
	relaxed, _ := strconv.ParseBool(r.URL.Query().Get("relaxed"))

	chosen, err := h.matcher.MatchRecipient(r.Context(), senderID, relaxed)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoEligibleRecipients):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error":   "no_eligible_recipients",
				"message": "Nobody is currently eligible to receive this postcard.",
			})
		case errors.Is(err, service.ErrSenderNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error":   "not_found",
				"message": "Sender not found.",
			})
		case errors.Is(err, service.ErrSenderNoLocation):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":   "no_location",
				"message": "Sender has no location set.",
			})
		case errors.Is(err, service.ErrInvalidCoordinates):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":   "invalid_location",
				"message": "Sender location is not a valid coordinate.",
			})
		default:
			log.Printf("[handler] match error: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "internal_error",
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, chosen)
}

// pathID parses an integer path variable, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid " + name + ": must be an integer",
		})
		return 0, false
	}
	return id, true
}

// writeJSON is a helper that writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
