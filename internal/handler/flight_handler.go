package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/shiva/tailwind/internal/model"
	"github.com/shiva/tailwind/internal/repository"
	"github.com/shiva/tailwind/internal/service"
)

// ProgressPublisher relays flight snapshots to real-time clients.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, p model.FlightProgress) error
}

const publishTimeout = 2 * time.Second

// FlightHandler handles flight lifecycle HTTP requests.
type FlightHandler struct {
	engine    *service.FlightEngine
	messages  service.MessageStore
	publisher ProgressPublisher
}

// NewFlightHandler creates a new flight handler.
func NewFlightHandler(engine *service.FlightEngine, messages service.MessageStore, publisher ProgressPublisher) *FlightHandler {
	return &FlightHandler{engine: engine, messages: messages, publisher: publisher}
}

// StartFlight handles POST /api/v1/messages/{id}/flight
//
// Plans the route for a flying message, starts the simulation and stores
// the planned route and arrival time.
//
// Response codes:
//
//	201  Flight started (returns initial flight state)
//	400  Invalid id
//	404  Message not found
//	409  Message already delivered or already in flight
//	422  Route could not be planned
//	500  Unexpected error
func (h *FlightHandler) StartFlight(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	msg, err := h.messages.GetMessage(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error":   "not_found",
				"message": "Message not found.",
			})
			return
		}
		log.Printf("[handler] start flight: load message %d: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	if msg.Status == model.MessageDelivered {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":   "already_delivered",
			"message": "This postcard has already been delivered.",
		})
		return
	}

	state, err := h.engine.InitializeFlight(r.Context(), id, msg.Origin, msg.Destination)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrFlightAlreadyActive):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error":   "already_flying",
				"message": "This postcard is already in flight.",
			})
		case errors.Is(err, service.ErrFlightInitFailed):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error":   "route_failed",
				"message": err.Error(),
			})
		default:
			log.Printf("[handler] start flight %d: %v", id, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		}
		return
	}

	if err := h.messages.SaveFlightPlan(r.Context(), id, &state.Route, state.EstimatedArrival); err != nil {
		// The flight is already running; only the sweep relies on the stored ETA.
		log.Printf("[handler] save flight plan for %d failed: %v", id, err)
	}

	writeJSON(w, http.StatusCreated, state)
}

// ListFlights handles GET /api/v1/flights
func (h *FlightHandler) ListFlights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active": h.engine.ActiveFlights(),
	})
}

// GetFlight handles GET /api/v1/flights/{id}
func (h *FlightHandler) GetFlight(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	progress, found := h.engine.GetFlightProgress(id)
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":   "not_found",
			"message": "No active flight for this message.",
		})
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// GetFlightState handles GET /api/v1/flights/{id}/state
//
// Returns the full runtime state including the planned route.
func (h *FlightHandler) GetFlightState(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	state, found := h.engine.GetFlightState(id)
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":   "not_found",
			"message": "No active flight for this message.",
		})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// CancelFlight handles POST /api/v1/flights/{id}/cancel
func (h *FlightHandler) CancelFlight(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if !h.engine.CancelFlight(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":   "not_found",
			"message": "No active flight for this message.",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message_id": id,
		"status":     model.FlightCancelled,
	})
}

// Subscribe handles POST /api/v1/flights/{id}/stream
//
// Relays every progress snapshot of the flight to its real-time channel
// until the flight ends or the subscription is removed.
func (h *FlightHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if !h.engine.IsActive(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":   "not_found",
			"message": "No active flight for this message.",
		})
		return
	}

	sub := h.engine.OnFlightProgress(id, func(p model.FlightProgress) error {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		return h.publisher.PublishProgress(ctx, p)
	})

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message_id":      id,
		"subscription_id": sub,
	})
}

// Unsubscribe handles DELETE /api/v1/flights/{id}/stream/{sub}
func (h *FlightHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if !h.engine.RemoveFlightCallback(id, mux.Vars(r)["sub"]) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":   "not_found",
			"message": "Subscription not found.",
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
