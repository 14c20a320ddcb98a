package handler

import (
	"log"
	"net/http"

	"github.com/shiva/tailwind/internal/service"
)

// DeliveryHandler exposes the retry queue and the recovery sweep.
type DeliveryHandler struct {
	delivery *service.DeliveryOrchestrator
	recovery *service.RecoveryService
}

// NewDeliveryHandler creates a new delivery handler.
func NewDeliveryHandler(delivery *service.DeliveryOrchestrator, recovery *service.RecoveryService) *DeliveryHandler {
	return &DeliveryHandler{delivery: delivery, recovery: recovery}
}

// ListPending handles GET /api/v1/deliveries
func (h *DeliveryHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending": h.delivery.GetPendingDeliveries(),
	})
}

// GetStatus handles GET /api/v1/deliveries/{id}
func (h *DeliveryHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	rec, found := h.delivery.GetDeliveryStatus(id)
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":   "not_found",
			"message": "No retries pending for this message.",
		})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CancelRetries handles DELETE /api/v1/deliveries/{id}
func (h *DeliveryHandler) CancelRetries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if !h.delivery.CancelDeliveryRetries(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":   "not_found",
			"message": "No retries pending for this message.",
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sweep handles POST /api/v1/deliveries/sweep
//
// Runs the recovery sweep immediately instead of waiting for the next tick.
func (h *DeliveryHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.recovery.ProcessPendingDeliveries(r.Context())
	if err != nil {
		log.Printf("[handler] sweep error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"handled": n})
}
