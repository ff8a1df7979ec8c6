package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/streamframe/streamframe/internal/store"
)

// DeliveryHandler serves the delivery audit log.
type DeliveryHandler struct {
	Store *store.DeliveryLogStore
}

// List handles GET /api/deliveries?channel=&limit=.
func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	channel := strings.TrimSpace(r.URL.Query().Get("channel"))
	if channel == "" {
		sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "channel is required"})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	records, err := h.Store.ListByChannel(r.Context(), channel, limit)
	if err != nil {
		sendJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "unable to list deliveries"})
		return
	}
	if records == nil {
		records = []store.DeliveryRecord{}
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"channel":    channel,
		"deliveries": records,
	})
}
