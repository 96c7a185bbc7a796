package handlers

import (
	"encoding/json"
	"net/http"
)

// Health reports ok, or degraded when the ledger does not answer a ping.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := h.ingestion.Ping(r.Context()); err != nil {
		h.logger.Warn("ledger ping failed", "error", err)
		status = "degraded"
	}

	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": status,
	}); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
}
