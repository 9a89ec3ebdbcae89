package handlers

import (
	"net/http"

	"recipe-media/internal/logging"
)

// GetStats returns the current asset inventory
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.db.GetAssetStats(ctx)
	if err != nil {
		logging.Error("Failed to load asset stats: %v", err)
		writeJSONError(w, "Failed to load stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, stats)
}
