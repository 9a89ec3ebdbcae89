package handlers

import (
	"context"
	"errors"
	"net/http"

	"recipe-media/internal/logging"
	"recipe-media/internal/reconciler"
)

// TriggerSweep runs an orphan sweep immediately and returns its result.
// Returns 409 if a sweep is already running.
func (h *Handlers) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	// The sweep walks the whole uploads tree; don't tie its lifetime to
	// this one HTTP request.
	result, err := h.reconciler.Sweep(context.Background())
	if err != nil {
		if errors.Is(err, reconciler.ErrSweepInProgress) {
			writeJSONError(w, err.Error(), http.StatusConflict)
			return
		}
		logging.Error("On-demand sweep failed: %v", err)
		writeJSONError(w, "Sweep failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, result)
}

// LastSweep returns the result of the most recent sweep, if any ran.
func (h *Handlers) LastSweep(w http.ResponseWriter, _ *http.Request) {
	result, ok := h.reconciler.LastResult()
	if !ok {
		writeJSONError(w, "No sweep has run yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, result)
}
