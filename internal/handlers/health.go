package handlers

import (
	"net/http"
	"runtime"
	"time"

	"recipe-media/internal/startup"
)

const (
	statusHealthy = "healthy"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status            string `json:"status"`
	Ready             bool   `json:"ready"`
	Version           string `json:"version"`
	Uptime            string `json:"uptime"`
	ConversionEnabled bool   `json:"conversionEnabled"`
	LastSweep         string `json:"lastSweep,omitempty"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`

	// Stats summary
	TotalImages  int   `json:"totalImages"`
	TotalVideos  int   `json:"totalVideos"`
	TotalAvatars int   `json:"totalAvatars"`
	TotalBytes   int64 `json:"totalBytes"`
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	stats := h.db.GetStats()

	response := HealthResponse{
		Status:            statusHealthy,
		Ready:             true,
		Version:           startup.Version,
		Uptime:            time.Since(h.startedAt).Round(time.Second).String(),
		ConversionEnabled: h.converter.IsEnabled(),
		GoVersion:         runtime.Version(),
		NumCPU:            runtime.NumCPU(),
		NumGoroutine:      runtime.NumGoroutine(),
		TotalImages:       stats.TotalImages,
		TotalVideos:       stats.TotalVideos,
		TotalAvatars:      stats.TotalAvatars,
		TotalBytes:        stats.TotalBytes,
	}

	if result, ok := h.reconciler.LastResult(); ok {
		response.LastSweep = result.StartedAt.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	writeJSON(w, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessCheck returns 200 only when the service can reach its database
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	w.Header().Set("Content-Type", "application/json")

	// Any successful query proves the database file is reachable.
	if _, err := h.db.RecipeExists(ctx, "00000000-0000-0000-0000-000000000000"); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, map[string]string{
			"status": "not_ready",
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	writeJSON(w, map[string]string{
		"status": "ready",
	})
}
