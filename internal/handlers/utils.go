package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"recipe-media/internal/fetch"
	"recipe-media/internal/imagenorm"
	"recipe-media/internal/logging"
	"recipe-media/internal/storage"
)

// writeJSON encodes v as JSON and writes it to the response writer.
// Any encoding or write errors are logged since we typically cannot
// recover from them in an HTTP handler context.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes an error response as JSON with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, map[string]string{"error": message})
}

// writeJSONStatus writes a simple status response as JSON.
func writeJSONStatus(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": status})
}

// writeMediaError maps pipeline errors onto HTTP status codes. Anything
// unrecognized is treated as an internal error and logged.
func writeMediaError(w http.ResponseWriter, err error) {
	var tooLarge *storage.PayloadTooLargeError
	var download *fetch.DownloadError

	switch {
	case errors.As(err, &tooLarge):
		writeJSONError(w, tooLarge.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, storage.ErrUnsupportedFormat):
		writeJSONError(w, "Unsupported media format", http.StatusUnsupportedMediaType)
	case errors.Is(err, storage.ErrInvalidURL):
		writeJSONError(w, "Invalid media URL", http.StatusBadRequest)
	case errors.Is(err, storage.ErrNotFound):
		writeJSONError(w, "Media not found", http.StatusNotFound)
	case errors.Is(err, imagenorm.ErrInvalidImage):
		writeJSONError(w, "Image data could not be decoded", http.StatusBadRequest)
	case errors.Is(err, imagenorm.ErrConversionFailed):
		writeJSONError(w, "Image could not be converted", http.StatusUnprocessableEntity)
	case errors.As(err, &download):
		writeJSONError(w, download.Error(), http.StatusBadGateway)
	default:
		logging.Error("media operation failed: %v", err)
		writeJSONError(w, "Internal server error", http.StatusInternalServerError)
	}
}
