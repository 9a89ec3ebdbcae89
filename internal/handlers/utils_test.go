package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"recipe-media/internal/fetch"
	"recipe-media/internal/imagenorm"
	"recipe-media/internal/storage"
)

func TestWriteMediaErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "payload too large",
			err:  &storage.PayloadTooLargeError{Kind: storage.KindImage, Size: 99, Max: 10},
			want: http.StatusRequestEntityTooLarge,
		},
		{
			name: "wrapped payload too large",
			err:  fmt.Errorf("saving: %w", &storage.PayloadTooLargeError{Kind: storage.KindVideo, Size: 5, Max: 1}),
			want: http.StatusRequestEntityTooLarge,
		},
		{
			name: "unsupported format",
			err:  fmt.Errorf("%w: pdf", storage.ErrUnsupportedFormat),
			want: http.StatusUnsupportedMediaType,
		},
		{
			name: "invalid url",
			err:  fmt.Errorf("%w: traversal", storage.ErrInvalidURL),
			want: http.StatusBadRequest,
		},
		{
			name: "not found",
			err:  storage.ErrNotFound,
			want: http.StatusNotFound,
		},
		{
			name: "invalid image",
			err:  imagenorm.ErrInvalidImage,
			want: http.StatusBadRequest,
		},
		{
			name: "conversion failed",
			err:  fmt.Errorf("%w: decode", imagenorm.ErrConversionFailed),
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "download error",
			err:  &fetch.DownloadError{URL: "http://x", Status: 500, Reason: "http_error"},
			want: http.StatusBadGateway,
		},
		{
			name: "unknown error",
			err:  errors.New("disk on fire"),
			want: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeMediaError(w, tt.err)
			if w.Code != tt.want {
				t.Errorf("writeMediaError(%v) = %d, want %d", tt.err, w.Code, tt.want)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Expected JSON error body, got Content-Type %q", ct)
			}
		})
	}
}

func TestWriteJSONStatus(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSONStatus(w, "deleted")

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != "{\"status\":\"deleted\"}\n" {
		t.Errorf("Unexpected body: %q", got)
	}
}
