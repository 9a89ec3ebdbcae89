package fetch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func servedPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 16))); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	return buf.Bytes()
}

func TestImageDownload(t *testing.T) {
	want := servedPNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(want)
	}))
	defer srv.Close()

	d := New(5*time.Second, 1<<20)
	got, err := d.Image(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Image: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("downloaded %d bytes, want %d", len(got), len(want))
	}
}

func TestImageRejectsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := New(5*time.Second, 1<<20)
	_, err := d.Image(context.Background(), srv.URL)
	var dlErr *DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("error = %v, want DownloadError", err)
	}
	if dlErr.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", dlErr.Status)
	}
}

func TestImageRejectsNonImageBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>login required</body></html>"))
	}))
	defer srv.Close()

	d := New(5*time.Second, 1<<20)
	if _, err := d.Image(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for HTML body")
	}

	// A lying Content-Type header still fails by content.
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("not actually a jpeg at all, sorry"))
	}))
	defer srv2.Close()

	if _, err := d.Image(context.Background(), srv2.URL); err == nil {
		t.Fatal("expected error for mislabeled body")
	}
}

func TestImageEnforcesByteCap(t *testing.T) {
	big := servedPNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(big)
	}))
	defer srv.Close()

	d := New(5*time.Second, int64(len(big))-1)
	var dlErr *DownloadError
	if _, err := d.Image(context.Background(), srv.URL); !errors.As(err, &dlErr) {
		t.Fatalf("error = %v, want DownloadError", err)
	}
}

func TestImageTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	d := New(50*time.Millisecond, 1<<20)
	var dlErr *DownloadError
	if _, err := d.Image(context.Background(), srv.URL); !errors.As(err, &dlErr) {
		t.Fatalf("error = %v, want DownloadError", err)
	}
}
