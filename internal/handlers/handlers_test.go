package handlers

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"os"
	"path/filepath"
	"testing"
	"time"

	"recipe-media/internal/database"
	"recipe-media/internal/fetch"
	"recipe-media/internal/imagenorm"
	"recipe-media/internal/reconciler"
	"recipe-media/internal/startup"
	"recipe-media/internal/storage"
	"recipe-media/internal/videonorm"
)

const (
	testRecipeID = "1b4e28ba-2fa1-11d2-883f-0016d3cca427"
	testUserID   = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
)

// newTestHandlers builds a Handlers instance backed by real components in a
// temp directory. The video converter runs disabled so no ffmpeg is needed.
func newTestHandlers(t *testing.T) (*Handlers, *database.Database, *storage.Store) {
	t.Helper()

	tmpDir := t.TempDir()
	uploadsDir := filepath.Join(tmpDir, "uploads")
	stagingDir := filepath.Join(uploadsDir, ".tmp")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		t.Fatalf("Failed to create staging dir: %v", err)
	}

	db, err := database.New(context.Background(), filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	normalizer := imagenorm.New(imagenorm.DefaultOptions())
	store, err := storage.New(uploadsDir, storage.DefaultLimits(), normalizer)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	converter := videonorm.New(false)
	downloader := fetch.New(5*time.Second, storage.DefaultLimits().MaxImageBytes)
	rec := reconciler.New(store, db, 0)

	config := &startup.Config{
		UploadsDir: uploadsDir,
		TmpDir:     stagingDir,
	}

	return New(db, store, downloader, converter, rec, config), db, store
}

// testPNG encodes a small gradient PNG that survives the minimum-size check.
func testPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test PNG: %v", err)
	}
	return buf.Bytes()
}

// multipartBody packages data as a single-file multipart form.
func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("Failed to write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Failed to close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

// registerRecipe inserts a recipe row directly.
func registerRecipe(t *testing.T, db *database.Database, id string) {
	t.Helper()
	if err := db.UpsertRecipe(context.Background(), id, "Test Recipe"); err != nil {
		t.Fatalf("Failed to register recipe: %v", err)
	}
}
