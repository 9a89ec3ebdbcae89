package storage

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"recipe-media/internal/imagenorm"
)

func newTestStore(t *testing.T, limits Limits) *Store {
	t.Helper()
	s, err := New(t.TempDir(), limits, imagenorm.New(imagenorm.Options{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// testPNG returns a small gradient PNG, large enough to pass the minimum
// size check in the normalizer.
func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 7), uint8(y * 5), uint8((x + y) * 3), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding test png: %v", err)
	}
	return buf.Bytes()
}

func TestSaveRecipeImageDedup(t *testing.T) {
	s := newTestStore(t, DefaultLimits())
	data := testPNG(t, 64, 64)

	first, err := s.SaveRecipeImage(data, testRecipeID)
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	if first.Deduped {
		t.Error("first save reported as dedup")
	}
	if _, err := os.Stat(first.Path); err != nil {
		t.Fatalf("stored file missing: %v", err)
	}

	second, err := s.SaveRecipeImage(data, testRecipeID)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if !second.Deduped {
		t.Error("identical second save did not dedup")
	}
	if second.URL != first.URL {
		t.Errorf("identical content got different URLs: %q vs %q", first.URL, second.URL)
	}

	entries, err := os.ReadDir(filepath.Dir(first.Path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var files int
	for _, e := range entries {
		if !e.IsDir() {
			files++
		}
	}
	if files != 1 {
		t.Errorf("expected 1 stored file, found %d", files)
	}
}

func TestSaveRoundTripsThroughURL(t *testing.T) {
	s := newTestStore(t, DefaultLimits())

	asset, err := s.SaveStepImage(testPNG(t, 48, 48), testRecipeID)
	if err != nil {
		t.Fatalf("SaveStepImage: %v", err)
	}
	if !strings.HasPrefix(asset.URL, "/recipes/"+testRecipeID+"/steps/") {
		t.Errorf("step image URL = %q", asset.URL)
	}

	path, err := s.URLToPath(asset.URL)
	if err != nil {
		t.Fatalf("URLToPath(%q): %v", asset.URL, err)
	}
	if path != asset.Path {
		t.Errorf("URLToPath = %q, want %q", path, asset.Path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("resolved path not on disk: %v", err)
	}
}

func TestSaveAvatarUsesUserNamespace(t *testing.T) {
	s := newTestStore(t, DefaultLimits())
	asset, err := s.SaveAvatar(testPNG(t, 32, 32), testUserID)
	if err != nil {
		t.Fatalf("SaveAvatar: %v", err)
	}
	if !strings.HasPrefix(asset.URL, "/users/"+testUserID+"/") {
		t.Errorf("avatar URL = %q", asset.URL)
	}
	if asset.Kind != KindAvatar {
		t.Errorf("avatar kind = %q", asset.Kind)
	}
}

func TestSaveEnforcesCeilings(t *testing.T) {
	data := testPNG(t, 64, 64)

	// Exactly at the ceiling is accepted.
	s := newTestStore(t, Limits{
		MaxImageBytes:  int64(len(data)),
		MaxAvatarBytes: 1,
		MaxVideoBytes:  1,
	})
	if _, err := s.SaveRecipeImage(data, testRecipeID); err != nil {
		t.Fatalf("save at exact ceiling: %v", err)
	}

	// One byte over is rejected, with the limit in the error.
	s = newTestStore(t, Limits{
		MaxImageBytes:  int64(len(data)) - 1,
		MaxAvatarBytes: 1,
		MaxVideoBytes:  1,
	})
	_, err := s.SaveRecipeImage(data, testRecipeID)
	var tooLarge *PayloadTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("save over ceiling: error = %v, want PayloadTooLargeError", err)
	}
	if tooLarge.Kind != KindImage || tooLarge.Size != int64(len(data)) {
		t.Errorf("PayloadTooLargeError = %+v", tooLarge)
	}

	// Avatars use their own ceiling, not the image one.
	s = newTestStore(t, Limits{
		MaxImageBytes:  1,
		MaxAvatarBytes: int64(len(data)),
		MaxVideoBytes:  1,
	})
	if _, err := s.SaveAvatar(data, testUserID); err != nil {
		t.Fatalf("avatar save within avatar ceiling: %v", err)
	}
}

func TestSaveRejectsUnsupportedFormat(t *testing.T) {
	s := newTestStore(t, DefaultLimits())
	data := bytes.Repeat([]byte("definitely not an image "), 20)

	_, err := s.SaveRecipeImage(data, testRecipeID)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("error = %v, want ErrUnsupportedFormat", err)
	}

	// Nothing should have been written.
	dir := filepath.Join(s.Root(), OwnerRecipes, testRecipeID)
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("recipe directory created for rejected upload: %v", err)
	}
}

func TestSaveRejectsBadEntityID(t *testing.T) {
	s := newTestStore(t, DefaultLimits())
	for _, id := range []string{"", "short", "../../../../../../../../etc/passwd"} {
		if _, err := s.SaveRecipeImage(testPNG(t, 32, 32), id); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("SaveRecipeImage(id=%q) error = %v, want ErrInvalidURL", id, err)
		}
	}
}

func TestPlaceVideo(t *testing.T) {
	s := newTestStore(t, DefaultLimits())

	src := filepath.Join(t.TempDir(), "converted.mp4")
	if err := os.WriteFile(src, []byte("fake mp4 payload"), 0644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	asset, err := s.PlaceVideo(src, testRecipeID)
	if err != nil {
		t.Fatalf("PlaceVideo: %v", err)
	}
	base := filepath.Base(asset.Path)
	if !strings.HasPrefix(base, "video-") || !strings.HasSuffix(base, ".mp4") {
		t.Errorf("video filename = %q", base)
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Error("source file still present after placement")
	}
	if _, err := os.Stat(asset.Path); err != nil {
		t.Errorf("placed video missing: %v", err)
	}
	if asset.ContentHash == "" {
		t.Error("video asset has no content hash")
	}

	if err := s.DeleteVideoByURL(asset.URL); err != nil {
		t.Fatalf("DeleteVideoByURL: %v", err)
	}
	if _, err := os.Stat(asset.Path); !errors.Is(err, os.ErrNotExist) {
		t.Error("video still on disk after delete")
	}
}

func TestPlaceVideoRejectsOversize(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxVideoBytes = 4
	s := newTestStore(t, limits)

	src := filepath.Join(t.TempDir(), "big.mp4")
	if err := os.WriteFile(src, []byte("more than four bytes"), 0644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	_, err := s.PlaceVideo(src, testRecipeID)
	var tooLarge *PayloadTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("error = %v, want PayloadTooLargeError", err)
	}
	if tooLarge.Kind != KindVideo {
		t.Errorf("kind = %q, want video", tooLarge.Kind)
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("oversize source was consumed")
	}
}

func TestDeleteImageByURL(t *testing.T) {
	s := newTestStore(t, DefaultLimits())
	asset, err := s.SaveRecipeImage(testPNG(t, 40, 40), testRecipeID)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := s.DeleteImageByURL(asset.URL); err != nil {
		t.Fatalf("DeleteImageByURL: %v", err)
	}
	if err := s.DeleteImageByURL(asset.URL); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: error = %v, want ErrNotFound", err)
	}
}

func TestDeleteRejectsLegacyAndMismatchedURLs(t *testing.T) {
	s := newTestStore(t, DefaultLimits())

	for _, u := range []string{
		"/recipes/images/old.jpg",
		"/recipes/" + testRecipeID + "/gallery/old.jpg",
		"/recipes/" + testRecipeID + "/../escape.jpg",
	} {
		if err := s.DeleteImageByURL(u); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("DeleteImageByURL(%q) error = %v, want ErrInvalidURL", u, err)
		}
	}

	// Kind mismatch in either direction.
	if err := s.DeleteVideoByURL("/recipes/" + testRecipeID + "/abc.jpg"); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("DeleteVideoByURL on image name: %v", err)
	}
	if err := s.DeleteImageByURL("/recipes/" + testRecipeID + "/video-1700000000000.mp4"); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("DeleteImageByURL on video name: %v", err)
	}
}

func TestDeleteRecipeDir(t *testing.T) {
	s := newTestStore(t, DefaultLimits())
	asset, err := s.SaveRecipeImage(testPNG(t, 40, 40), testRecipeID)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := s.DeleteRecipeDir(testRecipeID); err != nil {
		t.Fatalf("DeleteRecipeDir: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(asset.Path)); !errors.Is(err, os.ErrNotExist) {
		t.Error("recipe directory still present")
	}

	// Missing directory is not an error; invalid id is.
	if err := s.DeleteRecipeDir(testRecipeID); err != nil {
		t.Errorf("DeleteRecipeDir on missing dir: %v", err)
	}
	if err := s.DeleteRecipeDir("../.."); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("DeleteRecipeDir with traversal id: %v", err)
	}
}

func TestContentFileNameIsStable(t *testing.T) {
	data := []byte("normalized jpeg bytes")
	a := ContentFileName(data)
	b := ContentFileName(data)
	if a != b {
		t.Errorf("same content produced different names: %q vs %q", a, b)
	}
	if c := ContentFileName([]byte("different bytes")); c == a {
		t.Error("different content produced the same name")
	}
	if !ValidFilename(a) {
		t.Errorf("generated name %q fails filename validation", a)
	}
}
