package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gorilla/mux"
)

func uploadImageRequest(t *testing.T, h *Handlers, target, field, id string, data []byte, handler http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()

	body, contentType := multipartBody(t, field, "photo.png", data)
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", contentType)
	req = mux.SetURLVars(req, map[string]string{"id": id})

	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestUploadRecipeImage(t *testing.T) {
	h, db, store := newTestHandlers(t)
	registerRecipe(t, db, testRecipeID)

	w := uploadImageRequest(t, h, "/api/recipes/"+testRecipeID+"/image", "image", testRecipeID, testPNG(t), h.UploadRecipeImage)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp UploadResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if !strings.HasPrefix(resp.URL, "/recipes/"+testRecipeID+"/") {
		t.Errorf("Unexpected URL: %s", resp.URL)
	}
	if !strings.HasSuffix(resp.URL, ".jpg") {
		t.Errorf("Expected .jpg URL, got %s", resp.URL)
	}
	if resp.Deduped {
		t.Error("First upload should not be deduped")
	}

	path, err := store.URLToPath(resp.URL)
	if err != nil {
		t.Fatalf("URLToPath failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected stored file on disk: %v", err)
	}
}

func TestUploadRecipeImageDedupesRepeat(t *testing.T) {
	h, db, _ := newTestHandlers(t)
	registerRecipe(t, db, testRecipeID)
	data := testPNG(t)

	first := uploadImageRequest(t, h, "/api/recipes/"+testRecipeID+"/image", "image", testRecipeID, data, h.UploadRecipeImage)
	second := uploadImageRequest(t, h, "/api/recipes/"+testRecipeID+"/image", "image", testRecipeID, data, h.UploadRecipeImage)

	var firstResp, secondResp UploadResponse
	json.NewDecoder(first.Body).Decode(&firstResp)
	json.NewDecoder(second.Body).Decode(&secondResp)

	if firstResp.URL != secondResp.URL {
		t.Errorf("Same bytes should map to the same URL: %s vs %s", firstResp.URL, secondResp.URL)
	}
	if !secondResp.Deduped {
		t.Error("Second upload of identical bytes should be deduped")
	}
}

func TestUploadRecipeImageUnknownRecipe(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	w := uploadImageRequest(t, h, "/api/recipes/"+testRecipeID+"/image", "image", testRecipeID, testPNG(t), h.UploadRecipeImage)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unregistered recipe, got %d", w.Code)
	}
}

func TestUploadRecipeImageBadID(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	w := uploadImageRequest(t, h, "/api/recipes/nope/image", "image", "nope", testPNG(t), h.UploadRecipeImage)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for malformed id, got %d", w.Code)
	}
}

func TestUploadRecipeImageRejectsNonImage(t *testing.T) {
	h, db, _ := newTestHandlers(t)
	registerRecipe(t, db, testRecipeID)

	payload := []byte(strings.Repeat("definitely not an image ", 20))
	w := uploadImageRequest(t, h, "/api/recipes/"+testRecipeID+"/image", "image", testRecipeID, payload, h.UploadRecipeImage)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected status 415, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUploadStepImageLandsInStepsDir(t *testing.T) {
	h, db, _ := newTestHandlers(t)
	registerRecipe(t, db, testRecipeID)

	w := uploadImageRequest(t, h, "/api/recipes/"+testRecipeID+"/steps/image", "image", testRecipeID, testPNG(t), h.UploadStepImage)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp UploadResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !strings.HasPrefix(resp.URL, "/recipes/"+testRecipeID+"/steps/") {
		t.Errorf("Expected steps URL, got %s", resp.URL)
	}
}

func TestUploadAvatar(t *testing.T) {
	h, db, _ := newTestHandlers(t)

	w := uploadImageRequest(t, h, "/api/users/"+testUserID+"/avatar", "avatar", testUserID, testPNG(t), h.UploadAvatar)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp UploadResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !strings.HasPrefix(resp.URL, "/users/"+testUserID+"/") {
		t.Errorf("Expected user URL, got %s", resp.URL)
	}

	// Asset row should be recorded
	asset, err := db.GetAssetByURL(context.Background(), resp.URL)
	if err != nil {
		t.Fatalf("Expected asset row for %s: %v", resp.URL, err)
	}
	if asset.Kind != "avatar" {
		t.Errorf("Expected kind avatar, got %s", asset.Kind)
	}
}

func TestImportRecipeImage(t *testing.T) {
	h, db, _ := newTestHandlers(t)
	registerRecipe(t, db, testRecipeID)

	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(testPNG(t))
	}))
	defer remote.Close()

	body, _ := json.Marshal(ImportRequest{URL: remote.URL + "/photo.png"})
	req := httptest.NewRequest(http.MethodPost, "/api/recipes/"+testRecipeID+"/image/import", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = mux.SetURLVars(req, map[string]string{"id": testRecipeID})

	w := httptest.NewRecorder()
	h.ImportRecipeImage(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp UploadResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !strings.HasSuffix(resp.URL, ".jpg") {
		t.Errorf("Expected normalized .jpg URL, got %s", resp.URL)
	}
}

func TestImportRecipeImageBadGateway(t *testing.T) {
	h, db, _ := newTestHandlers(t)
	registerRecipe(t, db, testRecipeID)

	remote := httptest.NewServer(http.NotFoundHandler())
	defer remote.Close()

	body, _ := json.Marshal(ImportRequest{URL: remote.URL + "/missing.png"})
	req := httptest.NewRequest(http.MethodPost, "/api/recipes/"+testRecipeID+"/image/import", bytes.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"id": testRecipeID})

	w := httptest.NewRecorder()
	h.ImportRecipeImage(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", w.Code)
	}
}

func TestImportRecipeImageRejectsNonHTTPURL(t *testing.T) {
	h, db, _ := newTestHandlers(t)
	registerRecipe(t, db, testRecipeID)

	body, _ := json.Marshal(ImportRequest{URL: "file:///etc/passwd"})
	req := httptest.NewRequest(http.MethodPost, "/api/recipes/"+testRecipeID+"/image/import", bytes.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"id": testRecipeID})

	w := httptest.NewRecorder()
	h.ImportRecipeImage(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestUploadRecipeVideoRejectsNonVideo(t *testing.T) {
	h, db, _ := newTestHandlers(t)
	registerRecipe(t, db, testRecipeID)

	body, contentType := multipartBody(t, "video", "clip.mp4", []byte("this is not a video container at all"))
	req := httptest.NewRequest(http.MethodPost, "/api/recipes/"+testRecipeID+"/video", body)
	req.Header.Set("Content-Type", contentType)
	req = mux.SetURLVars(req, map[string]string{"id": testRecipeID})

	w := httptest.NewRecorder()
	h.UploadRecipeVideo(w, req)

	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected status 415, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUploadRecipeVideoStoresFtypPayload(t *testing.T) {
	h, db, store := newTestHandlers(t)
	registerRecipe(t, db, testRecipeID)

	// Minimal ISO-BMFF header followed by filler. With conversion disabled
	// the converter passes it through untouched.
	payload := append([]byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm'}, bytes.Repeat([]byte{0x00}, 128)...)

	body, contentType := multipartBody(t, "video", "clip.mp4", payload)
	req := httptest.NewRequest(http.MethodPost, "/api/recipes/"+testRecipeID+"/video", body)
	req.Header.Set("Content-Type", contentType)
	req = mux.SetURLVars(req, map[string]string{"id": testRecipeID})

	w := httptest.NewRecorder()
	h.UploadRecipeVideo(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp UploadResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !strings.Contains(resp.URL, "/video-") {
		t.Errorf("Expected timestamped video URL, got %s", resp.URL)
	}
	if resp.Method != "none" {
		t.Errorf("Expected conversion method none, got %q", resp.Method)
	}

	path, err := store.URLToPath(resp.URL)
	if err != nil {
		t.Fatalf("URLToPath failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected stored video on disk: %v", err)
	}
}

func TestDeleteMedia(t *testing.T) {
	h, db, _ := newTestHandlers(t)
	registerRecipe(t, db, testRecipeID)

	uploaded := uploadImageRequest(t, h, "/api/recipes/"+testRecipeID+"/image", "image", testRecipeID, testPNG(t), h.UploadRecipeImage)
	var resp UploadResponse
	json.NewDecoder(uploaded.Body).Decode(&resp)

	req := httptest.NewRequest(http.MethodDelete, "/api/media?url="+resp.URL, nil)
	w := httptest.NewRecorder()
	h.DeleteMedia(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	// Second delete finds nothing
	w = httptest.NewRecorder()
	h.DeleteMedia(w, httptest.NewRequest(http.MethodDelete, "/api/media?url="+resp.URL, nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 on repeat delete, got %d", w.Code)
	}
}

func TestDeleteMediaRejectsTraversal(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/media?url="+"%2Frecipes%2F"+testRecipeID+"%2F..%2F..%2Fsecret.jpg", nil)
	w := httptest.NewRecorder()
	h.DeleteMedia(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for traversal URL, got %d", w.Code)
	}
}

func TestServeMediaRoundTrip(t *testing.T) {
	h, db, _ := newTestHandlers(t)
	registerRecipe(t, db, testRecipeID)

	uploaded := uploadImageRequest(t, h, "/api/recipes/"+testRecipeID+"/image", "image", testRecipeID, testPNG(t), h.UploadRecipeImage)
	var resp UploadResponse
	json.NewDecoder(uploaded.Body).Decode(&resp)

	req := httptest.NewRequest(http.MethodGet, resp.URL, nil)
	w := httptest.NewRecorder()
	h.ServeMedia(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %s", ct)
	}
	if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "immutable") {
		t.Errorf("Expected immutable cache policy, got %q", cc)
	}
	if w.Body.Len() == 0 {
		t.Error("Expected non-empty body")
	}
}

func TestServeMediaLegacyFlat(t *testing.T) {
	h, _, store := newTestHandlers(t)

	legacyDir := store.Root() + "/recipes/images"
	if err := os.MkdirAll(legacyDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(legacyDir+"/old.jpg", []byte("legacy-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/recipes/images/old.jpg", nil)
	w := httptest.NewRecorder()
	h.ServeMedia(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "legacy-bytes" {
		t.Errorf("Unexpected body: %q", w.Body.String())
	}
	if cc := w.Header().Get("Cache-Control"); strings.Contains(cc, "immutable") {
		t.Error("Legacy URLs must not be cached as immutable")
	}
}

func TestServeMediaUnknownExtensionContentType(t *testing.T) {
	h, _, store := newTestHandlers(t)

	legacyDir := store.Root() + "/recipes/images"
	if err := os.MkdirAll(legacyDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(legacyDir+"/blob.bin", []byte("opaque"), 0o644); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/recipes/images/blob.bin", nil)
	w := httptest.NewRecorder()
	h.ServeMedia(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("Content-Type = %q, want application/octet-stream", ct)
	}
}

func TestServeMediaGalleryFallsBackToCanonical(t *testing.T) {
	h, _, store := newTestHandlers(t)

	// File already migrated out of gallery/ by the sweep.
	dir := fmt.Sprintf("%s/recipes/%s", store.Root(), testRecipeID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dir+"/pic.jpg", []byte("migrated"), 0o644); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/recipes/"+testRecipeID+"/gallery/pic.jpg", nil)
	w := httptest.NewRecorder()
	h.ServeMedia(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 via fallback, got %d", w.Code)
	}
	if w.Body.String() != "migrated" {
		t.Errorf("Unexpected body: %q", w.Body.String())
	}
}

func TestServeMediaRejectsTraversal(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/recipes/"+testRecipeID+"/..%2F..%2Fsecret.jpg", nil)
	w := httptest.NewRecorder()
	h.ServeMedia(w, req)

	if w.Code != http.StatusBadRequest && w.Code != http.StatusNotFound {
		t.Errorf("Expected rejection, got %d", w.Code)
	}
}

func TestServeMediaMissingFile(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/recipes/"+testRecipeID+"/0d9f2b11-aaaa-bbbb-cccc-1234567890ab.jpg", nil)
	w := httptest.NewRecorder()
	h.ServeMedia(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestDeleteRecipeRemovesMediaDir(t *testing.T) {
	h, db, store := newTestHandlers(t)
	registerRecipe(t, db, testRecipeID)

	uploaded := uploadImageRequest(t, h, "/api/recipes/"+testRecipeID+"/image", "image", testRecipeID, testPNG(t), h.UploadRecipeImage)
	var resp UploadResponse
	json.NewDecoder(uploaded.Body).Decode(&resp)

	req := httptest.NewRequest(http.MethodDelete, "/api/recipes/"+testRecipeID, nil)
	req = mux.SetURLVars(req, map[string]string{"id": testRecipeID})
	w := httptest.NewRecorder()
	h.DeleteRecipe(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	if _, err := os.Stat(store.Root() + "/recipes/" + testRecipeID); !os.IsNotExist(err) {
		t.Error("Expected recipe media directory to be gone")
	}
}

func TestListRecipeAssets(t *testing.T) {
	h, db, _ := newTestHandlers(t)
	registerRecipe(t, db, testRecipeID)

	uploadImageRequest(t, h, "/api/recipes/"+testRecipeID+"/image", "image", testRecipeID, testPNG(t), h.UploadRecipeImage)

	req := httptest.NewRequest(http.MethodGet, "/api/recipes/"+testRecipeID+"/assets", nil)
	req = mux.SetURLVars(req, map[string]string{"id": testRecipeID})
	w := httptest.NewRecorder()
	h.ListRecipeAssets(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Count != 1 {
		t.Errorf("Expected 1 asset, got %d", resp.Count)
	}
}
