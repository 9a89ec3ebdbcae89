package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"recipe-media/internal/database"
	"recipe-media/internal/logging"
	"recipe-media/internal/sniff"
	"recipe-media/internal/storage"
	"recipe-media/internal/streaming"
	"recipe-media/internal/videonorm"
)

// multipartSlack is extra room on top of the per-kind ceiling so that
// multipart framing does not push a maximum-size payload over the limit.
// The store enforces the real ceiling on the payload itself.
const multipartSlack = 1 << 20

// UploadResponse is returned from every successful media upload.
type UploadResponse struct {
	URL     string               `json:"url"`
	Size    int64                `json:"size"`
	Deduped bool                 `json:"deduped,omitempty"`
	Method  string               `json:"method,omitempty"` // video conversion method
	Video   *videonorm.VideoInfo `json:"video,omitempty"`
}

// RecipeRequest registers or renames a recipe.
type RecipeRequest struct {
	Name string `json:"name"`
}

// ImportRequest asks the service to fetch an image from a remote URL.
type ImportRequest struct {
	URL string `json:"url"`
}

// CreateRecipe registers a recipe id so media can be attached to it
func (h *Handlers) CreateRecipe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if !storage.ValidEntityID(id) {
		writeJSONError(w, "Invalid recipe id", http.StatusBadRequest)
		return
	}

	var req RecipeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.db.UpsertRecipe(ctx, id, req.Name); err != nil {
		logging.Error("Failed to upsert recipe %s: %v", id, err)
		writeJSONError(w, "Failed to register recipe", http.StatusInternalServerError)
		return
	}

	writeJSONStatus(w, "ok")
}

// DeleteRecipe removes a recipe, its asset rows, and its media directory
func (h *Handlers) DeleteRecipe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if !storage.ValidEntityID(id) {
		writeJSONError(w, "Invalid recipe id", http.StatusBadRequest)
		return
	}

	if err := h.db.DeleteRecipe(ctx, id); err != nil {
		logging.Error("Failed to delete recipe %s: %v", id, err)
		writeJSONError(w, "Failed to delete recipe", http.StatusInternalServerError)
		return
	}
	if err := h.store.DeleteRecipeDir(id); err != nil {
		// Rows are gone; the sweep will catch any files left behind.
		logging.Warn("Failed to remove media directory for recipe %s: %v", id, err)
	}

	writeJSONStatus(w, "deleted")
}

// ListRecipeAssets returns the asset rows attached to a recipe
func (h *Handlers) ListRecipeAssets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if !storage.ValidEntityID(id) {
		writeJSONError(w, "Invalid recipe id", http.StatusBadRequest)
		return
	}

	assets, err := h.db.ListAssetsByOwner(ctx, id)
	if err != nil {
		logging.Error("Failed to list assets for recipe %s: %v", id, err)
		writeJSONError(w, "Failed to list assets", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]interface{}{
		"assets": assets,
		"count":  len(assets),
	})
}

// UploadRecipeImage stores a recipe's main image
func (h *Handlers) UploadRecipeImage(w http.ResponseWriter, r *http.Request) {
	h.uploadImage(w, r, "image", func(data []byte, id string) (*storage.StoredAsset, error) {
		return h.store.SaveRecipeImage(data, id)
	})
}

// UploadStepImage stores a recipe step image
func (h *Handlers) UploadStepImage(w http.ResponseWriter, r *http.Request) {
	h.uploadImage(w, r, "image", func(data []byte, id string) (*storage.StoredAsset, error) {
		return h.store.SaveStepImage(data, id)
	})
}

// UploadAvatar stores a user avatar
func (h *Handlers) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !storage.ValidEntityID(id) {
		writeJSONError(w, "Invalid user id", http.StatusBadRequest)
		return
	}

	data, ok := h.readImagePart(w, r, "avatar", h.store.Limits().MaxAvatarBytes)
	if !ok {
		return
	}

	asset, err := h.store.SaveAvatar(data, id)
	if err != nil {
		writeMediaError(w, err)
		return
	}

	h.recordAndRespond(w, r, asset)
}

// uploadImage is the shared body of the recipe image upload handlers.
func (h *Handlers) uploadImage(w http.ResponseWriter, r *http.Request, field string, save func([]byte, string) (*storage.StoredAsset, error)) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if !storage.ValidEntityID(id) {
		writeJSONError(w, "Invalid recipe id", http.StatusBadRequest)
		return
	}
	exists, err := h.db.RecipeExists(ctx, id)
	if err != nil {
		logging.Error("Failed to check recipe %s: %v", id, err)
		writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !exists {
		writeJSONError(w, "Unknown recipe", http.StatusNotFound)
		return
	}

	data, ok := h.readImagePart(w, r, field, h.store.Limits().MaxImageBytes)
	if !ok {
		return
	}

	asset, err := save(data, id)
	if err != nil {
		writeMediaError(w, err)
		return
	}

	h.recordAndRespond(w, r, asset)
}

// readImagePart pulls the named multipart file into memory, bounded by the
// kind's ceiling plus framing slack. Returns false after writing a response.
func (h *Handlers) readImagePart(w http.ResponseWriter, r *http.Request, field string, max int64) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, max+multipartSlack)

	file, err := openUploadPart(r, field)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, max+1))
	if err != nil {
		writeJSONError(w, "Failed to read upload", http.StatusBadRequest)
		return nil, false
	}
	return data, true
}

// openUploadPart returns the named multipart file, falling back to the
// generic "file" field name.
func openUploadPart(r *http.Request, field string) (io.ReadCloser, error) {
	file, _, err := r.FormFile(field)
	if err == nil {
		return file, nil
	}
	file, _, err = r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("missing multipart file field %q", field)
	}
	return file, nil
}

// ImportRecipeImage downloads an image from a remote URL and stores it as
// the recipe's main image
func (h *Handlers) ImportRecipeImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if !storage.ValidEntityID(id) {
		writeJSONError(w, "Invalid recipe id", http.StatusBadRequest)
		return
	}
	exists, err := h.db.RecipeExists(ctx, id)
	if err != nil {
		logging.Error("Failed to check recipe %s: %v", id, err)
		writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !exists {
		writeJSONError(w, "Unknown recipe", http.StatusNotFound)
		return
	}

	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		writeJSONError(w, "Import URL must be http or https", http.StatusBadRequest)
		return
	}

	data, err := h.downloader.Image(ctx, req.URL)
	if err != nil {
		writeMediaError(w, err)
		return
	}

	asset, err := h.store.SaveRecipeImage(data, id)
	if err != nil {
		writeMediaError(w, err)
		return
	}

	h.recordAndRespond(w, r, asset)
}

// UploadRecipeVideo stores a recipe video, normalizing its container to MP4
// when ffmpeg is available
func (h *Handlers) UploadRecipeVideo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if !storage.ValidEntityID(id) {
		writeJSONError(w, "Invalid recipe id", http.StatusBadRequest)
		return
	}
	exists, err := h.db.RecipeExists(ctx, id)
	if err != nil {
		logging.Error("Failed to check recipe %s: %v", id, err)
		writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !exists {
		writeJSONError(w, "Unknown recipe", http.StatusNotFound)
		return
	}

	maxVideo := h.store.Limits().MaxVideoBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxVideo+multipartSlack)

	file, header, err := r.FormFile("video")
	if err != nil {
		writeJSONError(w, "missing multipart file field \"video\"", http.StatusBadRequest)
		return
	}
	defer file.Close()

	tmpPath, size, err := h.stageVideo(file, header.Filename, maxVideo)
	if err != nil {
		writeMediaError(w, err)
		return
	}
	defer func() {
		// Gone already if conversion replaced it or the store moved it.
		_ = os.Remove(tmpPath)
	}()

	logging.Debug("Staged video upload (%d bytes) for recipe %s", size, id)

	result, err := h.converter.ConvertToMP4(ctx, tmpPath)
	if err != nil {
		writeJSONError(w, "Video conversion failed", http.StatusUnprocessableEntity)
		return
	}
	if result.OutputPath != tmpPath {
		defer func() { _ = os.Remove(result.OutputPath) }()
	}

	asset, err := h.store.PlaceVideo(result.OutputPath, id)
	if err != nil {
		writeMediaError(w, err)
		return
	}

	if err := h.db.InsertAsset(ctx, assetRow(asset)); err != nil {
		logging.Error("Failed to record asset row for %s: %v", asset.URL, err)
	}

	resp := UploadResponse{
		URL:    asset.URL,
		Size:   asset.SizeBytes,
		Method: string(result.Method),
	}

	// Stream details are informational only; skip quietly without ffprobe.
	if h.converter.IsEnabled() {
		if probed, err := videonorm.Probe(ctx, asset.Path); err != nil {
			logging.Debug("Probe of stored video failed: %v", err)
		} else {
			info := probed.Info()
			resp.Video = &info
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp)
}

// stageVideo copies an uploaded video into the staging directory, verifying
// the size ceiling and the container magic before anything expensive runs.
func (h *Handlers) stageVideo(src io.Reader, originalName string, max int64) (string, int64, error) {
	head := make([]byte, sniff.MinSniffBytes)
	n, err := io.ReadFull(src, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", 0, fmt.Errorf("reading video upload: %w", err)
	}
	head = head[:n]

	format := sniff.Detect(head)
	if !format.IsVideo() {
		return "", 0, fmt.Errorf("%w: %s", storage.ErrUnsupportedFormat, format)
	}

	ext := safeVideoExt(originalName, format)
	tmp, err := os.CreateTemp(h.tmpDir, "upload-*"+ext)
	if err != nil {
		return "", 0, fmt.Errorf("creating staging file: %w", err)
	}

	written, err := io.Copy(tmp, io.MultiReader(bytes.NewReader(head), io.LimitReader(src, max+1)))
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("staging video upload: %w", err)
	}
	if written > max {
		_ = os.Remove(tmp.Name())
		return "", 0, &storage.PayloadTooLargeError{Kind: storage.KindVideo, Size: written, Max: max}
	}
	return tmp.Name(), written, nil
}

// safeVideoExt picks the staging file extension: the upload's own extension
// when it is plain alphanumeric, otherwise the sniffed format's.
func safeVideoExt(name string, format sniff.Format) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) > 1 && len(ext) <= 5 && isAlnum(ext[1:]) {
		return ext
	}
	return format.Ext()
}

func isAlnum(s string) bool {
	for _, c := range s {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return s != ""
}

// recordAndRespond writes the asset row and the upload response.
func (h *Handlers) recordAndRespond(w http.ResponseWriter, r *http.Request, asset *storage.StoredAsset) {
	if err := h.db.InsertAsset(r.Context(), assetRow(asset)); err != nil {
		logging.Error("Failed to record asset row for %s: %v", asset.URL, err)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, UploadResponse{
		URL:     asset.URL,
		Size:    asset.SizeBytes,
		Deduped: asset.Deduped,
	})
}

// DeleteMedia removes a single media file and its asset row. The URL to
// delete comes from the "url" query parameter.
func (h *Handlers) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	u := r.URL.Query().Get("url")
	if u == "" {
		writeJSONError(w, "Missing url parameter", http.StatusBadRequest)
		return
	}

	loc, err := storage.ParseURL(u)
	if err != nil {
		writeMediaError(w, err)
		return
	}

	if strings.HasPrefix(loc.Filename, "video-") {
		err = h.store.DeleteVideoByURL(u)
	} else {
		err = h.store.DeleteImageByURL(u)
	}
	if err != nil {
		writeMediaError(w, err)
		return
	}

	if err := h.db.DeleteAssetByURL(ctx, u); err != nil {
		logging.Error("Failed to remove asset row for %s: %v", u, err)
	}

	writeJSONStatus(w, "deleted")
}

// ServeMedia serves stored media files. It understands canonical URLs plus
// the two legacy layouts that predate per-recipe directories.
func (h *Handlers) ServeMedia(w http.ResponseWriter, r *http.Request) {
	path, err := h.resolveMediaPath(r.URL.Path)
	if err != nil {
		writeMediaError(w, err)
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		writeJSONError(w, "Media not found", http.StatusNotFound)
		return
	}

	name := filepath.Base(path)
	// Unknown extensions fall through to application/octet-stream.
	w.Header().Set("Content-Type", sniff.FromExtension(name).MIME())

	if isVideoFilename(name) {
		h.serveVideo(w, r, path, info.Size())
		return
	}

	// Image filenames are content-derived, so the bytes behind a URL never
	// change and clients can cache them forever.
	if !storage.IsLegacyURL(r.URL.Path) {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	}
	http.ServeFile(w, r, path)
}

// resolveMediaPath maps a request path onto a file under the uploads root.
func (h *Handlers) resolveMediaPath(urlPath string) (string, error) {
	if filename, ok := storage.ParseLegacyFlatURL(urlPath); ok {
		return filepath.Join(h.store.Root(), storage.OwnerRecipes, "images", filename), nil
	}
	if recipeID, filename, ok := storage.ParseLegacyGalleryURL(urlPath); ok {
		legacy := filepath.Join(h.store.Root(), storage.OwnerRecipes, recipeID, "gallery", filename)
		if _, err := os.Stat(legacy); err == nil {
			return legacy, nil
		}
		// The sweep may have already migrated the file up one level.
		return filepath.Join(h.store.Root(), storage.OwnerRecipes, recipeID, filename), nil
	}
	return h.store.URLToPath(urlPath)
}

func isVideoFilename(name string) bool {
	return strings.HasPrefix(name, "video-") || sniff.FromExtension(name).IsVideo()
}

// serveVideo streams a video file. Range requests (scrubbing, resume) go
// through http.ServeContent; full downloads go through the timeout writer
// so a stalled client cannot pin a connection forever.
func (h *Handlers) serveVideo(w http.ResponseWriter, r *http.Request, path string, size int64) {
	f, err := os.Open(path)
	if err != nil {
		writeJSONError(w, "Media not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "public, max-age=86400")

	if r.Header.Get("Range") != "" {
		info, err := f.Stat()
		if err != nil {
			writeJSONError(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
		return
	}

	w.Header().Set("Content-Length", fmt.Sprintf("%d", size))

	err = streaming.StreamWithTimeout(r.Context(), w, f, streaming.DefaultTimeoutWriterConfig())
	switch err {
	case nil:
	case streaming.ErrClientGone, streaming.ErrStreamCanceled:
		logging.Debug("Video stream ended early: %v", err)
	default:
		logging.Warn("Video stream failed for %s: %v", path, err)
	}
}

// assetRow converts a stored asset into its database row.
func assetRow(asset *storage.StoredAsset) *database.Asset {
	return &database.Asset{
		OwnerID:     asset.EntityID,
		URL:         asset.URL,
		Kind:        string(asset.Kind),
		ContentHash: asset.ContentHash,
		SizeBytes:   asset.SizeBytes,
	}
}
