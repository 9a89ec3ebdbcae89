package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"recipe-media/internal/filesystem"
	"recipe-media/internal/imagenorm"
	"recipe-media/internal/logging"
	"recipe-media/internal/metrics"
	"recipe-media/internal/sniff"
)

// Kind classifies a stored asset for size ceilings and metrics.
type Kind string

const (
	KindImage  Kind = "image"
	KindAvatar Kind = "avatar"
	KindVideo  Kind = "video"
)

// Limits holds the per-kind upload ceilings in bytes.
type Limits struct {
	MaxAvatarBytes int64
	MaxImageBytes  int64
	MaxVideoBytes  int64
}

// DefaultLimits returns the ceilings used when nothing is configured.
func DefaultLimits() Limits {
	return Limits{
		MaxAvatarBytes: 5 * 1024 * 1024,
		MaxImageBytes:  10 * 1024 * 1024,
		MaxVideoBytes:  100 * 1024 * 1024,
	}
}

// Max returns the ceiling for a kind.
func (l Limits) Max(kind Kind) int64 {
	switch kind {
	case KindAvatar:
		return l.MaxAvatarBytes
	case KindVideo:
		return l.MaxVideoBytes
	default:
		return l.MaxImageBytes
	}
}

// contentNamespace is the fixed UUID namespace that content digests are
// hashed into to produce stored filenames. Changing it would orphan every
// previously stored file, so it never changes.
var contentNamespace = uuid.MustParse("4f1c0d2e-9b6a-4c3f-8d15-2e7a90c4b8f1")

// StoredAsset describes a file the store has written (or found already
// present) on disk.
type StoredAsset struct {
	URL         string
	Path        string
	Kind        Kind
	EntityID    string
	ContentHash string
	SizeBytes   int64
	Deduped     bool
}

// Store writes normalized media under a single uploads root, named by
// content so identical uploads land on the same file.
type Store struct {
	root       string
	limits     Limits
	normalizer *imagenorm.Normalizer
}

// New creates a Store rooted at dir. The directory is created if missing.
func New(dir string, limits Limits, normalizer *imagenorm.Normalizer) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating uploads root: %w", err)
	}
	return &Store{root: dir, limits: limits, normalizer: normalizer}, nil
}

// Root returns the uploads root directory.
func (s *Store) Root() string {
	return s.root
}

// Limits returns the configured upload ceilings.
func (s *Store) Limits() Limits {
	return s.limits
}

// ContentFileName derives the stored filename for a normalized JPEG:
// a UUID computed from the SHA-256 of the bytes, plus the .jpg extension.
func ContentFileName(normalized []byte) string {
	sum := sha256.Sum256(normalized)
	return uuid.NewSHA1(contentNamespace, sum[:]).String() + ".jpg"
}

// SaveRecipeImage normalizes and stores a recipe's main image.
func (s *Store) SaveRecipeImage(data []byte, recipeID string) (*StoredAsset, error) {
	return s.saveImage(data, KindImage, recipeID, Located{OwnerKind: OwnerRecipes, Owner: recipeID})
}

// SaveStepImage normalizes and stores a recipe step image.
func (s *Store) SaveStepImage(data []byte, recipeID string) (*StoredAsset, error) {
	return s.saveImage(data, KindImage, recipeID, Located{OwnerKind: OwnerRecipes, Owner: recipeID, Sub: "steps"})
}

// SaveAvatar normalizes and stores a user avatar.
func (s *Store) SaveAvatar(data []byte, userID string) (*StoredAsset, error) {
	return s.saveImage(data, KindAvatar, userID, Located{OwnerKind: OwnerUsers, Owner: userID})
}

func (s *Store) saveImage(data []byte, kind Kind, entityID string, loc Located) (*StoredAsset, error) {
	if !entityIDPattern.MatchString(entityID) {
		metrics.SavesTotal.WithLabelValues(string(kind), "invalid_id").Inc()
		return nil, fmt.Errorf("%w: bad entity id %q", ErrInvalidURL, entityID)
	}
	if max := s.limits.Max(kind); int64(len(data)) > max {
		metrics.SavesTotal.WithLabelValues(string(kind), "too_large").Inc()
		return nil, &PayloadTooLargeError{Kind: kind, Size: int64(len(data)), Max: max}
	}
	format := sniff.Detect(data)
	if !format.IsImage() {
		metrics.SavesTotal.WithLabelValues(string(kind), "unsupported").Inc()
		return nil, fmt.Errorf("%w: detected %s", ErrUnsupportedFormat, format)
	}

	normalized, _, err := s.normalizer.Normalize(data)
	if err != nil {
		metrics.SavesTotal.WithLabelValues(string(kind), "normalize_error").Inc()
		return nil, err
	}

	sum := sha256.Sum256(normalized)
	loc.Filename = uuid.NewSHA1(contentNamespace, sum[:]).String() + ".jpg"
	fullPath := filepath.Join(s.root, loc.DiskPath())

	asset := &StoredAsset{
		URL:         loc.URL(),
		Path:        fullPath,
		Kind:        kind,
		EntityID:    entityID,
		ContentHash: hex.EncodeToString(sum[:]),
		SizeBytes:   int64(len(normalized)),
	}

	// Same content hashes to the same name, so an existing file means an
	// identical upload was already stored. Skip the write.
	if info, err := filesystem.StatWithRetry(fullPath, filesystem.DefaultRetryConfig()); err == nil && !info.IsDir() {
		logging.Debug("Save dedup: %s already exists (%d bytes)", loc.URL(), info.Size())
		metrics.SaveDedupTotal.Inc()
		metrics.SavesTotal.WithLabelValues(string(kind), "dedup").Inc()
		asset.Deduped = true
		return asset, nil
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		metrics.SavesTotal.WithLabelValues(string(kind), "io_error").Inc()
		return nil, fmt.Errorf("creating media directory: %w", err)
	}
	if err := os.WriteFile(fullPath, normalized, 0644); err != nil {
		metrics.SavesTotal.WithLabelValues(string(kind), "io_error").Inc()
		return nil, fmt.Errorf("writing media file: %w", err)
	}

	logging.Debug("Stored %s %s (%d bytes, was %d)", kind, loc.URL(), len(normalized), len(data))
	metrics.SavesTotal.WithLabelValues(string(kind), "success").Inc()
	metrics.SavedBytes.WithLabelValues(string(kind)).Observe(float64(len(normalized)))
	return asset, nil
}

// PlaceVideo moves an already-converted video file from srcPath into the
// recipe's directory. Videos are named by upload time rather than content:
// video-{epochMillis}{ext}. That keeps re-uploads distinguishable and
// avoids hashing multi-hundred-megabyte files on the upload path.
func (s *Store) PlaceVideo(srcPath, recipeID string) (*StoredAsset, error) {
	if !entityIDPattern.MatchString(recipeID) {
		metrics.SavesTotal.WithLabelValues(string(KindVideo), "invalid_id").Inc()
		return nil, fmt.Errorf("%w: bad entity id %q", ErrInvalidURL, recipeID)
	}
	info, err := os.Stat(srcPath)
	if err != nil {
		metrics.SavesTotal.WithLabelValues(string(KindVideo), "io_error").Inc()
		return nil, fmt.Errorf("stat video source: %w", err)
	}
	if info.Size() > s.limits.MaxVideoBytes {
		metrics.SavesTotal.WithLabelValues(string(KindVideo), "too_large").Inc()
		return nil, &PayloadTooLargeError{Kind: KindVideo, Size: info.Size(), Max: s.limits.MaxVideoBytes}
	}

	ext := strings.ToLower(filepath.Ext(srcPath))
	if ext == "" {
		ext = ".mp4"
	}
	filename := fmt.Sprintf("video-%d%s", time.Now().UnixMilli(), ext)
	loc := Located{OwnerKind: OwnerRecipes, Owner: recipeID, Filename: filename}
	fullPath := filepath.Join(s.root, loc.DiskPath())

	hash, err := hashFile(srcPath)
	if err != nil {
		metrics.SavesTotal.WithLabelValues(string(KindVideo), "io_error").Inc()
		return nil, fmt.Errorf("hashing video: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		metrics.SavesTotal.WithLabelValues(string(KindVideo), "io_error").Inc()
		return nil, fmt.Errorf("creating media directory: %w", err)
	}
	if err := moveFile(srcPath, fullPath); err != nil {
		metrics.SavesTotal.WithLabelValues(string(KindVideo), "io_error").Inc()
		return nil, fmt.Errorf("placing video: %w", err)
	}

	logging.Debug("Stored video %s (%d bytes)", loc.URL(), info.Size())
	metrics.SavesTotal.WithLabelValues(string(KindVideo), "success").Inc()
	metrics.SavedBytes.WithLabelValues(string(KindVideo)).Observe(float64(info.Size()))
	return &StoredAsset{
		URL:         loc.URL(),
		Path:        fullPath,
		Kind:        KindVideo,
		EntityID:    recipeID,
		ContentHash: hash,
		SizeBytes:   info.Size(),
	}, nil
}

// URLToPath resolves a canonical media URL to its absolute path under the
// uploads root. Legacy URLs are not resolvable.
func (s *Store) URLToPath(u string) (string, error) {
	loc, err := ParseURL(u)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, loc.DiskPath()), nil
}

// DeleteImageByURL removes the file behind a canonical image URL.
func (s *Store) DeleteImageByURL(u string) error {
	return s.deleteByURL(u, false)
}

// DeleteVideoByURL removes the file behind a canonical video URL. The
// filename must carry the video- prefix.
func (s *Store) DeleteVideoByURL(u string) error {
	return s.deleteByURL(u, true)
}

func (s *Store) deleteByURL(u string, wantVideo bool) error {
	loc, err := ParseURL(u)
	if err != nil {
		return err
	}
	if wantVideo != strings.HasPrefix(loc.Filename, "video-") {
		return fmt.Errorf("%w: %q", ErrInvalidURL, u)
	}
	fullPath := filepath.Join(s.root, loc.DiskPath())
	if err := filesystem.RemoveWithRetry(fullPath, filesystem.DefaultRetryConfig()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, u)
		}
		return fmt.Errorf("removing %s: %w", u, err)
	}
	logging.Debug("Deleted %s", u)
	return nil
}

// DeleteRecipeDir removes a recipe's entire media directory. Used as
// compensating cleanup when a recipe is deleted.
func (s *Store) DeleteRecipeDir(recipeID string) error {
	if !entityIDPattern.MatchString(recipeID) {
		return fmt.Errorf("%w: bad entity id %q", ErrInvalidURL, recipeID)
	}
	dir := filepath.Join(s.root, OwnerRecipes, recipeID)
	if err := filesystem.RemoveAllWithRetry(dir, filesystem.DefaultRetryConfig()); err != nil {
		return fmt.Errorf("removing recipe directory %s: %w", recipeID, err)
	}
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// moveFile renames when possible and falls back to copy-and-remove for
// cross-device sources.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
