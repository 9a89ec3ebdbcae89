package storage

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// Canonical URL shapes:
//
//	/recipes/{recipeID}/{file}
//	/recipes/{recipeID}/steps/{file}
//	/recipes/{recipeID}/video-{ts}.{ext}
//	/users/{userID}/{file}
//
// Legacy shapes (read/migrate only, never written and never deletable):
//
//	/recipes/images/{file}
//	/recipes/{recipeID}/gallery/{file}
var (
	entityIDPattern = regexp.MustCompile(`^[0-9a-fA-F-]{36}$`)
	filenamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9]+$`)

	legacyFlatPattern    = regexp.MustCompile(`^/recipes/images/([A-Za-z0-9_-]+\.[A-Za-z0-9]+)$`)
	legacyGalleryPattern = regexp.MustCompile(`^/recipes/([0-9a-fA-F-]{36})/gallery/([A-Za-z0-9_-]+\.[A-Za-z0-9]+)$`)
)

// Owner kinds used as the top-level directory under the uploads root.
const (
	OwnerRecipes = "recipes"
	OwnerUsers   = "users"
)

// Located is a parsed canonical media URL. Owner is the validated entity
// id, Sub is "" or "steps", and Filename has passed the filename pattern,
// so joining the parts can never escape the uploads root.
type Located struct {
	OwnerKind string
	Owner     string
	Sub       string
	Filename  string
}

// URL rebuilds the canonical URL for the location.
func (l Located) URL() string {
	if l.Sub != "" {
		return path.Join("/", l.OwnerKind, l.Owner, l.Sub, l.Filename)
	}
	return path.Join("/", l.OwnerKind, l.Owner, l.Filename)
}

// DiskPath returns the location relative to the uploads root, using the
// platform separator.
func (l Located) DiskPath() string {
	if l.Sub != "" {
		return filepath.Join(l.OwnerKind, l.Owner, l.Sub, l.Filename)
	}
	return filepath.Join(l.OwnerKind, l.Owner, l.Filename)
}

// ParseURL parses a canonical media URL. Anything else, including the
// legacy shapes and anything with traversal segments, returns ErrInvalidURL.
func ParseURL(u string) (Located, error) {
	if !strings.HasPrefix(u, "/") {
		return Located{}, fmt.Errorf("%w: %q", ErrInvalidURL, u)
	}
	parts := strings.Split(strings.TrimPrefix(u, "/"), "/")
	var loc Located
	switch len(parts) {
	case 3:
		loc = Located{OwnerKind: parts[0], Owner: parts[1], Filename: parts[2]}
	case 4:
		if parts[2] != "steps" {
			return Located{}, fmt.Errorf("%w: %q", ErrInvalidURL, u)
		}
		loc = Located{OwnerKind: parts[0], Owner: parts[1], Sub: "steps", Filename: parts[3]}
	default:
		return Located{}, fmt.Errorf("%w: %q", ErrInvalidURL, u)
	}
	if loc.OwnerKind != OwnerRecipes && loc.OwnerKind != OwnerUsers {
		return Located{}, fmt.Errorf("%w: %q", ErrInvalidURL, u)
	}
	if loc.OwnerKind == OwnerUsers && loc.Sub != "" {
		return Located{}, fmt.Errorf("%w: %q", ErrInvalidURL, u)
	}
	if !entityIDPattern.MatchString(loc.Owner) {
		return Located{}, fmt.Errorf("%w: bad entity id in %q", ErrInvalidURL, u)
	}
	if !filenamePattern.MatchString(loc.Filename) {
		return Located{}, fmt.Errorf("%w: bad filename in %q", ErrInvalidURL, u)
	}
	return loc, nil
}

// ValidEntityID reports whether id matches the 36-character hex-and-dash
// entity id shape.
func ValidEntityID(id string) bool {
	return entityIDPattern.MatchString(id)
}

// ValidFilename reports whether name matches the stored-filename shape.
func ValidFilename(name string) bool {
	return filenamePattern.MatchString(name)
}

// RecipeImageURL builds the canonical URL for a recipe's main image.
func RecipeImageURL(recipeID, filename string) string {
	return path.Join("/", OwnerRecipes, recipeID, filename)
}

// StepImageURL builds the canonical URL for a recipe step image.
func StepImageURL(recipeID, filename string) string {
	return path.Join("/", OwnerRecipes, recipeID, "steps", filename)
}

// AvatarURL builds the canonical URL for a user avatar.
func AvatarURL(userID, filename string) string {
	return path.Join("/", OwnerUsers, userID, filename)
}

// ParseLegacyFlatURL matches the pre-namespacing flat image shape
// /recipes/images/{file}. The owning recipe is not recoverable from the
// URL; callers look it up elsewhere before migrating.
func ParseLegacyFlatURL(u string) (filename string, ok bool) {
	m := legacyFlatPattern.FindStringSubmatch(u)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseLegacyGalleryURL matches the old gallery shape
// /recipes/{id}/gallery/{file}.
func ParseLegacyGalleryURL(u string) (recipeID, filename string, ok bool) {
	m := legacyGalleryPattern.FindStringSubmatch(u)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// IsLegacyURL reports whether u matches either legacy shape.
func IsLegacyURL(u string) bool {
	if _, ok := ParseLegacyFlatURL(u); ok {
		return true
	}
	_, _, ok := ParseLegacyGalleryURL(u)
	return ok
}

// MigrateLegacyURL rewrites a legacy URL to its canonical equivalent.
// Flat URLs carry no owner, so the caller supplies the owning recipe id.
func MigrateLegacyURL(u, ownerID string) (string, error) {
	if filename, ok := ParseLegacyFlatURL(u); ok {
		if !entityIDPattern.MatchString(ownerID) {
			return "", fmt.Errorf("%w: bad owner id %q for legacy url %q", ErrInvalidURL, ownerID, u)
		}
		return RecipeImageURL(ownerID, filename), nil
	}
	if recipeID, filename, ok := ParseLegacyGalleryURL(u); ok {
		return RecipeImageURL(recipeID, filename), nil
	}
	return "", fmt.Errorf("%w: not a legacy url: %q", ErrInvalidURL, u)
}
