package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors for storage operations.
var (
	// ErrInvalidURL indicates a URL (or entity id) that does not match the
	// canonical shapes. Legacy shapes are rejected here too: deletes and
	// path resolution accept canonical URLs only.
	ErrInvalidURL = errors.New("invalid media url")

	// ErrUnsupportedFormat indicates a buffer with no recognizable media
	// signature.
	ErrUnsupportedFormat = errors.New("unsupported media format")

	// ErrNotFound indicates a delete target that does not exist on disk.
	ErrNotFound = errors.New("media file not found")
)

// PayloadTooLargeError reports an upload exceeding its kind's ceiling.
type PayloadTooLargeError struct {
	Kind Kind
	Size int64
	Max  int64
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("%s payload too large: %d bytes (max %d MB / %d bytes)",
		e.Kind, e.Size, e.Max/(1024*1024), e.Max)
}
