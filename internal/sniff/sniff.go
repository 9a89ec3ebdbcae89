// Package sniff determines media formats from binary signatures rather than
// filenames or declared content types.
package sniff

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Format identifies a media container or image encoding.
type Format string

const (
	// FormatJPEG is a JFIF/EXIF JPEG image.
	FormatJPEG Format = "jpeg"
	// FormatPNG is a PNG image.
	FormatPNG Format = "png"
	// FormatGIF is a GIF87a/GIF89a image.
	FormatGIF Format = "gif"
	// FormatWebP is a WebP image (RIFF container).
	FormatWebP Format = "webp"
	// FormatAVIF is an AVIF image (ISO-BMFF container, avif/avis brand).
	FormatAVIF Format = "avif"
	// FormatHEIC is a HEIF/HEIC image (ISO-BMFF container, hei*/hev*/mif1/msf1 brands).
	FormatHEIC Format = "heic"
	// FormatMP4 is an MP4/MOV video container (any other ftyp brand).
	FormatMP4 Format = "mp4"
	// FormatWebM is a WebM/Matroska video (EBML header).
	FormatWebM Format = "webm"
	// FormatUnknown means no signature matched.
	FormatUnknown Format = "unknown"
)

// MinSniffBytes is the smallest buffer Detect will inspect. Shorter buffers
// cannot contain the longest signature we check (ftyp brand at offset 8-12).
const MinSniffBytes = 12

var (
	pngSignature  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	ebmlSignature = []byte{0x1A, 0x45, 0xDF, 0xA3}
)

// Detect returns the format of the buffer based only on magic bytes.
// Checks run in priority order: JPEG, PNG, GIF, WebP, ISO-BMFF (ftyp brand
// disambiguates AVIF vs HEIC vs MP4/MOV), then EBML (WebM).
func Detect(data []byte) Format {
	if len(data) < MinSniffBytes {
		return FormatUnknown
	}

	switch {
	case data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return FormatJPEG

	case bytes.HasPrefix(data, pngSignature):
		return FormatPNG

	case bytes.HasPrefix(data, []byte("GIF8")):
		return FormatGIF

	case bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWebP

	case bytes.Equal(data[4:8], []byte("ftyp")):
		return detectBMFFBrand(data[8:12])

	case bytes.HasPrefix(data, ebmlSignature):
		return FormatWebM
	}

	return FormatUnknown
}

// detectBMFFBrand disambiguates ISO base media file format containers by
// their 4-byte major brand.
func detectBMFFBrand(brand []byte) Format {
	b := string(brand)
	switch {
	case b == "avif" || b == "avis":
		return FormatAVIF
	case strings.HasPrefix(b, "hei") || strings.HasPrefix(b, "hev") || b == "mif1" || b == "msf1":
		return FormatHEIC
	default:
		// isom, iso2, mp41, mp42, qt.., M4V. and friends
		return FormatMP4
	}
}

// IsImage reports whether the format is a still image the normalizer accepts.
func (f Format) IsImage() bool {
	switch f {
	case FormatJPEG, FormatPNG, FormatGIF, FormatWebP, FormatAVIF, FormatHEIC:
		return true
	}
	return false
}

// IsVideo reports whether the format is a video container.
func (f Format) IsVideo() bool {
	return f == FormatMP4 || f == FormatWebM
}

// Ext returns the canonical file extension for the format, including the
// leading dot, or "" for unknown formats.
func (f Format) Ext() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatPNG:
		return ".png"
	case FormatGIF:
		return ".gif"
	case FormatWebP:
		return ".webp"
	case FormatAVIF:
		return ".avif"
	case FormatHEIC:
		return ".heic"
	case FormatMP4:
		return ".mp4"
	case FormatWebM:
		return ".webm"
	}
	return ""
}

// MIME returns the MIME type for the format, or "application/octet-stream"
// for unknown formats.
func (f Format) MIME() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatWebP:
		return "image/webp"
	case FormatAVIF:
		return "image/avif"
	case FormatHEIC:
		return "image/heic"
	case FormatMP4:
		return "video/mp4"
	case FormatWebM:
		return "video/webm"
	}
	return "application/octet-stream"
}

// FromContentType maps a declared Content-Type header to a Format. Used only
// as a fallback hint when Detect returns unknown; the sniffed result always
// wins when both are available.
func FromContentType(contentType string) Format {
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	switch mediaType {
	case "image/jpeg", "image/jpg":
		return FormatJPEG
	case "image/png":
		return FormatPNG
	case "image/gif":
		return FormatGIF
	case "image/webp":
		return FormatWebP
	case "image/avif":
		return FormatAVIF
	case "image/heic", "image/heif":
		return FormatHEIC
	case "video/mp4", "video/quicktime":
		return FormatMP4
	case "video/webm":
		return FormatWebM
	}
	return FormatUnknown
}

// FromExtension maps a filename extension to a Format. Like FromContentType
// this is a fallback hint only.
func FromExtension(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return FormatJPEG
	case ".png":
		return FormatPNG
	case ".gif":
		return FormatGIF
	case ".webp":
		return FormatWebP
	case ".avif":
		return FormatAVIF
	case ".heic", ".heif":
		return FormatHEIC
	case ".mp4", ".mov", ".m4v":
		return FormatMP4
	case ".webm", ".mkv":
		return FormatWebM
	}
	return FormatUnknown
}
