package imagenorm

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"recipe-media/internal/logging"
	"recipe-media/internal/metrics"
	"recipe-media/internal/sniff"

	// Image format decoders
	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // WebP format support
)

// Sentinel errors for image normalization.
var (
	// ErrInvalidImage indicates the buffer is too small or carries no
	// recognizable image signature.
	ErrInvalidImage = errors.New("invalid image data")

	// ErrConversionFailed indicates a decode or encode stage failed for a
	// buffer that sniffed as a supported format.
	ErrConversionFailed = errors.New("image conversion failed")
)

// MinImageBytes is the smallest buffer accepted as a viable image.
const MinImageBytes = 100

// Options control the canonical JPEG representation.
type Options struct {
	// MaxDimension bounds output width and height. Larger inputs are resized
	// to fit inside (never enlarged), preserving aspect ratio.
	MaxDimension int
	// Quality is the JPEG encode quality (1-100).
	Quality int
}

// DefaultOptions returns the production encoding settings.
func DefaultOptions() Options {
	return Options{
		MaxDimension: 2048,
		Quality:      85,
	}
}

// Normalizer converts any supported image buffer into a bounded,
// auto-oriented JPEG.
type Normalizer struct {
	opts Options
}

// New creates a Normalizer with the given options. Zero fields fall back to
// the defaults.
func New(opts Options) *Normalizer {
	def := DefaultOptions()
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = def.MaxDimension
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = def.Quality
	}
	return &Normalizer{opts: opts}
}

// Normalize decodes data, bounds its dimensions, applies EXIF orientation,
// and re-encodes to JPEG. The detected source format rides along in the
// returned value for callers that record it.
func (n *Normalizer) Normalize(data []byte) ([]byte, sniff.Format, error) {
	start := time.Now()

	format := sniff.Detect(data)
	if len(data) < MinImageBytes || !format.IsImage() {
		return nil, format, fmt.Errorf("%w: %d bytes, sniffed as %s", ErrInvalidImage, len(data), format)
	}

	img, err := n.decode(data, format)
	if err != nil {
		metrics.ImageNormalizeTotal.WithLabelValues(string(format), "error").Inc()
		return nil, format, err
	}

	bounds := img.Bounds()
	if bounds.Dx() > n.opts.MaxDimension || bounds.Dy() > n.opts.MaxDimension {
		logging.Debug("Bounding image from %dx%d to fit %d", bounds.Dx(), bounds.Dy(), n.opts.MaxDimension)
		img = imaging.Fit(img, n.opts.MaxDimension, n.opts.MaxDimension, imaging.Lanczos)
	}

	out, err := n.encodeJPEG(img)
	if err != nil {
		metrics.ImageNormalizeTotal.WithLabelValues(string(format), "error").Inc()
		return nil, format, fmt.Errorf("encode %s image as jpeg: %w: %v", format, ErrConversionFailed, err)
	}

	metrics.ImageNormalizeTotal.WithLabelValues(string(format), "success").Inc()
	metrics.ImageNormalizeDuration.WithLabelValues(string(format)).Observe(time.Since(start).Seconds())

	return out, format, nil
}

// encodeJPEG writes the canonical output: a progressive JPEG with optimized
// Huffman coding via libvips. Without libvips the stdlib encoder keeps the
// pipeline running in degraded mode, emitting baseline JPEG instead.
func (n *Normalizer) encodeJPEG(img image.Image) ([]byte, error) {
	if IsVipsAvailable() {
		out, err := EncodeJPEGWithVips(img, n.opts.Quality)
		if err == nil {
			return out, nil
		}
		logging.Warn("vips jpeg export failed, falling back to baseline encoder: %v", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: n.opts.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decode produces an auto-oriented image.Image from the buffer. HEIC and
// AVIF are not decodable by the general-purpose pipeline and go through a
// dedicated libvips stage that yields an intermediate JPEG first.
func (n *Normalizer) decode(data []byte, format sniff.Format) (image.Image, error) {
	if format == sniff.FormatHEIC || format == sniff.FormatAVIF {
		intermediate, err := DecodeWithVips(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s image: %w: %v", format, ErrConversionFailed, err)
		}
		data = intermediate
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode %s image: %w: %v", format, ErrConversionFailed, err)
	}
	return img, nil
}
