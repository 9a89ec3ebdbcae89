// Package fetch downloads remote images for recipe imports. Responses are
// read fully into memory with a hard byte cap, then handed to the regular
// save pipeline so imported media gets the same sniffing and normalization
// as direct uploads.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"recipe-media/internal/logging"
	"recipe-media/internal/metrics"
	"recipe-media/internal/sniff"
)

// DownloadError wraps any failure to retrieve a remote image: transport
// errors, non-2xx statuses, non-media payloads, and timeouts.
type DownloadError struct {
	URL    string
	Status int
	Reason string
	Err    error
}

func (e *DownloadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("download %s failed: %s (HTTP %d)", e.URL, e.Reason, e.Status)
	}
	return fmt.Sprintf("download %s failed: %s", e.URL, e.Reason)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Downloader fetches remote images over HTTP.
type Downloader struct {
	client   *http.Client
	maxBytes int64
}

// New creates a Downloader. timeout bounds the whole request including
// body read; maxBytes caps the response body.
func New(timeout time.Duration, maxBytes int64) *Downloader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Downloader{
		client: &http.Client{
			Timeout: timeout,
		},
		maxBytes: maxBytes,
	}
}

// Image downloads url and returns the raw bytes once they look like a
// supported image. The body is sniffed by content, not trusted from the
// Content-Type header, though an image/* header on an unsniffable body is
// reported distinctly for debugging.
func (d *Downloader) Image(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		return nil, &DownloadError{URL: url, Reason: "invalid request", Err: err}
	}
	req.Header.Set("Accept", "image/*")

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			metrics.DownloadsTotal.WithLabelValues("timeout").Inc()
			return nil, &DownloadError{URL: url, Reason: "timed out", Err: err}
		}
		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		return nil, &DownloadError{URL: url, Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.DownloadsTotal.WithLabelValues("http_error").Inc()
		return nil, &DownloadError{URL: url, Status: resp.StatusCode, Reason: "unexpected status"}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		return nil, &DownloadError{URL: url, Reason: "reading body", Err: err}
	}
	if int64(len(body)) > d.maxBytes {
		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		return nil, &DownloadError{URL: url, Reason: fmt.Sprintf("body exceeds %d bytes", d.maxBytes)}
	}

	if format := sniff.Detect(body); !format.IsImage() {
		metrics.DownloadsTotal.WithLabelValues("bad_content").Inc()
		ct := resp.Header.Get("Content-Type")
		if strings.HasPrefix(ct, "image/") {
			return nil, &DownloadError{URL: url, Reason: fmt.Sprintf("claimed %s but content is %s", ct, format)}
		}
		return nil, &DownloadError{URL: url, Reason: fmt.Sprintf("not an image (content-type %q, sniffed %s)", ct, format)}
	}

	logging.Debug("Downloaded %s (%d bytes in %v)", url, len(body), time.Since(start).Round(time.Millisecond))
	metrics.DownloadsTotal.WithLabelValues("success").Inc()
	metrics.DownloadBytes.Observe(float64(len(body)))
	return body, nil
}

func isClientTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
