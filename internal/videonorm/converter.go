// Package videonorm normalizes arbitrary video containers to MP4 using an
// external ffmpeg executable: a lossless remux attempt first, then a full
// transcode, then giving up and keeping the original file.
package videonorm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"recipe-media/internal/logging"
	"recipe-media/internal/metrics"
)

// Method describes how a video reached MP4 form (or why it did not).
type Method string

const (
	// MethodNone means the input was already an MP4 and was left untouched.
	MethodNone Method = "none"
	// MethodRemux means the streams were copied losslessly into an MP4 container.
	MethodRemux Method = "remux"
	// MethodTranscode means the streams were fully re-encoded (H.264/AAC).
	MethodTranscode Method = "transcode"
	// MethodOriginal means conversion was unavailable or failed and the
	// original file was kept. This is a degraded outcome, not an error.
	MethodOriginal Method = "original"
)

// Result describes the outcome of a conversion.
type Result struct {
	// OutputPath is the file the caller should use from now on. It is the
	// original path when Converted is false.
	OutputPath string `json:"outputPath"`
	// Converted reports whether a new MP4 file replaced the source.
	Converted bool `json:"converted"`
	// Method is how the output was produced.
	Method Method `json:"method"`
}

// stderrTailBytes bounds how much ffmpeg diagnostic output is kept for logs.
const stderrTailBytes = 500

// Converter runs ffmpeg conversions. Each call spawns one child process; no
// concurrency cap is imposed here (the job layer bounds parallelism).
type Converter struct {
	enabled bool

	processes map[string]*exec.Cmd
	processMu sync.Mutex
}

// New creates a Converter. When enabled is false (ffmpeg not installed or
// not configured) every conversion degrades to keeping the original file.
func New(enabled bool) *Converter {
	return &Converter{
		enabled:   enabled,
		processes: make(map[string]*exec.Cmd),
	}
}

// IsEnabled returns whether ffmpeg conversion is available.
func (c *Converter) IsEnabled() bool {
	return c.enabled
}

// ConvertToMP4 converts the file at srcPath to an MP4 next to it. The state
// machine is terminal on first success:
//
//	already .mp4        -> method none
//	converter disabled  -> method original
//	remux succeeds      -> source deleted, method remux
//	transcode succeeds  -> source deleted, method transcode
//	both fail           -> partial output deleted, method original
//
// Failure to convert is never an error; the returned error covers only a
// missing or unreadable source file.
func (c *Converter) ConvertToMP4(ctx context.Context, srcPath string) (Result, error) {
	if _, err := os.Stat(srcPath); err != nil {
		return Result{}, fmt.Errorf("video source not readable: %w", err)
	}

	if strings.EqualFold(filepath.Ext(srcPath), ".mp4") {
		return Result{OutputPath: srcPath, Converted: false, Method: MethodNone}, nil
	}

	if !c.enabled {
		logging.Warn("Video conversion unavailable, keeping original: %s", filepath.Base(srcPath))
		metrics.VideoConversionsTotal.WithLabelValues(string(MethodOriginal)).Inc()
		return Result{OutputPath: srcPath, Converted: false, Method: MethodOriginal}, nil
	}

	outPath := strings.TrimSuffix(srcPath, filepath.Ext(srcPath)) + ".mp4"

	start := time.Now()

	// Fast path: repackage the existing streams into an MP4 container with
	// the moov atom up front for streaming.
	if err := c.runFFmpeg(ctx, srcPath, outPath, []string{
		"-c", "copy",
		"-movflags", "+faststart",
	}); err == nil {
		c.finishConversion(srcPath, MethodRemux, start)
		return Result{OutputPath: outPath, Converted: true, Method: MethodRemux}, nil
	} else {
		logging.Info("Remux failed for %s, falling back to transcode: %v", filepath.Base(srcPath), err)
		removePartial(outPath)
	}

	// Slow path: full re-encode into universally compatible codecs.
	if err := c.runFFmpeg(ctx, srcPath, outPath, []string{
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
	}); err == nil {
		c.finishConversion(srcPath, MethodTranscode, start)
		return Result{OutputPath: outPath, Converted: true, Method: MethodTranscode}, nil
	} else {
		logging.Error("Transcode failed for %s, keeping original: %v", filepath.Base(srcPath), err)
		removePartial(outPath)
	}

	metrics.VideoConversionsTotal.WithLabelValues(string(MethodOriginal)).Inc()
	return Result{OutputPath: srcPath, Converted: false, Method: MethodOriginal}, nil
}

// runFFmpeg invokes ffmpeg with the given codec arguments. Success means
// exit code zero and a non-empty output file.
func (c *Converter) runFFmpeg(ctx context.Context, srcPath, outPath string, codecArgs []string) error {
	args := append([]string{"-y", "-i", srcPath}, codecArgs...)
	args = append(args, outPath)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.processMu.Lock()
	c.processes[srcPath] = cmd
	c.processMu.Unlock()

	defer func() {
		c.processMu.Lock()
		delete(c.processes, srcPath)
		c.processMu.Unlock()
	}()

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, stderrTail(stderr.String()))
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return fmt.Errorf("ffmpeg produced no output: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("ffmpeg produced empty output")
	}

	return nil
}

// finishConversion deletes the source file and records metrics after a
// successful remux or transcode.
func (c *Converter) finishConversion(srcPath string, method Method, start time.Time) {
	if err := os.Remove(srcPath); err != nil {
		logging.Warn("failed to remove converted source %s: %v", srcPath, err)
	}
	metrics.VideoConversionsTotal.WithLabelValues(string(method)).Inc()
	metrics.VideoConversionDuration.WithLabelValues(string(method)).Observe(time.Since(start).Seconds())
	logging.Info("Video converted via %s: %s (%v)", method, filepath.Base(srcPath), time.Since(start).Round(time.Millisecond))
}

// removePartial deletes a partially written output file, ignoring
// not-exists errors.
func removePartial(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.Warn("failed to remove partial output %s: %v", path, err)
	}
}

// stderrTail returns up to the last stderrTailBytes characters of ffmpeg
// diagnostic output for logging.
func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= stderrTailBytes {
		return s
	}
	return "..." + s[len(s)-stderrTailBytes:]
}

// Cleanup kills all in-flight conversion processes. Called at shutdown.
func (c *Converter) Cleanup() {
	c.processMu.Lock()
	defer c.processMu.Unlock()

	for path, cmd := range c.processes {
		if cmd.Process != nil {
			logging.Info("Killing conversion process for: %s", path)
			if err := cmd.Process.Kill(); err != nil {
				logging.Warn("failed to kill conversion process for %s: %v", path, err)
			}
		}
	}
}
