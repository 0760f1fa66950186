// Package engine implements the download pipeline: per-segment fetching
// with retry/backoff, the parallel segment driver, binary concatenation,
// and the queue scheduler that owns every session state transition.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jmylchreest/fetcharr/internal/httpclient"
	"github.com/jmylchreest/fetcharr/internal/models"
	"github.com/jmylchreest/fetcharr/internal/observability"
	"github.com/jmylchreest/fetcharr/internal/storage"
)

// Fetcher retry/validation defaults.
const (
	DefaultMaxAttempts    = 8
	DefaultAttemptTimeout = 60 * time.Second
	DefaultMinSegmentSize = 1024
	DefaultBackoffStep    = 3 * time.Second
	DefaultBackoffCap     = 15 * time.Second
)

// validBoxTypes are the MP4 box types a segment may legitimately start with.
var validBoxTypes = map[string]struct{}{
	"ftyp": {},
	"styp": {},
	"moof": {},
	"mdat": {},
	"sidx": {},
	"free": {},
}

// FetcherConfig tunes the segment fetcher.
type FetcherConfig struct {
	// MaxAttempts is the total attempt budget per segment. The upstream
	// transcoder produces segments just-in-time, so this budget doubles as
	// the transcode-wait budget.
	MaxAttempts int

	// AttemptTimeout bounds a single fetch attempt.
	AttemptTimeout time.Duration

	// MinSegmentSize is the smallest byte size a valid segment can have.
	MinSegmentSize int64

	// BackoffStep and BackoffCap shape the linear retry backoff: the wait
	// before attempt n is min((n-1)*BackoffStep, BackoffCap).
	BackoffStep time.Duration
	BackoffCap  time.Duration
}

// DefaultFetcherConfig returns the standard fetcher tuning.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		MaxAttempts:    DefaultMaxAttempts,
		AttemptTimeout: DefaultAttemptTimeout,
		MinSegmentSize: DefaultMinSegmentSize,
		BackoffStep:    DefaultBackoffStep,
		BackoffCap:     DefaultBackoffCap,
	}
}

// Fetcher downloads single segments with validation and retry. The HTTP
// client is used with its own retries disabled; the fetcher owns the exact
// retry envelope.
type Fetcher struct {
	client  *httpclient.Client
	sandbox *storage.Sandbox
	config  FetcherConfig
	logger  *slog.Logger
}

// NewFetcher creates a segment fetcher writing into the given sandbox.
func NewFetcher(client *httpclient.Client, sandbox *storage.Sandbox, cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.MinSegmentSize <= 0 {
		cfg.MinSegmentSize = DefaultMinSegmentSize
	}
	if cfg.BackoffStep <= 0 {
		cfg.BackoffStep = DefaultBackoffStep
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	return &Fetcher{
		client:  client,
		sandbox: sandbox,
		config:  cfg,
		logger:  observability.WithComponent(logger, "fetcher"),
	}
}

// MinSegmentSize returns the configured validation floor.
func (f *Fetcher) MinSegmentSize() int64 {
	return f.config.MinSegmentSize
}

// FetchSegment downloads url into relPath (relative to the sandbox),
// validating the body as fMP4 and writing it atomically. Retryable failures
// (transient network, upstream-not-ready, corrupt payload) are retried up to
// the attempt budget with linear backoff capped at 15s; fatal failures and
// budget exhaustion return an error that fails the session.
func (f *Fetcher) FetchSegment(ctx context.Context, url, relPath string) error {
	var lastErr error

	for attempt := 1; attempt <= f.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := f.backoffDelay(attempt - 1)
			f.logger.Debug("retrying segment fetch",
				slog.String("path", relPath),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("cause", lastErr.Error()))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := f.fetchOnce(ctx, url, relPath)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var de *models.DownloadError
		if errors.As(err, &de) && !de.Retryable() {
			return err
		}
		lastErr = err
	}

	return models.Downloadf(models.ErrorKindPermanentUpstream,
		"segment fetch exhausted %d attempts: %w", f.config.MaxAttempts, lastErr)
}

// backoffDelay returns the wait before the next attempt: with defaults
// 3s, 6s, 9s, 12s, then capped at 15s.
func (f *Fetcher) backoffDelay(completedAttempts int) time.Duration {
	d := time.Duration(completedAttempts) * f.config.BackoffStep
	if d > f.config.BackoffCap {
		d = f.config.BackoffCap
	}
	return d
}

func (f *Fetcher) fetchOnce(ctx context.Context, url, relPath string) error {
	attemptCtx, cancel := context.WithTimeout(ctx, f.config.AttemptTimeout)
	defer cancel()

	resp, err := f.client.Get(attemptCtx, url)
	if err != nil {
		return models.Downloadf(models.ErrorKindTransientNetwork, "fetching segment: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return models.Downloadf(models.ErrorKindAuthExpired, "segment fetch returned %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return models.Downloadf(models.ErrorKindTransientNetwork, "segment fetch returned %d", resp.StatusCode)
	}

	// The transcoder answers 200 with a JSON/text error body while the
	// segment is still being produced.
	contentType := resp.Header.Get("Content-Type")
	if isTextualContentType(contentType) {
		return upstreamNotReadyFromBody(resp.Body)
	}

	header := make([]byte, 8)
	n, err := io.ReadFull(resp.Body, header)
	if err != nil {
		return models.Downloadf(models.ErrorKindCorruptSegment, "segment too short (%d bytes)", n)
	}

	if err := validateBoxHeader(header); err != nil {
		return err
	}

	written, err := f.sandbox.AtomicWriteReader(relPath, io.MultiReader(bytes.NewReader(header), resp.Body))
	if err != nil {
		if attemptCtx.Err() != nil {
			return models.Downloadf(models.ErrorKindTransientNetwork, "segment body read timed out")
		}
		return models.Downloadf(models.ErrorKindIO, "writing segment: %w", err)
	}

	if written < f.config.MinSegmentSize {
		_ = f.sandbox.Remove(relPath)
		return models.Downloadf(models.ErrorKindCorruptSegment,
			"segment smaller than %d bytes (%d)", f.config.MinSegmentSize, written)
	}

	return nil
}

// validateBoxHeader checks the first 8 bytes parse as an MP4 box with a
// known top-level type. A payload that looks like JSON is the transcoder
// reporting not-ready; anything else unrecognized is a corrupt segment.
// Both are retryable.
func validateBoxHeader(header []byte) error {
	boxType := string(header[4:8])
	if _, ok := validBoxTypes[boxType]; ok {
		return nil
	}
	if header[0] == '{' || header[0] == '[' {
		return models.Downloadf(models.ErrorKindUpstreamNotReady, "upstream returned JSON instead of segment data")
	}
	return models.Downloadf(models.ErrorKindCorruptSegment, "unrecognized MP4 box type %q", boxType)
}

func isTextualContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "application/json") || strings.HasPrefix(ct, "text/")
}

// upstreamNotReadyFromBody decodes {message|error} out of a textual error
// response, falling back to the raw (truncated) body.
func upstreamNotReadyFromBody(body io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(body, 2048))
	if err != nil || len(data) == 0 {
		return models.Downloadf(models.ErrorKindUpstreamNotReady, "upstream not ready")
	}

	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			return models.Downloadf(models.ErrorKindUpstreamNotReady, "upstream not ready: %s", payload.Message)
		}
		if payload.Error != "" {
			return models.Downloadf(models.ErrorKindUpstreamNotReady, "upstream not ready: %s", payload.Error)
		}
	}
	return models.Downloadf(models.ErrorKindUpstreamNotReady, "upstream not ready: %s", strings.TrimSpace(string(data)))
}

