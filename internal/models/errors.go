package models

import (
	"errors"
	"fmt"
)

// Common sentinel errors.
var (
	// ErrSessionNotFound indicates the requested download session does not exist.
	ErrSessionNotFound = errors.New("download session not found")

	// ErrSessionActive indicates an operation that requires an inactive
	// session was attempted on a queued or downloading one.
	ErrSessionActive = errors.New("download session is active")

	// ErrInvalidTransition indicates a status transition that the state
	// machine does not permit.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotQueued indicates a queue-reorder operation on a session that is
	// not in the queue.
	ErrNotQueued = errors.New("download session is not queued")

	// ErrNotCompleted indicates a streaming or retention operation on a
	// session whose file is not finalized yet.
	ErrNotCompleted = errors.New("download session is not completed")

	// ErrUnknownPreset indicates a transcode preset name that is not defined.
	ErrUnknownPreset = errors.New("unknown transcode preset")

	// ErrItemIDRequired indicates a start request without an item ID.
	ErrItemIDRequired = errors.New("item_id is required")

	// ErrNoSegments indicates a media playlist with zero segments.
	ErrNoSegments = errors.New("playlist contains no segments")
)

// ErrorKind classifies download failures. Retryable kinds are absorbed by
// the segment fetcher's retry loop; fatal kinds terminate the session.
type ErrorKind string

const (
	// ErrorKindTransientNetwork covers timeouts, resets, and 5xx responses.
	ErrorKindTransientNetwork ErrorKind = "transient_network"

	// ErrorKindUpstreamNotReady means the transcoder has not produced the
	// requested segment yet (JSON error body or not-yet-valid payload).
	ErrorKindUpstreamNotReady ErrorKind = "upstream_not_ready"

	// ErrorKindCorruptSegment means the body failed fMP4 validation.
	ErrorKindCorruptSegment ErrorKind = "corrupt_segment"

	// ErrorKindPermanentUpstream covers non-retryable upstream failures,
	// including retry-budget exhaustion.
	ErrorKindPermanentUpstream ErrorKind = "permanent_upstream"

	// ErrorKindAuthExpired means the upstream rejected our credentials.
	ErrorKindAuthExpired ErrorKind = "auth_expired"

	// ErrorKindRemuxFailed means ffmpeg exited non-zero during finalization.
	ErrorKindRemuxFailed ErrorKind = "remux_failed"

	// ErrorKindFfmpegMissing means no ffmpeg binary could be resolved.
	ErrorKindFfmpegMissing ErrorKind = "ffmpeg_missing"

	// ErrorKindIO covers local disk failures (write, rename, disk full).
	ErrorKindIO ErrorKind = "io"

	// ErrorKindInterrupted means the process restarted mid-download.
	ErrorKindInterrupted ErrorKind = "interrupted"

	// ErrorKindCancelled means the user cancelled the download.
	ErrorKindCancelled ErrorKind = "cancelled"
)

// Retryable reports whether the segment fetcher should retry this kind
// within its attempt budget.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindTransientNetwork, ErrorKindUpstreamNotReady, ErrorKindCorruptSegment:
		return true
	default:
		return false
	}
}

// DownloadError is a classified download failure.
type DownloadError struct {
	Kind ErrorKind
	Err  error
}

// NewDownloadError wraps err with a kind.
func NewDownloadError(kind ErrorKind, err error) *DownloadError {
	return &DownloadError{Kind: kind, Err: err}
}

// Downloadf builds a classified error from a format string.
func Downloadf(kind ErrorKind, format string, args ...any) *DownloadError {
	return &DownloadError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Error implements the error interface.
func (e *DownloadError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
}

// Unwrap returns the underlying error.
func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Retryable reports whether this error should be retried by the fetcher.
func (e *DownloadError) Retryable() bool {
	return e.Kind.Retryable()
}

// KindOf extracts the ErrorKind from err, defaulting to transient network
// for unclassified errors so callers err on the side of retrying.
func KindOf(err error) ErrorKind {
	var de *DownloadError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ErrorKindTransientNetwork
}
