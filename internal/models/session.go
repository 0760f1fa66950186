package models

import (
	"strings"
	"time"
)

// DownloadStatus represents the current status of a download session.
type DownloadStatus string

const (
	// StatusQueued indicates the session is waiting for a worker slot.
	StatusQueued DownloadStatus = "queued"
	// StatusDownloading indicates a worker is actively fetching segments.
	StatusDownloading DownloadStatus = "downloading"
	// StatusPaused indicates the session was stopped by the user and can
	// re-enter the queue later.
	StatusPaused DownloadStatus = "paused"
	// StatusCompleted indicates the final file exists on disk.
	StatusCompleted DownloadStatus = "completed"
	// StatusFailed indicates the session hit a fatal error.
	StatusFailed DownloadStatus = "failed"
	// StatusCancelled indicates the user cancelled the session.
	StatusCancelled DownloadStatus = "cancelled"
)

// DownloadSession is the unit of work: one media item being turned into
// a single local MP4 file. Persisted as JSON at <downloadsDir>/<id>/session.json.
type DownloadSession struct {
	ID            string `json:"id"`
	ItemID        string `json:"item_id"`
	MediaSourceID string `json:"media_source_id,omitempty"`

	// Title is the display name of the media item.
	Title string `json:"title"`

	// Filename is the sanitized final file name (title + ".mp4").
	Filename string `json:"filename"`

	// HLSURL is the master playlist URL with transcode parameters baked in.
	HLSURL string `json:"hls_url"`

	DurationSeconds    float64 `json:"duration_seconds,omitempty"`
	Preset             string  `json:"preset"`
	EstimatedSizeBytes int64   `json:"estimated_size_bytes,omitempty"`

	Status DownloadStatus `json:"status"`

	// TotalSegments is 0 until the playlist has been parsed.
	TotalSegments int `json:"total_segments"`

	// CompletedIndexes is the authoritative record of fetched segments.
	// CompletedSegments is always derived from its length.
	CompletedIndexes  IndexSet `json:"completed_indexes"`
	CompletedSegments int      `json:"completed_segments"`

	// Error holds the failure message when Status is failed.
	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// QueuePosition is 1-based and meaningful only while Status is queued.
	QueuePosition int `json:"queue_position,omitempty"`
}

// NewDownloadSession creates a queued session with a fresh ULID.
func NewDownloadSession(itemID, mediaSourceID, title, preset string) *DownloadSession {
	return &DownloadSession{
		ID:               NewULID().String(),
		ItemID:           itemID,
		MediaSourceID:    mediaSourceID,
		Title:            title,
		Filename:         SanitizeFilename(title) + ".mp4",
		Preset:           preset,
		Status:           StatusQueued,
		CompletedIndexes: NewIndexSet(),
		CreatedAt:        time.Now(),
	}
}

// IsActive returns true while the session holds or is waiting for a worker slot.
func (s *DownloadSession) IsActive() bool {
	return s.Status == StatusQueued || s.Status == StatusDownloading
}

// IsTerminal returns true once the session can no longer change on its own.
func (s *DownloadSession) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed || s.Status == StatusCancelled
}

// CanPause reports whether a pause request is valid in the current status.
func (s *DownloadSession) CanPause() bool {
	return s.Status == StatusQueued || s.Status == StatusDownloading
}

// CanRemove reports whether the session may be removed from the list.
// Active sessions must be cancelled or paused first.
func (s *DownloadSession) CanRemove() bool {
	return !s.IsActive()
}

// CanResume reports whether a resume (retry-failed) request is valid.
func (s *DownloadSession) CanResume() bool {
	return s.Status == StatusFailed
}

// CanTransition reports whether the state machine permits moving from the
// current status to the target.
func (s *DownloadSession) CanTransition(to DownloadStatus) bool {
	switch s.Status {
	case StatusQueued:
		return to == StatusDownloading || to == StatusPaused || to == StatusCancelled
	case StatusDownloading:
		return to == StatusPaused || to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	case StatusPaused:
		return to == StatusQueued || to == StatusCancelled
	case StatusFailed:
		return to == StatusQueued || to == StatusCancelled
	default:
		// Completed and Cancelled are terminal.
		return false
	}
}

// MarkDownloading transitions the session to downloading and stamps StartedAt.
func (s *DownloadSession) MarkDownloading() error {
	if !s.CanTransition(StatusDownloading) {
		return ErrInvalidTransition
	}
	s.Status = StatusDownloading
	s.QueuePosition = 0
	now := time.Now()
	s.StartedAt = &now
	s.Error = ""
	return nil
}

// MarkQueued transitions the session back into the queue at the given position.
func (s *DownloadSession) MarkQueued(position int) error {
	if s.Status != StatusQueued && !s.CanTransition(StatusQueued) {
		return ErrInvalidTransition
	}
	s.Status = StatusQueued
	s.QueuePosition = position
	s.Error = ""
	return nil
}

// MarkPaused transitions the session to paused. Files stay on disk.
func (s *DownloadSession) MarkPaused() error {
	if !s.CanTransition(StatusPaused) {
		return ErrInvalidTransition
	}
	s.Status = StatusPaused
	s.QueuePosition = 0
	return nil
}

// MarkCompleted transitions the session to completed and stamps CompletedAt.
func (s *DownloadSession) MarkCompleted() error {
	if !s.CanTransition(StatusCompleted) {
		return ErrInvalidTransition
	}
	s.Status = StatusCompleted
	s.QueuePosition = 0
	now := time.Now()
	s.CompletedAt = &now
	s.Error = ""
	return nil
}

// MarkFailed transitions the session to failed with the given cause.
func (s *DownloadSession) MarkFailed(err error) error {
	if !s.CanTransition(StatusFailed) {
		return ErrInvalidTransition
	}
	s.Status = StatusFailed
	s.QueuePosition = 0
	now := time.Now()
	s.CompletedAt = &now
	if err != nil {
		s.Error = err.Error()
	}
	return nil
}

// MarkCancelled transitions the session to cancelled.
func (s *DownloadSession) MarkCancelled() error {
	if !s.CanTransition(StatusCancelled) {
		return ErrInvalidTransition
	}
	s.Status = StatusCancelled
	s.QueuePosition = 0
	now := time.Now()
	s.CompletedAt = &now
	return nil
}

// RecordSegment adds a completed segment index and re-derives the count.
func (s *DownloadSession) RecordSegment(index uint32) {
	if s.CompletedIndexes == nil {
		s.CompletedIndexes = NewIndexSet()
	}
	s.CompletedIndexes.Add(index)
	s.CompletedSegments = s.CompletedIndexes.Len()
}

// Progress returns completion as a fraction in [0,1]. Returns 0 until the
// playlist has been parsed.
func (s *DownloadSession) Progress() float64 {
	if s.TotalSegments <= 0 {
		return 0
	}
	p := float64(s.CompletedIndexes.Len()) / float64(s.TotalSegments)
	if p > 1 {
		p = 1
	}
	return p
}

// HLSSegment is one media segment of the stream. Indices are dense from 0
// and define concatenation order.
type HLSSegment struct {
	Index    uint32
	URL      string
	Duration float64
}

// SanitizeFilename strips characters that are unsafe in file names and
// collapses whitespace. Falls back to "download" for empty results.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_' || r == '(' || r == ')' || r == '[' || r == ']':
			b.WriteRune(r)
		case r == ' ' || r == '\t':
			b.WriteRune(' ')
		}
	}
	out := strings.Join(strings.Fields(b.String()), " ")
	out = strings.Trim(out, ". ")
	if out == "" {
		return "download"
	}
	return out
}
