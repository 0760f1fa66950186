// Package handlers provides HTTP API handlers for fetcharr.
package handlers

import (
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/fetcharr/internal/jellyfin"
	"github.com/jmylchreest/fetcharr/internal/models"
)

// DownloadResponse represents a download session in API responses.
type DownloadResponse struct {
	ID                 string                `json:"id"`
	ItemID             string                `json:"item_id"`
	MediaSourceID      string                `json:"media_source_id,omitempty"`
	Title              string                `json:"title"`
	Filename           string                `json:"filename"`
	Preset             string                `json:"preset"`
	Status             models.DownloadStatus `json:"status"`
	TotalSegments      int                   `json:"total_segments"`
	CompletedSegments  int                   `json:"completed_segments"`
	Progress           float64               `json:"progress"`
	Error              string                `json:"error,omitempty"`
	DurationSeconds    float64               `json:"duration_seconds,omitempty"`
	EstimatedSizeBytes int64                 `json:"estimated_size_bytes,omitempty"`
	QueuePosition      int                   `json:"queue_position,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
	StartedAt          *time.Time            `json:"started_at,omitempty"`
	CompletedAt        *time.Time            `json:"completed_at,omitempty"`
}

// DownloadFromModel converts a session model to a response.
func DownloadFromModel(s *models.DownloadSession) DownloadResponse {
	return DownloadResponse{
		ID:                 s.ID,
		ItemID:             s.ItemID,
		MediaSourceID:      s.MediaSourceID,
		Title:              s.Title,
		Filename:           s.Filename,
		Preset:             s.Preset,
		Status:             s.Status,
		TotalSegments:      s.TotalSegments,
		CompletedSegments:  s.CompletedSegments,
		Progress:           s.Progress(),
		Error:              s.Error,
		DurationSeconds:    s.DurationSeconds,
		EstimatedSizeBytes: s.EstimatedSizeBytes,
		QueuePosition:      s.QueuePosition,
		CreatedAt:          s.CreatedAt,
		StartedAt:          s.StartedAt,
		CompletedAt:        s.CompletedAt,
	}
}

// DownloadListResponse is the response for download listings.
type DownloadListResponse struct {
	Downloads []DownloadResponse `json:"downloads"`
}

// ProgressResponse is the lightweight per-session progress snapshot.
type ProgressResponse struct {
	SessionID         string                `json:"session_id"`
	Status            models.DownloadStatus `json:"status"`
	CompletedSegments int                   `json:"completed_segments"`
	TotalSegments     int                   `json:"total_segments"`
	Progress          float64               `json:"progress"`
	Error             string                `json:"error,omitempty"`
}

// RetentionResponse represents retention metadata in API responses.
type RetentionResponse struct {
	SessionID     string     `json:"session_id"`
	DownloadedAt  time.Time  `json:"downloaded_at"`
	RetentionDays *int       `json:"retention_days,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// RetentionFromModel converts retention metadata to a response.
func RetentionFromModel(m *models.RetentionMeta) RetentionResponse {
	return RetentionResponse{
		SessionID:     m.SessionID,
		DownloadedAt:  m.DownloadedAt,
		RetentionDays: m.RetentionDays,
		ExpiresAt:     m.ExpiresAt,
	}
}

// Health types

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPUInfo       CPUInfo           `json:"cpu_info"`
	Memory        MemoryInfo        `json:"memory"`
	Disk          DiskInfo          `json:"disk"`
	Components    HealthComponents  `json:"components"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// CPUInfo contains CPU load information.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo contains system and process memory information.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	FreeMemoryMB      float64 `json:"free_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMemoryMB   float64 `json:"process_memory_mb"`
}

// DiskInfo contains usage information for the downloads directory.
type DiskInfo struct {
	Path        string  `json:"path"`
	TotalGB     float64 `json:"total_gb"`
	UsedGB      float64 `json:"used_gb"`
	FreeGB      float64 `json:"free_gb"`
	UsedPercent float64 `json:"used_percent"`
}

// QueueHealth summarizes the download queue for the health endpoint.
type QueueHealth struct {
	Active        int `json:"active"`
	Queued        int `json:"queued"`
	MaxConcurrent int `json:"max_concurrent"`
}

// DatabaseHealth contains database health information.
type DatabaseHealth struct {
	Status         string  `json:"status"`
	ResponseTimeMS float64 `json:"response_time_ms"`
}

// FFmpegHealth reports remux capability.
type FFmpegHealth struct {
	Available bool `json:"available"`
}

// HealthComponents contains per-component health information.
type HealthComponents struct {
	Database DatabaseHealth `json:"database"`
	FFmpeg   FFmpegHealth   `json:"ffmpeg"`
	Queue    QueueHealth    `json:"queue"`
}

// apiError maps domain errors to huma status errors. Unknown errors become
// 500s with the original message preserved.
func apiError(err error) error {
	var de *models.DownloadError
	if errors.As(err, &de) && de.Kind == models.ErrorKindAuthExpired {
		return huma.Error401Unauthorized(err.Error())
	}

	switch {
	case errors.Is(err, models.ErrSessionNotFound),
		errors.Is(err, jellyfin.ErrItemNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, models.ErrItemIDRequired),
		errors.Is(err, models.ErrUnknownPreset),
		errors.Is(err, models.ErrSessionActive):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrNotQueued),
		errors.Is(err, models.ErrNotCompleted):
		return huma.Error409Conflict(err.Error())
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}
