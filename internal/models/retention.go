package models

import "time"

// RetentionMeta controls time-based deletion of one completed download.
// Persisted as JSON at <downloadsDir>/<id>/retention.json.
type RetentionMeta struct {
	SessionID string `json:"session_id"`

	// DownloadedAt anchors the retention window. Expiry is always derived
	// from this timestamp, never from "now".
	DownloadedAt time.Time `json:"downloaded_at"`

	// RetentionDays overrides the global default when non-nil.
	RetentionDays *int `json:"retention_days,omitempty"`

	// ExpiresAt is derived from DownloadedAt + effective days.
	// Nil means keep forever.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NewRetentionMeta creates retention metadata for a finished download,
// computing expiry against the global default.
func NewRetentionMeta(sessionID string, downloadedAt time.Time, globalDays int) *RetentionMeta {
	m := &RetentionMeta{
		SessionID:    sessionID,
		DownloadedAt: downloadedAt,
	}
	m.Recompute(globalDays)
	return m
}

// EffectiveDays resolves the per-file override against the global default.
// 0 means keep forever.
func (m *RetentionMeta) EffectiveDays(globalDays int) int {
	if m.RetentionDays != nil {
		return *m.RetentionDays
	}
	return globalDays
}

// Recompute re-derives ExpiresAt from DownloadedAt and the effective days.
func (m *RetentionMeta) Recompute(globalDays int) {
	days := m.EffectiveDays(globalDays)
	if days <= 0 {
		m.ExpiresAt = nil
		return
	}
	exp := m.DownloadedAt.Add(time.Duration(days) * 24 * time.Hour)
	m.ExpiresAt = &exp
}

// Expired reports whether the file should be deleted at the given instant.
func (m *RetentionMeta) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}
