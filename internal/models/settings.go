package models

// Settings is the single row of hot-swappable runtime settings. Values here
// override the file/env configuration once seeded.
type Settings struct {
	BaseModel

	// MaxConcurrentDownloads caps simultaneously downloading sessions.
	MaxConcurrentDownloads int `gorm:"not null;default:2" json:"max_concurrent_downloads"`

	// DefaultRetentionDays is the global retention default for completed
	// downloads. Nil or 0 means keep forever.
	DefaultRetentionDays *int `json:"default_retention_days,omitempty"`
}

// TableName returns the table name for Settings.
func (Settings) TableName() string {
	return "settings"
}

// EffectiveRetentionDays returns the global default, 0 meaning keep forever.
func (s *Settings) EffectiveRetentionDays() int {
	if s.DefaultRetentionDays == nil {
		return 0
	}
	return *s.DefaultRetentionDays
}
