// Package repository defines data access interfaces for fetcharr's
// database-backed entities. Download session state is file-backed and lives
// in internal/store; only the runtime settings row goes through here.
package repository

import (
	"context"

	"github.com/jmylchreest/fetcharr/internal/models"
)

// SettingsRepository defines operations for the single runtime settings row.
type SettingsRepository interface {
	// Get returns the settings row, seeding it from configuration defaults
	// on first use.
	Get(ctx context.Context) (*models.Settings, error)
	// Update persists the given settings values.
	Update(ctx context.Context, settings *models.Settings) error
}
