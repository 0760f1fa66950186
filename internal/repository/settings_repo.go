package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/jmylchreest/fetcharr/internal/models"
)

// settingsRepo implements SettingsRepository using GORM. The table holds
// exactly one row, seeded from configuration on first access.
type settingsRepo struct {
	db       *gorm.DB
	defaults models.Settings

	mu sync.Mutex
}

// NewSettingsRepository creates a SettingsRepository seeding the row from
// the given defaults when it does not exist yet.
func NewSettingsRepository(db *gorm.DB, defaults models.Settings) *settingsRepo {
	return &settingsRepo{db: db, defaults: defaults}
}

// Get returns the settings row, creating it from the defaults on first use.
func (r *settingsRepo) Get(ctx context.Context) (*models.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrSeed(ctx)
}

// Update persists the given settings values onto the single row. The
// argument is refreshed with the stored values (IDs, timestamps, clamping).
func (r *settingsRepo) Update(ctx context.Context, settings *models.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.getOrSeed(ctx)
	if err != nil {
		return err
	}

	current.MaxConcurrentDownloads = settings.MaxConcurrentDownloads
	current.DefaultRetentionDays = settings.DefaultRetentionDays
	if current.MaxConcurrentDownloads < 1 {
		current.MaxConcurrentDownloads = 1
	}

	if err := r.db.WithContext(ctx).Save(current).Error; err != nil {
		return fmt.Errorf("updating settings: %w", err)
	}
	*settings = *current
	return nil
}

func (r *settingsRepo) getOrSeed(ctx context.Context) (*models.Settings, error) {
	var settings models.Settings
	err := r.db.WithContext(ctx).First(&settings).Error
	if err == nil {
		return &settings, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("getting settings: %w", err)
	}

	seeded := r.defaults
	if seeded.MaxConcurrentDownloads < 1 {
		seeded.MaxConcurrentDownloads = 1
	}
	if err := r.db.WithContext(ctx).Create(&seeded).Error; err != nil {
		return nil, fmt.Errorf("seeding settings: %w", err)
	}
	return &seeded, nil
}
