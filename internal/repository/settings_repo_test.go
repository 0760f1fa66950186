package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/fetcharr/internal/config"
	"github.com/jmylchreest/fetcharr/internal/database"
	"github.com/jmylchreest/fetcharr/internal/models"
)

func setupRepo(t *testing.T, defaults models.Settings) *settingsRepo {
	t.Helper()

	db, err := database.New(config.DatabaseConfig{
		Driver:          "sqlite",
		DSN:             ":memory:",
		ConnMaxLifetime: time.Hour,
		LogLevel:        "silent",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	return NewSettingsRepository(db.DB, defaults)
}

func TestSettingsRepo_SeedsDefaults(t *testing.T) {
	retention := 14
	repo := setupRepo(t, models.Settings{
		MaxConcurrentDownloads: 3,
		DefaultRetentionDays:   &retention,
	})

	settings, err := repo.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, settings.MaxConcurrentDownloads)
	require.NotNil(t, settings.DefaultRetentionDays)
	assert.Equal(t, 14, *settings.DefaultRetentionDays)

	// Second Get returns the same seeded row.
	again, err := repo.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, settings.ID, again.ID)
}

func TestSettingsRepo_Update(t *testing.T) {
	repo := setupRepo(t, models.Settings{MaxConcurrentDownloads: 2})

	retention := 30
	update := &models.Settings{
		MaxConcurrentDownloads: 5,
		DefaultRetentionDays:   &retention,
	}
	require.NoError(t, repo.Update(context.Background(), update))

	settings, err := repo.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, settings.MaxConcurrentDownloads)
	require.NotNil(t, settings.DefaultRetentionDays)
	assert.Equal(t, 30, *settings.DefaultRetentionDays)

	// Clearing retention reverts to keep-forever.
	update.DefaultRetentionDays = nil
	require.NoError(t, repo.Update(context.Background(), update))
	settings, err = repo.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, settings.DefaultRetentionDays)
}

func TestSettingsRepo_ClampsConcurrency(t *testing.T) {
	repo := setupRepo(t, models.Settings{MaxConcurrentDownloads: 0})

	settings, err := repo.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settings.MaxConcurrentDownloads)

	update := &models.Settings{MaxConcurrentDownloads: -3}
	require.NoError(t, repo.Update(context.Background(), update))
	assert.Equal(t, 1, update.MaxConcurrentDownloads)
}
