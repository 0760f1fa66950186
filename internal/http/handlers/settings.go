package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/fetcharr/internal/engine"
	"github.com/jmylchreest/fetcharr/internal/models"
	"github.com/jmylchreest/fetcharr/internal/repository"
)

// SettingsHandler handles runtime settings API endpoints. Updates persist to
// the database and hot-swap the scheduler's concurrency cap; the retention
// sweeper reads the global default on its next sweep.
type SettingsHandler struct {
	repo      repository.SettingsRepository
	scheduler *engine.Scheduler
	logger    *slog.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(repo repository.SettingsRepository, scheduler *engine.Scheduler, logger *slog.Logger) *SettingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsHandler{
		repo:      repo,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Register registers the settings routes with the API.
func (h *SettingsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSettings",
		Method:      "GET",
		Path:        "/api/v1/settings",
		Summary:     "Get runtime settings",
		Description: "Returns the current runtime settings",
		Tags:        []string{"Settings"},
	}, h.GetSettings)

	huma.Register(api, huma.Operation{
		OperationID: "updateSettings",
		Method:      "PUT",
		Path:        "/api/v1/settings",
		Summary:     "Update runtime settings",
		Description: "Persists new runtime settings and applies them immediately",
		Tags:        []string{"Settings"},
	}, h.UpdateSettings)
}

// RuntimeSettings represents the runtime settings data.
type RuntimeSettings struct {
	MaxConcurrentDownloads int  `json:"max_concurrent_downloads"`
	DefaultRetentionDays   *int `json:"default_retention_days,omitempty"`
}

// GetSettingsInput is the input for getting settings.
type GetSettingsInput struct{}

// GetSettingsOutput is the output for getting settings.
type GetSettingsOutput struct {
	Body RuntimeSettings
}

// GetSettings returns current runtime settings.
func (h *SettingsHandler) GetSettings(ctx context.Context, input *GetSettingsInput) (*GetSettingsOutput, error) {
	settings, err := h.repo.Get(ctx)
	if err != nil {
		return nil, apiError(err)
	}
	return &GetSettingsOutput{
		Body: RuntimeSettings{
			MaxConcurrentDownloads: settings.MaxConcurrentDownloads,
			DefaultRetentionDays:   settings.DefaultRetentionDays,
		},
	}, nil
}

// UpdateSettingsInput is the input for updating settings.
type UpdateSettingsInput struct {
	Body RuntimeSettings
}

// UpdateSettingsOutput is the output for updating settings.
type UpdateSettingsOutput struct {
	Body RuntimeSettings
}

// UpdateSettings persists the settings and hot-swaps the concurrency cap.
// Queue promotion is re-evaluated when the cap grows; running downloads are
// never interrupted when it shrinks.
func (h *SettingsHandler) UpdateSettings(ctx context.Context, input *UpdateSettingsInput) (*UpdateSettingsOutput, error) {
	settings := &models.Settings{
		MaxConcurrentDownloads: input.Body.MaxConcurrentDownloads,
		DefaultRetentionDays:   input.Body.DefaultRetentionDays,
	}
	if err := h.repo.Update(ctx, settings); err != nil {
		return nil, apiError(err)
	}

	if h.scheduler != nil {
		h.scheduler.SetMaxConcurrent(settings.MaxConcurrentDownloads)
	}

	h.logger.Info("runtime settings updated",
		slog.Int("max_concurrent_downloads", settings.MaxConcurrentDownloads),
		slog.Any("default_retention_days", settings.DefaultRetentionDays),
	)

	return &UpdateSettingsOutput{
		Body: RuntimeSettings{
			MaxConcurrentDownloads: settings.MaxConcurrentDownloads,
			DefaultRetentionDays:   settings.DefaultRetentionDays,
		},
	}, nil
}
