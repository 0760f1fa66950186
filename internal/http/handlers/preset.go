package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/fetcharr/internal/models"
)

// PresetHandler exposes the built-in transcode preset table.
type PresetHandler struct{}

// NewPresetHandler creates a new preset handler.
func NewPresetHandler() *PresetHandler {
	return &PresetHandler{}
}

// Register registers the preset routes with the API.
func (h *PresetHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listPresets",
		Method:      "GET",
		Path:        "/api/v1/presets",
		Summary:     "List transcode presets",
		Description: "Returns the built-in transcode presets, ordered from highest to lowest quality",
		Tags:        []string{"Presets"},
	}, h.ListPresets)
}

// ListPresetsInput is the input for listing presets.
type ListPresetsInput struct{}

// ListPresetsOutput is the output for listing presets.
type ListPresetsOutput struct {
	Body struct {
		Presets []models.TranscodePreset `json:"presets"`
	}
}

// ListPresets returns the built-in preset table.
func (h *PresetHandler) ListPresets(ctx context.Context, input *ListPresetsInput) (*ListPresetsOutput, error) {
	resp := &ListPresetsOutput{}
	resp.Body.Presets = models.Presets()
	return resp, nil
}
