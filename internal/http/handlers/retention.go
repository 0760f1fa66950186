package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/fetcharr/internal/retention"
)

// RetentionHandler handles per-download retention API endpoints.
type RetentionHandler struct {
	manager *retention.Manager
}

// NewRetentionHandler creates a new retention handler.
func NewRetentionHandler(manager *retention.Manager) *RetentionHandler {
	return &RetentionHandler{manager: manager}
}

// Register registers the retention routes with the API.
func (h *RetentionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getDownloadRetention",
		Method:      "GET",
		Path:        "/api/v1/downloads/{id}/retention",
		Summary:     "Get retention settings for a download",
		Description: "Returns when the completed download expires. Only completed downloads carry retention metadata",
		Tags:        []string{"Retention"},
	}, h.GetRetention)

	huma.Register(api, huma.Operation{
		OperationID: "updateDownloadRetention",
		Method:      "PATCH",
		Path:        "/api/v1/downloads/{id}/retention",
		Summary:     "Update retention settings for a download",
		Description: "Sets or clears the per-download retention override. Expiry is always recomputed from the completion time, never from now",
		Tags:        []string{"Retention"},
	}, h.UpdateRetention)
}

// GetRetentionOutput is the output for the retention endpoints.
type GetRetentionOutput struct {
	Body RetentionResponse
}

// GetRetention returns the retention metadata for a completed download.
func (h *RetentionHandler) GetRetention(ctx context.Context, input *SessionIDInput) (*GetRetentionOutput, error) {
	meta, err := h.manager.GetRetention(input.ID)
	if err != nil {
		return nil, apiError(err)
	}
	return &GetRetentionOutput{Body: RetentionFromModel(meta)}, nil
}

// UpdateRetentionInput is the input for updating retention settings.
type UpdateRetentionInput struct {
	ID   string `path:"id" doc:"Download session ID"`
	Body struct {
		RetentionDays *int `json:"retention_days" doc:"Days to keep the file; 0 keeps forever; null clears the override"`
	}
}

// UpdateRetention sets or clears the per-download retention override.
func (h *RetentionHandler) UpdateRetention(ctx context.Context, input *UpdateRetentionInput) (*GetRetentionOutput, error) {
	meta, err := h.manager.UpdateRetention(input.ID, input.Body.RetentionDays)
	if err != nil {
		return nil, apiError(err)
	}
	return &GetRetentionOutput{Body: RetentionFromModel(meta)}, nil
}
