package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/fetcharr/internal/engine"
	"github.com/jmylchreest/fetcharr/internal/jellyfin"
	"github.com/jmylchreest/fetcharr/internal/models"
)

// defaultPreset is used when a start request does not name one.
const defaultPreset = "720p"

// DownloadHandler handles the download lifecycle API endpoints.
type DownloadHandler struct {
	scheduler *engine.Scheduler
	upstream  jellyfin.Client
	logger    *slog.Logger
}

// NewDownloadHandler creates a new download handler.
func NewDownloadHandler(scheduler *engine.Scheduler, upstream jellyfin.Client, logger *slog.Logger) *DownloadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DownloadHandler{
		scheduler: scheduler,
		upstream:  upstream,
		logger:    logger,
	}
}

// Register registers the download routes with the API.
func (h *DownloadHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "startDownload",
		Method:        "POST",
		Path:          "/api/v1/downloads/start",
		Summary:       "Start a download",
		Description:   "Resolves the media item upstream, creates a queued download session, and promotes it when a worker slot is free",
		Tags:          []string{"Downloads"},
		DefaultStatus: http.StatusCreated,
	}, h.StartDownload)

	huma.Register(api, huma.Operation{
		OperationID: "listDownloads",
		Method:      "GET",
		Path:        "/api/v1/downloads/list",
		Summary:     "List all downloads",
		Description: "Returns every known download session, active and finished",
		Tags:        []string{"Downloads"},
	}, h.ListDownloads)

	huma.Register(api, huma.Operation{
		OperationID: "getDownloadProgress",
		Method:      "GET",
		Path:        "/api/v1/downloads/progress/{id}",
		Summary:     "Get download progress",
		Description: "Returns a lightweight progress snapshot for one session",
		Tags:        []string{"Downloads"},
	}, h.GetProgress)

	huma.Register(api, huma.Operation{
		OperationID: "cancelDownload",
		Method:      "DELETE",
		Path:        "/api/v1/downloads/{id}",
		Summary:     "Cancel a download",
		Description: "Stops the download if it is running and deletes its files. Idempotent: cancelling an unknown or already-cancelled session succeeds",
		Tags:        []string{"Downloads"},
	}, h.CancelDownload)

	huma.Register(api, huma.Operation{
		OperationID: "removeDownload",
		Method:      "DELETE",
		Path:        "/api/v1/downloads/{id}/remove",
		Summary:     "Remove a download from the list",
		Description: "Deletes the session record and files. Active sessions must be cancelled or paused first",
		Tags:        []string{"Downloads"},
	}, h.RemoveDownload)

	huma.Register(api, huma.Operation{
		OperationID: "resumeDownload",
		Method:      "POST",
		Path:        "/api/v1/downloads/{id}/resume",
		Summary:     "Retry a failed download",
		Description: "Re-queues a failed session. Already-fetched segments are kept; a failed remux re-runs finalization only",
		Tags:        []string{"Downloads"},
	}, h.ResumeDownload)

	huma.Register(api, huma.Operation{
		OperationID: "pauseDownload",
		Method:      "POST",
		Path:        "/api/v1/downloads/{id}/pause",
		Summary:     "Pause a download",
		Description: "Stops a queued or running session, keeping its files for later resume",
		Tags:        []string{"Downloads"},
	}, h.PauseDownload)

	huma.Register(api, huma.Operation{
		OperationID: "unpauseDownload",
		Method:      "POST",
		Path:        "/api/v1/downloads/{id}/unpause",
		Summary:     "Unpause a download",
		Description: "Puts a paused session back at the tail of the queue",
		Tags:        []string{"Downloads"},
	}, h.UnpauseDownload)

	huma.Register(api, huma.Operation{
		OperationID: "moveDownloadToFront",
		Method:      "POST",
		Path:        "/api/v1/downloads/{id}/move-to-front",
		Summary:     "Move a queued download to the front",
		Tags:        []string{"Downloads"},
	}, h.MoveToFront)

	huma.Register(api, huma.Operation{
		OperationID: "setDownloadPosition",
		Method:      "PUT",
		Path:        "/api/v1/downloads/{id}/position",
		Summary:     "Set a queued download's position",
		Description: "Moves a queued session to the given 1-based position, clamped to the queue bounds",
		Tags:        []string{"Downloads"},
	}, h.SetPosition)

	huma.Register(api, huma.Operation{
		OperationID: "getQueueInfo",
		Method:      "GET",
		Path:        "/api/v1/downloads/queue/info",
		Summary:     "Get queue information",
		Tags:        []string{"Downloads"},
	}, h.GetQueueInfo)
}

// StartDownloadInput is the input for starting a download.
type StartDownloadInput struct {
	Body struct {
		ItemID           string `json:"item_id" doc:"Upstream media item ID"`
		MediaSourceID    string `json:"media_source_id,omitempty" doc:"Media source to download when the item has several"`
		Preset           string `json:"preset,omitempty" doc:"Transcode preset name (default 720p)"`
		AudioStreamIndex *int   `json:"audio_stream_index,omitempty" doc:"Audio stream to select"`
	}
}

// StartDownloadOutput is the output for starting a download.
type StartDownloadOutput struct {
	Body struct {
		SessionID          string                `json:"session_id"`
		Filename           string                `json:"filename"`
		Status             models.DownloadStatus `json:"status"`
		QueuePosition      int                   `json:"queue_position,omitempty"`
		EstimatedSizeBytes int64                 `json:"estimated_size_bytes,omitempty"`
	}
}

// StartDownload resolves the item upstream and enqueues a download session.
func (h *DownloadHandler) StartDownload(ctx context.Context, input *StartDownloadInput) (*StartDownloadOutput, error) {
	itemID := strings.TrimSpace(input.Body.ItemID)
	if itemID == "" {
		return nil, apiError(models.ErrItemIDRequired)
	}

	presetName := input.Body.Preset
	if presetName == "" {
		presetName = defaultPreset
	}
	preset, err := models.PresetByName(presetName)
	if err != nil {
		return nil, apiError(err)
	}

	item, err := h.upstream.GetItem(ctx, itemID)
	if err != nil {
		return nil, apiError(err)
	}

	mediaSourceID := input.Body.MediaSourceID
	if mediaSourceID != "" {
		sources, err := h.upstream.GetMediaSources(ctx, itemID)
		if err != nil {
			return nil, apiError(err)
		}
		found := false
		for _, src := range sources {
			if src.ID == mediaSourceID {
				found = true
				break
			}
		}
		if !found {
			return nil, huma.Error400BadRequest("unknown media source id")
		}
	}

	duration := item.DurationSeconds()
	session, err := h.scheduler.StartDownload(engine.StartRequest{
		ItemID:             itemID,
		MediaSourceID:      mediaSourceID,
		Title:              item.Name,
		DurationSeconds:    duration,
		Preset:             preset.Name,
		HLSURL:             h.upstream.BuildHLSURL(itemID, mediaSourceID, preset, input.Body.AudioStreamIndex),
		EstimatedSizeBytes: preset.EstimatedSizeBytes(duration),
	})
	if err != nil {
		return nil, apiError(err)
	}

	h.logger.Info("download started",
		slog.String("session_id", session.ID),
		slog.String("item_id", itemID),
		slog.String("preset", preset.Name),
	)

	resp := &StartDownloadOutput{}
	resp.Body.SessionID = session.ID
	resp.Body.Filename = session.Filename
	resp.Body.Status = session.Status
	resp.Body.QueuePosition = session.QueuePosition
	resp.Body.EstimatedSizeBytes = session.EstimatedSizeBytes
	return resp, nil
}

// ListDownloadsInput is the input for listing downloads.
type ListDownloadsInput struct{}

// ListDownloadsOutput is the output for listing downloads.
type ListDownloadsOutput struct {
	Body DownloadListResponse
}

// ListDownloads returns every known session.
func (h *DownloadHandler) ListDownloads(ctx context.Context, input *ListDownloadsInput) (*ListDownloadsOutput, error) {
	sessions := h.scheduler.GetAllDownloads()
	downloads := make([]DownloadResponse, 0, len(sessions))
	for _, s := range sessions {
		downloads = append(downloads, DownloadFromModel(s))
	}
	return &ListDownloadsOutput{Body: DownloadListResponse{Downloads: downloads}}, nil
}

// SessionIDInput carries the session ID path parameter.
type SessionIDInput struct {
	ID string `path:"id" doc:"Download session ID"`
}

// GetProgressOutput is the output for the progress endpoint.
type GetProgressOutput struct {
	Body ProgressResponse
}

// GetProgress returns a progress snapshot for one session.
func (h *DownloadHandler) GetProgress(ctx context.Context, input *SessionIDInput) (*GetProgressOutput, error) {
	session, err := h.scheduler.GetProgress(input.ID)
	if err != nil {
		return nil, apiError(err)
	}
	return &GetProgressOutput{
		Body: ProgressResponse{
			SessionID:         session.ID,
			Status:            session.Status,
			CompletedSegments: session.CompletedSegments,
			TotalSegments:     session.TotalSegments,
			Progress:          session.Progress(),
			Error:             session.Error,
		},
	}, nil
}

// ActionOutput is the generic acknowledgement body for lifecycle actions.
type ActionOutput struct {
	Body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
}

func actionOK(message string) *ActionOutput {
	out := &ActionOutput{}
	out.Body.Success = true
	out.Body.Message = message
	return out
}

// CancelDownload cancels a session and deletes its files.
func (h *DownloadHandler) CancelDownload(ctx context.Context, input *SessionIDInput) (*ActionOutput, error) {
	if err := h.scheduler.CancelDownload(input.ID); err != nil {
		return nil, apiError(err)
	}
	return actionOK("download cancelled"), nil
}

// RemoveDownload removes a finished or paused session from the list.
func (h *DownloadHandler) RemoveDownload(ctx context.Context, input *SessionIDInput) (*ActionOutput, error) {
	if err := h.scheduler.RemoveDownload(input.ID); err != nil {
		return nil, apiError(err)
	}
	return actionOK("download removed"), nil
}

// ResumeDownload re-queues a failed session.
func (h *DownloadHandler) ResumeDownload(ctx context.Context, input *SessionIDInput) (*ActionOutput, error) {
	if err := h.scheduler.ResumeDownload(input.ID); err != nil {
		return nil, apiError(err)
	}
	return actionOK("download queued for retry"), nil
}

// PauseDownload pauses a queued or running session.
func (h *DownloadHandler) PauseDownload(ctx context.Context, input *SessionIDInput) (*ActionOutput, error) {
	if err := h.scheduler.PauseDownload(input.ID); err != nil {
		return nil, apiError(err)
	}
	return actionOK("download paused"), nil
}

// UnpauseDownload re-queues a paused session at the tail.
func (h *DownloadHandler) UnpauseDownload(ctx context.Context, input *SessionIDInput) (*ActionOutput, error) {
	if err := h.scheduler.ResumePaused(input.ID); err != nil {
		return nil, apiError(err)
	}
	return actionOK("download unpaused"), nil
}

// MoveToFront moves a queued session to queue position 1.
func (h *DownloadHandler) MoveToFront(ctx context.Context, input *SessionIDInput) (*ActionOutput, error) {
	if err := h.scheduler.MoveToFront(input.ID); err != nil {
		return nil, apiError(err)
	}
	return actionOK("download moved to front"), nil
}

// SetPositionInput is the input for reordering a queued download.
type SetPositionInput struct {
	ID   string `path:"id" doc:"Download session ID"`
	Body struct {
		Position int `json:"position" minimum:"1" doc:"Target 1-based queue position"`
	}
}

// SetPosition moves a queued session to the requested position.
func (h *DownloadHandler) SetPosition(ctx context.Context, input *SetPositionInput) (*ActionOutput, error) {
	if err := h.scheduler.ReorderQueue(input.ID, input.Body.Position); err != nil {
		return nil, apiError(err)
	}
	return actionOK("download position updated"), nil
}

// GetQueueInfoInput is the input for the queue info endpoint.
type GetQueueInfoInput struct{}

// GetQueueInfoOutput is the output for the queue info endpoint.
type GetQueueInfoOutput struct {
	Body engine.QueueInfo
}

// GetQueueInfo returns active/queued counts and the concurrency cap.
func (h *DownloadHandler) GetQueueInfo(ctx context.Context, input *GetQueueInfoInput) (*GetQueueInfoOutput, error) {
	return &GetQueueInfoOutput{Body: h.scheduler.GetQueueInfo()}, nil
}
