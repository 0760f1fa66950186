package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/fetcharr/internal/models"
	"github.com/jmylchreest/fetcharr/internal/retention"
	"github.com/jmylchreest/fetcharr/internal/store"
)

// StreamHandler serves finished MP4 files with HTTP Range support.
type StreamHandler struct {
	store  *store.Store
	guard  *retention.ServeGuard
	logger *slog.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(st *store.Store, guard *retention.ServeGuard, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		store:  st,
		guard:  guard,
		logger: logger,
	}
}

// Register registers documentation-only operations for the stream endpoint.
// The actual request handling is done by a raw Chi handler (RegisterChiRoutes)
// because Range/206 negotiation needs http.ServeContent, which Huma's
// response model cannot express.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "streamDownload",
		Method:      "GET",
		Path:        "/api/v1/downloads/stream/{id}",
		Summary:     "Stream a completed download",
		Description: "Serves the final MP4 file. Supports HTTP Range requests (200/206/416 with Content-Range). Returns 404 for unknown sessions and 409 for sessions that have not completed",
		Tags:        []string{"Downloads"},
		Responses: map[string]*huma.Response{
			"200": {Description: "Full file", Content: map[string]*huma.MediaType{"video/mp4": {}}},
			"206": {Description: "Partial content", Content: map[string]*huma.MediaType{"video/mp4": {}}},
		},
	}, h.streamDocsHandler)
}

// RegisterChiRoutes registers the streaming route as a raw Chi handler.
func (h *StreamHandler) RegisterChiRoutes(router chi.Router) {
	router.Get("/api/v1/downloads/stream/{id}", h.handleStream)
}

// StreamDocsInput documents the stream endpoint's parameters.
type StreamDocsInput struct {
	ID    string `path:"id" doc:"Download session ID"`
	Range string `header:"Range" doc:"Optional byte range, e.g. bytes=0-1023" required:"false"`
}

// streamDocsHandler is a no-op handler for the documentation-only
// registration. Chi matches the route before Huma ever sees it.
func (h *StreamHandler) streamDocsHandler(ctx context.Context, input *StreamDocsInput) (*huma.StreamResponse, error) {
	return nil, huma.Error500InternalServerError("this endpoint is handled by a raw Chi handler")
}

// handleStream serves the final file for a completed session.
func (h *StreamHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, err := h.store.Get(id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "download session not found")
		return
	}
	if session.Status != models.StatusCompleted {
		writeJSONError(w, http.StatusConflict, fmt.Sprintf("download is %s, not completed", session.Status))
		return
	}

	// Hold a serve reference so the retention sweeper does not delete the
	// file out from under an active reader.
	release := h.guard.Acquire(id)
	defer release()

	path, err := h.store.Sandbox().ResolvePath(store.SessionFilePath(id, session.Filename))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "resolving file path")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		h.logger.Error("final file missing for completed session",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		writeJSONError(w, http.StatusNotFound, "download file not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "reading file info")
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", session.Filename))
	http.ServeContent(w, r, session.Filename, info.ModTime(), f)
}

// writeJSONError writes a minimal JSON error body for raw Chi handlers.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"detail": message,
	})
}
