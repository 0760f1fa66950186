package handlers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/fetcharr/internal/engine"
	"github.com/jmylchreest/fetcharr/internal/hls"
	"github.com/jmylchreest/fetcharr/internal/httpclient"
	"github.com/jmylchreest/fetcharr/internal/jellyfin"
	"github.com/jmylchreest/fetcharr/internal/models"
	"github.com/jmylchreest/fetcharr/internal/storage"
	"github.com/jmylchreest/fetcharr/internal/store"
)

// fakeUpstream is a canned jellyfin.Client for handler tests.
type fakeUpstream struct {
	items   map[string]*jellyfin.Item
	sources map[string][]jellyfin.MediaSource
}

func (f *fakeUpstream) GetItem(ctx context.Context, itemID string) (*jellyfin.Item, error) {
	item, ok := f.items[itemID]
	if !ok {
		return nil, jellyfin.ErrItemNotFound
	}
	return item, nil
}

func (f *fakeUpstream) GetMediaSources(ctx context.Context, itemID string) ([]jellyfin.MediaSource, error) {
	return f.sources[itemID], nil
}

func (f *fakeUpstream) BuildHLSURL(itemID, mediaSourceID string, preset models.TranscodePreset, audioStreamIndex *int) string {
	return fmt.Sprintf("http://upstream/Videos/%s/master.m3u8?preset=%s", itemID, preset.Name)
}

// stubParser fails every parse; start-request handling never parses, so
// enqueued sessions simply end up failed in the background.
type stubParser struct{}

func (stubParser) Parse(ctx context.Context, masterURL string) (*hls.Manifest, error) {
	return nil, errors.New("no upstream in this test")
}

type noopRemuxer struct{}

func (noopRemuxer) Available() bool                           { return true }
func (noopRemuxer) Remux(ctx context.Context, in, out string) error { return nil }

func newDownloadFixture(t *testing.T) (*DownloadHandler, *engine.Scheduler) {
	t.Helper()

	sandbox, err := storage.NewSandbox(t.TempDir())
	if err != nil {
		t.Fatalf("creating sandbox: %v", err)
	}
	st := store.New(sandbox, nil)

	client := httpclient.New(httpclient.DefaultConfig())
	fetcher := engine.NewFetcher(client, sandbox, engine.DefaultFetcherConfig(), nil)
	driver := engine.NewDriver(fetcher, 3, nil)

	scheduler := engine.NewScheduler(st, stubParser{}, driver, noopRemuxer{}, nil, 1, nil)
	t.Cleanup(func() { _ = scheduler.Shutdown(context.Background()) })

	upstream := &fakeUpstream{
		items: map[string]*jellyfin.Item{
			"item-1": {ID: "item-1", Name: "Some Movie", RunTimeTicks: 72_000_000_000},
		},
		sources: map[string][]jellyfin.MediaSource{
			"item-1": {{ID: "src-1", Name: "1080p remux", Container: "mkv"}},
		},
	}

	return NewDownloadHandler(scheduler, upstream, nil), scheduler
}

// assertStatus fails the test unless err carries the given HTTP status.
func assertStatus(t *testing.T, err error, want int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d, got nil", want)
	}
	var se huma.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected huma status error, got %T: %v", err, err)
	}
	if se.GetStatus() != want {
		t.Fatalf("expected status %d, got %d (%v)", want, se.GetStatus(), err)
	}
}

func TestDownloadHandler_StartDownload(t *testing.T) {
	handler, _ := newDownloadFixture(t)

	input := &StartDownloadInput{}
	input.Body.ItemID = "item-1"
	input.Body.Preset = "720p"

	output, err := handler.StartDownload(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if output.Body.SessionID == "" {
		t.Error("expected non-empty session id")
	}
	if output.Body.Filename != "Some Movie.mp4" {
		t.Errorf("expected sanitized filename, got '%s'", output.Body.Filename)
	}

	// 7200s at 720p (4 Mbps video + 128 kbps audio).
	wantSize := int64(7200 * (4_000_000 + 128_000) / 8)
	if output.Body.EstimatedSizeBytes != wantSize {
		t.Errorf("expected estimated size %d, got %d", wantSize, output.Body.EstimatedSizeBytes)
	}
}

func TestDownloadHandler_StartDownload_Validation(t *testing.T) {
	handler, _ := newDownloadFixture(t)

	t.Run("missing item id", func(t *testing.T) {
		input := &StartDownloadInput{}
		input.Body.ItemID = "   "
		_, err := handler.StartDownload(context.Background(), input)
		assertStatus(t, err, 400)
	})

	t.Run("unknown preset", func(t *testing.T) {
		input := &StartDownloadInput{}
		input.Body.ItemID = "item-1"
		input.Body.Preset = "4k-ultra"
		_, err := handler.StartDownload(context.Background(), input)
		assertStatus(t, err, 400)
	})

	t.Run("unknown item", func(t *testing.T) {
		input := &StartDownloadInput{}
		input.Body.ItemID = "nope"
		_, err := handler.StartDownload(context.Background(), input)
		assertStatus(t, err, 404)
	})

	t.Run("unknown media source", func(t *testing.T) {
		input := &StartDownloadInput{}
		input.Body.ItemID = "item-1"
		input.Body.MediaSourceID = "src-missing"
		_, err := handler.StartDownload(context.Background(), input)
		assertStatus(t, err, 400)
	})

	t.Run("known media source", func(t *testing.T) {
		input := &StartDownloadInput{}
		input.Body.ItemID = "item-1"
		input.Body.MediaSourceID = "src-1"
		output, err := handler.StartDownload(context.Background(), input)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if output.Body.SessionID == "" {
			t.Error("expected non-empty session id")
		}
	})
}

func TestDownloadHandler_DefaultPreset(t *testing.T) {
	handler, scheduler := newDownloadFixture(t)

	input := &StartDownloadInput{}
	input.Body.ItemID = "item-1"

	output, err := handler.StartDownload(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	session, err := scheduler.GetProgress(output.Body.SessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Preset != "720p" {
		t.Errorf("expected default preset 720p, got '%s'", session.Preset)
	}
}

func TestDownloadHandler_GetProgress_NotFound(t *testing.T) {
	handler, _ := newDownloadFixture(t)

	_, err := handler.GetProgress(context.Background(), &SessionIDInput{ID: "missing"})
	assertStatus(t, err, 404)
}

func TestDownloadHandler_CancelIsIdempotent(t *testing.T) {
	handler, _ := newDownloadFixture(t)

	output, err := handler.CancelDownload(context.Background(), &SessionIDInput{ID: "never-existed"})
	if err != nil {
		t.Fatalf("expected idempotent cancel, got: %v", err)
	}
	if !output.Body.Success {
		t.Error("expected success acknowledgement")
	}
}

func TestDownloadHandler_SetPosition_NotQueued(t *testing.T) {
	handler, _ := newDownloadFixture(t)

	input := &SetPositionInput{ID: "missing"}
	input.Body.Position = 1
	_, err := handler.SetPosition(context.Background(), input)
	assertStatus(t, err, 404)
}

func TestDownloadHandler_ListAndQueueInfo(t *testing.T) {
	handler, _ := newDownloadFixture(t)

	start := &StartDownloadInput{}
	start.Body.ItemID = "item-1"
	if _, err := handler.StartDownload(context.Background(), start); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list, err := handler.ListDownloads(context.Background(), &ListDownloadsInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list.Body.Downloads) != 1 {
		t.Fatalf("expected 1 download, got %d", len(list.Body.Downloads))
	}

	info, err := handler.GetQueueInfo(context.Background(), &GetQueueInfoInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Body.MaxConcurrent != 1 {
		t.Errorf("expected max concurrent 1, got %d", info.Body.MaxConcurrent)
	}
	if info.Body.Active+info.Body.Queued != 1 {
		t.Errorf("expected the one session active or queued, got active=%d queued=%d",
			info.Body.Active, info.Body.Queued)
	}
}
