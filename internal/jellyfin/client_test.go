package jellyfin

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/fetcharr/internal/config"
	"github.com/jmylchreest/fetcharr/internal/httpclient"
	"github.com/jmylchreest/fetcharr/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	return NewClient(config.JellyfinConfig{
		BaseURL:  srv.URL,
		APIKey:   "secret-key",
		DeviceID: "fetcharr",
	}, httpclient.New(cfg), slog.Default())
}

func TestGetItem(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Items/abc123", r.URL.Path)
		assert.Equal(t, "secret-key", r.URL.Query().Get("api_key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Id":"abc123","Name":"Some Movie","RunTimeTicks":72000000000}`))
	}))

	item, err := client.GetItem(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "Some Movie", item.Name)
	assert.InDelta(t, 7200.0, item.DurationSeconds(), 0.01)
}

func TestGetItem_NotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.GetItem(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestGetItem_Unauthorized(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.GetItem(context.Background(), "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key")
}

func TestGetMediaSources(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Items/abc123/PlaybackInfo", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"MediaSources":[{"Id":"src1","Name":"1080p BluRay","Container":"mkv","Bitrate":18000000}]}`))
	}))

	sources, err := client.GetMediaSources(context.Background(), "abc123")
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "src1", sources[0].ID)
	assert.Equal(t, "mkv", sources[0].Container)
}

func TestBuildHLSURL(t *testing.T) {
	client := NewClient(config.JellyfinConfig{
		BaseURL:  "https://media.example.com/",
		APIKey:   "secret-key",
		DeviceID: "fetcharr",
	}, httpclient.NewWithDefaults(), slog.Default())

	preset, err := models.PresetByName("720p")
	require.NoError(t, err)

	audioIdx := 2
	raw := client.BuildHLSURL("abc123", "src1", preset, &audioIdx)
	assert.True(t, strings.HasPrefix(raw, "https://media.example.com/Videos/abc123/master.m3u8?"))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "secret-key", q.Get("api_key"))
	assert.Equal(t, "mp4", q.Get("SegmentContainer"))
	assert.Equal(t, "h264", q.Get("VideoCodec"))
	assert.Equal(t, "aac", q.Get("AudioCodec"))
	assert.Equal(t, "4000000", q.Get("VideoBitrate"))
	assert.Equal(t, "128000", q.Get("AudioBitrate"))
	assert.Equal(t, "720", q.Get("MaxHeight"))
	assert.Equal(t, "src1", q.Get("MediaSourceId"))
	assert.Equal(t, "2", q.Get("AudioStreamIndex"))
}

func TestBuildHLSURL_Optionals(t *testing.T) {
	client := NewClient(config.JellyfinConfig{
		BaseURL: "http://media.local",
		APIKey:  "k",
	}, httpclient.NewWithDefaults(), slog.Default())

	preset, err := models.PresetByName("480p")
	require.NoError(t, err)

	u, err := url.Parse(client.BuildHLSURL("abc", "", preset, nil))
	require.NoError(t, err)
	q := u.Query()
	assert.False(t, q.Has("MediaSourceId"))
	assert.False(t, q.Has("AudioStreamIndex"))
}
