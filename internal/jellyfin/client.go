// Package jellyfin talks to the upstream media server: item metadata, media
// source discovery, and construction of the HLS transcode URL the download
// engine consumes.
package jellyfin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jmylchreest/fetcharr/internal/config"
	"github.com/jmylchreest/fetcharr/internal/httpclient"
	"github.com/jmylchreest/fetcharr/internal/models"
	"github.com/jmylchreest/fetcharr/internal/observability"
)

// ticksPerSecond is the upstream's RunTimeTicks unit (100ns ticks).
const ticksPerSecond = 10_000_000

// ErrItemNotFound is returned when the upstream does not know the item.
var ErrItemNotFound = fmt.Errorf("item not found")

// Item is the subset of upstream item metadata the downloader needs.
type Item struct {
	ID           string `json:"Id"`
	Name         string `json:"Name"`
	RunTimeTicks int64  `json:"RunTimeTicks"`
}

// DurationSeconds converts RunTimeTicks into seconds.
func (i *Item) DurationSeconds() float64 {
	return float64(i.RunTimeTicks) / ticksPerSecond
}

// MediaSource is one playable source of an item.
type MediaSource struct {
	ID        string `json:"Id"`
	Name      string `json:"Name"`
	Container string `json:"Container"`
	Bitrate   int64  `json:"Bitrate"`
}

// Client is the upstream surface the scheduler's callers depend on. Tests
// substitute a fake.
type Client interface {
	GetItem(ctx context.Context, itemID string) (*Item, error)
	GetMediaSources(ctx context.Context, itemID string) ([]MediaSource, error)
	BuildHLSURL(itemID, mediaSourceID string, preset models.TranscodePreset, audioStreamIndex *int) string
}

// HTTPClient implements Client over the upstream REST API with api_key auth.
type HTTPClient struct {
	baseURL  string
	apiKey   string
	deviceID string
	http     *httpclient.Client
	logger   *slog.Logger
}

// NewClient creates an upstream client from configuration.
func NewClient(cfg config.JellyfinConfig, hc *httpclient.Client, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		deviceID: cfg.DeviceID,
		http:     hc,
		logger:   observability.WithComponent(logger, "jellyfin"),
	}
}

// GetItem fetches item metadata (display name and runtime).
func (c *HTTPClient) GetItem(ctx context.Context, itemID string) (*Item, error) {
	var item Item
	if err := c.getJSON(ctx, "/Items/"+url.PathEscape(itemID), &item); err != nil {
		return nil, err
	}
	if item.ID == "" {
		item.ID = itemID
	}
	return &item, nil
}

// GetMediaSources fetches the playable sources of an item.
func (c *HTTPClient) GetMediaSources(ctx context.Context, itemID string) ([]MediaSource, error) {
	var payload struct {
		MediaSources []MediaSource `json:"MediaSources"`
	}
	if err := c.getJSON(ctx, "/Items/"+url.PathEscape(itemID)+"/PlaybackInfo", &payload); err != nil {
		return nil, err
	}
	return payload.MediaSources, nil
}

// BuildHLSURL constructs the master playlist URL with the transcode
// parameters baked in. The upstream transcodes fMP4 segments just-in-time as
// they are requested.
func (c *HTTPClient) BuildHLSURL(itemID, mediaSourceID string, preset models.TranscodePreset, audioStreamIndex *int) string {
	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("DeviceId", c.deviceID)
	q.Set("SegmentContainer", "mp4")
	q.Set("VideoCodec", preset.VideoCodec)
	q.Set("AudioCodec", preset.AudioCodec)
	q.Set("VideoBitrate", strconv.Itoa(preset.VideoBitrate))
	q.Set("AudioBitrate", strconv.Itoa(preset.AudioBitrate))
	q.Set("MaxHeight", strconv.Itoa(preset.MaxHeight))
	if mediaSourceID != "" {
		q.Set("MediaSourceId", mediaSourceID)
	}
	if audioStreamIndex != nil {
		q.Set("AudioStreamIndex", strconv.Itoa(*audioStreamIndex))
	}
	return fmt.Sprintf("%s/Videos/%s/master.m3u8?%s", c.baseURL, url.PathEscape(itemID), q.Encode())
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	u := c.baseURL + path + "?api_key=" + url.QueryEscape(c.apiKey)

	resp, err := c.http.Get(ctx, u)
	if err != nil {
		return fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrItemNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("upstream rejected api key (status %d)", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading upstream response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding upstream response: %w", err)
	}
	return nil
}
