// Package hls resolves an upstream HLS master URL into the flat list of
// fMP4 segment URLs a download session works through.
package hls

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/jmylchreest/fetcharr/internal/httpclient"
	"github.com/jmylchreest/fetcharr/internal/models"
	"github.com/jmylchreest/fetcharr/internal/observability"
)

// Manifest is the parsed, flattened view of one stream: an optional init
// segment plus dense, ordered media segments.
type Manifest struct {
	// InitURL is the EXT-X-MAP URI resolved to an absolute URL, or "" when
	// the stream carries no init segment.
	InitURL string

	// Segments are indexed 0..n-1 in playlist order; the index defines
	// concatenation order.
	Segments []models.HLSSegment
}

// Parser fetches and parses playlists. Stateless; safe for concurrent use.
type Parser struct {
	client *httpclient.Client
	logger *slog.Logger
}

// NewParser creates a playlist parser over the given HTTP client.
func NewParser(client *httpclient.Client, logger *slog.Logger) *Parser {
	return &Parser{
		client: client,
		logger: observability.WithComponent(logger, "hls"),
	}
}

// Parse fetches masterURL and resolves it to a Manifest. A master
// (multivariant) playlist is followed to its first variant; a URL that
// parses directly as a media playlist is used as-is.
func (p *Parser) Parse(ctx context.Context, masterURL string) (*Manifest, error) {
	data, err := p.fetch(ctx, masterURL)
	if err != nil {
		return nil, err
	}

	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, models.Downloadf(models.ErrorKindPermanentUpstream, "parsing playlist: %w", err)
	}

	mediaURL := masterURL
	var media *playlist.Media

	switch v := pl.(type) {
	case *playlist.Media:
		media = v

	case *playlist.Multivariant:
		if len(v.Variants) == 0 {
			return nil, models.Downloadf(models.ErrorKindPermanentUpstream, "master playlist has no variants")
		}
		// The upstream transcoder emits exactly one variant; take the first.
		mediaURL = absolutizeURL(masterURL, v.Variants[0].URI)
		variantData, err := p.fetch(ctx, mediaURL)
		if err != nil {
			return nil, err
		}
		variantPL, err := playlist.Unmarshal(variantData)
		if err != nil {
			return nil, models.Downloadf(models.ErrorKindPermanentUpstream, "parsing variant playlist: %w", err)
		}
		m, ok := variantPL.(*playlist.Media)
		if !ok {
			return nil, models.Downloadf(models.ErrorKindPermanentUpstream, "variant playlist is not a media playlist")
		}
		media = m

	default:
		return nil, models.Downloadf(models.ErrorKindPermanentUpstream, "unrecognized playlist type %T", pl)
	}

	manifest := &Manifest{}
	if media.Map != nil && media.Map.URI != "" {
		manifest.InitURL = absolutizeURL(mediaURL, media.Map.URI)
	}

	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		manifest.Segments = append(manifest.Segments, models.HLSSegment{
			Index:    uint32(len(manifest.Segments)),
			URL:      absolutizeURL(mediaURL, seg.URI),
			Duration: seg.Duration.Seconds(),
		})
	}

	if len(manifest.Segments) == 0 {
		return nil, models.NewDownloadError(models.ErrorKindPermanentUpstream, models.ErrNoSegments)
	}

	p.logger.Debug("playlist parsed",
		slog.Int("segments", len(manifest.Segments)),
		slog.Bool("has_init", manifest.InitURL != ""))

	return manifest, nil
}

func (p *Parser) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := p.client.Get(ctx, rawURL)
	if err != nil {
		return nil, models.Downloadf(models.ErrorKindTransientNetwork, "fetching playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, models.Downloadf(models.ErrorKindAuthExpired, "playlist fetch returned %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, models.Downloadf(models.ErrorKindPermanentUpstream, "playlist fetch returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.Downloadf(models.ErrorKindTransientNetwork, "reading playlist body: %w", err)
	}
	return data, nil
}

// absolutizeURL converts a relative URL to absolute based on the playlist URL.
func absolutizeURL(playlistURL, refURL string) string {
	if strings.HasPrefix(refURL, "http://") || strings.HasPrefix(refURL, "https://") {
		return refURL
	}

	base, err := url.Parse(playlistURL)
	if err != nil {
		if idx := strings.LastIndex(playlistURL, "/"); idx >= 0 {
			return playlistURL[:idx+1] + refURL
		}
		return refURL
	}

	ref, err := url.Parse(refURL)
	if err != nil {
		return refURL
	}

	return base.ResolveReference(ref).String()
}
