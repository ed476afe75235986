// Package parser reads HLS media playlists: the live playlist published by
// hlsloop and the static VOD playlists used to size a segment catalog.
package parser

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/agleyzer/hlsloop/internal/manifest"
	"github.com/agleyzer/hlsloop/internal/segment"
	"github.com/grafov/m3u8"
)

// ManifestInfo contains the parsed media playlist information.
type ManifestInfo struct {
	// Version is the EXT-X-VERSION value
	Version uint8

	// TargetDuration is the EXT-X-TARGETDURATION value in seconds
	TargetDuration int

	// MediaSequence is the EXT-X-MEDIA-SEQUENCE value
	MediaSequence uint64

	// Segments lists the playlist entries in order
	Segments []segment.Segment

	// Closed is true when the playlist carries EXT-X-ENDLIST
	Closed bool
}

// Catalog summarises a static playlist used as the looping source.
type Catalog struct {
	// Segments contains every segment of the source playlist
	Segments []segment.Segment

	// MaxDuration is the longest segment duration in seconds
	MaxDuration float64

	// TargetDuration is the source's target duration, or the rounded-up
	// maximum segment duration when the source omits it
	TargetDuration int
}

// ParseManifest decodes a media playlist.
func ParseManifest(r io.Reader) (*ManifestInfo, error) {
	playlist, listType, err := m3u8.DecodeFrom(r, true)
	if err != nil {
		return nil, fmt.Errorf("failed to parse playlist: %w", err)
	}

	if listType != m3u8.MEDIA {
		return nil, fmt.Errorf("expected media playlist, got master playlist")
	}

	mediaPlaylist, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, fmt.Errorf("unexpected playlist type")
	}

	return &ManifestInfo{
		Version:        mediaPlaylist.Version(),
		TargetDuration: int(mediaPlaylist.TargetDuration),
		MediaSequence:  mediaPlaylist.SeqNo,
		Segments:       extractSegments(mediaPlaylist),
		Closed:         mediaPlaylist.Closed,
	}, nil
}

// ParseManifestFile decodes the media playlist stored at path.
func ParseManifestFile(path string) (*ManifestInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open playlist: %w", err)
	}
	defer f.Close()

	return ParseManifest(f)
}

// URITemplate returns a template that publishes the catalog's own segment
// URIs. Indices are 1-based.
func (c *Catalog) URITemplate() manifest.URITemplate {
	return func(index int) string {
		return c.Segments[index-1].URI
	}
}

// ParseCatalog loads a static media playlist from a local path or an
// http(s) URL. Segment URIs of a remote playlist are resolved against its
// URL; those of a local file are kept as written.
func ParseCatalog(ctx context.Context, location string) (*Catalog, error) {
	body, err := open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	info, err := ParseManifest(body)
	if err != nil {
		return nil, err
	}

	if len(info.Segments) == 0 {
		return nil, fmt.Errorf("playlist contains no segments")
	}

	if isRemote(location) {
		for i := range info.Segments {
			resolved, err := resolveURL(location, info.Segments[i].URI)
			if err != nil {
				return nil, fmt.Errorf("segment %d: %w", info.Segments[i].Index, err)
			}
			info.Segments[i].URI = resolved
		}
	}

	maxDuration := 0.0
	for _, seg := range info.Segments {
		if seg.Duration > maxDuration {
			maxDuration = seg.Duration
		}
	}

	targetDuration := info.TargetDuration
	if targetDuration == 0 {
		// If target duration is not set, use the max segment duration
		targetDuration = int(math.Ceil(maxDuration))
	}

	return &Catalog{
		Segments:       info.Segments,
		MaxDuration:    maxDuration,
		TargetDuration: targetDuration,
	}, nil
}

func extractSegments(mediaPlaylist *m3u8.MediaPlaylist) []segment.Segment {
	var segments []segment.Segment
	for i, seg := range mediaPlaylist.Segments {
		if seg == nil {
			break
		}

		segments = append(segments, segment.Segment{
			Index:    i + 1,
			URI:      seg.URI,
			Duration: seg.Duration,
		})
	}
	return segments
}

// open returns a reader for a file path or an http(s) URL.
func open(ctx context.Context, location string) (io.ReadCloser, error) {
	if !isRemote(location) {
		f, err := os.Open(strings.TrimPrefix(location, "file://"))
		if err != nil {
			return nil, fmt.Errorf("failed to open playlist: %w", err)
		}
		return f, nil
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch playlist: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch playlist: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch playlist: HTTP %d", resp.StatusCode)
	}

	return resp.Body, nil
}

func isRemote(location string) bool {
	u, err := url.Parse(location)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

// resolveURL resolves a possibly relative URL against a base URL.
func resolveURL(baseURL, relativeURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	rel, err := url.Parse(relativeURL)
	if err != nil {
		return "", fmt.Errorf("invalid relative URL: %w", err)
	}

	return base.ResolveReference(rel).String(), nil
}
