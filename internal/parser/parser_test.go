package parser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const livePlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:12
#EXT-X-MEDIA-SEQUENCE:7
#EXTINF:10.0,
/media/1080p/segment_008.ts
#EXTINF:10.0,
/media/1080p/segment_009.ts
#EXTINF:10.0,
/media/1080p/segment_010.ts
`

const vodPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:7
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-PLAYLIST-TYPE:VOD
#EXTINF:6.006,
segment_001.ts
#EXTINF:6.006,
segment_002.ts
#EXTINF:4.5,
segment_003.ts
#EXT-X-ENDLIST
`

const masterPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1280x720
720p.m3u8
`

func TestParseManifest(t *testing.T) {
	info, err := ParseManifest(strings.NewReader(livePlaylist))
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}

	if info.Version != 3 {
		t.Errorf("Version = %d, want 3", info.Version)
	}
	if info.TargetDuration != 12 {
		t.Errorf("TargetDuration = %d, want 12", info.TargetDuration)
	}
	if info.MediaSequence != 7 {
		t.Errorf("MediaSequence = %d, want 7", info.MediaSequence)
	}
	if info.Closed {
		t.Error("live playlist should not be closed")
	}
	if len(info.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(info.Segments))
	}
	if info.Segments[0].URI != "/media/1080p/segment_008.ts" {
		t.Errorf("segment 0 URI = %q", info.Segments[0].URI)
	}
	if info.Segments[2].Duration != 10.0 {
		t.Errorf("segment 2 duration = %v, want 10.0", info.Segments[2].Duration)
	}
}

func TestParseManifest_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"not a playlist", "hello world\n"},
		{"master playlist", masterPlaylist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseManifest(strings.NewReader(tt.content)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestParseManifestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.m3u8")
	if err := os.WriteFile(path, []byte(livePlaylist), 0644); err != nil {
		t.Fatalf("failed to write playlist: %v", err)
	}

	info, err := ParseManifestFile(path)
	if err != nil {
		t.Fatalf("ParseManifestFile() error = %v", err)
	}
	if len(info.Segments) != 3 {
		t.Errorf("expected 3 segments, got %d", len(info.Segments))
	}

	if _, err := ParseManifestFile(filepath.Join(t.TempDir(), "missing.m3u8")); err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestParseCatalog_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vod.m3u8")
	if err := os.WriteFile(path, []byte(vodPlaylist), 0644); err != nil {
		t.Fatalf("failed to write playlist: %v", err)
	}

	catalog, err := ParseCatalog(context.Background(), path)
	if err != nil {
		t.Fatalf("ParseCatalog() error = %v", err)
	}

	if len(catalog.Segments) != 3 {
		t.Errorf("expected 3 segments, got %d", len(catalog.Segments))
	}
	if catalog.MaxDuration != 6.006 {
		t.Errorf("MaxDuration = %v, want 6.006", catalog.MaxDuration)
	}
	if catalog.TargetDuration != 7 {
		t.Errorf("TargetDuration = %d, want 7", catalog.TargetDuration)
	}
	if catalog.Segments[2].Index != 3 {
		t.Errorf("segment 2 index = %d, want 3", catalog.Segments[2].Index)
	}
}

func TestParseCatalog_HTTP(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vod.m3u8" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte(vodPlaylist))
	}))
	defer ts.Close()

	catalog, err := ParseCatalog(context.Background(), ts.URL+"/vod.m3u8")
	if err != nil {
		t.Fatalf("ParseCatalog() error = %v", err)
	}
	if len(catalog.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(catalog.Segments))
	}
	if got, want := catalog.Segments[0].URI, ts.URL+"/segment_001.ts"; got != want {
		t.Errorf("segment URI = %q, want %q", got, want)
	}

	if _, err := ParseCatalog(context.Background(), ts.URL+"/missing.m3u8"); err == nil {
		t.Error("expected error for HTTP 404, got nil")
	}
}

func TestParseCatalog_NoSegments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.m3u8")
	content := "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXT-X-ENDLIST\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write playlist: %v", err)
	}

	if _, err := ParseCatalog(context.Background(), path); err == nil {
		t.Error("expected error for playlist without segments, got nil")
	}
}

func TestCatalog_URITemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vod.m3u8")
	if err := os.WriteFile(path, []byte(vodPlaylist), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	catalog, err := ParseCatalog(context.Background(), path)
	if err != nil {
		t.Fatalf("ParseCatalog() error = %v", err)
	}

	uri := catalog.URITemplate()
	tests := []struct {
		index int
		want  string
	}{
		{1, "segment_001.ts"},
		{2, "segment_002.ts"},
		{3, "segment_003.ts"},
	}
	for _, tt := range tests {
		if got := uri(tt.index); got != tt.want {
			t.Errorf("uri(%d) = %q, want %q", tt.index, got, tt.want)
		}
	}
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base string
		rel  string
		want string
	}{
		{"http://cdn.example.com/vod/index.m3u8", "seg1.ts", "http://cdn.example.com/vod/seg1.ts"},
		{"http://cdn.example.com/vod/index.m3u8", "/other/seg1.ts", "http://cdn.example.com/other/seg1.ts"},
		{"http://cdn.example.com/vod/index.m3u8", "https://media.example.com/seg1.ts", "https://media.example.com/seg1.ts"},
	}
	for _, tt := range tests {
		got, err := resolveURL(tt.base, tt.rel)
		if err != nil {
			t.Errorf("resolveURL(%q, %q) error = %v", tt.base, tt.rel, err)
			continue
		}
		if got != tt.want {
			t.Errorf("resolveURL(%q, %q) = %q, want %q", tt.base, tt.rel, got, tt.want)
		}
	}
}
