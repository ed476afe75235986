// Package config loads and validates hlsloop configuration from flags,
// HLSLOOP_* environment variables and an optional YAML file.
package config

import (
	"fmt"
	"math"
	"time"

	"github.com/agleyzer/hlsloop/internal/manifest"
	"github.com/agleyzer/hlsloop/internal/window"
)

// ErrInvalidConfig marks configuration that must stop the process before the
// publish loop starts.
var ErrInvalidConfig = window.ErrInvalidConfig

// PlaylistConfig holds the settings of a single looping playlist. It is loaded
// once at startup and never modified afterwards.
type PlaylistConfig struct {
	// WindowSize is the number of segments listed in each playlist
	WindowSize int `mapstructure:"window_size"`

	// TotalSegments is the number of segments in the catalog
	TotalSegments int `mapstructure:"total_segments"`

	// SegmentDuration is the duration of every segment in seconds
	SegmentDuration float64 `mapstructure:"segment_duration"`

	// TargetDuration is the declared maximum segment duration in seconds
	TargetDuration int `mapstructure:"target_duration"`

	// PublishInterval is the delay between successful publishes
	PublishInterval time.Duration `mapstructure:"publish_interval"`

	// RetryBackoff is the delay before retrying a failed publish
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`

	// OutputPath is where the playlist is published
	OutputPath string `mapstructure:"output_path"`

	// SegmentURIPattern formats a 1-based segment index into a URI
	SegmentURIPattern string `mapstructure:"segment_uri_pattern"`
}

// Validate checks the playlist settings. All errors wrap ErrInvalidConfig.
func (c PlaylistConfig) Validate() error {
	if c.WindowSize < 1 {
		return fmt.Errorf("%w: window size must be at least 1, got %d", ErrInvalidConfig, c.WindowSize)
	}

	if c.TotalSegments < 1 {
		return fmt.Errorf("%w: total segments must be at least 1, got %d", ErrInvalidConfig, c.TotalSegments)
	}

	if c.WindowSize > c.TotalSegments {
		return fmt.Errorf("%w: window size %d exceeds total segments %d", ErrInvalidConfig, c.WindowSize, c.TotalSegments)
	}

	if c.SegmentDuration <= 0 || math.IsNaN(c.SegmentDuration) || math.IsInf(c.SegmentDuration, 0) {
		return fmt.Errorf("%w: segment duration must be positive, got %v", ErrInvalidConfig, c.SegmentDuration)
	}

	if float64(c.TargetDuration) < c.SegmentDuration {
		return fmt.Errorf("%w: target duration %d is shorter than segment duration %v", ErrInvalidConfig, c.TargetDuration, c.SegmentDuration)
	}

	if c.PublishInterval <= 0 {
		return fmt.Errorf("%w: publish interval must be positive, got %s", ErrInvalidConfig, c.PublishInterval)
	}

	if c.RetryBackoff <= 0 || c.RetryBackoff >= c.PublishInterval {
		return fmt.Errorf("%w: retry backoff %s must be positive and shorter than publish interval %s", ErrInvalidConfig, c.RetryBackoff, c.PublishInterval)
	}

	if c.OutputPath == "" {
		return fmt.Errorf("%w: output path is required", ErrInvalidConfig)
	}

	if _, err := manifest.PatternTemplate(c.SegmentURIPattern); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return nil
}

// URITemplate returns the segment URI template described by SegmentURIPattern.
func (c PlaylistConfig) URITemplate() (manifest.URITemplate, error) {
	uri, err := manifest.PatternTemplate(c.SegmentURIPattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return uri, nil
}

// WithCatalog returns a copy of c sized to a segment catalog. The target
// duration is raised when needed so it still covers the segment duration.
func (c PlaylistConfig) WithCatalog(totalSegments int, segmentDuration float64, targetDuration int) PlaylistConfig {
	c.TotalSegments = totalSegments
	c.SegmentDuration = segmentDuration
	c.TargetDuration = max(c.TargetDuration, targetDuration, int(math.Ceil(segmentDuration)))
	return c
}

// ServerConfig controls the optional HTTP server.
type ServerConfig struct {
	// Addr is the listen address; the server is disabled when empty
	Addr string `mapstructure:"addr"`

	// MediaDir is served under /media/ when set
	MediaDir string `mapstructure:"media_dir"`

	// AdsDir is served under /ads/ when set
	AdsDir string `mapstructure:"ads_dir"`
}

// Enabled reports whether the HTTP server should run.
func (s ServerConfig) Enabled() bool {
	return s.Addr != ""
}

// ClusterConfig controls Raft-based leader election between publisher nodes.
type ClusterConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	RaftID           string        `mapstructure:"raft_id"`
	BindAddr         string        `mapstructure:"bind"`
	Peers            []string      `mapstructure:"peers"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	ElectionTimeout  time.Duration `mapstructure:"election_timeout"`
}

// Config is the full process configuration.
type Config struct {
	Playlist PlaylistConfig `mapstructure:"playlist"`
	Server   ServerConfig   `mapstructure:"server"`
	Cluster  ClusterConfig  `mapstructure:"cluster"`

	// SourcePlaylist optionally points at a VOD media playlist used to size
	// the catalog
	SourcePlaylist string `mapstructure:"source_playlist"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`

	// ConfigFile is the YAML file the configuration was read from, if any
	ConfigFile string `mapstructure:"config"`
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := c.Playlist.Validate(); err != nil {
		return err
	}

	if c.Cluster.Enabled {
		if c.Cluster.RaftID == "" {
			return fmt.Errorf("%w: raft-id is required in cluster mode", ErrInvalidConfig)
		}
		if c.Cluster.BindAddr == "" {
			return fmt.Errorf("%w: raft-bind is required in cluster mode", ErrInvalidConfig)
		}
	}

	return nil
}
