package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment variable names, e.g. HLSLOOP_PLAYLIST_WINDOW_SIZE.
const EnvPrefix = "HLSLOOP"

// ErrHelp is returned by Load when -h or --help was requested.
var ErrHelp = pflag.ErrHelp

// Defaults mirror the catalog the tool was first built for: 59 ten-second
// segments published ten at a time.
var defaults = Config{
	Playlist: PlaylistConfig{
		WindowSize:        10,
		TotalSegments:     59,
		SegmentDuration:   10.0,
		TargetDuration:    12,
		PublishInterval:   10 * time.Second,
		RetryBackoff:      1 * time.Second,
		OutputPath:        "manifests/input.m3u8",
		SegmentURIPattern: "/media/1080p/segment_%03d.ts",
	},
	Server: ServerConfig{
		MediaDir: "media",
	},
	Cluster: ClusterConfig{
		HeartbeatTimeout: 1 * time.Second,
		ElectionTimeout:  1 * time.Second,
	},
	LogLevel: "info",
}

// flag name -> configuration key
var flagKeys = map[string]string{
	"window-size":       "playlist.window_size",
	"total-segments":    "playlist.total_segments",
	"segment-duration":  "playlist.segment_duration",
	"target-duration":   "playlist.target_duration",
	"interval":          "playlist.publish_interval",
	"retry-backoff":     "playlist.retry_backoff",
	"output":            "playlist.output_path",
	"segment-uri":       "playlist.segment_uri_pattern",
	"source-playlist":   "source_playlist",
	"http-addr":         "server.addr",
	"media-dir":         "server.media_dir",
	"ads-dir":           "server.ads_dir",
	"cluster":           "cluster.enabled",
	"raft-id":           "cluster.raft_id",
	"raft-bind":         "cluster.bind",
	"raft-peers":        "cluster.peers",
	"heartbeat-timeout": "cluster.heartbeat_timeout",
	"election-timeout":  "cluster.election_timeout",
	"log-level":         "log_level",
	"config":            "config",
}

// NewFlagSet declares every command-line flag with its default value.
func NewFlagSet(name string, output io.Writer) *pflag.FlagSet {
	d := defaults
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(output)

	fs.Int("window-size", d.Playlist.WindowSize, "Number of segments in sliding window")
	fs.Int("total-segments", d.Playlist.TotalSegments, "Number of segments in the catalog")
	fs.Float64("segment-duration", d.Playlist.SegmentDuration, "Duration of every segment in seconds")
	fs.Int("target-duration", d.Playlist.TargetDuration, "EXT-X-TARGETDURATION value in seconds")
	fs.Duration("interval", d.Playlist.PublishInterval, "Delay between playlist updates")
	fs.Duration("retry-backoff", d.Playlist.RetryBackoff, "Delay before retrying a failed update")
	fs.String("output", d.Playlist.OutputPath, "Path of the published playlist")
	fs.String("segment-uri", d.Playlist.SegmentURIPattern, "printf pattern turning a 1-based segment index into a URI")
	fs.String("source-playlist", "", "Optional VOD playlist (file or URL) used to size the catalog")
	fs.String("http-addr", d.Server.Addr, "Serve manifests and media on this address (disabled if empty)")
	fs.String("media-dir", d.Server.MediaDir, "Directory served under /media/")
	fs.String("ads-dir", d.Server.AdsDir, "Directory served under /ads/ (disabled if empty)")
	fs.Bool("cluster", false, "Elect a single publisher among peers with Raft")
	fs.String("raft-id", "", "Raft node ID")
	fs.String("raft-bind", "", "Raft bind address (host:port)")
	fs.StringSlice("raft-peers", nil, "Raft peers as id=host:port, including this node")
	fs.Duration("heartbeat-timeout", d.Cluster.HeartbeatTimeout, "Raft heartbeat timeout")
	fs.Duration("election-timeout", d.Cluster.ElectionTimeout, "Raft election timeout")
	fs.String("log-level", d.LogLevel, "Log level (debug, info, warn, error)")
	fs.String("config", "", "Optional YAML configuration file")

	return fs
}

// Load parses args and merges flags, environment and the optional config file,
// in that order of precedence, over the built-in defaults.
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read config file %s: %v", ErrInvalidConfig, file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decode configuration: %v", ErrInvalidConfig, err)
	}

	return &cfg, nil
}
