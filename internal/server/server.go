// Package server exposes the published playlist, the media segments and a
// health endpoint over HTTP. It only reads what the publisher has written.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agleyzer/hlsloop/internal/parser"
	"github.com/agleyzer/hlsloop/internal/publisher"
)

// StatsProvider reports publisher statistics.
type StatsProvider interface {
	Stats() publisher.Stats
}

// ClusterStatus reports this node's role when running in cluster mode.
type ClusterStatus interface {
	NodeID() string
	State() string
	IsLeader() bool
	LeaderAddr() string
}

// Options configures a Server.
type Options struct {
	// Addr is the listen address, e.g. ":8080"
	Addr string

	// ManifestPath is the published playlist; its directory is served under /manifests/
	ManifestPath string

	// MediaDir is served under /media/ when set
	MediaDir string

	// AdsDir is served under /ads/ when set
	AdsDir string

	// Cluster is optional
	Cluster ClusterStatus
}

// Server serves the live HLS playlist
type Server struct {
	stats      StatsProvider
	opts       Options
	logger     *slog.Logger
	httpServer *http.Server
}

// New creates a new HTTP server
func New(stats StatsProvider, opts Options, logger *slog.Logger) *Server {
	return &Server{
		stats:  stats,
		opts:   opts,
		logger: logger,
	}
}

// Handler returns the server's routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/manifests/", serveDir("/manifests/", filepath.Dir(s.opts.ManifestPath)))
	if s.opts.MediaDir != "" {
		mux.Handle("/media/", serveDir("/media/", s.opts.MediaDir))
	}
	if s.opts.AdsDir != "" {
		mux.Handle("/ads/", serveDir("/ads/", s.opts.AdsDir))
	}
	mux.HandleFunc("/playlist.m3u8", s.handlePlaylist)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleIndex)

	return s.loggingMiddleware(mux)
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.opts.Addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)

	// Start server in a goroutine
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.opts.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	// Graceful shutdown
	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

// handlePlaylist serves the most recently published playlist
func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	content, err := os.ReadFile(s.opts.ManifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "playlist not published yet", http.StatusServiceUnavailable)
			return
		}
		s.logger.Error("failed to read playlist", "path", s.opts.ManifestPath, "error", err)
		http.Error(w, "failed to read playlist", http.StatusInternalServerError)
		return
	}

	setLiveHeaders(w)
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}

// handleHealth serves health check information
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	health := map[string]any{
		"stats": s.stats.Stats(),
	}

	if info, err := parser.ParseManifestFile(s.opts.ManifestPath); err != nil {
		health["manifest_error"] = err.Error()
		// A standby node has nothing to publish and is still healthy.
		if !s.stats.Stats().Standby {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	} else {
		health["manifest"] = map[string]any{
			"media_sequence":  info.MediaSequence,
			"segments":        len(info.Segments),
			"target_duration": info.TargetDuration,
		}
	}

	if c := s.opts.Cluster; c != nil {
		health["cluster"] = map[string]any{
			"node_id":   c.NodeID(),
			"state":     c.State(),
			"is_leader": c.IsLeader(),
			"leader":    c.LeaderAddr(),
		}
	}

	health["status"] = status

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}

// handleIndex lists the available endpoints
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "hlsloop\n\n")
	fmt.Fprintf(w, "/playlist.m3u8  live playlist\n")
	fmt.Fprintf(w, "/manifests/     %s\n", filepath.Base(s.opts.ManifestPath))
	if s.opts.MediaDir != "" {
		fmt.Fprintf(w, "/media/         media segments\n")
	}
	if s.opts.AdsDir != "" {
		fmt.Fprintf(w, "/ads/           advertisement files\n")
	}
	fmt.Fprintf(w, "/health         publisher status\n")
}

// serveDir serves dir under prefix with live headers. Dot files, such as the
// temporary file of an in-flight publish, are hidden.
func serveDir(prefix, dir string) http.Handler {
	return liveHeaders(http.StripPrefix(prefix, hideDotFiles(http.FileServer(http.Dir(dir)))))
}

func hideDotFiles(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, part := range strings.Split(r.URL.Path, "/") {
			if strings.HasPrefix(part, ".") {
				http.NotFound(w, r)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// liveHeaders disables caching and sets HLS content types.
func liveHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setLiveHeaders(w)

		switch filepath.Ext(r.URL.Path) {
		case ".m3u8":
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		case ".ts":
			w.Header().Set("Content-Type", "video/mp2t")
		}

		next.ServeHTTP(w, r)
	})
}

func setLiveHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap the response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
