// The hlsloop command publishes a live HLS playlist that loops over a fixed
// catalog of media segments.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agleyzer/hlsloop/internal/cluster"
	"github.com/agleyzer/hlsloop/internal/config"
	"github.com/agleyzer/hlsloop/internal/parser"
	"github.com/agleyzer/hlsloop/internal/publisher"
	"github.com/agleyzer/hlsloop/internal/server"
)

const (
	version = "1.0.0"
)

func main() {
	fs := config.NewFlagSet(os.Args[0], os.Stderr)
	showVersion := fs.Bool("version", false, "Show version and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "hlsloop - looping live HLS playlist publisher v%s\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEvery option can also be set as %s_<KEY> in the environment or in a YAML file passed with --config.\n", config.EnvPrefix)
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --output manifests/input.m3u8 --total-segments 59 --window-size 10\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --http-addr :8080 --media-dir media\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --source-playlist media/1080p/index.m3u8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --cluster --raft-id a --raft-bind 10.0.0.1:7000 --raft-peers a=10.0.0.1:7000,b=10.0.0.2:7000\n", os.Args[0])
	}

	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		if errors.Is(err, config.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		fs.Usage()
		os.Exit(1)
	}

	if *showVersion {
		fmt.Printf("hlsloop v%s\n", version)
		os.Exit(0)
	}

	logLevel, err := parseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	logger.Info("hlsloop starting", "version", version)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, os.Stdout, logger); err != nil {
		logger.Error("application error", "error", err)
		os.Exit(1)
	}

	logger.Info("hlsloop stopped")
}

// run validates the configuration, prepares the output directory and drives
// the publisher until ctx is cancelled. Configuration and setup errors are
// returned before anything is published.
func run(ctx context.Context, cfg *config.Config, logOutput io.Writer, logger *slog.Logger) error {
	opts := []publisher.Option{publisher.WithLogger(logger)}

	if cfg.SourcePlaylist != "" {
		logger.Info("reading source playlist", "location", cfg.SourcePlaylist)
		catalog, err := parser.ParseCatalog(ctx, cfg.SourcePlaylist)
		if err != nil {
			return fmt.Errorf("%w: source playlist: %v", config.ErrInvalidConfig, err)
		}
		cfg.Playlist = cfg.Playlist.WithCatalog(len(catalog.Segments), catalog.MaxDuration, catalog.TargetDuration)
		opts = append(opts, publisher.WithURITemplate(catalog.URITemplate()))
		logger.Info("sized catalog from source playlist",
			"segments", cfg.Playlist.TotalSegments,
			"segmentDuration", cfg.Playlist.SegmentDuration,
			"targetDuration", cfg.Playlist.TargetDuration,
		)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := publisher.PrepareOutput(cfg.Playlist.OutputPath); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var manager *cluster.Manager
	if cfg.Cluster.Enabled {
		var err error
		manager, err = startCluster(ctx, cfg, logOutput, logger)
		if err != nil {
			return err
		}
		defer manager.Shutdown()
		opts = append(opts, publisher.WithCoordinator(manager))
	}

	pub, err := publisher.New(cfg.Playlist, opts...)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}

	serverDone := make(chan error, 1)
	if cfg.Server.Enabled() {
		srvOpts := server.Options{
			Addr:         cfg.Server.Addr,
			ManifestPath: cfg.Playlist.OutputPath,
			MediaDir:     cfg.Server.MediaDir,
			AdsDir:       cfg.Server.AdsDir,
		}
		if manager != nil {
			srvOpts.Cluster = manager
		}

		srv := server.New(pub, srvOpts, logger)
		go func() {
			err := srv.Start(ctx)
			if err != nil {
				// Without its file server the stream is unreachable.
				cancel()
			}
			serverDone <- err
		}()

		logger.Info("live HLS stream ready",
			"url", fmt.Sprintf("http://%s/playlist.m3u8", displayAddr(cfg.Server.Addr)),
			"health", fmt.Sprintf("http://%s/health", displayAddr(cfg.Server.Addr)),
		)
	} else {
		close(serverDone)
	}

	// Blocks until ctx is cancelled.
	if err := pub.Run(ctx, &publisher.State{}); err != nil {
		return err
	}

	if err := <-serverDone; err != nil {
		return err
	}

	return nil
}

// startCluster joins the Raft cluster and seeds the replicated state once a
// leader is known.
func startCluster(ctx context.Context, cfg *config.Config, logOutput io.Writer, logger *slog.Logger) (*cluster.Manager, error) {
	manager, err := cluster.NewManager(cluster.Config{
		RaftID:           cfg.Cluster.RaftID,
		BindAddr:         cfg.Cluster.BindAddr,
		Peers:            cfg.Cluster.Peers,
		HeartbeatTimeout: cfg.Cluster.HeartbeatTimeout,
		ElectionTimeout:  cfg.Cluster.ElectionTimeout,
		LogOutput:        logOutput,
		LogLevel:         cfg.LogLevel,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: cluster: %v", config.ErrInvalidConfig, err)
	}

	if err := manager.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start cluster: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := manager.WaitForLeader(waitCtx); err != nil {
		manager.Shutdown()
		return nil, fmt.Errorf("no cluster leader elected: %w", err)
	}

	if err := manager.EnsureInitialized(cfg.Playlist.TotalSegments); err != nil {
		manager.Shutdown()
		return nil, fmt.Errorf("failed to initialize cluster state: %w", err)
	}

	logger.Info("joined cluster",
		"state", manager.State(),
		"leader", manager.LeaderAddr(),
	)

	return manager, nil
}

// parseLevel maps a level name to a slog.Level.
func parseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// displayAddr turns a listen address like ":8080" into something clickable.
func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
