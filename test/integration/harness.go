// Package integration provides integration testing utilities for hlsloop.
package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agleyzer/hlsloop/internal/cluster"
	"github.com/agleyzer/hlsloop/internal/config"
	"github.com/agleyzer/hlsloop/internal/parser"
	"github.com/agleyzer/hlsloop/internal/publisher"
	"github.com/agleyzer/hlsloop/internal/server"
)

// Node is one in-process publisher, optionally serving HTTP and taking part
// in a Raft cluster.
type Node struct {
	ID        string
	Publisher *publisher.Publisher
	Manager   *cluster.Manager
	HTTPAddr  string
	RaftAddr  string

	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the node's loops and leaves the cluster.
func (n *Node) Stop() {
	n.cancel()
	<-n.done
	if n.Manager != nil {
		n.Manager.Shutdown()
	}
}

// TestHarness manages the test environment for integration tests.
type TestHarness struct {
	t      *testing.T
	dir    string
	logger *slog.Logger
	nodes  []*Node
}

// NewTestHarness creates a new test harness.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	return &TestHarness{
		t:      t,
		dir:    t.TempDir(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// PlaylistConfig returns a fast-ticking configuration writing into the
// harness directory.
func (h *TestHarness) PlaylistConfig(totalSegments, windowSize int, interval time.Duration) config.PlaylistConfig {
	return config.PlaylistConfig{
		WindowSize:        windowSize,
		TotalSegments:     totalSegments,
		SegmentDuration:   1.0,
		TargetDuration:    1,
		PublishInterval:   interval,
		RetryBackoff:      interval / 4,
		OutputPath:        filepath.Join(h.dir, "manifests", "live.m3u8"),
		SegmentURIPattern: "/media/segment%03d.ts",
	}
}

// StartNode starts a publisher and an HTTP server for it. When peers is
// non-empty the node joins a Raft cluster bound to raftAddr.
func (h *TestHarness) StartNode(id string, cfg config.PlaylistConfig, raftAddr string, peers []string) *Node {
	h.t.Helper()

	if err := publisher.PrepareOutput(cfg.OutputPath); err != nil {
		h.t.Fatalf("PrepareOutput() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	node := &Node{
		ID:       id,
		HTTPAddr: fmt.Sprintf("127.0.0.1:%d", findAvailablePort(h.t)),
		RaftAddr: raftAddr,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	opts := []publisher.Option{publisher.WithLogger(h.logger.With("node", id))}
	srvOpts := server.Options{
		Addr:         node.HTTPAddr,
		ManifestPath: cfg.OutputPath,
	}

	if len(peers) > 0 {
		manager, err := cluster.NewManager(cluster.Config{
			RaftID:           id,
			BindAddr:         raftAddr,
			Peers:            peers,
			HeartbeatTimeout: 200 * time.Millisecond,
			ElectionTimeout:  200 * time.Millisecond,
		}, h.logger.With("node", id))
		if err != nil {
			cancel()
			h.t.Fatalf("NewManager() error = %v", err)
		}
		if err := manager.Start(ctx); err != nil {
			cancel()
			h.t.Fatalf("Start() error = %v", err)
		}
		node.Manager = manager
		opts = append(opts, publisher.WithCoordinator(manager))
		srvOpts.Cluster = manager
	}

	pub, err := publisher.New(cfg, opts...)
	if err != nil {
		cancel()
		h.t.Fatalf("publisher.New() error = %v", err)
	}
	node.Publisher = pub

	srv := server.New(pub, srvOpts, h.logger)
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := srv.Start(ctx); err != nil {
			h.t.Logf("node %s: HTTP server error: %v", id, err)
		}
	}()

	go func() {
		defer close(node.done)
		pub.Run(ctx, &publisher.State{})
		<-serverDone
	}()

	h.waitForServer("http://" + node.HTTPAddr + "/")
	h.nodes = append(h.nodes, node)
	return node
}

// FetchPlaylist fetches /playlist.m3u8 from node.
func (h *TestHarness) FetchPlaylist(node *Node) (string, int) {
	h.t.Helper()

	resp, err := http.Get("http://" + node.HTTPAddr + "/playlist.m3u8")
	if err != nil {
		h.t.Fatalf("failed to fetch playlist: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("failed to read playlist: %v", err)
	}
	return string(body), resp.StatusCode
}

// ParsePlaylist parses playlist text, failing the test on malformed input.
func (h *TestHarness) ParsePlaylist(content string) *parser.ManifestInfo {
	h.t.Helper()

	info, err := parser.ParseManifest(strings.NewReader(content))
	if err != nil {
		h.t.Fatalf("malformed playlist: %v\n%s", err, content)
	}
	return info
}

// Cleanup stops every node.
func (h *TestHarness) Cleanup() {
	for _, n := range h.nodes {
		select {
		case <-n.done:
		default:
			n.Stop()
		}
	}
}

// WaitForCondition polls condition until it holds or the timeout expires.
func (h *TestHarness) WaitForCondition(condition func() bool, timeout time.Duration, description string) {
	h.t.Helper()

	deadline := time.Now().Add(timeout)
	for !condition() {
		if time.Now().After(deadline) {
			h.t.Fatalf("timeout waiting for: %s", description)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (h *TestHarness) waitForServer(url string) {
	h.t.Helper()

	h.WaitForCondition(func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 5*time.Second, "server at "+url)
}

// findAvailablePort finds an available TCP port.
func findAvailablePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}
