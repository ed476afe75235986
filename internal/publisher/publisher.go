// Package publisher drives the live playlist: it recomputes the segment
// window on a fixed cadence and atomically replaces the published playlist.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/agleyzer/hlsloop/internal/config"
	"github.com/agleyzer/hlsloop/internal/manifest"
	"github.com/agleyzer/hlsloop/internal/window"
)

// State is the mutable playlist state. Only the publish loop writes it.
type State struct {
	// CurrentSeq is the media sequence number of the next playlist
	CurrentSeq int
}

// PublishError reports a failed tick. The state is left as it was, and unless
// Op is "commit" so is the published playlist.
type PublishError struct {
	// Op is the step that failed: render, write or commit
	Op string

	// Sequence is the media sequence number that was being published
	Sequence int

	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish sequence %d: %s: %v", e.Sequence, e.Op, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Coordinator elects the node allowed to publish and replicates the sequence
// number between nodes. Implemented by cluster.Manager.
type Coordinator interface {
	// IsLeader reports whether this node should publish
	IsLeader() bool

	// Sequence returns the last committed sequence number
	Sequence() int

	// CommitSequence records the sequence number for the next tick
	CommitSequence(seq int) error
}

// Stats is a point-in-time view of the publisher.
type Stats struct {
	Sequence        int       `json:"sequence"`
	LastPublished   int       `json:"last_published"`
	Publishes       uint64    `json:"publishes"`
	Failures        uint64    `json:"failures"`
	Epochs          uint64    `json:"epochs"`
	LastError       string    `json:"last_error,omitempty"`
	LastPublishedAt time.Time `json:"last_published_at"`
	WindowSize      int       `json:"window_size"`
	TotalSegments   int       `json:"total_segments"`
	CycleLength     int       `json:"cycle_length"`
	Standby         bool      `json:"standby"`
	OutputPath      string    `json:"output_path"`
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithWriter replaces the default AtomicWriter.
func WithWriter(w Writer) Option {
	return func(p *Publisher) {
		p.writer = w
	}
}

// WithCoordinator makes publishing conditional on cluster leadership.
func WithCoordinator(c Coordinator) Option {
	return func(p *Publisher) {
		p.coord = c
	}
}

// WithURITemplate publishes segment URIs from uri instead of the configured
// SegmentURIPattern.
func WithURITemplate(uri manifest.URITemplate) Option {
	return func(p *Publisher) {
		p.uri = uri
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// Publisher renders and publishes the playlist for one output path.
type Publisher struct {
	cfg    config.PlaylistConfig
	uri    manifest.URITemplate
	cycle  int
	writer Writer
	coord  Coordinator
	logger *slog.Logger

	mu    sync.RWMutex
	stats Stats
}

// New creates a Publisher. Invalid configuration is rejected with an error
// wrapping config.ErrInvalidConfig.
func New(cfg config.PlaylistConfig, opts ...Option) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	uri, err := cfg.URITemplate()
	if err != nil {
		return nil, err
	}

	cycle, err := window.CycleLength(cfg.TotalSegments, cfg.WindowSize)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		cfg:    cfg,
		uri:    uri,
		cycle:  cycle,
		writer: AtomicWriter{},
		logger: slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.stats = Stats{
		WindowSize:    cfg.WindowSize,
		TotalSegments: cfg.TotalSegments,
		CycleLength:   cycle,
		OutputPath:    cfg.OutputPath,
	}

	return p, nil
}

// Render returns the playlist text for state without publishing it.
func (p *Publisher) Render(state *State) (string, int, error) {
	indices, next, err := window.Compute(state.CurrentSeq, p.cfg.TotalSegments, p.cfg.WindowSize)
	if err != nil {
		return "", 0, err
	}

	content := manifest.Render(manifest.Media{
		TargetDuration: p.cfg.TargetDuration,
		MediaSequence:  state.CurrentSeq,
		Segments:       manifest.Window(indices, p.cfg.SegmentDuration, p.uri),
	})

	return content, next, nil
}

// Tick publishes the playlist for state and advances state on success. On
// failure state is unchanged and a *PublishError is returned.
func (p *Publisher) Tick(state *State) error {
	seq := state.CurrentSeq

	content, next, err := p.Render(state)
	if err != nil {
		return p.fail(&PublishError{Op: "render", Sequence: seq, Err: err})
	}

	if err := p.writer.WriteFile(p.cfg.OutputPath, []byte(content)); err != nil {
		return p.fail(&PublishError{Op: "write", Sequence: seq, Err: err})
	}

	if p.coord != nil {
		if err := p.coord.CommitSequence(next); err != nil {
			return p.fail(&PublishError{Op: "commit", Sequence: seq, Err: err})
		}
	}

	state.CurrentSeq = next

	p.mu.Lock()
	p.stats.Sequence = next
	p.stats.LastPublished = seq
	p.stats.Publishes++
	if next == 0 {
		p.stats.Epochs++
	}
	p.stats.LastError = ""
	p.stats.LastPublishedAt = time.Now()
	p.stats.Standby = false
	p.mu.Unlock()

	p.logger.Info("published playlist", "sequence", seq, "next", next)
	if next == 0 {
		p.logger.Debug("window wrapped", "epochs", p.Stats().Epochs)
	}

	return nil
}

func (p *Publisher) fail(err *PublishError) error {
	p.mu.Lock()
	p.stats.Failures++
	p.stats.LastError = err.Error()
	p.mu.Unlock()
	return err
}

// Run publishes immediately and then every PublishInterval until ctx is
// cancelled. A failed tick is logged and retried after RetryBackoff with the
// same sequence number. Cancellation is not an error.
func (p *Publisher) Run(ctx context.Context, state *State) error {
	p.logger.Info("starting publisher",
		"output", p.cfg.OutputPath,
		"interval", p.cfg.PublishInterval,
		"windowSize", p.cfg.WindowSize,
		"totalSegments", p.cfg.TotalSegments,
		"cycleLength", p.cycle,
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("stopping publisher", "sequence", state.CurrentSeq)
			return nil
		case <-timer.C:
		}

		timer.Reset(p.step(state))
	}
}

// step runs one iteration of the loop and returns the delay before the next.
func (p *Publisher) step(state *State) time.Duration {
	if p.coord != nil {
		if !p.coord.IsLeader() {
			p.markStandby()
			p.logger.Debug("not cluster leader, skipping publish")
			return p.cfg.PublishInterval
		}
		p.adopt(state, p.coord.Sequence())
	}

	if err := p.Tick(state); err != nil {
		p.logger.Error("failed to publish playlist",
			"sequence", state.CurrentSeq,
			"retryIn", p.cfg.RetryBackoff,
			"error", err,
		)
		return p.cfg.RetryBackoff
	}

	return p.cfg.PublishInterval
}

// adopt takes over the replicated sequence number, resetting values that do
// not fit the local catalog.
func (p *Publisher) adopt(state *State, seq int) {
	if seq < 0 || seq >= p.cfg.TotalSegments {
		p.logger.Warn("replicated sequence outside catalog, restarting", "sequence", seq, "totalSegments", p.cfg.TotalSegments)
		seq = 0
	}
	if seq != state.CurrentSeq {
		p.logger.Info("adopting replicated sequence", "from", state.CurrentSeq, "to", seq)
		state.CurrentSeq = seq
	}
}

func (p *Publisher) markStandby() {
	p.mu.Lock()
	p.stats.Standby = true
	p.mu.Unlock()
}

// Stats returns current statistics. Safe for concurrent use.
func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// Config returns the playlist configuration.
func (p *Publisher) Config() config.PlaylistConfig {
	return p.cfg
}
