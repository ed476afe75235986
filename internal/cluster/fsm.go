// Package cluster elects a single playlist publisher among several nodes with
// Raft and replicates the media sequence number so a new leader carries on
// where the previous one stopped.
package cluster

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hashicorp/raft"
)

func init() {
	// Register types for gob encoding/decoding
	gob.Register(CommitSequenceCommand{})
	gob.Register(InitializeCommand{})
}

// ClusterState represents the shared state across all cluster nodes.
type ClusterState struct {
	// Sequence is the media sequence number of the next playlist.
	Sequence int
	// TotalSegments is the catalog size the sequence refers to.
	TotalSegments int
	// Publishes counts committed publishes.
	Publishes uint64
	// Epochs counts wraparounds back to sequence 0.
	Epochs uint64
}

// CommandType identifies the type of Raft command.
type CommandType uint8

const (
	// CommandCommitSequence records the sequence for the next tick.
	CommandCommitSequence CommandType = 1
	// CommandInitialize initializes the FSM state.
	CommandInitialize CommandType = 2
)

// Command represents a Raft log command.
type Command struct {
	Type CommandType
	Data any
}

// CommitSequenceCommand is applied after the leader published a playlist.
type CommitSequenceCommand struct {
	// Sequence is the sequence number the next playlist starts at.
	Sequence int
	// Wrapped is set when the published window ended the cycle.
	Wrapped bool
}

// InitializeCommand sets the initial state.
type InitializeCommand struct {
	State ClusterState
}

// SequenceFSM implements the raft.FSM interface for the replicated sequence.
type SequenceFSM struct {
	mu          sync.RWMutex
	state       ClusterState
	initialized bool
	logger      *slog.Logger
}

// NewSequenceFSM creates a new SequenceFSM.
func NewSequenceFSM(logger *slog.Logger) *SequenceFSM {
	return &SequenceFSM{
		logger: logger,
	}
}

// Apply applies a Raft log entry to the FSM.
func (f *SequenceFSM) Apply(log *raft.Log) any {
	var cmd Command
	if err := gob.NewDecoder(bytes.NewReader(log.Data)).Decode(&cmd); err != nil {
		f.logger.Error("failed to decode command", "error", err)
		return fmt.Errorf("decode command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Type {
	case CommandCommitSequence:
		return f.applyCommitSequence(cmd.Data)
	case CommandInitialize:
		return f.applyInitialize(cmd.Data)
	default:
		f.logger.Error("unknown command type", "type", cmd.Type)
		return fmt.Errorf("unknown command type: %d", cmd.Type)
	}
}

// applyCommitSequence stores the next sequence number.
func (f *SequenceFSM) applyCommitSequence(data any) any {
	commit, ok := data.(CommitSequenceCommand)
	if !ok {
		return fmt.Errorf("invalid commit sequence command data")
	}

	if commit.Sequence < 0 {
		return fmt.Errorf("negative sequence %d", commit.Sequence)
	}

	if commit.Wrapped {
		f.state.Epochs++
	}
	f.state.Sequence = commit.Sequence
	f.state.Publishes++
	f.initialized = true

	f.logger.Debug("committed sequence", "sequence", f.state.Sequence, "epochs", f.state.Epochs)
	return nil
}

// applyInitialize sets the initial FSM state.
func (f *SequenceFSM) applyInitialize(data any) any {
	initCmd, ok := data.(InitializeCommand)
	if !ok {
		return fmt.Errorf("invalid initialize command data")
	}

	f.state = initCmd.State
	f.initialized = true
	f.logger.Info("initialized FSM state", "sequence", f.state.Sequence, "total_segments", f.state.TotalSegments)
	return nil
}

// Snapshot returns an FSMSnapshot for creating a point-in-time snapshot.
func (f *SequenceFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return &fsmSnapshot{state: f.state}, nil
}

// Restore restores the FSM state from a snapshot.
func (f *SequenceFSM) Restore(snapshot io.ReadCloser) error {
	defer snapshot.Close()

	var state ClusterState
	if err := gob.NewDecoder(snapshot).Decode(&state); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.mu.Lock()
	f.state = state
	f.initialized = true
	f.mu.Unlock()

	f.logger.Info("restored FSM state from snapshot", "sequence", state.Sequence, "total_segments", state.TotalSegments)
	return nil
}

// GetState returns a copy of the current FSM state.
func (f *SequenceFSM) GetState() ClusterState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Initialized reports whether any state has been applied or restored.
func (f *SequenceFSM) Initialized() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.initialized
}

// fsmSnapshot implements raft.FSMSnapshot.
type fsmSnapshot struct {
	state ClusterState
}

// Persist writes the snapshot to the given sink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.state); err != nil {
		sink.Cancel()
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if _, err := sink.Write(buf.Bytes()); err != nil {
		sink.Cancel()
		return fmt.Errorf("write snapshot: %w", err)
	}

	return sink.Close()
}

// Release releases any resources held by the snapshot.
func (s *fsmSnapshot) Release() {}

// EncodeCommand encodes a command for Raft submission.
func EncodeCommand(cmd Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cmd); err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	return buf.Bytes(), nil
}
