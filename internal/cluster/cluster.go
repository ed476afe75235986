package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/raft"
)

// applyTimeout bounds how long a command waits to be committed.
const applyTimeout = 5 * time.Second

// Manager manages a Raft cluster so that only the leader publishes the
// playlist. It satisfies publisher.Coordinator.
type Manager struct {
	config    Config
	raft      *raft.Raft
	fsm       *SequenceFSM
	transport *raft.NetworkTransport
	logger    *slog.Logger
	mu        sync.RWMutex
	shutdown  bool
}

// NewManager creates a new cluster manager.
func NewManager(config Config, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Manager{
		config:   config,
		fsm:      NewSequenceFSM(logger),
		logger:   logger,
		shutdown: false,
	}, nil
}

// Start initializes and starts the Raft cluster.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.raft != nil {
		return fmt.Errorf("cluster already started")
	}

	peers, err := m.config.servers()
	if err != nil {
		return err
	}

	// Create Raft configuration
	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(m.config.RaftID)
	raftConfig.HeartbeatTimeout = m.config.HeartbeatTimeout
	raftConfig.ElectionTimeout = m.config.ElectionTimeout
	raftConfig.LeaderLeaseTimeout = m.config.HeartbeatTimeout
	raftConfig.SnapshotInterval = m.config.SnapshotInterval
	raftConfig.SnapshotThreshold = m.config.SnapshotThreshold
	raftConfig.Logger = newRaftLogger(m.config.LogOutput, m.config.LogLevel)

	// Create in-memory stores
	logStore := raft.NewInmemStore()
	stableStore := raft.NewInmemStore()
	snapshotStore := raft.NewInmemSnapshotStore()

	// Create network transport
	addr, err := net.ResolveTCPAddr("tcp", m.config.BindAddr)
	if err != nil {
		return fmt.Errorf("resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.config.BindAddr, addr, 3, 10*time.Second, nil)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	m.transport = transport

	// Create Raft instance
	r, err := raft.NewRaft(raftConfig, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		transport.Close()
		return fmt.Errorf("create raft: %w", err)
	}
	m.raft = r

	configuration := raft.Configuration{
		Servers: make([]raft.Server, 0, len(peers)),
	}

	for _, peer := range peers {
		configuration.Servers = append(configuration.Servers, raft.Server{
			ID:       raft.ServerID(peer.ID),
			Address:  raft.ServerAddress(peer.Address),
			Suffrage: raft.Voter,
		})
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
		m.logger.Error("failed to bootstrap cluster", "error", err)
		// Continue anyway - node might be joining existing cluster
	}

	m.logger.Info("cluster started",
		"node_id", m.config.RaftID,
		"bind", m.config.BindAddr,
		"peers", len(m.config.Peers))

	return nil
}

// apply submits a command and returns the FSM's error, if any.
func (m *Manager) apply(cmd Command) error {
	m.mu.RLock()
	if m.shutdown {
		m.mu.RUnlock()
		return fmt.Errorf("cluster is shut down")
	}
	r := m.raft
	m.mu.RUnlock()

	if r == nil {
		return fmt.Errorf("cluster not started")
	}

	data, err := EncodeCommand(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	future := r.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("apply command: %w", err)
	}

	if err, ok := future.Response().(error); ok && err != nil {
		return fmt.Errorf("apply command: %w", err)
	}

	return nil
}

// CommitSequence replicates the sequence number of the next playlist. A
// sequence of 0 always follows a wraparound.
func (m *Manager) CommitSequence(seq int) error {
	return m.apply(Command{
		Type: CommandCommitSequence,
		Data: CommitSequenceCommand{Sequence: seq, Wrapped: seq == 0},
	})
}

// Initialize sets the initial FSM state.
func (m *Manager) Initialize(state ClusterState) error {
	return m.apply(Command{
		Type: CommandInitialize,
		Data: InitializeCommand{State: state},
	})
}

// EnsureInitialized seeds the replicated state on a fresh cluster. Only the
// leader writes; state inherited from a previous leader is kept unless it was
// built for a different catalog size.
func (m *Manager) EnsureInitialized(totalSegments int) error {
	if !m.IsLeader() {
		return nil
	}

	if m.fsm.Initialized() && m.fsm.GetState().TotalSegments == totalSegments {
		return nil
	}

	m.logger.Info("initializing replicated playlist state", "total_segments", totalSegments)
	return m.Initialize(ClusterState{TotalSegments: totalSegments})
}

// Sequence returns the replicated sequence number.
func (m *Manager) Sequence() int {
	return m.fsm.GetState().Sequence
}

// GetState returns the current FSM state.
func (m *Manager) GetState() ClusterState {
	return m.fsm.GetState()
}

// IsLeader returns true if this node is the Raft leader.
func (m *Manager) IsLeader() bool {
	m.mu.RLock()
	r := m.raft
	m.mu.RUnlock()

	if r == nil {
		return false
	}

	return r.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader.
func (m *Manager) LeaderAddr() string {
	m.mu.RLock()
	r := m.raft
	m.mu.RUnlock()

	if r == nil {
		return ""
	}

	leaderAddr, _ := r.LeaderWithID()
	return string(leaderAddr)
}

// State returns the current Raft state.
func (m *Manager) State() string {
	m.mu.RLock()
	r := m.raft
	m.mu.RUnlock()

	if r == nil {
		return "NotStarted"
	}

	switch r.State() {
	case raft.Follower:
		return "Follower"
	case raft.Candidate:
		return "Candidate"
	case raft.Leader:
		return "Leader"
	case raft.Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Peers returns the configured peer entries.
func (m *Manager) Peers() []string {
	return m.config.Peers
}

// NodeID returns this node's Raft ID.
func (m *Manager) NodeID() string {
	return m.config.RaftID
}

// Shutdown gracefully shuts down the Raft cluster.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return nil
	}

	m.shutdown = true

	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			m.logger.Error("failed to shutdown raft", "error", err)
			return fmt.Errorf("shutdown raft: %w", err)
		}
	}

	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			m.logger.Error("failed to close transport", "error", err)
			return fmt.Errorf("close transport: %w", err)
		}
	}

	m.logger.Info("cluster shut down")
	return nil
}

// WaitForLeader blocks until a leader is elected or context is canceled.
func (m *Manager) WaitForLeader(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if m.LeaderAddr() != "" {
				return nil
			}
		}
	}
}
