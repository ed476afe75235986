package cluster

import (
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// Config holds the configuration for a cluster node.
type Config struct {
	// RaftID is the unique identifier for this Raft node.
	RaftID string
	// BindAddr is the address to bind for Raft communication (host:port).
	BindAddr string
	// Peers lists every voter, this node included, as "id=host:port". A bare
	// "host:port" uses the address as the node ID.
	Peers []string
	// HeartbeatTimeout is the Raft heartbeat timeout.
	HeartbeatTimeout time.Duration
	// ElectionTimeout is the Raft election timeout.
	ElectionTimeout time.Duration
	// SnapshotInterval is how often to take snapshots.
	SnapshotInterval time.Duration
	// SnapshotThreshold is the number of logs before taking a snapshot.
	SnapshotThreshold uint64
	// LogOutput receives Raft's own log lines; Raft is silent when nil.
	LogOutput io.Writer
	// LogLevel is the hclog level name for Raft's log lines.
	LogLevel string
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.RaftID == "" {
		return fmt.Errorf("raft-id is required")
	}

	if c.BindAddr == "" {
		return fmt.Errorf("raft-bind is required")
	}

	if _, _, err := net.SplitHostPort(c.BindAddr); err != nil {
		return fmt.Errorf("invalid raft-bind address %q: %w", c.BindAddr, err)
	}

	// A lone node bootstraps itself.
	if len(c.Peers) == 0 {
		c.Peers = []string{c.RaftID + "=" + c.BindAddr}
	}

	if _, err := c.servers(); err != nil {
		return err
	}

	// Set defaults
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 1 * time.Second
	}
	if c.ElectionTimeout == 0 {
		c.ElectionTimeout = 1 * time.Second
	}
	if c.SnapshotInterval == 0 {
		c.SnapshotInterval = 120 * time.Second
	}
	if c.SnapshotThreshold == 0 {
		c.SnapshotThreshold = 8192
	}

	return nil
}

// Peer is one voter of the cluster.
type Peer struct {
	ID      string
	Address string
}

// ParsePeer parses "id=host:port" or "host:port".
func ParsePeer(s string) (Peer, error) {
	id, addr, found := strings.Cut(s, "=")
	if !found {
		addr = id
	}

	if _, _, err := net.SplitHostPort(addr); err != nil {
		return Peer{}, fmt.Errorf("invalid peer address %q: %w", s, err)
	}
	if id == "" {
		return Peer{}, fmt.Errorf("empty peer ID in %q", s)
	}

	return Peer{ID: id, Address: addr}, nil
}

// servers parses Peers and checks that this node appears under its RaftID.
func (c *Config) servers() ([]Peer, error) {
	peers := make([]Peer, 0, len(c.Peers))
	ids := make(map[string]bool, len(c.Peers))
	self := false

	for _, entry := range c.Peers {
		peer, err := ParsePeer(entry)
		if err != nil {
			return nil, err
		}
		if ids[peer.ID] {
			return nil, fmt.Errorf("duplicate peer ID %q", peer.ID)
		}
		ids[peer.ID] = true

		if peer.Address == c.BindAddr {
			if peer.ID != c.RaftID {
				return nil, fmt.Errorf("peer %q for raft-bind %s does not match raft-id %q", entry, c.BindAddr, c.RaftID)
			}
			self = true
		}
		peers = append(peers, peer)
	}

	if !self {
		return nil, fmt.Errorf("raft-bind %s is missing from peers", c.BindAddr)
	}

	return peers, nil
}
