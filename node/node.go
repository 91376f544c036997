// Package node tracks whether this process hosts the broadcast hub.
package node

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"hard-bridge/hub"
)

// Role represents the current role of this node among local debugger processes.
type Role int

const (
	RoleUnknown Role = iota
	RoleLeader
	RoleFollower
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "LEADER"
	case RoleFollower:
		return "FOLLOWER"
	default:
		return "UNKNOWN"
	}
}

type Config struct {
	Logger *slog.Logger
	// Addr is the host:port the hub binds when this node leads.
	Addr string
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	return nil
}

// Node switches between hosting the hub (leader) and relying on another
// process to host it (follower). Mediums connect to the hub URL either way.
type Node struct {
	log *slog.Logger
	cfg *Config

	mu   sync.RWMutex
	role Role
	hub  *hub.Hub
}

// New creates a new Node instance
func New(cfg *Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Node{
		log: cfg.Logger.With("component", "node"),
		cfg: cfg,
	}, nil
}

// Role returns the current role of this node
func (n *Node) Role() Role {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.role
}

// RoleInt returns the current role as int for the election package.
func (n *Node) RoleInt() int {
	return int(n.Role())
}

// HubURL is the base URL of the hub, whoever hosts it.
func (n *Node) HubURL() string {
	return "http://" + n.cfg.Addr
}

// Hub returns the hosted hub, or nil when this node is not the leader.
func (n *Node) Hub() *hub.Hub {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.hub
}

// BecomeLeader binds the hub address and starts serving. It fails when the
// address is already taken.
func (n *Node) BecomeLeader() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.role == RoleLeader {
		return nil
	}

	h := hub.New(n.cfg.Addr, n.log)
	if err := h.Start(); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	n.hub = h
	n.role = RoleLeader
	n.log.Info("became leader", "address", h.Addr())
	return nil
}

// BecomeFollower releases the hub if this node was hosting it.
func (n *Node) BecomeFollower() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.role == RoleFollower {
		return
	}
	if n.hub != nil {
		n.hub.Stop()
		n.hub = nil
	}
	n.role = RoleFollower
	n.log.Info("became follower", "hub", n.HubURL())
}

// Stop releases the hub and resets the role.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.hub != nil {
		n.hub.Stop()
		n.hub = nil
	}
	n.role = RoleUnknown
}
