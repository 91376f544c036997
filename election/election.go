// Package election decides which local debugger process hosts the broadcast
// hub: the first to bind the port leads, the others follow and take over when
// the hub stops answering pings.
package election

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultMinInterval = 3 * time.Second
	DefaultMaxInterval = 5 * time.Second
	pingTimeout        = 2 * time.Second
)

// RoleChanger is implemented by node.Node to let the election trigger role changes.
type RoleChanger interface {
	BecomeLeader() error
	BecomeFollower()
	RoleInt() int // node.Role as int to avoid circular import
}

// Role constants (must match node.Role values)
const (
	RoleUnknown = iota
	RoleLeader
	RoleFollower
)

type Config struct {
	Logger *slog.Logger
	Node   RoleChanger
	// HubURL is pinged to check whether another process hosts the hub.
	HubURL string

	// Optional with defaults.
	Clock       clockwork.Clock
	HTTPClient  *http.Client
	MinInterval time.Duration
	MaxInterval time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Node == nil {
		return errors.New("node is required")
	}
	if c.HubURL == "" {
		return errors.New("hub url is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: pingTimeout}
	}
	if c.MinInterval == 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = DefaultMaxInterval
	}
	if c.MinInterval < 0 || c.MaxInterval < c.MinInterval {
		return errors.New("intervals must satisfy 0 < min <= max")
	}
	return nil
}

// Election handles hub leader detection and role transitions.
type Election struct {
	log *slog.Logger
	cfg *Config
}

// New creates a new Election instance
func New(cfg *Config) (*Election, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Election{
		log: cfg.Logger.With("component", "election"),
		cfg: cfg,
	}, nil
}

// Start determines the initial role and keeps monitoring until ctx is done.
// The returned channel is closed when monitoring stops.
func (e *Election) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})

	// Jitter staggers processes started together.
	ticker := e.cfg.Clock.NewTicker(e.interval())
	e.DetermineRole(ctx)

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				e.Check(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}

func (e *Election) interval() time.Duration {
	spread := e.cfg.MaxInterval - e.cfg.MinInterval
	if spread <= 0 {
		return e.cfg.MinInterval
	}
	return e.cfg.MinInterval + rand.N(spread+1)
}

// Check runs one monitoring round.
func (e *Election) Check(ctx context.Context) {
	switch e.cfg.Node.RoleInt() {
	case RoleFollower:
		if !e.PingLeader(ctx) {
			e.log.Info("hub not responding, attempting takeover")
			if err := e.cfg.Node.BecomeLeader(); err != nil {
				e.log.Warn("failed to become leader", "error", err)
			}
		}
	case RoleLeader:
	case RoleUnknown:
		e.DetermineRole(ctx)
	}
}

// DetermineRole tries to lead first; when the port is taken by a live hub it
// follows. Otherwise the role stays unknown until the next round.
func (e *Election) DetermineRole(ctx context.Context) {
	err := e.cfg.Node.BecomeLeader()
	if err == nil {
		return
	}
	if e.PingLeader(ctx) {
		e.cfg.Node.BecomeFollower()
		return
	}
	e.log.Debug("no leader yet", "error", err)
}

// PingLeader reports whether the hub answers on /ping.
func (e *Election) PingLeader(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.HubURL+"/ping", nil)
	if err != nil {
		return false
	}
	resp, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
