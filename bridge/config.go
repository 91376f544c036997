package bridge

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// DefaultTimeout is how long a receiver waits for a correlated message.
	DefaultTimeout = 3000 * time.Millisecond
)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Medium Medium

	// Version tags every sent message; inbound messages with another version are dropped.
	Version int

	// Optional with defaults.
	Timeout time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Medium == nil {
		return errors.New("medium is required")
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Timeout < 0 {
		return errors.New("timeout must be > 0")
	}
	return nil
}
