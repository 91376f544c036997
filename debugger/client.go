// Package debugger issues typed queries against a renderer over a bridge,
// answering them from the active snapshot when it holds the record.
package debugger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"hard-bridge/bridge"
	"hard-bridge/pattern"
	"hard-bridge/protocol"
	"hard-bridge/snapshot"
)

var (
	ErrRemote              = errors.New("renderer reported a failure")
	ErrSnapshotNotRecorded = errors.New("snapshot response was not recorded")
)

// RemoteError is a failure response sent by the renderer in place of the
// regular answer. It matches ErrRemote.
type RemoteError struct {
	Kind    string
	Payload any
}

func (e *RemoteError) Error() string {
	if e.Payload == nil {
		return fmt.Sprintf("renderer reported %s", e.Kind)
	}
	return fmt.Sprintf("renderer reported %s: %v", e.Kind, e.Payload)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

type Config struct {
	Logger *slog.Logger
	Bridge *bridge.Bridge

	// Optional with defaults.
	Clock     clockwork.Clock
	Snapshots *snapshot.Store
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Bridge == nil {
		return errors.New("bridge is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Snapshots == nil {
		c.Snapshots = snapshot.NewStore(snapshot.DefaultMaxSnapshots)
	}
	return nil
}

// Response is a resolved query.
type Response[T any] struct {
	Value     T
	Binary    []byte
	Timestamp time.Time
	// Shadowed is true when the active snapshot answered the query.
	Shadowed bool
}

// Bytes returns the region of the response buffer covered by r.
func (r Response[T]) Bytes(br protocol.ByteRange) ([]byte, error) {
	return br.Slice(r.Binary)
}

// Client is the debugger side of the protocol.
type Client struct {
	log   *slog.Logger
	cfg   *Config
	store *snapshot.Store

	unsubscribe func()
}

// New creates a new Client. Every TakeSnapshot response seen on the bridge is
// recorded in the snapshot store, including ones requested by other debuggers.
func New(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	c := &Client{
		log:   cfg.Logger.With("component", "debugger"),
		cfg:   cfg,
		store: cfg.Snapshots,
	}
	c.unsubscribe = cfg.Bridge.Subscribe(protocol.KindTakeSnapshot, c.recordSnapshot)
	return c, nil
}

// Close stops recording snapshots. The bridge is left open.
func (c *Client) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

// Snapshots returns the snapshot store.
func (c *Client) Snapshots() *snapshot.Store {
	return c.store
}

func (c *Client) recordSnapshot(ev *bridge.Event) {
	if ev.Value() == nil {
		// A TakeSnapshot request from another debugger.
		return
	}
	var data protocol.TakeSnapshot
	if err := ev.Decode(&data); err != nil {
		c.log.Warn("failed to decode snapshot", "error", err)
		return
	}
	s := &snapshot.Snapshot{ID: ev.ID, Timestamp: ev.Timestamp, Data: data, Binary: ev.Binary}
	if evicted := c.store.Add(s); evicted != "" {
		c.log.Info("evicted snapshot", "id", evicted)
	}
	c.log.Info("snapshot recorded", "id", s.ID, "bytes", len(s.Binary))
}

type failure struct {
	kind  string
	match pattern.Pattern
}

// exchange describes one query: the response correlation, the failure kinds
// that may answer it instead, and how to answer it from a snapshot.
type exchange struct {
	kind     string
	payload  any
	match    pattern.Pattern
	failures []failure
	// shadow returns the response data from s; withBinary attaches the
	// snapshot buffer. A nil shadow always goes to the wire.
	shadow func(s *snapshot.Snapshot) (data any, withBinary bool, ok bool)
}

// hasPayload matches any response that carries a payload, which requests
// without arguments never do.
var hasPayload = pattern.Predicate(func(v any) bool { return v != nil })

func byID(id any) pattern.Nested {
	return pattern.Nested{"id": pattern.Eq(id)}
}

func with(p pattern.Nested, key string, sub pattern.Pattern) pattern.Nested {
	out := make(pattern.Nested, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[key] = sub
	return out
}

func query[T any](ctx context.Context, c *Client, ex exchange) (Response[T], error) {
	var zero Response[T]

	main := c.cfg.Bridge.Receive(ex.kind, ex.match)
	pendings := []*bridge.Pending{main}
	failures := make(map[*bridge.Pending]string, len(ex.failures)+1)
	for _, f := range append(ex.failures, failure{kind: protocol.KindUnknownRequest, match: pattern.Eq(ex.kind)}) {
		p := c.cfg.Bridge.Receive(f.kind, f.match)
		pendings = append(pendings, p)
		failures[p] = f.kind
	}
	defer func() {
		for _, p := range pendings {
			p.Cancel()
		}
	}()

	shadowed := false
	if ex.shadow != nil {
		if s, ok := c.store.Active(); ok {
			if data, withBinary, found := ex.shadow(s); found {
				var binary []byte
				if withBinary {
					binary = s.Binary
				}
				if err := c.cfg.Bridge.Provide(ex.kind, data, binary); err != nil {
					return zero, err
				}
				shadowed = true
			} else {
				c.log.Debug("active snapshot has no record, querying renderer", "kind", ex.kind)
			}
		}
	}
	if !shadowed {
		if err := c.cfg.Bridge.Send(ctx, ex.kind, ex.payload, nil); err != nil {
			return zero, err
		}
	}

	p, err := firstSettled(ctx, pendings)
	if err != nil {
		return zero, err
	}
	ev, err := p.Result()
	if err != nil {
		if errors.Is(err, bridge.ErrTimeout) {
			return zero, fmt.Errorf("%w: %s", bridge.ErrTimeout, ex.kind)
		}
		return zero, err
	}
	if kind, ok := failures[p]; ok {
		return zero, &RemoteError{Kind: kind, Payload: ev.Value()}
	}

	res := Response[T]{Binary: ev.Binary, Timestamp: ev.Timestamp, Shadowed: shadowed}
	if err := ev.Decode(&res.Value); err != nil && !errors.Is(err, bridge.ErrNoPayload) {
		return zero, fmt.Errorf("failed to decode %s response: %w", ex.kind, err)
	}
	return res, nil
}

func firstSettled(ctx context.Context, pendings []*bridge.Pending) (*bridge.Pending, error) {
	settled := make(chan *bridge.Pending, len(pendings))
	stop := make(chan struct{})
	defer close(stop)
	for _, p := range pendings {
		go func() {
			select {
			case <-p.Done():
				settled <- p
			case <-stop:
			}
		}()
	}
	select {
	case p := <-settled:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
