package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"

	"hard-bridge/metrics"
	"hard-bridge/pattern"
	"hard-bridge/protocol"
)

// AllKinds subscribes to events of every kind.
const AllKinds = "*"

var (
	ErrTimeout  = errors.New("timed out waiting for response")
	ErrCanceled = errors.New("receiver canceled")
	ErrClosed   = errors.New("bridge closed")
)

// Medium is the shared broadcast channel a Bridge talks through. Published
// messages reach every other subscriber of the medium but not the publisher.
type Medium interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(handler func(Message)) (unsubscribe func())
}

// Bridge correlates asynchronous requests and responses over a broadcast medium.
type Bridge struct {
	log *slog.Logger
	cfg *Config

	mu          sync.Mutex
	pending     map[string]*Pending
	subscribers map[string]map[uint64]func(*Event)
	nextSub     uint64
	closed      bool

	unsubscribe func()
}

// New creates a new Bridge and subscribes it to the configured medium.
func New(cfg *Config) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	b := &Bridge{
		log:         cfg.Logger.With("component", "bridge"),
		cfg:         cfg,
		pending:     make(map[string]*Pending),
		subscribers: make(map[string]map[uint64]func(*Event)),
	}
	b.unsubscribe = cfg.Medium.Subscribe(b.handle)
	return b, nil
}

// Version returns the protocol version this bridge speaks.
func (b *Bridge) Version() int {
	return b.cfg.Version
}

// Close detaches from the medium and rejects every outstanding receiver with ErrClosed.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	outstanding := make([]*Pending, 0, len(b.pending))
	for id, p := range b.pending {
		outstanding = append(outstanding, p)
		delete(b.pending, id)
		metrics.PendingRequests.Dec()
	}
	b.subscribers = make(map[string]map[uint64]func(*Event))
	b.mu.Unlock()

	if b.unsubscribe != nil {
		b.unsubscribe()
	}
	for _, p := range outstanding {
		p.settle(nil, ErrClosed, "closed")
	}
}

// Send broadcasts a message of the given kind. A nil payload is sent without text.
func (b *Bridge) Send(ctx context.Context, kind string, payload any, binary []byte) error {
	msg := Message{Kind: kind, Version: b.cfg.Version, Binary: binary}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s payload: %w", kind, err)
		}
		msg.Text = string(raw)
	}
	if err := b.cfg.Medium.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", kind, err)
	}
	metrics.MessagesSent.WithLabelValues(protocol.KindLabel(kind)).Inc()
	b.log.Debug("bridge sent", "kind", kind)
	return nil
}

// Receive registers a receiver for the first event of kind arriving after this
// call whose payload matches p (any payload when p is nil). The receiver is
// rejected with ErrTimeout once the configured timeout elapses.
func (b *Bridge) Receive(kind string, p pattern.Pattern) *Pending {
	now := b.cfg.Clock.Now()
	pd := &Pending{
		id:        ulid.Make().String(),
		kind:      kind,
		pattern:   p,
		createdAt: now,
		deadline:  now.Add(b.cfg.Timeout),
		bridge:    b,
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		pd.settle(nil, ErrClosed, "closed")
		return pd
	}
	b.pending[pd.id] = pd
	b.mu.Unlock()
	metrics.PendingRequests.Inc()

	pd.setTimer(b.cfg.Clock.AfterFunc(b.cfg.Timeout, func() { b.expire(pd) }))
	return pd
}

// Request registers a receiver for kind and then sends the request. The
// receiver is canceled if sending fails.
func (b *Bridge) Request(ctx context.Context, kind string, payload any, p pattern.Pattern) (*Pending, error) {
	pd := b.Receive(kind, p)
	if err := b.Send(ctx, kind, payload, nil); err != nil {
		pd.Cancel()
		return nil, err
	}
	return pd, nil
}

// Provide synthesizes a received event locally. It goes through the same
// dispatch path as inbound messages and resolves matching receivers before returning.
func (b *Bridge) Provide(kind string, data any, binary []byte) error {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to encode provided %s: %w", kind, err)
		}
		raw = encoded
	}
	metrics.MessagesProvided.WithLabelValues(protocol.KindLabel(kind)).Inc()
	b.log.Debug("bridge provided", "kind", kind)
	b.dispatch(newEvent(kind, raw, binary, b.cfg.Clock.Now()))
	return nil
}

// Subscribe registers a persistent listener for every event of kind, or of any
// kind with AllKinds. The returned function removes it.
func (b *Bridge) Subscribe(kind string, fn func(*Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	id := b.nextSub
	if b.subscribers[kind] == nil {
		b.subscribers[kind] = make(map[uint64]func(*Event))
	}
	b.subscribers[kind][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers[kind], id)
	}
}

// PendingCount returns the number of registered receivers.
func (b *Bridge) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Bridge) handle(msg Message) {
	if msg.Version != b.cfg.Version {
		metrics.MessagesDropped.WithLabelValues("version").Inc()
		b.log.Info("dropping message with foreign version", "kind", msg.Kind, "version", msg.Version, "expected", b.cfg.Version)
		return
	}
	metrics.MessagesReceived.WithLabelValues(protocol.KindLabel(msg.Kind)).Inc()
	b.log.Debug("bridge received", "kind", msg.Kind)

	var data json.RawMessage
	if msg.Text != "" {
		data = json.RawMessage(msg.Text)
	}
	b.dispatch(newEvent(msg.Kind, data, msg.Binary, b.cfg.Clock.Now()))
}

func (b *Bridge) dispatch(ev *Event) {
	b.mu.Lock()
	byID := make(map[uint64]func(*Event))
	for id, fn := range b.subscribers[ev.Kind] {
		byID[id] = fn
	}
	if ev.Kind != AllKinds {
		for id, fn := range b.subscribers[AllKinds] {
			byID[id] = fn
		}
	}
	subIDs := slices.Sorted(maps.Keys(byID))
	subs := make([]func(*Event), 0, len(subIDs))
	for _, id := range subIDs {
		subs = append(subs, byID[id])
	}
	var candidates []*Pending
	for _, p := range b.pending {
		if p.kind == ev.Kind {
			candidates = append(candidates, p)
		}
	}
	b.mu.Unlock()

	// Subscribers observe the event before receivers resolve, so state they
	// record is visible to whoever awaits the receiver.
	for _, fn := range subs {
		fn(ev)
	}
	for _, p := range candidates {
		if !p.accepts(ev) {
			continue
		}
		if b.remove(p) {
			p.settle(ev, nil, "resolved")
		}
	}
}

func (b *Bridge) expire(p *Pending) {
	if !b.remove(p) {
		return
	}
	b.log.Debug("receiver timed out", "kind", p.kind, "id", p.id)
	p.settle(nil, fmt.Errorf("%w: %s", ErrTimeout, p.kind), "timeout")
}

func (b *Bridge) remove(p *Pending) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[p.id]; !ok {
		return false
	}
	delete(b.pending, p.id)
	metrics.PendingRequests.Dec()
	return true
}

func requestOutcome(result string) {
	metrics.RequestOutcomes.WithLabelValues(result).Inc()
}
