// Package medium provides broadcast mediums for the bridge: named in-process
// channels, a websocket client attached to a broadcast hub, and a Kafka topic.
package medium

import (
	"context"
	"errors"
	"sync"

	"hard-bridge/bridge"
	"hard-bridge/metrics"
)

const defaultQueueSize = 1024

var ErrClosed = errors.New("medium closed")

// LocalHub is an in-process registry of named broadcast channels.
type LocalHub struct {
	mu       sync.Mutex
	channels map[string]map[*Local]struct{}
}

// NewLocalHub creates a new LocalHub instance
func NewLocalHub() *LocalHub {
	return &LocalHub{channels: make(map[string]map[*Local]struct{})}
}

// Join opens a new endpoint on the named channel.
func (h *LocalHub) Join(name string) *Local {
	l := &Local{
		hub:      h,
		name:     name,
		handlers: make(map[uint64]func(bridge.Message)),
		queue:    make(chan bridge.Message, defaultQueueSize),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	if h.channels[name] == nil {
		h.channels[name] = make(map[*Local]struct{})
	}
	h.channels[name][l] = struct{}{}
	h.mu.Unlock()
	go l.loop()
	return l
}

func (h *LocalHub) peers(name string, except *Local) []*Local {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Local, 0, len(h.channels[name]))
	for l := range h.channels[name] {
		if l != except {
			out = append(out, l)
		}
	}
	return out
}

func (h *LocalHub) leave(l *Local) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels[l.name], l)
	if len(h.channels[l.name]) == 0 {
		delete(h.channels, l.name)
	}
}

// Local is one endpoint of an in-process broadcast channel. Messages are
// delivered to each endpoint in publish order on its own goroutine.
type Local struct {
	hub  *LocalHub
	name string

	mu       sync.Mutex
	handlers map[uint64]func(bridge.Message)
	nextID   uint64

	queue     chan bridge.Message
	done      chan struct{}
	closeOnce sync.Once
}

// Name returns the channel name.
func (l *Local) Name() string { return l.name }

func (l *Local) Publish(ctx context.Context, msg bridge.Message) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, peer := range l.hub.peers(l.name, l) {
		peer.enqueue(msg)
	}
	return nil
}

func (l *Local) Subscribe(handler func(bridge.Message)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.handlers[id] = handler
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.handlers, id)
	}
}

// Close leaves the channel and stops delivery.
func (l *Local) Close() error {
	l.closeOnce.Do(func() {
		l.hub.leave(l)
		close(l.done)
	})
	return nil
}

func (l *Local) enqueue(msg bridge.Message) {
	select {
	case <-l.done:
	case l.queue <- msg:
	default:
		// Best effort: a subscriber that cannot keep up loses messages.
		metrics.MediumDeliveryDrops.WithLabelValues("local").Inc()
	}
}

func (l *Local) loop() {
	for {
		select {
		case <-l.done:
			return
		case msg := <-l.queue:
			l.deliver(msg)
		}
	}
}

func (l *Local) deliver(msg bridge.Message) {
	l.mu.Lock()
	handlers := make([]func(bridge.Message), 0, len(l.handlers))
	for _, h := range l.handlers {
		handlers = append(handlers, h)
	}
	l.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}
