package medium

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"hard-bridge/bridge"
	"hard-bridge/hub"
	"hard-bridge/metrics"
)

const (
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

var ErrNotConnected = errors.New("not connected to hub")

type WebsocketConfig struct {
	Logger  *slog.Logger
	HubURL  string
	Channel string

	// Optional with defaults.
	Dialer         *websocket.Dialer
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c *WebsocketConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.HubURL == "" {
		return errors.New("hub url is required")
	}
	if c.Channel == "" {
		return errors.New("channel is required")
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < c.InitialBackoff {
		return errors.New("backoff intervals must be > 0 and max >= initial")
	}
	return nil
}

// Websocket is a medium attached to a broadcast hub channel. It keeps
// reconnecting while running; publishing while disconnected fails with
// ErrNotConnected.
type Websocket struct {
	log *slog.Logger
	cfg *WebsocketConfig
	url string

	mu       sync.Mutex
	handlers map[uint64]func(bridge.Message)
	nextID   uint64

	connMu  sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWebsocket creates a new Websocket medium; call Start or Run to connect.
func NewWebsocket(cfg *WebsocketConfig) (*Websocket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Websocket{
		log:      cfg.Logger.With("component", "medium.websocket", "channel", cfg.Channel),
		cfg:      cfg,
		url:      channelURL(cfg.HubURL, cfg.Channel),
		handlers: make(map[uint64]func(bridge.Message)),
	}, nil
}

func channelURL(base, channel string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case !strings.Contains(base, "://"):
		base = "ws://" + base
	}
	return base + hub.ChannelPath + url.PathEscape(channel)
}

// Start runs the connection loop in a goroutine, returning an error channel.
func (w *Websocket) Start(ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := w.Run(ctx); err != nil {
			errCh <- err
		}
	}()
	return errCh
}

// Run connects to the hub and reconnects with exponential backoff until ctx is cancelled.
func (w *Websocket) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	bo.InitialInterval = w.cfg.InitialBackoff
	bo.MaxInterval = w.cfg.MaxBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := w.connect(ctx)
		if connected {
			bo.Reset()
		}
		if ctx.Err() != nil {
			return nil
		}
		wait := bo.NextBackOff()
		metrics.MediumReconnects.WithLabelValues("websocket").Inc()
		w.log.Debug("reconnecting to hub", "in", wait, "error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// Connected reports whether the medium currently holds a hub connection.
func (w *Websocket) Connected() bool {
	w.connMu.RLock()
	defer w.connMu.RUnlock()
	return w.conn != nil
}

// WaitConnected blocks until the medium is connected or ctx is done.
func (w *Websocket) WaitConnected(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !w.Connected() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (w *Websocket) Publish(ctx context.Context, msg bridge.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.connMu.RLock()
	conn := w.conn
	w.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		defer func() { _ = conn.SetWriteDeadline(time.Time{}) }()
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (w *Websocket) Subscribe(handler func(bridge.Message)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	id := w.nextID
	w.handlers[id] = handler
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.handlers, id)
	}
}

func (w *Websocket) connect(ctx context.Context) (bool, error) {
	conn, _, err := w.cfg.Dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to dial hub: %w", err)
	}
	w.setConn(conn)
	w.log.Info("connected to hub", "url", w.url)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	defer w.clearConn(conn)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		var msg bridge.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			metrics.MediumDeliveryDrops.WithLabelValues("websocket").Inc()
			w.log.Warn("invalid frame", "error", err)
			continue
		}
		w.deliver(msg)
	}
}

func (w *Websocket) setConn(conn *websocket.Conn) {
	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.conn != nil {
		_ = w.conn.Close()
	}
	w.conn = conn
}

func (w *Websocket) clearConn(conn *websocket.Conn) {
	w.connMu.Lock()
	if w.conn == conn {
		w.conn = nil
	}
	w.connMu.Unlock()
	_ = conn.Close()
}

func (w *Websocket) deliver(msg bridge.Message) {
	w.mu.Lock()
	handlers := make([]func(bridge.Message), 0, len(w.handlers))
	for _, h := range w.handlers {
		handlers = append(handlers, h)
	}
	w.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}
