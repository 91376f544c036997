package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hard-bridge/metrics"
)

// ChannelPath is the route prefix peers dial to join a named channel.
const ChannelPath = "/channels/"

// Hub re-broadcasts websocket frames between peers that joined the same channel
// name. A frame is never echoed back to the peer that sent it.
type Hub struct {
	addr     string
	log      *slog.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	mu       sync.Mutex
	channels map[string]map[*peer]struct{}

	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
}

type peer struct {
	channel string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peer) write(frame []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, frame)
}

// New creates a new Hub instance
func New(addr string, log *slog.Logger) *Hub {
	h := &Hub{
		addr: addr,
		log:  log.With("component", "hub"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		mux:      http.NewServeMux(),
		channels: make(map[string]map[*peer]struct{}),
	}
	h.mux.HandleFunc("/ping", h.handlePing)
	h.mux.HandleFunc("GET "+ChannelPath+"{name}", h.handleChannel)
	return h
}

// Handler returns the HTTP handler serving the hub routes.
func (h *Hub) Handler() http.Handler {
	return h.mux
}

// Addr returns the bound listener address, or the configured one before Start.
func (h *Hub) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

// Start binds the listener and serves in the background
func (h *Hub) Start() error {
	// Bind first to fail fast if the port is already taken
	listener, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	h.listener = listener

	h.server = &http.Server{
		Handler:           h.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.log.Info("hub listening", "address", listener.Addr().String())
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("hub server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully stops the hub and disconnects every peer
func (h *Hub) Stop() {
	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.server.Shutdown(ctx); err != nil {
			h.log.Warn("hub shutdown error", "error", err)
		}
	}
	h.mu.Lock()
	for _, peers := range h.channels {
		for p := range peers {
			_ = p.conn.Close()
		}
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// Peers returns the number of peers joined to the named channel.
func (h *Hub) Peers(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}

func (h *Hub) handlePing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

func (h *Hub) handleChannel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		http.Error(w, "channel name required", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	p := &peer{channel: name, conn: conn}
	h.join(p)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.readLoop(p)
	}()
}

func (h *Hub) join(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[p.channel] == nil {
		h.channels[p.channel] = make(map[*peer]struct{})
	}
	h.channels[p.channel][p] = struct{}{}
	metrics.HubPeers.Inc()
	h.log.Debug("peer joined", "channel", p.channel, "peers", len(h.channels[p.channel]))
}

func (h *Hub) leave(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.channels[p.channel][p]; !ok {
		return
	}
	delete(h.channels[p.channel], p)
	if len(h.channels[p.channel]) == 0 {
		delete(h.channels, p.channel)
	}
	metrics.HubPeers.Dec()
	h.log.Debug("peer left", "channel", p.channel)
}

func (h *Hub) readLoop(p *peer) {
	defer func() {
		h.leave(p)
		_ = p.conn.Close()
	}()
	for {
		_, frame, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		h.broadcast(p, frame)
	}
}

func (h *Hub) broadcast(from *peer, frame []byte) {
	h.mu.Lock()
	targets := make([]*peer, 0, len(h.channels[from.channel]))
	for p := range h.channels[from.channel] {
		if p != from {
			targets = append(targets, p)
		}
	}
	h.mu.Unlock()

	metrics.HubFrames.Inc()
	for _, p := range targets {
		if err := p.write(frame); err != nil {
			h.log.Debug("failed to forward frame", "channel", p.channel, "error", err)
		}
	}
}
