package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hard-bridge/bridge"
	"hard-bridge/debugger"
	"hard-bridge/election"
	"hard-bridge/filters"
	mcpbridge "hard-bridge/mcp"
	"hard-bridge/medium"
	"hard-bridge/metrics"
	"hard-bridge/node"
	"hard-bridge/responder"
	"hard-bridge/snapshot"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.ShowVersion {
		fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	log := newLogger(cfg.Verbose)

	if cfg.MetricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go serveMetrics(log, cfg.MetricsAddr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	media, err := newMediums(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer media.close()

	if cfg.Scene != "" {
		if err := startResponder(log, cfg, media); err != nil {
			return err
		}
		if cfg.ResponderOnly {
			log.Info("serving scene until interrupted", "scene", cfg.Scene, "channel", cfg.Channel)
			select {
			case <-ctx.Done():
				return nil
			case err := <-media.errCh:
				return err
			}
		}
	}

	debuggerMedium, err := media.open("debugger")
	if err != nil {
		return err
	}
	b, err := bridge.New(&bridge.Config{
		Logger:  log,
		Medium:  debuggerMedium,
		Version: cfg.ProtocolVersion,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}
	defer b.Close()

	client, err := debugger.New(&debugger.Config{
		Logger:    log,
		Bridge:    b,
		Snapshots: snapshot.NewStore(cfg.MaxSnapshots),
	})
	if err != nil {
		return fmt.Errorf("failed to create debugger: %w", err)
	}
	defer client.Close()

	store := filters.NewStore(log)
	go startup(ctx, log, cfg, client, store)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "hard-bridge",
		Version: version,
	}, nil)
	tools := &mcpbridge.Tools{Log: log, Debugger: client, Filters: store}
	tools.Register(server)

	log.Info("starting MCP server", "medium", cfg.Medium, "channel", cfg.Channel, "protocol_version", b.Version())
	mcpErr := make(chan error, 1)
	go func() { mcpErr <- server.Run(ctx, &mcp.StdioTransport{}) }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case err := <-media.errCh:
		return err
	case err := <-mcpErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP server failed: %w", err)
		}
		return nil
	}
}

// startup runs the optional renderer handshake steps in the background so
// tools are available immediately.
func startup(ctx context.Context, log *slog.Logger, cfg Config, client *debugger.Client, store *filters.Store) {
	if !cfg.WaitForPulse && !cfg.StartWithSnapshot && !cfg.FiltersFromPipelines {
		return
	}
	if err := client.WaitForPulse(ctx, time.Second); err != nil {
		log.Warn("renderer never answered", "error", err)
		return
	}
	if cfg.StartWithSnapshot {
		s, err := client.TakeSnapshot(ctx)
		if err != nil {
			log.Warn("failed to take startup snapshot", "error", err)
		} else if err := client.ActivateSnapshot(s.ID); err != nil {
			log.Warn("failed to activate startup snapshot", "error", err)
		}
	}
	if cfg.FiltersFromPipelines {
		if err := client.FiltersFromPipelines(ctx, store); err != nil {
			log.Warn("failed to set filters from pipelines", "error", err)
		}
	}
}

func startResponder(log *slog.Logger, cfg Config, media *mediums) error {
	scene, err := responder.LoadScene(cfg.Scene)
	if err != nil {
		return err
	}
	m, err := media.open("responder")
	if err != nil {
		return err
	}
	b, err := bridge.New(&bridge.Config{
		Logger:  log,
		Medium:  m,
		Version: cfg.ProtocolVersion,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create responder bridge: %w", err)
	}
	media.onClose(b.Close)
	r, err := responder.New(&responder.Config{Logger: log, Bridge: b, Scene: scene})
	if err != nil {
		return fmt.Errorf("failed to create responder: %w", err)
	}
	media.onClose(r.Close)
	log.Info("responder started", "scene", cfg.Scene)
	return nil
}

func serveMetrics(log *slog.Logger, addr string) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("failed to start prometheus metrics server listener", "error", err)
		return
	}
	log.Info("prometheus metrics server listening", "address", listener.Addr().String())
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.Serve(listener); err != nil {
		log.Error("prometheus metrics server failed", "error", err)
	}
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	// Stdout carries the MCP protocol.
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel,
		TimeFormat: time.Kitchen,
	}))
}

// mediums opens one endpoint per local participant (debugger, responder) on
// the configured broadcast medium.
type mediums struct {
	open    func(name string) (bridge.Medium, error)
	errCh   chan error
	closers []func()
}

func (m *mediums) onClose(fn func()) {
	m.closers = append(m.closers, fn)
}

func (m *mediums) close() {
	for i := len(m.closers) - 1; i >= 0; i-- {
		m.closers[i]()
	}
}

func newMediums(ctx context.Context, log *slog.Logger, cfg Config) (*mediums, error) {
	m := &mediums{errCh: make(chan error, 4)}

	switch cfg.Medium {
	case "local":
		hub := medium.NewLocalHub()
		m.open = func(string) (bridge.Medium, error) {
			l := hub.Join(cfg.Channel)
			m.onClose(func() { _ = l.Close() })
			return l, nil
		}

	case "websocket":
		n, err := node.New(&node.Config{Logger: log, Addr: cfg.HubAddr})
		if err != nil {
			return nil, fmt.Errorf("failed to create node: %w", err)
		}
		e, err := election.New(&election.Config{Logger: log, Node: n, HubURL: n.HubURL()})
		if err != nil {
			return nil, fmt.Errorf("failed to create election: %w", err)
		}
		electionCtx, stopElection := context.WithCancel(ctx)
		electionDone := e.Start(electionCtx)
		m.onClose(func() {
			stopElection()
			<-electionDone
			n.Stop()
		})
		log.Info("hub role determined", "role", n.Role())

		m.open = func(name string) (bridge.Medium, error) {
			ws, err := medium.NewWebsocket(&medium.WebsocketConfig{
				Logger:  log.With("participant", name),
				HubURL:  n.HubURL(),
				Channel: cfg.Channel,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create websocket medium: %w", err)
			}
			forward(ws.Start(ctx), m.errCh)
			return ws, nil
		}

	case "kafka":
		topic := cfg.KafkaTopic
		if topic == "" {
			topic = cfg.Channel
		}
		m.open = func(name string) (bridge.Medium, error) {
			k, err := medium.NewKafka(&medium.KafkaConfig{
				Logger:  log.With("participant", name),
				Brokers: cfg.KafkaBrokers,
				Topic:   topic,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create kafka medium: %w", err)
			}
			go func() {
				if err := k.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					m.errCh <- fmt.Errorf("kafka medium stopped: %w", err)
				}
			}()
			m.onClose(k.Close)
			return k, nil
		}

	default:
		return nil, fmt.Errorf("unknown medium %q (want local, websocket or kafka)", cfg.Medium)
	}
	return m, nil
}

func forward(from <-chan error, to chan<- error) {
	go func() {
		if err, ok := <-from; ok && err != nil && !errors.Is(err, context.Canceled) {
			to <- err
		}
	}()
}
