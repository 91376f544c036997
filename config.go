package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"hard-bridge/bridge"
	"hard-bridge/protocol"
	"hard-bridge/snapshot"
)

const (
	defaultChannel     = "hard-renderer"
	defaultMedium      = "websocket"
	defaultHubAddr     = "127.0.0.1:1994"
	defaultMetricsAddr = ""
)

type Config struct {
	Channel         string
	ProtocolVersion int
	Timeout         time.Duration

	Medium       string
	HubAddr      string
	KafkaBrokers []string
	KafkaTopic   string

	Scene         string
	ResponderOnly bool

	MaxSnapshots         int
	WaitForPulse         bool
	StartWithSnapshot    bool
	FiltersFromPipelines bool

	MetricsAddr string
	Verbose     bool
	ShowVersion bool
}

func loadConfig() (Config, error) {
	var cfg Config

	flag.StringVar(&cfg.Channel, "channel", getenv("HARD_CHANNEL", defaultChannel), "broadcast channel shared with the renderer")
	flag.IntVar(&cfg.ProtocolVersion, "protocol-version", getenvInt("HARD_VERSION", protocol.Version), "protocol version stamped on every message")
	flag.DurationVar(&cfg.Timeout, "timeout", getenvDuration("HARD_TIMEOUT", bridge.DefaultTimeout), "how long a request waits for its response")
	flag.StringVar(&cfg.Medium, "medium", getenv("HARD_MEDIUM", defaultMedium), "broadcast medium: local, websocket or kafka")
	flag.StringVar(&cfg.HubAddr, "hub-addr", getenv("HARD_HUB_ADDR", defaultHubAddr), "websocket hub address, hosted by whichever process leads")
	kafkaBrokers := flag.String("kafka-brokers", getenv("HARD_KAFKA_BROKERS", ""), "comma-separated kafka brokers")
	flag.StringVar(&cfg.KafkaTopic, "kafka-topic", getenv("HARD_KAFKA_TOPIC", ""), "kafka topic (defaults to the channel)")
	flag.StringVar(&cfg.Scene, "scene", getenv("HARD_SCENE", ""), "YAML scene served by an in-process renderer responder")
	flag.BoolVar(&cfg.ResponderOnly, "responder-only", getenvBool("HARD_RESPONDER_ONLY", false), "serve the scene without starting the MCP server")
	flag.IntVar(&cfg.MaxSnapshots, "max-snapshots", getenvInt("HARD_MAX_SNAPSHOTS", snapshot.DefaultMaxSnapshots), "snapshots kept before the oldest inactive one is evicted")
	flag.BoolVar(&cfg.WaitForPulse, "wait-for-pulse", getenvBool("HARD_WAIT_FOR_PULSE", false), "wait until the renderer answers a pulse check")
	flag.BoolVar(&cfg.StartWithSnapshot, "start-with-snapshot", getenvBool("HARD_START_WITH_SNAPSHOT", false), "take and activate a snapshot once the renderer answers")
	flag.BoolVar(&cfg.FiltersFromPipelines, "filters-from-pipelines", getenvBool("HARD_FILTERS_FROM_PIPELINES", false), "seed filters with every pipeline's resources once the renderer answers")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", getenv("HARD_METRICS_ADDR", defaultMetricsAddr), "prometheus metrics listen address (empty disables)")
	flag.BoolVar(&cfg.Verbose, "verbose", getenvBool("HARD_VERBOSE", false), "enable debug logging")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "print version and exit")
	flag.Parse()

	cfg.KafkaBrokers = splitCSV(*kafkaBrokers)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ShowVersion {
		return nil
	}
	if c.Channel == "" {
		return errors.New("channel is required (set HARD_CHANNEL or --channel)")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %s", c.Timeout)
	}
	if c.MaxSnapshots <= 0 {
		return fmt.Errorf("max snapshots must be > 0, got %d", c.MaxSnapshots)
	}
	switch c.Medium {
	case "local":
		if c.Scene == "" {
			return errors.New("the local medium needs a scene to answer requests (set HARD_SCENE or --scene)")
		}
	case "websocket":
		if c.HubAddr == "" {
			return errors.New("hub address is required (set HARD_HUB_ADDR or --hub-addr)")
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return errors.New("kafka brokers are required (set HARD_KAFKA_BROKERS or --kafka-brokers)")
		}
	default:
		return fmt.Errorf("unknown medium %q (want local, websocket or kafka)", c.Medium)
	}
	if c.ResponderOnly && c.Scene == "" {
		return errors.New("--responder-only needs a scene")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
