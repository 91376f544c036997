package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hard_bridge_build_info",
		Help: "Build information of the renderer debugger bridge",
	}, []string{"version", "commit", "date"})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hard_bridge_messages_sent_total", Help: "Total messages broadcast by the bridge.",
	}, []string{"kind"})
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hard_bridge_messages_received_total", Help: "Total inbound messages accepted by the bridge.",
	}, []string{"kind"})
	MessagesProvided = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hard_bridge_messages_provided_total", Help: "Total locally provided events (snapshot answers).",
	}, []string{"kind"})
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hard_bridge_messages_dropped_total", Help: "Total inbound messages dropped.",
	}, []string{"reason"})

	PendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hard_bridge_pending_requests", Help: "Receivers currently waiting for a correlated response.",
	})
	RequestOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hard_bridge_request_outcomes_total", Help: "Outcomes of pending receivers.",
	}, []string{"result"})

	HubPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hard_bridge_hub_peers", Help: "Peers currently connected to the broadcast hub.",
	})
	HubFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hard_bridge_hub_frames_total", Help: "Total frames forwarded by the broadcast hub.",
	})
	MediumDeliveryDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hard_bridge_medium_delivery_drops_total", Help: "Messages a medium could not deliver to a subscriber.",
	}, []string{"medium"})
	MediumReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hard_bridge_medium_reconnects_total", Help: "Medium reconnect attempts.",
	}, []string{"medium"})

	ResponderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hard_bridge_responder_requests_total", Help: "Requests answered by the scene responder.",
	}, []string{"kind"})
)

var (
	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hard_bridge_tool_calls_total", Help: "MCP tool calls by outcome.",
	}, []string{"tool", "status"})
	ToolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hard_bridge_tool_call_duration_seconds",
		Help:    "Duration of MCP tool calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})
)
