package network

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messagesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fep_net_messages_total",
	Help: "counter of framed messages sent and received, by channel and direction",
}, []string{"channel", "direction"})

var reconnectsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fep_net_reconnects_total",
	Help: "counter of reconnection attempts, by channel",
}, []string{"channel"})

var heartbeatsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fep_net_heartbeats_total",
	Help: "counter of heartbeat exchanges, by channel and outcome",
}, []string{"channel", "outcome"})

var protocolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fep_net_protocol_errors_total",
	Help: "counter of undecodable messages, by channel",
}, []string{"channel"})

var unmatchedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fep_net_unmatched_responses_total",
	Help: "counter of dropped responses which matched no pending request, by channel",
}, []string{"channel"})

var lateResponsesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fep_net_late_responses_total",
	Help: "counter of dropped responses which arrived after their request timed out, by channel",
}, []string{"channel"})

var pendingGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "fep_net_pending_requests",
	Help: "current in-flight correlated requests, by channel",
}, []string{"channel"})

var stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fep_net_state_transitions_total",
	Help: "counter of client state transitions, by channel and new state",
}, []string{"channel", "state"})

var serverPeersGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "fep_net_server_peers",
	Help: "current connected peer sockets, by server channel",
}, []string{"channel"})
