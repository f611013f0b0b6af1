package core

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes forwarder/routing/replay/discovery counters on the
// admin HTTP surface (spec §6 supplement: the module carries an ambient
// observability stack regardless of the original spec's non-goals around
// a full metrics pipeline).
type Metrics struct {
	forwarded          prometheus.Counter
	delivered          prometheus.Counter
	invalidPacket      prometheus.Counter
	policyRejected     prometheus.Counter
	replayRejected     prometheus.Counter
	routeNotFound      prometheus.Counter
	hopLimitExceeded   prometheus.Counter
	peerCount          prometheus.Gauge
}

// NewMetrics registers every counter/gauge against reg. Pass a fresh
// prometheus.NewRegistry() per process (the admin server wires it into
// promhttp.HandlerFor).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		forwarded:        prometheus.NewCounter(prometheus.CounterOpts{Name: "mesh_packets_forwarded_total", Help: "Mesh packets relayed to a next hop."}),
		delivered:        prometheus.NewCounter(prometheus.CounterOpts{Name: "mesh_packets_delivered_total", Help: "Mesh packets delivered to this node."}),
		invalidPacket:    prometheus.NewCounter(prometheus.CounterOpts{Name: "mesh_packets_invalid_total", Help: "Mesh packets dropped for framing or validation errors."}),
		policyRejected:   prometheus.NewCounter(prometheus.CounterOpts{Name: "mesh_packets_policy_rejected_total", Help: "Mesh packets rejected by payment policy."}),
		replayRejected:   prometheus.NewCounter(prometheus.CounterOpts{Name: "mesh_packets_replay_rejected_total", Help: "Mesh packets rejected as replays."}),
		routeNotFound:    prometheus.NewCounter(prometheus.CounterOpts{Name: "mesh_route_not_found_total", Help: "Forwarding attempts that failed to discover a route."}),
		hopLimitExceeded: prometheus.NewCounter(prometheus.CounterOpts{Name: "mesh_hop_limit_exceeded_total", Help: "Packets dropped for exceeding the hop budget."}),
		peerCount:        prometheus.NewGauge(prometheus.GaugeOpts{Name: "mesh_direct_peer_count", Help: "Currently connected direct mesh peers."}),
	}
	reg.MustRegister(m.forwarded, m.delivered, m.invalidPacket, m.policyRejected, m.replayRejected, m.routeNotFound, m.hopLimitExceeded, m.peerCount)
	return m
}

// Every increment method is nil-receiver-safe so callers (and tests) can
// construct a Forwarder with metrics == nil without guarding every call
// site.

func (m *Metrics) incForwarded() {
	if m != nil {
		m.forwarded.Inc()
	}
}

func (m *Metrics) incDelivered() {
	if m != nil {
		m.delivered.Inc()
	}
}

func (m *Metrics) incInvalidPacket() {
	if m != nil {
		m.invalidPacket.Inc()
	}
}

func (m *Metrics) incPolicyRejected() {
	if m != nil {
		m.policyRejected.Inc()
	}
}

func (m *Metrics) incReplayRejected() {
	if m != nil {
		m.replayRejected.Inc()
	}
}

func (m *Metrics) incRouteNotFound() {
	if m != nil {
		m.routeNotFound.Inc()
	}
}

func (m *Metrics) incHopLimitExceeded() {
	if m != nil {
		m.hopLimitExceeded.Inc()
	}
}

func (m *Metrics) setPeerCount(n int) {
	if m != nil {
		m.peerCount.Set(float64(n))
	}
}
