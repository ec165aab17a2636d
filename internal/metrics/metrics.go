// Package metrics provides Prometheus metrics for GhostLink: STUN
// resolution outcomes, handshake outcomes, session throughput, and
// keep-alive activity. This is ambient observability carried regardless of
// spec.md's Non-goals, which scope out a UI-facing metrics dashboard, not
// the instrumentation itself.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ghostlink"

// Metrics contains all Prometheus metrics for one node.
type Metrics struct {
	// STUN metrics
	StunResolutions    *prometheus.CounterVec
	StunResolveLatency prometheus.Histogram
	NatType            *prometheus.GaugeVec

	// Handshake metrics
	HandshakeAttempts prometheus.Counter
	HandshakeOutcomes *prometheus.CounterVec
	HandshakeLatency  prometheus.Histogram

	// Session metrics
	SessionsActive    prometheus.Gauge
	SessionsEstablished prometheus.Counter
	BytesSent         prometheus.Counter
	BytesReceived     prometheus.Counter
	MessagesSent      prometheus.Counter
	MessagesReceived  prometheus.Counter
	DecryptionErrors  prometheus.Counter

	// Control-loop metrics
	KeepAlivesSent      prometheus.Counter
	PublicAddrChanges   prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide default metrics instance, registered
// against the default Prometheus registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered against the
// default Prometheus registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom
// registry, so tests can avoid colliding with the process-wide default.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StunResolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stun_resolutions_total",
			Help:      "Total STUN binding resolutions by outcome",
		}, []string{"outcome"}),
		StunResolveLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stun_resolve_latency_seconds",
			Help:      "Histogram of STUN binding request/response latency",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 1.5, 2, 3},
		}),
		NatType: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nat_type",
			Help:      "1 for the currently classified NAT type, 0 otherwise",
		}, []string{"type"}),

		HandshakeAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_attempts_total",
			Help:      "Total handshake attempts initiated",
		}),
		HandshakeOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_outcomes_total",
			Help:      "Total handshake outcomes by result",
		}, []string{"result"}),
		HandshakeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_latency_seconds",
			Help:      "Histogram of time from Punching to Connected",
			Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30},
		}),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "1 if a session is currently connected, 0 otherwise",
		}),
		SessionsEstablished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_established_total",
			Help:      "Total sessions successfully established",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total bytes of chat message text sent (plaintext, before framing and encryption)",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes of chat message text received (plaintext, after decryption and framing)",
		}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total chat messages sent",
		}),
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total chat messages received",
		}),
		DecryptionErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decryption_errors_total",
			Help:      "Total fatal AEAD decryption failures",
		}),

		KeepAlivesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalives_sent_total",
			Help:      "Total STUN keep-alive re-resolutions performed while Disconnected",
		}),
		PublicAddrChanges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "public_addr_changes_total",
			Help:      "Total times the STUN-resolved public address changed",
		}),
	}
}

// RecordStunResolution records a STUN resolution outcome label (the engine
// records "ok" or "error"); latency is observed only for "ok".
func (m *Metrics) RecordStunResolution(outcome string, latencySeconds float64) {
	m.StunResolutions.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.StunResolveLatency.Observe(latencySeconds)
	}
}

// SetNatType records the most recently classified NAT type.
func (m *Metrics) SetNatType(natType string) {
	m.NatType.Reset()
	m.NatType.WithLabelValues(natType).Set(1)
}

// RecordHandshakeOutcome records a completed handshake attempt.
func (m *Metrics) RecordHandshakeOutcome(result string, latencySeconds float64) {
	m.HandshakeOutcomes.WithLabelValues(result).Inc()
	if result == "connected" {
		m.HandshakeLatency.Observe(latencySeconds)
	}
}

// RecordSessionEstablished marks a session transitioning to Connected.
func (m *Metrics) RecordSessionEstablished() {
	m.SessionsActive.Set(1)
	m.SessionsEstablished.Inc()
}

// RecordSessionTornDown marks a session transitioning to Disconnected.
func (m *Metrics) RecordSessionTornDown() {
	m.SessionsActive.Set(0)
}

// RecordMessageSent records one outbound chat message and its text length.
func (m *Metrics) RecordMessageSent(textBytes int) {
	m.MessagesSent.Inc()
	m.BytesSent.Add(float64(textBytes))
}

// RecordMessageReceived records one inbound chat message and its text length.
func (m *Metrics) RecordMessageReceived(textBytes int) {
	m.MessagesReceived.Inc()
	m.BytesReceived.Add(float64(textBytes))
}

// RecordDecryptionError records a fatal AEAD authentication failure.
func (m *Metrics) RecordDecryptionError() {
	m.DecryptionErrors.Inc()
}

// RecordKeepAlive records one STUN keep-alive re-resolution, and whether
// it revealed a changed public address.
func (m *Metrics) RecordKeepAlive(addrChanged bool) {
	m.KeepAlivesSent.Inc()
	if addrChanged {
		m.PublicAddrChanges.Inc()
	}
}
