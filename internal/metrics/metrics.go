// Package metrics defines the Prometheus collectors of the event bus. A
// Metrics value is bound to one registry so isolated instances (tests,
// embedded buses) never collide. A nil *Metrics records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eventbus"

// Consume outcomes.
const (
	OutcomeAcked     = "acked"
	OutcomePoison    = "poison"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
	OutcomeUnhandled = "unhandled"
)

// Metrics holds every collector.
type Metrics struct {
	reg *prometheus.Registry

	Published       *prometheus.CounterVec
	PublishRetries  *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec
	Consumed        *prometheus.CounterVec
	DeadLettered    *prometheus.CounterVec
	Claimed         *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec
	Pending         *prometheus.GaugeVec

	GatewayConnections prometheus.Gauge
	GatewayBroadcasts  prometheus.Counter
	GatewayDelivered   prometheus.Counter
	GatewayForceClosed *prometheus.CounterVec

	Idempotency *prometheus.CounterVec

	TrimmedEntries *prometheus.CounterVec

	StorageLatency *prometheus.HistogramVec
	StorageBytes   *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg gets a fresh registry with
// the Go and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_published_total",
			Help: "Events appended to a stream, by topic and type.",
		}, []string{"topic", "type"}),
		PublishRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "publish_retries_total",
			Help: "Append retries after a transient transport failure.",
		}, []string{"topic"}),
		PublishFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "publish_failures_total",
			Help: "Publishes that failed, by reason.",
		}, []string{"topic", "reason"}),
		Consumed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_consumed_total",
			Help: "Stream entries processed by a consumer group, by outcome.",
		}, []string{"topic", "group", "outcome"}),
		DeadLettered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_dead_lettered_total",
			Help: "Entries moved to the dead-letter stream.",
		}, []string{"topic", "group"}),
		Claimed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_claimed_total",
			Help: "Idle pending entries claimed for redelivery.",
		}, []string{"topic", "group"}),
		HandlerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "handler_duration_ms",
			Help:    "Handler latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000},
		}, []string{"type"}),
		Pending: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pending_entries",
			Help: "Pending entries seen by the last sweep.",
		}, []string{"topic", "group"}),
		GatewayConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "gateway_connections",
			Help: "Live WebSocket connections.",
		}),
		GatewayBroadcasts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "gateway_broadcasts_total",
			Help: "Broadcast calls.",
		}),
		GatewayDelivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "gateway_messages_enqueued_total",
			Help: "Messages enqueued on connection queues.",
		}),
		GatewayForceClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "gateway_forced_closes_total",
			Help: "Connections closed by the server, by reason.",
		}, []string{"reason"}),
		Idempotency: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "idempotency_outcomes_total",
			Help: "Idempotency guard decisions.",
		}, []string{"outcome"}),
		TrimmedEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "retention_trimmed_entries_total",
			Help: "Entries removed by retention.",
		}, []string{"topic"}),
		StorageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "storage_op_duration_seconds",
			Help:    "Pebble operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 10),
		}, []string{"op"}),
		StorageBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "storage_bytes_total",
			Help: "Bytes read from or written to Pebble.",
		}, []string{"op"}),
	}
}

// Registry returns the registry collectors are bound to.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) IncPublished(topic, eventType string) {
	if m != nil {
		m.Published.WithLabelValues(topic, eventType).Inc()
	}
}

func (m *Metrics) IncPublishRetry(topic string) {
	if m != nil {
		m.PublishRetries.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) IncPublishFailure(topic, reason string) {
	if m != nil {
		m.PublishFailures.WithLabelValues(topic, reason).Inc()
	}
}

func (m *Metrics) IncConsumed(topic, group, outcome string) {
	if m != nil {
		m.Consumed.WithLabelValues(topic, group, outcome).Inc()
	}
}

func (m *Metrics) IncDeadLettered(topic, group string) {
	if m != nil {
		m.DeadLettered.WithLabelValues(topic, group).Inc()
	}
}

func (m *Metrics) AddClaimed(topic, group string, n int) {
	if m != nil && n > 0 {
		m.Claimed.WithLabelValues(topic, group).Add(float64(n))
	}
}

func (m *Metrics) SetPending(topic, group string, n int) {
	if m != nil {
		m.Pending.WithLabelValues(topic, group).Set(float64(n))
	}
}

func (m *Metrics) ObserveHandler(eventType string, d time.Duration) {
	if m != nil {
		m.HandlerDuration.WithLabelValues(eventType).Observe(float64(d.Microseconds()) / 1000)
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.GatewayConnections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.GatewayConnections.Dec()
	}
}

func (m *Metrics) ObserveBroadcast(enqueued int) {
	if m != nil {
		m.GatewayBroadcasts.Inc()
		m.GatewayDelivered.Add(float64(enqueued))
	}
}

func (m *Metrics) IncForceClosed(reason string) {
	if m != nil {
		m.GatewayForceClosed.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncIdempotency(outcome string) {
	if m != nil {
		m.Idempotency.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AddTrimmed(topic string, n int) {
	if m != nil && n > 0 {
		m.TrimmedEntries.WithLabelValues(topic).Add(float64(n))
	}
}
