package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "famly_hub"

// Metrics groups the hub's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Connections        prometheus.Gauge
	Frames             *prometheus.CounterVec // by event
	Deliveries         *prometheus.CounterVec // by result: delivered | dropped
	RateLimited        prometheus.Counter
	PresenceBroadcasts *prometheus.CounterVec // by status
	Errors             *prometheus.CounterVec // by kind
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live websocket connections.",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_frames_total",
			Help:      "Inbound frames by event name.",
		}, []string{"event"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Outbound frame deliveries by result.",
		}, []string{"result"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Sends rejected by the per-connection limiter.",
		}),
		PresenceBroadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_broadcasts_total",
			Help:      "Presence transitions flushed to contacts.",
		}, []string{"status"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_errors_total",
			Help:      "Failure envelopes by error kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.Connections, m.Frames, m.Deliveries, m.RateLimited, m.PresenceBroadcasts, m.Errors)
	return m
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) Frame(event string) {
	if m != nil {
		m.Frames.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) Delivered(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.Deliveries.WithLabelValues("delivered").Inc()
	} else {
		m.Deliveries.WithLabelValues("dropped").Inc()
	}
}

func (m *Metrics) Limited() {
	if m != nil {
		m.RateLimited.Inc()
	}
}

func (m *Metrics) Presence(status string) {
	if m != nil {
		m.PresenceBroadcasts.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) Failure(kind string) {
	if m != nil {
		m.Errors.WithLabelValues(kind).Inc()
	}
}
