package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the notification hub.
type Metrics struct {
	// Deliveries by outcome
	Deliveries *prometheus.CounterVec

	// Currently registered live connections
	Connections prometheus.Gauge

	// Connections dropped for exceeding the send bound
	DroppedConnections prometheus.Counter

	// Per-connection send latency
	SendLatency prometheus.Histogram
}

// New creates a new Metrics instance with all hub metrics registered.
func New() *Metrics {
	return &Metrics{
		Deliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "splitledger_notify_deliveries_total",
			Help: "Total event deliveries by outcome",
		}, []string{"outcome"}), // outcome: "delivered-live", "queued-offline", "failed"

		Connections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "splitledger_notify_connections",
			Help: "Number of currently registered live connections",
		}),

		DroppedConnections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "splitledger_notify_dropped_connections_total",
			Help: "Connections forcibly unregistered after a send timed out",
		}),

		SendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "splitledger_notify_send_duration_seconds",
			Help:    "Duration of individual connection sends",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementDelivery records one delivery outcome.
func (m *Metrics) IncrementDelivery(outcome string) {
	if m != nil {
		m.Deliveries.WithLabelValues(outcome).Inc()
	}
}

// ConnectionRegistered adjusts the live connection gauge.
func (m *Metrics) ConnectionRegistered() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnectionUnregistered() {
	if m != nil {
		m.Connections.Dec()
	}
}

// IncrementDropped records a connection dropped for a slow send.
func (m *Metrics) IncrementDropped() {
	if m != nil {
		m.DroppedConnections.Inc()
	}
}

// ObserveSendLatency records one connection send duration.
func (m *Metrics) ObserveSendLatency(d time.Duration) {
	if m != nil {
		m.SendLatency.Observe(d.Seconds())
	}
}
