package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for expense mutations.
type Metrics struct {
	// Mutations by operation and result
	Mutations *prometheus.CounterVec

	// Alerts fired by threshold
	AlertsFired *prometheus.CounterVec

	// End-to-end duration of the ledger + threshold unit
	MutationLatency prometheus.Histogram
}

// New creates a new Metrics instance with all expense metrics registered.
func New() *Metrics {
	return &Metrics{
		Mutations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "splitledger_expense_mutations_total",
			Help: "Total expense mutations by operation and result",
		}, []string{"op", "result"}), // op: "submit", "edit", "delete", "payment"

		AlertsFired: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "splitledger_budget_alerts_fired_total",
			Help: "Total budget threshold alerts fired, by threshold percent",
		}, []string{"threshold"}),

		MutationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "splitledger_expense_mutation_duration_seconds",
			Help:    "Duration of the atomic ledger update + threshold evaluation unit",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementMutation records one mutation outcome.
func (m *Metrics) IncrementMutation(op, result string) {
	if m != nil {
		m.Mutations.WithLabelValues(op, result).Inc()
	}
}

// IncrementAlert records one fired threshold alert.
func (m *Metrics) IncrementAlert(threshold string) {
	if m != nil {
		m.AlertsFired.WithLabelValues(threshold).Inc()
	}
}

// ObserveMutationLatency records the duration of one mutation unit.
func (m *Metrics) ObserveMutationLatency(d time.Duration) {
	if m != nil {
		m.MutationLatency.Observe(d.Seconds())
	}
}
