package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the marketplace engine.
// A nil *Metrics is valid and records nothing, which keeps services usable in tests.
type Metrics struct {
	Settlements       *prometheus.CounterVec
	Reservations      *prometheus.CounterVec
	ConsistencyFaults prometheus.Counter
	StatusUpdates     *prometheus.CounterVec
	MatchDuration     prometheus.Histogram
	PriceTicks        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quantumgrid",
			Name:      "settlements_total",
			Help:      "Settlement attempts by path (direct, request) and outcome.",
		}, []string{"path", "outcome"}),
		Reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quantumgrid",
			Name:      "reservations_total",
			Help:      "Capacity reservations by outcome.",
		}, []string{"outcome"}),
		ConsistencyFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quantumgrid",
			Name:      "consistency_faults_total",
			Help:      "Settlements whose ledger append failed and could not be rolled back.",
		}),
		StatusUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quantumgrid",
			Name:      "trade_status_updates_total",
			Help:      "Accepted trade status transitions by target status.",
		}, []string{"status"}),
		MatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quantumgrid",
			Name:      "match_duration_seconds",
			Help:      "Time spent selecting the best listing for a purchase request.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		PriceTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quantumgrid",
			Name:      "price_ticks_total",
			Help:      "Price feed samples consumed by source type.",
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(m.Settlements, m.Reservations, m.ConsistencyFaults, m.StatusUpdates, m.MatchDuration, m.PriceTicks)
	}
	return m
}

func (m *Metrics) Settlement(path, outcome string) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(path, outcome).Inc()
}

func (m *Metrics) Reservation(outcome string) {
	if m == nil {
		return
	}
	m.Reservations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ConsistencyFault() {
	if m == nil {
		return
	}
	m.ConsistencyFaults.Inc()
}

func (m *Metrics) StatusUpdate(status string) {
	if m == nil {
		return
	}
	m.StatusUpdates.WithLabelValues(status).Inc()
}

// ObserveMatch records the time since start.
func (m *Metrics) ObserveMatch(start time.Time) {
	if m == nil {
		return
	}
	m.MatchDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) PriceTick(sourceType string) {
	if m == nil {
		return
	}
	m.PriceTicks.WithLabelValues(sourceType).Inc()
}
