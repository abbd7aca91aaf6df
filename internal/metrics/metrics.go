package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "papersim"

// Metrics holds the settlement counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	TradesOpened       *prometheus.CounterVec
	TradesClosed       *prometheus.CounterVec
	SettlementErrors   *prometheus.CounterVec
	SettlementDuration *prometheus.HistogramVec
	PowerUps           prometheus.Counter
	FeeSweeps          prometheus.Counter
	ThresholdOutcomes  *prometheus.CounterVec
	OutboxPublished    prometheus.Counter
}

// New creates the metric set and registers it on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TradesOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_opened_total",
			Help:      "Positions opened",
		}, []string{"direction"}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_closed_total",
			Help:      "Positions closed through settlement",
		}, []string{"direction"}),
		SettlementErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_errors_total",
			Help:      "Rejected or failed ledger operations",
		}, []string{"op", "reason"}),
		SettlementDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_duration_seconds",
			Help:      "Ledger operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		PowerUps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "power_ups_total",
			Help:      "Positions abandoned through power-up",
		}),
		FeeSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_sweeps_total",
			Help:      "End-of-day fee sweeps applied",
		}),
		ThresholdOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threshold_outcomes_total",
			Help:      "Win/lose outcomes emitted",
		}, []string{"outcome"}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox events relayed to sinks",
		}),
	}

	m.registry.MustRegister(
		m.TradesOpened,
		m.TradesClosed,
		m.SettlementErrors,
		m.SettlementDuration,
		m.PowerUps,
		m.FeeSweeps,
		m.ThresholdOutcomes,
		m.OutboxPublished,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the HTTP handler serving the registry
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOp records the latency of an operation and, on failure, its reason
func (m *Metrics) ObserveOp(op string, start time.Time, reason string) {
	if m == nil {
		return
	}
	m.SettlementDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if reason != "" {
		m.SettlementErrors.WithLabelValues(op, reason).Inc()
	}
}

// TradeOpened counts an opened position
func (m *Metrics) TradeOpened(direction string) {
	if m == nil {
		return
	}
	m.TradesOpened.WithLabelValues(direction).Inc()
}

// TradeClosed counts a closed position
func (m *Metrics) TradeClosed(direction string) {
	if m == nil {
		return
	}
	m.TradesClosed.WithLabelValues(direction).Inc()
}

// PowerUp counts an abandoned position
func (m *Metrics) PowerUp() {
	if m == nil {
		return
	}
	m.PowerUps.Inc()
}

// FeeSweep counts an applied end-of-day sweep
func (m *Metrics) FeeSweep() {
	if m == nil {
		return
	}
	m.FeeSweeps.Inc()
}

// ThresholdOutcome counts an emitted win/lose outcome
func (m *Metrics) ThresholdOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ThresholdOutcomes.WithLabelValues(outcome).Inc()
}

// Published counts a relayed outbox event
func (m *Metrics) Published() {
	if m == nil {
		return
	}
	m.OutboxPublished.Inc()
}
