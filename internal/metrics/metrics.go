// Package metrics provides Prometheus instrumentation for the bot.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bagbot"

// Metrics holds the bot's collectors on a private registry. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	// CyclesTotal counts cycles by outcome and trigger.
	CyclesTotal *prometheus.CounterVec
	// CycleDuration tracks cycle wall time.
	CycleDuration prometheus.Histogram
	// TradesTotal counts recorded trades by side and status.
	TradesTotal *prometheus.CounterVec
	// RiskRejections counts gating rejections by rule.
	RiskRejections *prometheus.CounterVec
	// EmergencyStops counts emergency halts.
	EmergencyStops prometheus.Counter
	// RiskScore is the last computed risk score.
	RiskScore prometheus.Gauge
	// BotRunning is 1 while the scheduled worker runs.
	BotRunning prometheus.Gauge
	// SessionTotalValue is the active session's value in the quote asset.
	SessionTotalValue prometheus.Gauge
}

// New creates the collectors on a fresh registry, including Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total strategy cycles by outcome",
		}, []string{"outcome", "trigger"}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Strategy cycle duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		TradesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Total trades recorded by side and status",
		}, []string{"side", "status"}),
		RiskRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_rejections_total",
			Help:      "Signals rejected by the risk gate",
		}, []string{"rule"}),
		EmergencyStops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_stops_total",
			Help:      "Emergency stops triggered",
		}),
		RiskScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Last computed risk score (0-100)",
		}),
		BotRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "Whether the scheduled worker is running",
		}),
		SessionTotalValue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_total_value",
			Help:      "Active session total value in the quote asset",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycle records one finished cycle.
func (m *Metrics) ObserveCycle(outcome string, forced bool, d time.Duration) {
	if m == nil {
		return
	}
	trigger := "scheduled"
	if forced {
		trigger = "forced"
	}
	m.CyclesTotal.WithLabelValues(outcome, trigger).Inc()
	m.CycleDuration.Observe(d.Seconds())
}

// ObserveTrade records one trade.
func (m *Metrics) ObserveTrade(side, status string) {
	if m == nil {
		return
	}
	m.TradesTotal.WithLabelValues(side, status).Inc()
}

// ObserveRejection records one risk rejection.
func (m *Metrics) ObserveRejection(rule string) {
	if m == nil {
		return
	}
	m.RiskRejections.WithLabelValues(rule).Inc()
}

// ObserveEmergencyStop records one emergency halt.
func (m *Metrics) ObserveEmergencyStop() {
	if m == nil {
		return
	}
	m.EmergencyStops.Inc()
}

// SetRiskScore publishes the last risk score.
func (m *Metrics) SetRiskScore(score float64) {
	if m == nil {
		return
	}
	m.RiskScore.Set(score)
}

// SetRunning publishes the worker state.
func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.BotRunning.Set(1)
	} else {
		m.BotRunning.Set(0)
	}
}

// SetSessionValue publishes the active session's total value.
func (m *Metrics) SetSessionValue(v float64) {
	if m == nil {
		return
	}
	m.SessionTotalValue.Set(v)
}
