package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the daemon's prometheus collectors.
type Metrics struct {
	Submits        *prometheus.CounterVec
	Completions    *prometheus.CounterVec
	CancelAttempts *prometheus.CounterVec
	Alarms         *prometheus.CounterVec
	PendingOrders  prometheus.Gauge
	RiskHalted     prometheus.Gauge
	Equity         prometheus.Gauge
	BaselineEquity prometheus.Gauge
	APIRequests    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Submits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "okx_core_submits_total",
			Help: "Submit calls by outcome.",
		}, []string{"outcome"}),
		Completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "okx_core_completions_total",
			Help: "Orders settled by outcome.",
		}, []string{"outcome"}),
		CancelAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "okx_core_cancel_attempts_total",
			Help: "Cancel round trips by result.",
		}, []string{"result"}),
		Alarms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "okx_core_alarms_total",
			Help: "Operational alarms by kind.",
		}, []string{"kind"}),
		PendingOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "okx_core_pending_orders",
			Help: "Orders awaiting a final outcome.",
		}),
		RiskHalted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "okx_core_risk_halted",
			Help: "1 while the daily loss breaker blocks new submissions.",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "okx_core_equity",
			Help: "Latest observed account equity.",
		}),
		BaselineEquity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "okx_core_daily_baseline_equity",
			Help: "Equity at the start of the trading day.",
		}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "okx_core_api_requests_total",
			Help: "Status API requests by method and status code.",
		}, []string{"method", "status"}),
	}
	if reg != nil {
		reg.MustRegister(m.Submits, m.Completions, m.CancelAttempts, m.Alarms,
			m.PendingOrders, m.RiskHalted, m.Equity, m.BaselineEquity, m.APIRequests)
	}
	return m
}
