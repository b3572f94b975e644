// Package metrics exposes the engine's Prometheus instrumentation:
// cycle counts, fills processed, drift events, recovery attempts, plan
// rejections, and broadcast latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the engine's metric collectors under one
// prometheus.Registerer so multiple bots in one process don't collide.
type Registry struct {
	CyclesTotal       *prometheus.CounterVec
	FillsTotal        *prometheus.CounterVec
	DriftEventsTotal  *prometheus.CounterVec
	RecoveryAttempts  *prometheus.CounterVec
	PlanRejections    *prometheus.CounterVec
	BroadcastLatency  *prometheus.HistogramVec
}

// New registers and returns the metric set under reg.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridmm_cycles_total",
			Help: "Number of strategy rebalance cycles run, per bot.",
		}, []string{"bot"}),
		FillsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridmm_fills_total",
			Help: "Number of fills processed, per bot and side.",
		}, []string{"bot", "side"}),
		DriftEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridmm_drift_events_total",
			Help: "Number of fund ledger drift violations detected, per bot.",
		}, []string{"bot", "invariant"}),
		RecoveryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridmm_recovery_attempts_total",
			Help: "Number of recovery sync attempts, per bot and outcome.",
		}, []string{"bot", "outcome"}),
		PlanRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridmm_plan_rejections_total",
			Help: "Number of plans rejected at the commit gate, per bot and reason.",
		}, []string{"bot", "reason"}),
		BroadcastLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridmm_broadcast_latency_seconds",
			Help:    "Latency of individual broadcast actions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"bot", "action"}),
	}
}

// Handler returns an http.Handler serving prometheus's global default
// registry in the Prometheus exposition format. Collectors registered
// by New on a separate registry are not exposed through it.
func Handler() http.Handler {
	return promhttp.Handler()
}
