// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PostsRouted counts inbound posts by whether anything matched.
	PostsRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanrelay_posts_routed_total",
		Help: "Total number of inbound posts routed",
	}, []string{"matched"})

	// ForwardsTotal counts gateway forward attempts by result.
	ForwardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanrelay_forwards_total",
		Help: "Total number of forward attempts",
	}, []string{"gateway", "result"})

	// ForwardDuration observes gateway call latency.
	ForwardDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chanrelay_forward_duration_seconds",
		Help:    "Gateway forward duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
	}, []string{"gateway"})

	// CommandsTotal counts operator commands by intent and outcome.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanrelay_commands_total",
		Help: "Total number of operator commands handled",
	}, []string{"intent", "outcome"})

	// IndexRebuilds counts full index rebuilds by result.
	IndexRebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chanrelay_index_rebuilds_total",
		Help: "Total number of full routing index rebuilds",
	}, []string{"result"})

	// IndexSources is the number of distinct source identifiers in the index.
	IndexSources = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chanrelay_index_sources",
		Help: "Number of source identifiers in the routing index",
	})

	// SessionsActive is the number of live configuration sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chanrelay_sessions_active",
		Help: "Number of live operator configuration sessions",
	})

	// SessionsEvicted counts sessions removed by idle expiry.
	SessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chanrelay_sessions_evicted_total",
		Help: "Total number of sessions evicted after idling",
	})

	// BreakerState reports the gateway circuit breaker state (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chanrelay_gateway_breaker_state",
		Help: "Gateway circuit breaker state",
	}, []string{"gateway"})
)

// Result returns the label value for an error outcome.
func Result(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
