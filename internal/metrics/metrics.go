// Package metrics provides Prometheus instrumentation for the resilience
// toolkit. All metric collectors are registered via the Init function and
// exposed through the Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BreakerState tracks the current circuit state per protected dependency
	// (0 = closed, 1 = open, 2 = half-open).
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilience_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"dependency"},
	)

	// BreakerTransitions counts state transitions by dependency and edge.
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"dependency", "from", "to"},
	)

	// ProbeDenials counts half-open probe rejections by gate.
	ProbeDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_probe_denials_total",
			Help: "Total half-open probes denied, by denying gate",
		},
		[]string{"dependency", "gate"},
	)

	// Fallbacks counts calls answered by the fallback path.
	Fallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_fallbacks_total",
			Help: "Total calls served by the fallback path",
		},
		[]string{"dependency", "reason"},
	)

	// OperationDuration observes protected operation latency by outcome.
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resilience_operation_duration_seconds",
			Help:    "Protected operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"dependency", "outcome"},
	)

	// DedupHits counts singleflight calls that shared an in-flight result.
	DedupHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_dedup_hits_total",
			Help: "Total calls deduplicated onto an in-flight result",
		},
		[]string{"group"},
	)

	// HedgesFired counts backup requests launched after the hedge delay.
	HedgesFired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resilience_hedges_fired_total",
			Help: "Total hedged backup requests launched",
		},
	)

	// HedgeWins counts hedged calls resolved by the backup request.
	HedgeWins = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resilience_hedge_wins_total",
			Help: "Total hedged calls won by the backup request",
		},
	)

	// WriteIntentDepth tracks the number of write intents queued per queue.
	WriteIntentDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilience_write_intent_depth",
			Help: "Write intents currently queued awaiting replay",
		},
		[]string{"queue"},
	)

	// WriteIntentDropped counts intents evicted by FIFO overflow.
	WriteIntentDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_write_intents_dropped_total",
			Help: "Total write intents dropped due to queue overflow",
		},
		[]string{"queue"},
	)
)

// Init registers all metric collectors with the default Prometheus registry.
// Must be called once at startup before handling requests.
func Init() {
	prometheus.MustRegister(
		BreakerState,
		BreakerTransitions,
		ProbeDenials,
		Fallbacks,
		OperationDuration,
		DedupHits,
		HedgesFired,
		HedgeWins,
		WriteIntentDepth,
		WriteIntentDropped,
	)
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
