// Package metrics exposes Prometheus instrumentation for the orchestration
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the engine's Prometheus collectors.
type Metrics struct {
	TurnsTotal        prometheus.Counter
	ResponseCacheHits prometheus.Counter
	LoopGuardTrips    prometheus.Counter
	WorkerErrors      prometheus.Counter
	HopsPerTurn       prometheus.Histogram
}

// New creates and registers the engine collectors on reg. Passing
// prometheus.DefaultRegisterer wires them into the default exposition.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coachmesh",
			Name:      "turns_total",
			Help:      "Number of turns processed.",
		}),
		ResponseCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coachmesh",
			Name:      "response_cache_hits_total",
			Help:      "Turns short-circuited by the response cache.",
		}),
		LoopGuardTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coachmesh",
			Name:      "loop_guard_trips_total",
			Help:      "Times the routing loop guard forced synthesis.",
		}),
		WorkerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coachmesh",
			Name:      "worker_errors_total",
			Help:      "Worker executions that ended in an error.",
		}),
		HopsPerTurn: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "coachmesh",
			Name:      "hops_per_turn",
			Help:      "Scheduler iterations consumed per turn.",
			Buckets:   prometheus.LinearBuckets(1, 2, 8),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.TurnsTotal, m.ResponseCacheHits, m.LoopGuardTrips, m.WorkerErrors, m.HopsPerTurn)
	}

	return m
}
