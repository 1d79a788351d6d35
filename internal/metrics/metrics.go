// Package metrics exposes Prometheus collectors for the pipeline service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "racepipe_fetches_total",
			Help: "Total fetch attempts, labeled by strategy and outcome.",
		},
		[]string{"strategy", "status"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "racepipe_fetch_duration_seconds",
			Help:    "Histogram of fetch attempt latencies, labeled by strategy.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 45},
		},
		[]string{"strategy"},
	)

	cacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "racepipe_cache_hits_total",
			Help: "Total response cache hits.",
		},
	)

	challengesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "racepipe_challenges_total",
			Help: "Total challenge resolution attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "racepipe_runs_total",
			Help: "Total pipeline runs, labeled by terminal status.",
		},
		[]string{"status"},
	)

	runDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "racepipe_run_duration_seconds",
			Help:    "Histogram of end-to-end pipeline run durations.",
			Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800},
		},
	)
)

// ObserveFetch records one fetch attempt.
func ObserveFetch(strategy, status string, duration time.Duration) {
	fetchesTotal.WithLabelValues(strategy, status).Inc()
	fetchDurationSeconds.WithLabelValues(strategy).Observe(duration.Seconds())
}

// CacheHit records a response cache hit.
func CacheHit() {
	cacheHitsTotal.Inc()
}

// ObserveChallenge records one challenge resolution attempt.
func ObserveChallenge(cleared bool) {
	outcome := "failed"
	if cleared {
		outcome = "cleared"
	}
	challengesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRun records a finished pipeline run.
func ObserveRun(status string, duration time.Duration) {
	runsTotal.WithLabelValues(status).Inc()
	runDurationSeconds.Observe(duration.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
