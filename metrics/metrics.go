// Package metrics exposes the server's prometheus collectors: request
// counts/latency, worker pool occupancy, and session relay command counts.
// Grounded on ahmedosamasayed-otlpxy's internal/metrics package (global
// promauto-registered collectors, one file, no registry plumbing).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nesta",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests served, by status class.",
	}, []string{"status"})

	RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "nesta",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request handling latency.",
		Buckets:   prometheus.DefBuckets,
	})

	WorkerPoolActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nesta",
		Name:      "worker_pool_active",
		Help:      "Currently running (non-UNUSED) worker slots, by pool.",
	}, []string{"pool"})

	WorkerPoolQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nesta",
		Name:      "worker_pool_queue_depth",
		Help:      "Pending jobs in the dispatch queue, by pool.",
	}, []string{"pool"})

	RelayCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nesta",
		Name:      "session_relay_commands_total",
		Help:      "Session relay commands handled, by command and outcome.",
	}, []string{"command", "outcome"})

	FileCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nesta",
		Name:      "file_cache_lookups_total",
		Help:      "Static file cache lookups, by outcome (hit/miss).",
	}, []string{"outcome"})
)

// Handler serves the text-format exposition for a "/metrics" registration,
// the stdlib-net/http analogue of an echoprometheus mount.
func Handler() http.Handler {
	return promhttp.Handler()
}
