// Package metrics holds the prometheus registry shared by the ingest
// worker (writer) and the admin/scrape server (reader). Every metric here
// is a prometheus client_golang collector, which is already safe for
// concurrent Inc/Add/Set from one goroutine while promhttp.Handler reads it
// from another — this is the "thread-safe counter registry" called for in
// SPEC_FULL.md §5.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// --- Scrape-endpoint collaborator surface (SPEC_FULL.md §6) ---

	RequestLatencyMS = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workload_request_latency_ms",
			Help:    "Observed per-request latency in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 300, 500, 750, 1000, 2500, 5000},
		},
		[]string{"service", "endpoint", "region"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workload_requests_total",
			Help: "Total requests observed, labeled by outcome.",
		},
		[]string{"service", "endpoint", "region", "status_code"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workload_errors_total",
			Help: "Total error responses observed.",
		},
		[]string{"service", "endpoint", "region"},
	)

	ActiveServices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "workload_active_services",
			Help: "Number of distinct services currently tracked.",
		},
	)

	// --- Engine-internal operational metrics ---

	SamplesRecordedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_samples_recorded_total",
			Help: "Total metric samples recorded into the window store.",
		},
	)

	// SamplesTruncatedTotal surfaces the §9 open question about the
	// 10,000-sample cap silently shrinking the effective horizon.
	SamplesTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_samples_truncated_total",
			Help: "Total samples evicted by the per-service sample cap (not by age).",
		},
	)

	DetectionCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_detection_cycles_total",
			Help: "Total detection cycles run.",
		},
	)

	ViolationsSurfacedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_violations_surfaced_total",
			Help: "Total violations surfaced by the anomaly detector, by rule.",
		},
		[]string{"rule"},
	)

	AlertsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_alerts_published_total",
			Help: "Total alerts successfully published, by rule.",
		},
		[]string{"rule"},
	)

	AlertsSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_alerts_suppressed_total",
			Help: "Total alert publishes suppressed by cooldown, by rule.",
		},
		[]string{"rule"},
	)

	DecodeErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_decode_errors_total",
			Help: "Total ingest messages skipped due to decode errors.",
		},
	)

	registerOnce sync.Once
)

// Register registers every collector above against reg exactly once,
// mirroring the teacher's sync.Once-guarded registration style.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			RequestLatencyMS,
			RequestsTotal,
			ErrorsTotal,
			ActiveServices,
			SamplesRecordedTotal,
			SamplesTruncatedTotal,
			DetectionCyclesTotal,
			ViolationsSurfacedTotal,
			AlertsPublishedTotal,
			AlertsSuppressedTotal,
			DecodeErrorsTotal,
		)
	})
}
