// Package adminserver exposes the non-core collaborator HTTP surface:
// health, readiness, and the Prometheus scrape endpoint. It never touches
// the Window Store, Confirmation Tracker, or Active Alerts map directly —
// those are owned exclusively by the ingest worker (SPEC_FULL.md §5); this
// server only reads from the thread-safe metrics registry.
package adminserver

import (
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	draining        atomic.Bool
	drainingEnabled atomic.Bool
	ready           atomic.Bool
)

// EnableDrainFlag turns the draining flag on/off. When disabled (the
// default), SetDraining is a no-op and /health always reports ok, matching
// the teacher's drain.go idiom.
func EnableDrainFlag(on bool) { drainingEnabled.Store(on) }

// SetDraining marks the process as draining, if the drain flag is enabled.
func SetDraining(on bool) {
	if drainingEnabled.Load() {
		draining.Store(on)
	}
}

// IsDraining reports whether the process is currently draining.
func IsDraining() bool { return drainingEnabled.Load() && draining.Load() }

// SetReady marks the ingest loop as having reached the Running state.
func SetReady(on bool) { ready.Store(on) }

// IsReady reports whether the ingest loop has reached Running.
func IsReady() bool { return ready.Load() }

// NewRouter builds the admin router: /health, /ready, /metrics.
func NewRouter(reg prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		if IsDraining() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"draining"}` + "\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	})

	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !IsReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not_ready"}` + "\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}` + "\n"))
	})

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return r
}
