// Package metrics exposes Prometheus instrumentation for HTTP request
// volume/latency and DAV-specific counters (REPORT dispatch, sync
// deltas, storage errors), following the retrieved corpus's convention of
// package-level promauto counters registered against the default
// registerer and scraped via promhttp.Handler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "davcore_http_requests_total",
		Help: "Total HTTP requests processed.",
	}, []string{"method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "davcore_http_request_duration_seconds",
		Help:    "HTTP request handling latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	reportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "davcore_report_dispatch_total",
		Help: "REPORT requests dispatched, by report type.",
	}, []string{"report"})

	syncDeltasTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "davcore_sync_deltas_total",
		Help: "sync-collection REPORT deltas computed, by outcome.",
	}, []string{"outcome"})

	storageErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "davcore_storage_errors_total",
		Help: "Storage-layer errors surfaced to handlers, by backend.",
	}, []string{"backend"})
)

// ObserveReport increments the REPORT dispatch counter for reportName
// ("calendar-query", "addressbook-query", "sync-collection", ...).
func ObserveReport(reportName string) {
	reportsTotal.WithLabelValues(reportName).Inc()
}

// ObserveSyncDelta records a sync-collection computation outcome
// ("ok", "invalid-token", "truncated").
func ObserveSyncDelta(outcome string) {
	syncDeltasTotal.WithLabelValues(outcome).Inc()
}

// ObserveStorageError records a storage-layer failure for backend
// ("postgres", "sqlite").
func ObserveStorageError(backend string) {
	storageErrorsTotal.WithLabelValues(backend).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware wraps next, recording per-request count and latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// WithMetricsEndpoint mounts /metrics in front of next so the scrape
// endpoint is reachable without passing through DAV routing or auth.
func WithMetricsEndpoint(next http.Handler) http.Handler {
	h := Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			h.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
