// Package metrics exposes Prometheus collectors for the HTTP surface and the
// extraction pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomsched_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomsched_http_errors_total",
		Help: "Total number of HTTP requests resulting in server errors.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roomsched_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	extractionRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomsched_extraction_runs_total",
		Help: "Full extraction runs by outcome.",
	}, []string{"outcome"})

	extractionSourcesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomsched_extraction_sources_total",
		Help: "Per-source extraction results across all runs.",
	}, []string{"result"})

	extractionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "roomsched_extraction_run_duration_seconds",
		Help:    "Histogram of full extraction run durations.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	})

	scheduleRebuildsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsched_schedule_rebuilds_total",
		Help: "Times the merged schedule was rebuilt.",
	})
)

// Middleware records request count, errors and latency per chi route.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := routePattern(r)
			status := ww.Status()
			statusCode := strconv.Itoa(status)
			duration := time.Since(start).Seconds()

			httpRequestsTotal.WithLabelValues(r.Method, route).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route, statusCode).Observe(duration)
			if status >= http.StatusInternalServerError {
				httpErrorsTotal.WithLabelValues(r.Method, route, statusCode).Inc()
			}
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveExtractionRun records the outcome and duration of one full run.
func ObserveExtractionRun(outcome string, start time.Time) {
	extractionRunsTotal.WithLabelValues(outcome).Inc()
	extractionDuration.Observe(time.Since(start).Seconds())
}

// CountSource records a per-source extraction result ("ics", "render",
// "failed").
func CountSource(result string) {
	extractionSourcesTotal.WithLabelValues(result).Inc()
}

// CountScheduleRebuild records one merge of the schedule.
func CountScheduleRebuild() {
	scheduleRebuildsTotal.Inc()
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
