package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"service", "method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency, excluding event streams",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"service", "method", "route"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "HTTP requests currently being served, open event streams included",
		},
		[]string{"service"},
	)

	httpStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_stream_duration_seconds",
			Help:    "Lifetime of server-sent event streams",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600},
		},
		[]string{"service", "route"},
	)
)

// PrometheusMetrics counts requests per chi route. Event streams live for
// minutes, so their lifetime goes to a separate histogram instead of the
// latency one.
func PrometheusMetrics(service string) func(http.Handler) http.Handler {
	inFlight := httpRequestsInFlight.WithLabelValues(service)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			inFlight.Inc()
			defer inFlight.Dec()

			rw := record(w)
			next.ServeHTTP(rw, r)

			elapsed := time.Since(start).Seconds()
			route := routePattern(r)

			httpRequestsTotal.WithLabelValues(service, r.Method, route, strconv.Itoa(rw.Status())).Inc()
			if rw.streaming() {
				httpStreamDuration.WithLabelValues(service, route).Observe(elapsed)
				return
			}
			httpRequestDuration.WithLabelValues(service, r.Method, route).Observe(elapsed)
		})
	}
}
