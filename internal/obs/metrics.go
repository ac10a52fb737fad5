package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	gqlOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphql_operations_total",
			Help: "Total number of executed GraphQL operations.",
		},
		[]string{"operation", "status"},
	)

	gqlOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphql_operation_duration_seconds",
			Help:    "GraphQL operation latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)
)

// Init registers the service metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		gqlOperationsTotal,
		gqlOperationDuration,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument measures RPS, latency and in-flight count per request.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// ObserveOperation records one GraphQL operation execution, labeled by the
// client-supplied operation name.
func ObserveOperation(operation string, errored bool, elapsed time.Duration) {
	status := "ok"
	if errored {
		status = "error"
	}
	gqlOperationsTotal.WithLabelValues(operation, status).Inc()
	gqlOperationDuration.WithLabelValues(operation, status).Observe(elapsed.Seconds())
}

// CanonicalPath keeps metric labels bounded: the service only serves a few
// fixed routes, so anything else collapses to "other".
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	switch path {
	case "", "/":
		return "/"
	case "/graphql", "/health", "/metrics":
		return path
	}
	return "other"
}

// statusWriter captures the response code for the metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
