package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Workflow and index metrics.
var (
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_transitions_total",
			Help: "Applied workflow transitions by transition name.",
		},
		[]string{"transition"},
	)

	noopsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_noops_total",
			Help: "Mutations short-circuited because the requested state already held.",
		},
		[]string{"operation"},
	)

	notificationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "review_change_notifications_total",
		Help: "Change events published to the stream hub.",
	})

	indexQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "search_index_queue_depth",
		Help: "Pending whole-document refreshes awaiting the indexing pass.",
	})

	indexRefreshLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "search_index_refresh_lag_seconds",
		Help:    "Delay between a store commit and its visibility in the search index.",
		Buckets: prometheus.DefBuckets,
	})
)

// HTTP server metrics.
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, path and status.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "HTTP requests currently being served.",
	})
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		transitionsTotal, noopsTotal, notificationsTotal, indexQueueDepth, indexRefreshLag,
		httpRequestsTotal, httpRequestDuration, httpInFlight,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps an HTTP handler with request counting and latency
// observation.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		path := CanonicalPath(r.URL.Path)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource keys out of a request path so metric label
// cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	// /v1/records/{key}[/sub] and /v1/comments/{key}; /v1/records/bulk is a
	// fixed route, not a key.
	if len(parts) == 4 && parts[1] == "v1" && parts[2] == "records" && parts[3] == "bulk" {
		return path
	}
	if len(parts) >= 4 && parts[1] == "v1" && (parts[2] == "records" || parts[2] == "comments") && parts[3] != "" {
		parts[3] = ":key"
		if len(parts) > 5 {
			return path
		}
		return strings.Join(parts, "/")
	}
	return path
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// CountTransition records one applied workflow transition.
func CountTransition(name string) {
	transitionsTotal.WithLabelValues(name).Inc()
}

// CountNoop records a short-circuited idempotent request.
func CountNoop(operation string) {
	noopsTotal.WithLabelValues(operation).Inc()
}

// CountNotification records a published change event.
func CountNotification() {
	notificationsTotal.Inc()
}

// SetIndexQueueDepth reports the current refresh backlog.
func SetIndexQueueDepth(n int) {
	indexQueueDepth.Set(float64(n))
}

// ObserveIndexLag records how long a document waited before being indexed.
func ObserveIndexLag(d time.Duration) {
	indexRefreshLag.Observe(d.Seconds())
}
