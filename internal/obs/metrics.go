package obs

import (
	"net/http"
	"strconv"
	"sync"
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

	// RoleResolutions counts resolver outcomes by identity source. The
	// "fallback" outcome marks low-confidence cashier grants after a failed
	// lookup; telemetry must keep those distinguishable from verified ones.
	RoleResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_role_resolutions_total",
			Help: "Role resolutions by identity source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	// AuthzDenials counts guard denials by subject kind (page or permission).
	AuthzDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_denials_total",
			Help: "Authorization denials by kind.",
		},
		[]string{"kind"},
	)

	// SessionTransitions counts session state machine transitions.
	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_transitions_total",
			Help: "Session state transitions.",
		},
		[]string{"to"},
	)

	// SecurityEventsDropped counts audit events lost to sink failures or
	// flood-guard throttling. Logging is best-effort; the drop is the only
	// trace a failure leaves.
	SecurityEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "security_events_dropped_total",
		Help: "Security events dropped by throttling or sink failure.",
	})
)

var initOnce sync.Once

// Init registers all collectors with the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight,
			httpRequestsTotal,
			httpRequestDuration,
			RoleResolutions,
			AuthzDenials,
			SessionTransitions,
			SecurityEventsDropped,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps an HTTP handler with request count/latency/in-flight
// metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
