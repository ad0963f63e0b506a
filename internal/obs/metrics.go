package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
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

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "Readiness as reported by the last probe (1 ready, 0 not ready).",
	})
)

// Authorization-protocol metrics.
var (
	satTokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sat_tokens_issued_total",
		Help: "Action tokens minted by the issuer.",
	})

	satRefusals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sat_refusals_total",
			Help: "Action token refusals by taxonomy code.",
		},
		[]string{"code"},
	)

	quotaRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_rejections_total",
			Help: "Daily-quota rejections by scope.",
		},
		[]string{"scope"},
	)

	cardinalityRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engagement_cardinality_rejections_total",
		Help: "Engagement admissions rejected at the active-relationship ceiling.",
	})
)

// Init registers metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		satTokensIssued, satRefusals, quotaRejections, cardinalityRejections,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the most recent readiness probe.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// TokenIssued increments the issued-token counter.
func TokenIssued() { satTokensIssued.Inc() }

// Refused records a SAT refusal with its taxonomy code.
func Refused(code string) { satRefusals.WithLabelValues(code).Inc() }

// QuotaRejected records a quota rejection for the given scope.
func QuotaRejected(scope string) { quotaRejections.WithLabelValues(scope).Inc() }

// CardinalityRejected records a rejected engagement admission.
func CardinalityRejected() { cardinalityRejections.Inc() }

// Instrument wraps a handler with RPS/latency/in-flight measurements.
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

// statusWriter captures the response code written by the wrapped handler.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
