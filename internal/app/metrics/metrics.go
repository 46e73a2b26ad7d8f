package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "discovery",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "discovery",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "discovery",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	validations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "discovery",
			Subsystem: "queue",
			Name:      "validations_total",
			Help:      "Item validations by outcome.",
		},
		[]string{"kind", "outcome"},
	)

	validationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "discovery",
			Subsystem: "queue",
			Name:      "validation_duration_seconds",
			Help:      "Duration of validation provider calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"kind"},
	)

	validationsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "discovery",
			Subsystem: "queue",
			Name:      "validations_inflight",
			Help:      "Validation provider calls currently running.",
		},
	)

	sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "discovery",
			Subsystem: "session",
			Name:      "starts_total",
			Help:      "Discovery session generation attempts by outcome.",
		},
		[]string{"kind", "outcome"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "discovery",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently registered.",
		},
	)

	actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "discovery",
			Subsystem: "router",
			Name:      "actions_total",
			Help:      "User actions dispatched by outcome.",
		},
		[]string{"action", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		validations,
		validationDuration,
		validationsInFlight,
		sessions,
		activeSessions,
		actions,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// ValidationStarted marks a provider call as in flight.
func ValidationStarted() {
	validationsInFlight.Inc()
}

// RecordValidation records the outcome of one provider call and releases the
// in-flight slot. Outcome is "validated", "error" or "discarded".
func RecordValidation(kind, outcome string, duration time.Duration) {
	validationsInFlight.Dec()
	if kind == "" {
		kind = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	validations.WithLabelValues(kind, outcome).Inc()
	validationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordSessionStart records a generation attempt.
func RecordSessionStart(kind string, success bool) {
	outcome := "failed"
	if success {
		outcome = "active"
	}
	sessions.WithLabelValues(kind, outcome).Inc()
}

// SetActiveSessions reports the number of registered sessions.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// RecordAction records a router action outcome.
func RecordAction(action, outcome string) {
	actions.WithLabelValues(action, outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// canonicalPath collapses session ids so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 2 && parts[0] == "v1" && parts[1] == "sessions" {
		if len(parts) == 2 {
			return "/v1/sessions"
		}
		out := "/v1/sessions/:id"
		if len(parts) > 3 {
			out += "/" + strings.Join(parts[3:], "/")
		}
		return out
	}
	return "/" + parts[0]
}
