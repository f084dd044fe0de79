package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// Every API route is served twice, at the root and under /api. Metrics label
// the route without the prefix and record which mount served it in "mount".
const (
	mountRoot = "root"
	mountAPI  = "api"
	apiPrefix = "/api"
)

var (
	gatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vllmgate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Gateway requests by route, mount, method and status code.",
		},
		[]string{"route", "mount", "method", "code"},
	)

	gatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vllmgate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time to serve a gateway request; streamed chats include the whole stream.",
			Buckets:   []float64{.005, .025, .1, .5, 1, 5, 30, 120, 600},
		},
		[]string{"route", "mount", "method"},
	)

	gatewayInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vllmgate",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Gateway requests currently being served, by mount.",
		},
		[]string{"mount"},
	)

	backpressureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vllmgate",
			Subsystem: "http",
			Name:      "backpressure_total",
			Help:      "Requests rejected with 429, by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(gatewayRequests, gatewayLatency, gatewayInflight, backpressureTotal)
}

// statusRecorder captures the response code while staying transparent to
// http.ResponseController, which SSE relaying depends on.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

// MetricsMiddleware records gateway traffic. The route label is read after
// routing, when chi has resolved the pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mount := mountOf(r.URL.Path)
		gatewayInflight.WithLabelValues(mount).Inc()
		defer gatewayInflight.WithLabelValues(mount).Dec()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)

		route := routeLabel(r)
		gatewayRequests.WithLabelValues(route, mount, r.Method, strconv.Itoa(sr.status)).Inc()
		gatewayLatency.WithLabelValues(route, mount, r.Method).Observe(time.Since(start).Seconds())
	})
}

func mountOf(path string) string {
	if path == apiPrefix || strings.HasPrefix(path, apiPrefix+"/") {
		return mountAPI
	}
	return mountRoot
}

// routeLabel returns the matched chi pattern without the /api mount, so
// both mounts of a route share one label. Unmatched requests collapse into
// "unmatched" to keep scanners from inflating cardinality.
func routeLabel(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return "unmatched"
	}
	p := rc.RoutePattern()
	if p == "" || p == "/*" {
		return "unmatched"
	}
	if p != apiPrefix {
		if trimmed, ok := strings.CutPrefix(p, apiPrefix); ok && strings.HasPrefix(trimmed, "/") {
			p = trimmed
		}
	}
	return p
}

// IncrementBackpressure counts a 429 returned to a client.
func IncrementBackpressure(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	backpressureTotal.WithLabelValues(reason).Inc()
}
