package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// Evaluations counts feature and property evaluations by kind and the
	// result branch that fired.
	Evaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flag_evaluations_total",
		Help: "Feature and property evaluations by result branch",
	}, []string{"kind", "value_type"})

	// ConfigFetches counts remote configuration fetch attempts.
	ConfigFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "config_fetches_total",
		Help: "Remote configuration fetch attempts",
	}, []string{"outcome"})

	// StreamState is the live-update channel state (0 disconnected,
	// 1 connecting, 2 connected, 3 degraded).
	StreamState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stream_state",
		Help: "Live-update channel connection state",
	})

	// CachedFeatures is the number of features in the current snapshot.
	CachedFeatures = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cached_features",
		Help: "Features in the current configuration snapshot",
	})

	// CachedProperties is the number of properties in the current snapshot.
	CachedProperties = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cached_properties",
		Help: "Properties in the current configuration snapshot",
	})
)

func Init() {
	prometheus.MustRegister(httpReqs, httpDur, Evaluations, ConfigFetches, StreamState, CachedFeatures, CachedProperties)
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		httpReqs.WithLabelValues(route, r.Method, strconv.Itoa(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
