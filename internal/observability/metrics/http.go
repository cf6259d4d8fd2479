package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/docsense/internal/core/domain"
)

const namespace = "docsense"

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	sessionsCreatedTotal  *prometheus.CounterVec
	recoveriesTotal       *prometheus.CounterVec
	inferenceTotal        *prometheus.CounterVec
	inferenceDuration     *prometheus.HistogramVec
	memoryHitsTotal       *prometheus.CounterVec
	bestEffortFailedTotal *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	sessionsCreatedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Total created document sessions by category.",
		},
		[]string{"service", "category"},
	)
	recoveriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "recoveries_total",
			Help:      "Session recovery attempts by strategy and outcome.",
		},
		[]string{"service", "strategy", "status"},
	)
	inferenceTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "calls_total",
			Help:      "Vision model calls by operation and outcome kind.",
		},
		[]string{"service", "operation", "status"},
	)
	inferenceDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "duration_seconds",
			Help:      "Vision model call duration in seconds, including queue wait.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90, 120, 180},
		},
		[]string{"service", "operation"},
	)
	memoryHitsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "hits_total",
			Help:      "Total memory snippets injected into questions.",
		},
		[]string{"service"},
	)
	bestEffortFailedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "best_effort_failures_total",
			Help:      "Best-effort operations that failed without failing the request.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		sessionsCreatedTotal,
		recoveriesTotal,
		inferenceTotal,
		inferenceDuration,
		memoryHitsTotal,
		bestEffortFailedTotal,
	)

	return &HTTPServerMetrics{
		registry:              registry,
		requestTotal:          requestTotal,
		requestDuration:       requestDuration,
		requestInFlight:       requestInFlight,
		sessionsCreatedTotal:  sessionsCreatedTotal,
		recoveriesTotal:       recoveriesTotal,
		inferenceTotal:        inferenceTotal,
		inferenceDuration:     inferenceDuration,
		memoryHitsTotal:       memoryHitsTotal,
		bestEffortFailedTotal: bestEffortFailedTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// Every route is static; anything else collapses into one label to bound cardinality.
func normalizePath(path string) string {
	switch path {
	case "/start_session", "/ask", "/conversation", "/recent_docs", "/delete_doc",
		"/image", "/save_text", "/feedback", "/healthz", "/metrics":
		return path
	default:
		if strings.HasPrefix(path, "/static/") {
			return "/static/*"
		}
		return "other"
	}
}

// Telemetry binds the domain recorders to one service label.
func (m *HTTPServerMetrics) Telemetry(service string) *DomainTelemetry {
	return &DomainTelemetry{metrics: m, service: service}
}

type DomainTelemetry struct {
	metrics *HTTPServerMetrics
	service string
}

func (t *DomainTelemetry) RecordSessionCreated(category domain.Category) {
	if category == "" {
		category = domain.CategoryOther
	}
	t.metrics.sessionsCreatedTotal.WithLabelValues(t.service, string(category)).Inc()
}

func (t *DomainTelemetry) RecordRecovery(strategy string, recovered bool) {
	if strategy == "" {
		strategy = "none"
	}
	status := "miss"
	if recovered {
		status = "hit"
	}
	t.metrics.recoveriesTotal.WithLabelValues(t.service, strategy, status).Inc()
}

func (t *DomainTelemetry) RecordInference(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = domain.Kind(err)
	}
	t.metrics.inferenceTotal.WithLabelValues(t.service, operation, status).Inc()
	t.metrics.inferenceDuration.WithLabelValues(t.service, operation).Observe(duration.Seconds())
}

func (t *DomainTelemetry) RecordMemoryHits(hits int) {
	if hits <= 0 {
		return
	}
	t.metrics.memoryHitsTotal.WithLabelValues(t.service).Add(float64(hits))
}

func (t *DomainTelemetry) RecordBestEffortFailure(operation string) {
	if operation == "" {
		operation = "unknown"
	}
	t.metrics.bestEffortFailedTotal.WithLabelValues(t.service, operation).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
