package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/docsense/internal/core/domain"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	improveTotal    *prometheus.CounterVec
	improveDuration *prometheus.HistogramVec
	improveInFlight prometheus.Gauge
	queueLag        *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	improveTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "feedback_improve_total",
			Help:      "Processed feedback jobs by outcome, or by error kind when the job failed.",
		},
		[]string{"service", "outcome"},
	)
	improveDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "feedback_improve_duration_seconds",
			Help:      "Feedback improvement duration in seconds by status.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 180},
		},
		[]string{"service", "status"},
	)
	improveInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "feedback_improve_in_flight",
			Help:      "Number of in-flight feedback improvement jobs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between feedback capture and improvement start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(improveTotal, improveDuration, improveInFlight, queueLag)

	return &WorkerMetrics{
		registry:        registry,
		improveTotal:    improveTotal,
		improveDuration: improveDuration,
		improveInFlight: improveInFlight,
		queueLag:        queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartImprovement() {
	m.improveInFlight.Inc()
}

func (m *WorkerMetrics) FinishImprovement(service string, outcome domain.ImproveOutcome, duration time.Duration, err error) {
	m.improveInFlight.Dec()

	status, label := "success", string(outcome)
	if err != nil {
		status, label = "error", domain.Kind(err)
	}

	m.improveTotal.WithLabelValues(service, label).Inc()
	m.improveDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}
