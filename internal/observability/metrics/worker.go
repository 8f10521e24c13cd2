package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	operationsTotal    *prometheus.CounterVec
	verificationsTotal *prometheus.CounterVec
	ocrDuration        *prometheus.HistogramVec
	auditFailures      prometheus.Counter
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "docverify",
			Subsystem:   "upload",
			Name:        "operations_total",
			Help:        "Slot operations by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"operation", "outcome"},
	)
	verificationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "docverify",
			Subsystem:   "verification",
			Name:        "results_total",
			Help:        "Verification verdicts by document type.",
			ConstLabels: constLabels,
		},
		[]string{"document_type", "result"},
	)
	ocrDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "docverify",
			Subsystem:   "ocr",
			Name:        "duration_seconds",
			Help:        "OCR extraction duration in seconds.",
			Buckets:     []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			ConstLabels: constLabels,
		},
		[]string{"engine"},
	)
	auditFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "docverify",
			Subsystem:   "ocr",
			Name:        "audit_write_failures_total",
			Help:        "OCR audit files that could not be written.",
			ConstLabels: constLabels,
		},
	)

	registry.MustRegister(operationsTotal, verificationsTotal, ocrDuration, auditFailures)

	return &WorkerMetrics{
		registry:           registry,
		operationsTotal:    operationsTotal,
		verificationsTotal: verificationsTotal,
		ocrDuration:        ocrDuration,
		auditFailures:      auditFailures,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) ObserveOperation(op, outcome string) {
	m.operationsTotal.WithLabelValues(op, outcome).Inc()
}

func (m *WorkerMetrics) ObserveVerification(docType string, passed bool) {
	result := "failed"
	if passed {
		result = "passed"
	}
	m.verificationsTotal.WithLabelValues(docType, result).Inc()
}

func (m *WorkerMetrics) ObserveOCR(engine string, d time.Duration) {
	if engine == "" || d <= 0 {
		return
	}
	m.ocrDuration.WithLabelValues(engine).Observe(d.Seconds())
}

// AuditFailures counts audit write failures; it satisfies processor.Counter.
func (m *WorkerMetrics) AuditFailures() prometheus.Counter {
	return m.auditFailures
}
