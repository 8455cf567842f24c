package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsCreated      = prometheus.NewCounter(prometheus.CounterOpts{Name: "validation_jobs_created_total", Help: "Validation jobs accepted"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "validation_jobs_completed_total", Help: "Validation jobs that completed"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "validation_jobs_failed_total", Help: "Validation jobs that failed"})
	JobsRunning      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "validation_jobs_running", Help: "Validation jobs currently executing"})
	UploadsValidated = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "validation_uploads_total", Help: "Uploads validated by outcome"}, []string{"outcome"})
	OCRRequestErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "validation_ocr_errors_total", Help: "OCR requests that failed"})
	OCRDuration      = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "validation_ocr_request_seconds",
		Help:    "OCR request latency",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "validation_rate_limit_rejects_total", Help: "Run requests rejected by rate limiter"})
)

// Upload outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsCreated,
			JobsCompleted,
			JobsFailed,
			JobsRunning,
			UploadsValidated,
			OCRRequestErrors,
			OCRDuration,
			RateLimitRejects,
		)
	})
	return promhttp.Handler()
}
