package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// UploadMetrics tracks the prescription upload pipeline. A nil receiver or a
// value built without a registerer records nothing.
type UploadMetrics struct {
	started        *prometheus.CounterVec
	succeeded      *prometheus.CounterVec
	failed         *prometheus.CounterVec
	stalled        prometheus.Counter
	persistFailed  prometheus.Counter
	duration       *prometheus.HistogramVec
	inFlight       prometheus.Gauge
	extractions    *prometheus.CounterVec
	extractionTime prometheus.Histogram
}

// NewUploadMetrics registers the upload metrics on the provided registerer.
func NewUploadMetrics(reg prometheus.Registerer) *UploadMetrics {
	if reg == nil {
		return &UploadMetrics{}
	}
	m := &UploadMetrics{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rx_uploads_started_total",
			Help: "Prescription uploads started, by media type.",
		}, []string{"media_type"}),
		succeeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rx_uploads_succeeded_total",
			Help: "Prescription uploads that reached storage, by media type.",
		}, []string{"media_type"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rx_uploads_failed_total",
			Help: "Prescription uploads that failed, by media type.",
		}, []string{"media_type"}),
		stalled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rx_uploads_stalled_total",
			Help: "Uploads flagged as stalled.",
		}),
		persistFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rx_record_persist_failures_total",
			Help: "Uploaded files whose prescription record could not be written.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rx_upload_duration_seconds",
			Help:    "Time spent transferring a file to storage.",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rx_uploads_in_flight",
			Help: "Uploads currently transferring.",
		}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rx_text_extractions_total",
			Help: "Text extraction attempts, by result.",
		}, []string{"result"}),
		extractionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rx_text_extraction_duration_seconds",
			Help:    "Time spent extracting text from an uploaded prescription.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.started, m.succeeded, m.failed, m.stalled, m.persistFailed, m.duration, m.inFlight, m.extractions, m.extractionTime)
	return m
}

func (m *UploadMetrics) UploadStarted(mediaType string) {
	if m == nil || m.started == nil {
		return
	}
	m.started.WithLabelValues(normalizeLabel(mediaType)).Inc()
	m.inFlight.Inc()
}

func (m *UploadMetrics) UploadSucceeded(mediaType string, took time.Duration) {
	if m == nil || m.succeeded == nil {
		return
	}
	m.succeeded.WithLabelValues(normalizeLabel(mediaType)).Inc()
	m.duration.WithLabelValues("success").Observe(took.Seconds())
	m.inFlight.Dec()
}

func (m *UploadMetrics) UploadFailed(mediaType string, took time.Duration) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(mediaType)).Inc()
	m.duration.WithLabelValues("failure").Observe(took.Seconds())
	m.inFlight.Dec()
}

func (m *UploadMetrics) UploadStalled() {
	if m == nil || m.stalled == nil {
		return
	}
	m.stalled.Inc()
}

func (m *UploadMetrics) PersistFailed() {
	if m == nil || m.persistFailed == nil {
		return
	}
	m.persistFailed.Inc()
}

// ExtractionResult values.
const (
	ExtractionStored    = "stored"
	ExtractionEmpty     = "empty"
	ExtractionFailed    = "failed"
	ExtractionRasterize = "rasterize_fallback"
	ExtractionSkipped   = "skipped"
)

func (m *UploadMetrics) Extraction(result string, took time.Duration) {
	if m == nil || m.extractions == nil {
		return
	}
	m.extractions.WithLabelValues(normalizeLabel(result)).Inc()
	if took > 0 {
		m.extractionTime.Observe(took.Seconds())
	}
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
