// Package metrics provides Prometheus metrics for the kupu inpainting service.
//
// The metrics are exposed at /metrics:
//
// Request Metrics:
//   - kupu_requests_total: HTTP requests by method, route and status class
//   - kupu_request_duration_seconds: HTTP request latency histogram
//
// Inpainting Metrics:
//   - kupu_inpaint_total: pipeline runs by device and outcome
//   - kupu_inpaint_duration_seconds: end-to-end pipeline latency
//   - kupu_inpaint_stage_duration_seconds: latency of each pipeline stage
//   - kupu_inferences_in_flight: forward passes currently running
//   - kupu_inferences_waiting: requests queued for an admission slot
//
// Model Metrics:
//   - kupu_model_loaded: 1 when a checkpoint is loaded and serving
//   - kupu_checkpoint_downloads_total: checkpoint fetches by source and status
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kupu_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration tracks HTTP request duration in seconds
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kupu_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// InpaintTotal counts pipeline runs
	InpaintTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kupu_inpaint_total",
			Help: "Total number of inpainting pipeline runs",
		},
		[]string{"device", "outcome"},
	)

	// InpaintDuration tracks end-to-end pipeline latency
	InpaintDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kupu_inpaint_duration_seconds",
			Help:    "Inpainting pipeline duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"device"},
	)

	// StageDuration tracks the latency of each pipeline stage
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kupu_inpaint_stage_duration_seconds",
			Help:    "Inpainting stage duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"stage"},
	)

	// InferencesInFlight tracks forward passes currently running
	InferencesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kupu_inferences_in_flight",
			Help: "Number of forward passes currently running",
		},
	)

	// InferencesWaiting tracks requests waiting for an admission slot
	InferencesWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kupu_inferences_waiting",
			Help: "Number of requests waiting for an inference slot",
		},
	)

	// ModelLoaded is 1 when a checkpoint is serving
	ModelLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kupu_model_loaded",
			Help: "Whether the inpainting model is loaded",
		},
	)

	// CheckpointDownloads counts checkpoint fetches
	CheckpointDownloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kupu_checkpoint_downloads_total",
			Help: "Total number of checkpoint downloads",
		},
		[]string{"source", "status"},
	)

	// CheckpointBytes counts downloaded checkpoint bytes
	CheckpointBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kupu_checkpoint_download_bytes_total",
			Help: "Total checkpoint bytes downloaded",
		},
	)

	// BuildInfo exposes the running version and device
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kupu_build_info",
			Help: "Build and runtime information",
		},
		[]string{"version", "device"},
	)
)

// Pipeline stages
const (
	StagePreprocess  = "preprocess"
	StageQueue       = "queue"
	StageForward     = "forward"
	StagePostprocess = "postprocess"
	StageDecode      = "decode"
	StageEncode      = "encode"
)

// Version is set at build time
var Version = "dev"

// Init records build information.
func Init(device string) {
	BuildInfo.WithLabelValues(Version, device).Set(1)
}

// RecordRequest records an HTTP request with its method, route, status, and duration
func RecordRequest(method, route string, status int, duration time.Duration) {
	RequestsTotal.WithLabelValues(method, route, statusCodeToString(status)).Inc()
	RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordInpaint records the outcome of one pipeline run
func RecordInpaint(device, outcome string, duration time.Duration) {
	InpaintTotal.WithLabelValues(device, outcome).Inc()
	if outcome == "success" {
		InpaintDuration.WithLabelValues(device).Observe(duration.Seconds())
	}
}

// ObserveStage records the duration of a pipeline stage
func ObserveStage(stage string, duration time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// SetModelLoaded sets the model availability gauge
func SetModelLoaded(loaded bool) {
	if loaded {
		ModelLoaded.Set(1)
	} else {
		ModelLoaded.Set(0)
	}
}

// RecordCheckpointDownload records a checkpoint fetch
func RecordCheckpointDownload(source string, success bool, bytes int64) {
	status := "success"
	if !success {
		status = "failure"
	}
	CheckpointDownloads.WithLabelValues(source, status).Inc()
	if success && bytes > 0 {
		CheckpointBytes.Add(float64(bytes))
	}
}

func statusCodeToString(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
