package metrics

import (
	"context"
	"time"

	"github.com/not-nullexception/image-orchestrator/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts the number of HTTP requests received
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_orchestrator_requests_total",
			Help: "The total number of HTTP requests processed by the API",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration measures the duration of HTTP requests
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_orchestrator_request_duration_seconds",
			Help:    "The duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// CommandsTotal counts dispatched commands by name and result
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_orchestrator_commands_total",
			Help: "The total number of commands dispatched",
		},
		[]string{"command", "result"},
	)

	// TasksTotal counts tasks reaching a terminal status
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_orchestrator_tasks_total",
			Help: "The total number of tasks by terminal status",
		},
		[]string{"status"},
	)

	// ProcessingDuration measures the duration of transformation pipelines
	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_orchestrator_processing_duration_seconds",
			Help:    "The duration of image processing in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // From 10ms to ~40s
		},
		[]string{"status"},
	)

	// SizeChange measures output size relative to the source, in percent
	SizeChange = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "image_orchestrator_size_change_percentage",
			Help:    "The output size as a percentage of the source size",
			Buckets: prometheus.LinearBuckets(0, 25, 9), // 0% to 200%
		},
	)

	// QueueDepth gauges the number of jobs waiting for a worker slot
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_orchestrator_queue_depth",
			Help: "The current depth of the job queue",
		},
	)

	// WorkerUtilization gauges the percentage of worker slots in use
	WorkerUtilization = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_orchestrator_worker_utilization",
			Help: "The percentage of worker slots currently processing jobs",
		},
	)

	// ManagedImages gauges the number of registered images
	ManagedImages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_orchestrator_managed_images",
			Help: "The number of images in the registry",
		},
	)

	// DeletionsTotal counts image deletions by mode (immediate, deferred)
	DeletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_orchestrator_deletions_total",
			Help: "The total number of deleted images",
		},
		[]string{"mode"},
	)
)

// RecordProcessingTime records the time taken by a pipeline
func RecordProcessingTime(ctx context.Context, status string, duration time.Duration) {
	ProcessingDuration.WithLabelValues(status).Observe(duration.Seconds())
	TasksTotal.WithLabelValues(status).Inc()

	logger.FromContext(ctx).Debug().
		Str("status", status).
		Float64("duration_seconds", duration.Seconds()).
		Msg("Recorded image processing time")
}

// RecordSizeChange records the output size relative to the source size
func RecordSizeChange(ctx context.Context, sizeBefore, sizeAfter int64) {
	if sizeBefore <= 0 {
		return
	}

	percentage := float64(sizeAfter) / float64(sizeBefore) * 100
	SizeChange.Observe(percentage)

	logger.FromContext(ctx).Debug().
		Int64("size_before", sizeBefore).
		Int64("size_after", sizeAfter).
		Float64("size_percentage", percentage).
		Msg("Recorded image size change")
}

// RecordCommand counts one dispatched command
func RecordCommand(command string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	CommandsTotal.WithLabelValues(command, result).Inc()
}

// RecordDeletion counts one deleted image
func RecordDeletion(mode string) {
	DeletionsTotal.WithLabelValues(mode).Inc()
}

// UpdateQueueDepth updates the queue depth metric
func UpdateQueueDepth(depth int) {
	QueueDepth.Set(float64(depth))
}

// UpdateWorkerUtilization updates the worker utilization metric
func UpdateWorkerUtilization(active, total int) {
	if total <= 0 {
		return
	}

	percentage := (float64(active) / float64(total)) * 100
	WorkerUtilization.Set(percentage)
}

// UpdateManagedImages updates the managed images metric
func UpdateManagedImages(count int) {
	ManagedImages.Set(float64(count))
}

// Init initializes metrics collection
func Init() {
	logger := logger.GetLogger("metrics")
	logger.Info().Msg("Metrics collection initialized")
}
