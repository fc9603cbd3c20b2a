// Package metrics exposes the pipeline's prometheus collectors.
package metrics

import (
	"time"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
	"github.com/otcheredev/ris-dicom-renderer/internal/tasks"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dicom_pipeline"

// Retirement reasons
const (
	RetiredIdle     = "idle"
	RetiredComplete = "complete"
)

// Pipeline holds the collectors of one pipeline instance
type Pipeline struct {
	TasksTotal     *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
	TrackedSeries  prometheus.Gauge
	TaskQueueDepth prometheus.Gauge
	SeriesQueued   prometheus.Counter
	SeriesRetired  *prometheus.CounterVec
}

// NewPipeline creates the collectors and registers them with reg
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	m := &Pipeline{
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Finished generator tasks by type and final status.",
		}, []string{"type", "status"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Generator task run time by type.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"type"}),
		TrackedSeries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_series",
			Help:      "Series currently tracked by the watcher.",
		}),
		TaskQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_queue_depth",
			Help:      "Tasks waiting for the dispatcher.",
		}),
		SeriesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "series_discovered_total",
			Help:      "Series descriptors taken from the series queue.",
		}),
		SeriesRetired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "series_retired_total",
			Help:      "Series removed from tracking by reason.",
		}, []string{"reason"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.TasksTotal,
			m.TaskDuration,
			m.TrackedSeries,
			m.TaskQueueDepth,
			m.SeriesQueued,
			m.SeriesRetired,
		)
	}
	return m
}

// TaskFinished implements tasks.Observer
func (m *Pipeline) TaskFinished(taskType tasks.TaskType, status models.FileStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(string(taskType), string(status)).Inc()
	m.TaskDuration.WithLabelValues(string(taskType)).Observe(elapsed.Seconds())
}

// SeriesDiscovered counts a series taken from the queue
func (m *Pipeline) SeriesDiscovered() {
	if m == nil {
		return
	}
	m.SeriesQueued.Inc()
}

// Retired counts a retired series
func (m *Pipeline) Retired(reason string) {
	if m == nil {
		return
	}
	m.SeriesRetired.WithLabelValues(reason).Inc()
}

// SetTracked records the number of tracked series
func (m *Pipeline) SetTracked(n int) {
	if m == nil {
		return
	}
	m.TrackedSeries.Set(float64(n))
}

// SetQueueDepth records the task queue length
func (m *Pipeline) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.TaskQueueDepth.Set(float64(n))
}
