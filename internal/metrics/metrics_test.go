package metrics

import (
	"testing"
	"time"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
	"github.com/otcheredev/ris-dicom-renderer/internal/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTaskFinished(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipeline(reg)

	m.TaskFinished(tasks.TypePNG, models.StatusDone, 20*time.Millisecond)
	m.TaskFinished(tasks.TypePNG, models.StatusDone, 30*time.Millisecond)
	m.TaskFinished(tasks.TypeTags, models.StatusError, time.Second)

	if got := testutil.ToFloat64(m.TasksTotal.WithLabelValues("png", "DONE")); got != 2 {
		t.Errorf("png DONE = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TasksTotal.WithLabelValues("tags", "ERROR")); got != 1 {
		t.Errorf("tags ERROR = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.TaskDuration); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}
}

func TestGaugesAndRetirement(t *testing.T) {
	m := NewPipeline(prometheus.NewRegistry())

	m.SetTracked(3)
	m.SetQueueDepth(42)
	m.SeriesDiscovered()
	m.Retired(RetiredIdle)
	m.Retired(RetiredComplete)
	m.Retired(RetiredComplete)

	if got := testutil.ToFloat64(m.TrackedSeries); got != 3 {
		t.Errorf("tracked = %v", got)
	}
	if got := testutil.ToFloat64(m.TaskQueueDepth); got != 42 {
		t.Errorf("queue depth = %v", got)
	}
	if got := testutil.ToFloat64(m.SeriesQueued); got != 1 {
		t.Errorf("discovered = %v", got)
	}
	if got := testutil.ToFloat64(m.SeriesRetired.WithLabelValues(RetiredComplete)); got != 2 {
		t.Errorf("retired complete = %v", got)
	}
}

func TestNilPipelineIsSafe(t *testing.T) {
	var m *Pipeline
	m.TaskFinished(tasks.TypePNG, models.StatusDone, time.Millisecond)
	m.SetTracked(1)
	m.SetQueueDepth(1)
	m.SeriesDiscovered()
	m.Retired(RetiredIdle)
}

func TestRegistersWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipeline(reg)
	m.SetTracked(1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "dicom_pipeline_tracked_series" {
			found = true
		}
	}
	if !found {
		t.Error("tracked_series not registered")
	}
}
