package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/otcheredev/ris-dicom-renderer/internal/metrics"
	"github.com/otcheredev/ris-dicom-renderer/internal/models"
	"github.com/otcheredev/ris-dicom-renderer/internal/queue"
	"github.com/otcheredev/ris-dicom-renderer/internal/series"
	"github.com/otcheredev/ris-dicom-renderer/internal/store"
	"github.com/otcheredev/ris-dicom-renderer/internal/tasks"
	"github.com/otcheredev/ris-dicom-renderer/pkg/logger"
	"github.com/rs/zerolog"
)

// DefaultWatcherPollInterval bounds the wait on the series queue
const DefaultWatcherPollInterval = 5000 * time.Millisecond

// WatcherConfig tunes the watcher loop
type WatcherConfig struct {
	PollInterval time.Duration
	IdleTimeout  time.Duration
	// InstanceNumberBase is the instance number stored in slot 0
	InstanceNumberBase int
	// Clock replaces time.Now for series idle checks
	Clock func() time.Time
}

// Watcher drives tracked series to conversion and retires them once
// finished or idle
type Watcher struct {
	cfg     WatcherConfig
	series  queue.SeriesQueue
	tasks   *queue.TaskQueue[tasks.GeneratorTask]
	tracker *series.Tracker
	store   store.FileStore
	factory *tasks.Factory
	metrics *metrics.Pipeline
	logger  zerolog.Logger
}

// NewWatcher creates a watcher
func NewWatcher(cfg WatcherConfig, sq queue.SeriesQueue, tq *queue.TaskQueue[tasks.GeneratorTask], tracker *series.Tracker, st store.FileStore, factory *tasks.Factory, m *metrics.Pipeline) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultWatcherPollInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = series.DefaultIdleTimeout
	}
	return &Watcher{
		cfg:     cfg,
		series:  sq,
		tasks:   tq,
		tracker: tracker,
		store:   st,
		factory: factory,
		metrics: m,
		logger:  logger.Component("watcher"),
	}
}

// Run loops until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Info().Dur("poll_interval", w.cfg.PollInterval).Msg("Series watcher started")
	defer w.logger.Info().Msg("Series watcher stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.Iterate(ctx)
	}
}

// Iterate runs one watcher pass: take a new series, advance every tracked
// series, then retire finished ones. Failures are logged and never end the loop.
func (w *Watcher) Iterate(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Str("panic", fmt.Sprint(r)).Msg("Watcher iteration panicked")
		}
	}()

	w.pollSeries(ctx)

	for _, st := range w.tracker.List() {
		if ctx.Err() != nil {
			return
		}
		if err := w.advance(ctx, st); err != nil {
			w.logger.Error().Err(err).Str("series_uid", st.SeriesUID()).Msg("Failed to advance series")
		}
	}

	w.sweep()
	w.metrics.SetTracked(w.tracker.Len())
	w.metrics.SetQueueDepth(w.tasks.Len())
}

func (w *Watcher) pollSeries(ctx context.Context) {
	desc, err := w.series.Poll(ctx, w.cfg.PollInterval)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("Failed to poll series queue")
		}
		return
	}
	if desc == nil {
		return
	}
	w.metrics.SeriesDiscovered()

	if err := w.Track(*desc); err != nil {
		w.logger.Warn().Err(err).Str("series_uid", desc.SeriesUID).Msg("Rejected series")
	}
}

// Track starts tracking a series, registering activity when it is already tracked
func (w *Watcher) Track(d models.SeriesDescriptor) error {
	desc, err := series.NewSeriesDescription(d)
	if err != nil {
		return err
	}
	st, added := w.tracker.Add(series.NewStatus(desc,
		series.WithIdleTimeout(w.cfg.IdleTimeout),
		series.WithClock(w.cfg.Clock),
	))
	st.RegisterActivity()
	if added {
		w.logger.Info().
			Str("series_uid", d.SeriesUID).
			Str("study_uid", d.StudyUID).
			Int("instance_count", d.InstanceCount).
			Msg("Tracking series")
	}
	return nil
}

func (w *Watcher) advance(ctx context.Context, st *series.Status) error {
	uid := st.SeriesUID()

	pending, err := w.store.ListUnconvertedInstances(ctx, uid)
	if err != nil {
		return fmt.Errorf("failed to list unconverted instances: %w", err)
	}

	drained := st.ObservePending(len(pending))
	if len(pending) > 0 {
		queued, discovered := 0, false
		for _, inst := range pending {
			if w.register(st, inst.InstanceNumber, inst.InstanceUID) {
				discovered = true
			}
			if inst.Status == models.StatusInPipeline {
				continue
			}
			if err := w.enqueue(ctx, w.factory.ForInstance(inst)); err != nil {
				w.logger.Error().Err(err).Str("instance_uid", inst.InstanceUID).Msg("Failed to queue instance")
				continue
			}
			queued++
		}
		// rows stuck IN_PIPELINE alone do not keep the series alive
		if queued > 0 || discovered || drained {
			st.RegisterActivity()
		}
		st.SetState(series.StateInPipeline)
		if queued > 0 {
			w.logger.Info().Str("series_uid", uid).Int("queued", queued).Int("pending", len(pending)).Msg("Queued instances")
		}
		return nil
	}

	if st.State() == series.StateInGridPipeline {
		return nil
	}

	converted, err := w.store.ListConvertedInstances(ctx, uid)
	if err != nil {
		return fmt.Errorf("failed to list converted instances: %w", err)
	}
	for _, c := range converted {
		w.register(st, c.InstanceNumber, c.InstanceUID)
	}
	if len(converted) == 0 && st.State() == series.StateNew {
		return nil
	}

	queued := 0
	for _, grid := range w.factory.GridTasks(st.Description.StudyUID, converted) {
		exists, err := w.store.FileExists(ctx, grid.OutputFile())
		if err != nil {
			return fmt.Errorf("failed to check grid %s: %w", grid.OutputFile(), err)
		}
		if exists {
			continue
		}
		if err := w.enqueue(ctx, grid); err != nil {
			return err
		}
		queued++
	}

	st.SetState(series.StateInGridPipeline)
	if queued > 0 {
		st.RegisterActivity()
	}
	w.logger.Info().Str("series_uid", uid).Int("grids", queued).Int("converted", len(converted)).Msg("Series entered grid pipeline")
	return nil
}

// register fills the progress slot of an instance number and reports
// whether the slot was empty. Numbers below InstanceNumberBase have no slot.
func (w *Watcher) register(st *series.Status, number int, instanceUID string) bool {
	slot := number - w.cfg.InstanceNumberBase
	fresh, err := st.Progress.Register(series.InstanceRef{Number: slot, InstanceUID: instanceUID})
	if err != nil {
		w.logger.Warn().Err(err).
			Str("series_uid", st.SeriesUID()).
			Str("instance_uid", instanceUID).
			Int("instance_number", number).
			Int("instance_number_base", w.cfg.InstanceNumberBase).
			Msg("Instance number below the numbering base, series cannot complete")
		return false
	}
	return fresh
}

// enqueue records the task output as IN_PIPELINE and hands it to the dispatcher
func (w *Watcher) enqueue(ctx context.Context, task tasks.GeneratorTask) error {
	return markAndOffer(ctx, w.store, w.tasks, task)
}

func markAndOffer(ctx context.Context, st store.FileStore, tq *queue.TaskQueue[tasks.GeneratorTask], task tasks.GeneratorTask) error {
	err := st.UpsertFileStatus(ctx, models.FileUpdate{
		Path:        task.OutputFile(),
		InstanceUID: task.InstanceUID(),
		SeriesUID:   task.SeriesUID(),
		Type:        task.FileType(),
		Status:      models.StatusInPipeline,
	})
	if err != nil {
		return fmt.Errorf("failed to mark %s in pipeline: %w", task.OutputFile(), err)
	}
	tq.Offer(task)
	return nil
}

// sweep retires idle series, and complete series once their grids are queued
func (w *Watcher) sweep() {
	for _, st := range w.tracker.List() {
		reason := ""
		switch {
		case st.IsComplete() && st.State() == series.StateInGridPipeline:
			reason = metrics.RetiredComplete
		case st.IsIdle():
			reason = metrics.RetiredIdle
		default:
			continue
		}

		w.tracker.Remove(st.SeriesUID())
		w.metrics.Retired(reason)
		w.logger.Info().
			Str("series_uid", st.SeriesUID()).
			Str("reason", reason).
			Str("state", st.State().String()).
			Int("completed", st.Progress.CompletedCount()).
			Int("capacity", st.Progress.Capacity()).
			Msg("Retired series")
	}
}
