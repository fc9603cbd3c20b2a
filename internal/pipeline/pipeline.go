// Package pipeline wires the series watcher, the dispatcher and the worker
// pools into one lifecycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/otcheredev/ris-dicom-renderer/internal/metrics"
	"github.com/otcheredev/ris-dicom-renderer/internal/models"
	"github.com/otcheredev/ris-dicom-renderer/internal/queue"
	"github.com/otcheredev/ris-dicom-renderer/internal/series"
	"github.com/otcheredev/ris-dicom-renderer/internal/store"
	"github.com/otcheredev/ris-dicom-renderer/internal/tasks"
	"github.com/otcheredev/ris-dicom-renderer/internal/workers"
	"github.com/rs/zerolog/log"
)

// Config holds the pipeline tunables
type Config struct {
	WatcherPollInterval    time.Duration
	DispatcherPollInterval time.Duration
	IdleTimeout            time.Duration
	InstanceNumberBase     int
	PNGWorkers             int
	TagWorkers             int
	PoolQueueSize          int
	GridSize               int
	GridTileSize           int
	OutputRoot             string
	Tags                   bool
	LockFile               string
	Clock                  func() time.Time
}

// Stats is a point-in-time view of the pipeline
type Stats struct {
	Running     bool          `json:"running"`
	Tracked     int           `json:"tracked_series"`
	TaskQueue   int           `json:"task_queue"`
	SeriesQueue int64         `json:"series_queue"`
	RenderPool  workers.Stats `json:"render_pool"`
	TagPool     workers.Stats `json:"tag_pool"`
}

// Pipeline owns the tracker, queues, pools and loops of the conversion
// pipeline
type Pipeline struct {
	cfg        Config
	store      store.FileStore
	series     queue.SeriesQueue
	tasks      *queue.TaskQueue[tasks.GeneratorTask]
	tracker    *series.Tracker
	factory    *tasks.Factory
	metrics    *metrics.Pipeline
	renderPool *workers.Pool
	tagPool    *workers.Pool
	watcher    *Watcher
	dispatcher *Dispatcher

	mu      sync.Mutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	lock    *Lock
}

// New builds a pipeline. Pools start immediately; loops start with Start.
func New(cfg Config, st store.FileStore, sq queue.SeriesQueue, dumper tasks.Dumper, m *metrics.Pipeline) *Pipeline {
	if cfg.PNGWorkers <= 0 {
		cfg.PNGWorkers = 20
	}
	if cfg.TagWorkers <= 0 {
		cfg.TagWorkers = 20
	}
	if cfg.PoolQueueSize <= 0 {
		cfg.PoolQueueSize = cfg.PNGWorkers
	}

	env := &tasks.Env{Store: st}
	if m != nil {
		env.Observer = m
	}
	factory := &tasks.Factory{
		Env:      env,
		Layout:   tasks.Layout{Root: cfg.OutputRoot},
		GridSize: cfg.GridSize,
		TileSize: cfg.GridTileSize,
		Dumper:   dumper,
		Tags:     cfg.Tags,
	}

	p := &Pipeline{
		cfg:        cfg,
		store:      st,
		series:     sq,
		tasks:      queue.NewTaskQueue[tasks.GeneratorTask](),
		tracker:    series.NewTracker(),
		factory:    factory,
		metrics:    m,
		renderPool: workers.NewPool("render", cfg.PNGWorkers, cfg.PoolQueueSize),
		tagPool:    workers.NewPool("tags", cfg.TagWorkers, cfg.PoolQueueSize),
	}
	p.watcher = NewWatcher(WatcherConfig{
		PollInterval:       cfg.WatcherPollInterval,
		IdleTimeout:        cfg.IdleTimeout,
		InstanceNumberBase: cfg.InstanceNumberBase,
		Clock:              cfg.Clock,
	}, sq, p.tasks, p.tracker, st, factory, m)
	p.dispatcher = NewDispatcher(cfg.DispatcherPollInterval, p.tasks, p.renderPool, p.tagPool, factory)
	return p
}

// Factory returns the task factory shared with the loops
func (p *Pipeline) Factory() *tasks.Factory {
	return p.factory
}

// Start takes the lock, resets rows left in flight by a previous run and
// starts the watcher and dispatcher loops
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("pipeline already running")
	}
	if p.stopped {
		return errors.New("pipeline was shut down")
	}

	if p.cfg.LockFile != "" {
		lock, err := AcquireLock(p.cfg.LockFile)
		if err != nil {
			return err
		}
		p.lock = lock
	}

	reset, err := p.store.ResetInFlight(ctx)
	if err != nil {
		_ = p.lock.Release()
		p.lock = nil
		return fmt.Errorf("failed to reset in-flight files: %w", err)
	}
	if reset > 0 {
		log.Info().Int64("count", reset).Msg("Reset in-flight files from previous run")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.loops.Add(2)
	go func() {
		defer p.loops.Done()
		p.watcher.Run(loopCtx)
	}()
	go func() {
		defer p.loops.Done()
		p.dispatcher.Run(loopCtx)
	}()

	p.running = true
	log.Info().
		Int("render_workers", p.cfg.PNGWorkers).
		Int("tag_workers", p.cfg.TagWorkers).
		Str("output_root", p.cfg.OutputRoot).
		Msg("Pipeline started")
	return nil
}

// Discover offers a series to the watcher
func (p *Pipeline) Discover(ctx context.Context, d models.SeriesDescriptor) error {
	if _, err := series.NewSeriesDescription(d); err != nil {
		return err
	}
	if err := p.series.Offer(ctx, d); err != nil {
		return fmt.Errorf("failed to offer series: %w", err)
	}
	return nil
}

// Reprocess force-queues instances whatever their recorded status, resetting
// their rows to IN_PIPELINE. It returns the number of queued tasks.
func (p *Pipeline) Reprocess(ctx context.Context, instances []models.InstanceFile) (int, error) {
	var errs []error
	queued := 0
	for _, inst := range instances {
		if inst.InstanceUID == "" || inst.SeriesUID == "" || inst.FilePath == "" {
			errs = append(errs, fmt.Errorf("instance %q: uid, series uid and file path are required", inst.InstanceUID))
			continue
		}
		if err := p.store.RegisterInstance(ctx, inst); err != nil {
			errs = append(errs, fmt.Errorf("instance %s: %w", inst.InstanceUID, err))
			continue
		}
		if err := markAndOffer(ctx, p.store, p.tasks, p.factory.ForInstance(inst)); err != nil {
			errs = append(errs, fmt.Errorf("instance %s: %w", inst.InstanceUID, err))
			continue
		}
		queued++
	}

	log.Info().Int("requested", len(instances)).Int("queued", queued).Msg("Reprocess requested")
	return queued, errors.Join(errs...)
}

// Tracked returns snapshots of the tracked series
func (p *Pipeline) Tracked() []series.Snapshot {
	return p.tracker.Snapshots()
}

// Stats reports queue and pool counters
func (p *Pipeline) Stats(ctx context.Context) Stats {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	s := Stats{
		Running:    running,
		Tracked:    p.tracker.Len(),
		TaskQueue:  p.tasks.Len(),
		RenderPool: p.renderPool.Stats(),
		TagPool:    p.tagPool.Stats(),
	}
	if n, err := p.series.Len(ctx); err == nil {
		s.SeriesQueue = n
	}
	return s
}

// Shutdown stops the loops, drains the render pool then the tag pool, and
// closes the store, the series queue and the lock, in that order
func (p *Pipeline) Shutdown() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	log.Info().Msg("Shutting down pipeline")
	if cancel != nil {
		cancel()
	}
	p.loops.Wait()

	p.renderPool.Shutdown()
	p.tagPool.Shutdown()

	var errs []error
	if left := p.tasks.Len(); left > 0 {
		log.Warn().Int("tasks", left).Msg("Queued tasks dropped at shutdown")
	}
	if err := p.series.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close series queue: %w", err))
	}
	if err := p.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	if err := p.lock.Release(); err != nil {
		errs = append(errs, fmt.Errorf("failed to release lock: %w", err))
	}

	log.Info().Msg("Pipeline stopped")
	return errors.Join(errs...)
}
