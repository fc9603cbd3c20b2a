package pipeline

import (
	"context"
	"time"

	"github.com/otcheredev/ris-dicom-renderer/internal/queue"
	"github.com/otcheredev/ris-dicom-renderer/internal/tasks"
	"github.com/otcheredev/ris-dicom-renderer/internal/workers"
	"github.com/otcheredev/ris-dicom-renderer/pkg/logger"
	"github.com/rs/zerolog"
)

// DefaultDispatcherPollInterval bounds the wait on the task queue
const DefaultDispatcherPollInterval = 500 * time.Millisecond

// Dispatcher moves tasks from the task queue onto the worker pools
type Dispatcher struct {
	pollInterval time.Duration
	tasks        *queue.TaskQueue[tasks.GeneratorTask]
	renderPool   *workers.Pool
	tagPool      *workers.Pool
	factory      *tasks.Factory
	logger       zerolog.Logger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(pollInterval time.Duration, tq *queue.TaskQueue[tasks.GeneratorTask], renderPool, tagPool *workers.Pool, factory *tasks.Factory) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = DefaultDispatcherPollInterval
	}
	return &Dispatcher{
		pollInterval: pollInterval,
		tasks:        tq,
		renderPool:   renderPool,
		tagPool:      tagPool,
		factory:      factory,
		logger:       logger.Component("dispatcher"),
	}
}

// Run loops until ctx is cancelled. Tasks already handed to a pool keep running.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info().Dur("poll_interval", d.pollInterval).Msg("Dispatcher started")
	defer d.logger.Info().Msg("Dispatcher stopped")

	for ctx.Err() == nil {
		task, ok := d.tasks.Poll(ctx, d.pollInterval)
		if !ok {
			continue
		}
		d.dispatch(ctx, task)
	}
}

// dispatch submits task to the render pool, waiting for room, and puts its
// header dump on the tag backlog without waiting
func (d *Dispatcher) dispatch(ctx context.Context, task tasks.GeneratorTask) {
	// built before the primary runs so a transient input outlives both
	header := d.factory.HeaderFor(task)

	err := d.renderPool.Submit(ctx, func(ctx context.Context) {
		task.Run(ctx)
	})
	if err != nil {
		d.logger.Warn().Err(err).
			Str("task_type", string(task.Type())).
			Str("output", task.OutputFile()).
			Msg("Task not submitted")
		task.Discard()
		if header != nil {
			header.Discard()
		}
		return
	}

	if header == nil {
		return
	}
	err = d.tagPool.Enqueue(func(ctx context.Context) {
		if res := header.Run(ctx); res.Err != nil {
			d.logger.Warn().Err(res.Err).Str("input", header.InputFile()).Str("output", header.OutputFile()).Msg("Header dump failed")
		}
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("output", header.OutputFile()).Msg("Header dump not submitted")
		header.Discard()
	}
}
