package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/otcheredev/ris-dicom-renderer/internal/queue"
	"github.com/rs/zerolog/log"
)

// ErrPoolClosed is returned by Submit after Shutdown
var ErrPoolClosed = errors.New("worker pool is shut down")

// Job is one unit of work run by a pool worker
type Job func(ctx context.Context)

// Pool runs jobs on a fixed number of goroutines. Submit blocks once the
// buffer is full, so callers are throttled by pool size. Enqueue never
// blocks: jobs wait in an unbounded backlog until a worker frees up.
type Pool struct {
	name      string
	size      int
	jobs      chan Job
	backlog   *queue.TaskQueue[Job]
	stopFeed  context.CancelFunc
	fed       chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	running   atomic.Int64
	completed atomic.Int64
	panics    atomic.Int64
}

// Stats is a point-in-time view of a pool
type Stats struct {
	Name      string `json:"name"`
	Size      int    `json:"size"`
	Queued    int    `json:"queued"`
	Running   int64  `json:"running"`
	Completed int64  `json:"completed"`
	Panics    int64  `json:"panics"`
}

// NewPool starts size workers with a submission buffer of queueSize
func NewPool(name string, size, queueSize int) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	feedCtx, stopFeed := context.WithCancel(context.Background())
	p := &Pool{
		name:     name,
		size:     size,
		jobs:     make(chan Job, queueSize),
		backlog:  queue.NewTaskQueue[Job](),
		stopFeed: stopFeed,
		fed:      make(chan struct{}),
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	go p.feed(feedCtx)

	log.Debug().Str("pool", name).Int("size", size).Int("queue_size", queueSize).Msg("Worker pool started")
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	// running jobs are never cancelled; shutdown waits for them
	ctx := context.Background()
	for job := range p.jobs {
		p.run(ctx, job)
	}
}

func (p *Pool) run(ctx context.Context, job Job) {
	p.running.Add(1)
	defer func() {
		p.running.Add(-1)
		p.completed.Add(1)
		if r := recover(); r != nil {
			p.panics.Add(1)
			log.Error().Str("pool", p.name).Str("panic", fmt.Sprint(r)).Msg("Worker job panicked")
		}
	}()
	job(ctx)
}

// feed moves backlog jobs onto the workers. After Shutdown it drains what
// is left and exits.
func (p *Pool) feed(ctx context.Context) {
	defer close(p.fed)
	for {
		job, ok := p.backlog.Poll(ctx, time.Minute)
		if ok {
			p.jobs <- job
			continue
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Enqueue adds job to the backlog without blocking
func (p *Pool) Enqueue(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.backlog.Offer(job)
	return nil
}

// Submit queues job, blocking while the buffer is full or until ctx is done
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting work, lets queued and running jobs finish and
// waits for every worker to exit
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.stopFeed()
	<-p.fed
	close(p.jobs)

	p.wg.Wait()
	log.Debug().Str("pool", p.name).Int64("completed", p.completed.Load()).Msg("Worker pool drained")
}

// Stats returns the current pool counters
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Size:      p.size,
		Queued:    len(p.jobs) + p.backlog.Len(),
		Running:   p.running.Load(),
		Completed: p.completed.Load(),
		Panics:    p.panics.Load(),
	}
}
