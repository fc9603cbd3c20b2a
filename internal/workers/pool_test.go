package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsAllJobs(t *testing.T) {
	p := NewPool("test", 4, 8)

	var n atomic.Int64
	for i := 0; i < 100; i++ {
		if err := p.Submit(context.Background(), func(context.Context) { n.Add(1) }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	p.Shutdown()

	if n.Load() != 100 {
		t.Errorf("ran %d jobs, want 100", n.Load())
	}
	if s := p.Stats(); s.Completed != 100 || s.Running != 0 || s.Queued != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestPoolConcurrencyBounded(t *testing.T) {
	const size = 3
	p := NewPool("bounded", size, 0)

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Submit(context.Background(), func(context.Context) {
				c := current.Add(1)
				for {
					old := peak.Load()
					if c <= old || peak.CompareAndSwap(old, c) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
			})
		}()
	}
	wg.Wait()
	p.Shutdown()

	if peak.Load() > size {
		t.Errorf("peak concurrency = %d, want <= %d", peak.Load(), size)
	}
}

func TestPoolShutdownDrainsQueue(t *testing.T) {
	p := NewPool("drain", 1, 10)

	release := make(chan struct{})
	var done atomic.Int64
	_ = p.Submit(context.Background(), func(context.Context) { <-release; done.Add(1) })
	for i := 0; i < 5; i++ {
		_ = p.Submit(context.Background(), func(context.Context) { done.Add(1) })
	}

	finished := make(chan struct{})
	go func() {
		p.Shutdown()
		close(finished)
	}()

	select {
	case <-finished:
		t.Fatal("Shutdown returned while a job was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-finished
	if done.Load() != 6 {
		t.Errorf("completed %d jobs, want 6", done.Load())
	}
}

func TestPoolSubmitAfterShutdown(t *testing.T) {
	p := NewPool("closed", 1, 1)
	p.Shutdown()
	p.Shutdown()

	if err := p.Submit(context.Background(), func(context.Context) {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("err = %v, want ErrPoolClosed", err)
	}
}

func TestPoolSubmitHonoursContext(t *testing.T) {
	p := NewPool("blocked", 1, 0)
	defer p.Shutdown()

	release := make(chan struct{})
	defer close(release)
	_ = p.Submit(context.Background(), func(context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Submit(ctx, func(context.Context) {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestPoolSurvivesPanic(t *testing.T) {
	p := NewPool("panics", 1, 2)

	var ran atomic.Bool
	_ = p.Submit(context.Background(), func(context.Context) { panic("boom") })
	_ = p.Submit(context.Background(), func(context.Context) { ran.Store(true) })
	p.Shutdown()

	if !ran.Load() {
		t.Error("job after panic did not run")
	}
	if p.Stats().Panics != 1 {
		t.Errorf("panics = %d, want 1", p.Stats().Panics)
	}
}

func TestPoolEnqueueNeverBlocks(t *testing.T) {
	p := NewPool("backlog", 1, 1)

	release := make(chan struct{})
	var done atomic.Int64
	queued := make(chan struct{})
	go func() {
		defer close(queued)
		for i := 0; i < 50; i++ {
			_ = p.Enqueue(func(context.Context) { <-release; done.Add(1) })
		}
	}()

	select {
	case <-queued:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a saturated pool")
	}
	if s := p.Stats(); s.Queued < 48 {
		t.Errorf("queued = %d, want the backlog counted", s.Queued)
	}

	close(release)
	p.Shutdown()
	if done.Load() != 50 {
		t.Errorf("completed %d jobs, want 50", done.Load())
	}
	if err := p.Enqueue(func(context.Context) {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Enqueue after Shutdown = %v, want ErrPoolClosed", err)
	}
}
