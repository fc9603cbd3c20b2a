package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
	"github.com/otcheredev/ris-dicom-renderer/internal/queue"
)

func TestMemorySeriesQueuePollTimeout(t *testing.T) {
	q := queue.NewMemorySeriesQueue(4)
	start := time.Now()
	got, err := q.Poll(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil on timeout, got %#v", got)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Poll returned before the timeout elapsed")
	}
}

func TestMemorySeriesQueueOfferPoll(t *testing.T) {
	q := queue.NewMemorySeriesQueue(4)
	ctx := context.Background()
	if err := q.Offer(ctx, models.SeriesDescriptor{SeriesUID: "S1", InstanceCount: 3}); err != nil {
		t.Fatalf("Offer failed: %v", err)
	}
	if n, _ := q.Len(ctx); n != 1 {
		t.Fatalf("expected length 1, got %d", n)
	}
	got, err := q.Poll(ctx, time.Second)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if got == nil || got.SeriesUID != "S1" {
		t.Fatalf("unexpected series: %#v", got)
	}
}

func TestMemorySeriesQueuePollCancelled(t *testing.T) {
	q := queue.NewMemorySeriesQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Poll(ctx, time.Minute); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestTaskQueueFIFO(t *testing.T) {
	q := queue.NewTaskQueue[int]()
	for i := 0; i < 5; i++ {
		q.Offer(i)
	}
	if q.Len() != 5 {
		t.Fatalf("expected 5 items, got %d", q.Len())
	}
	for i := 0; i < 5; i++ {
		got, ok := q.Poll(context.Background(), 10*time.Millisecond)
		if !ok || got != i {
			t.Fatalf("expected %d, got %d (ok=%v)", i, got, ok)
		}
	}
	if _, ok := q.Poll(context.Background(), 10*time.Millisecond); ok {
		t.Fatal("expected empty queue to time out")
	}
}

func TestTaskQueueWakesWaitingConsumer(t *testing.T) {
	q := queue.NewTaskQueue[string]()
	done := make(chan string, 1)
	go func() {
		got, _ := q.Poll(context.Background(), 5*time.Second)
		done <- got
	}()

	time.Sleep(10 * time.Millisecond)
	q.Offer("task")

	select {
	case got := <-done:
		if got != "task" {
			t.Fatalf("expected task, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer was not woken by Offer")
	}
}

func TestTaskQueueConcurrentConsumers(t *testing.T) {
	q := queue.NewTaskQueue[int]()
	const total = 500
	for i := 0; i < total; i++ {
		q.Offer(i)
	}

	var (
		mu   sync.Mutex
		seen = make(map[int]bool)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok := q.Poll(context.Background(), 20*time.Millisecond)
				if !ok {
					return
				}
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d distinct items, got %d", total, len(seen))
	}
}
