package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
)

// MemorySeriesQueue implements SeriesQueue on a buffered channel
type MemorySeriesQueue struct {
	ch chan models.SeriesDescriptor
}

// NewMemorySeriesQueue creates a queue holding up to capacity series
func NewMemorySeriesQueue(capacity int) *MemorySeriesQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemorySeriesQueue{ch: make(chan models.SeriesDescriptor, capacity)}
}

// Offer enqueues a series, waiting for room until ctx is done
func (q *MemorySeriesQueue) Offer(ctx context.Context, series models.SeriesDescriptor) error {
	select {
	case q.ch <- series:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to offer series %s: %w", series.SeriesUID, ctx.Err())
	}
}

// Poll waits up to timeout for the next series
func (q *MemorySeriesQueue) Poll(ctx context.Context, timeout time.Duration) (*models.SeriesDescriptor, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s := <-q.ch:
		return &s, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of queued series
func (q *MemorySeriesQueue) Len(ctx context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}

// Close is a no-op; queued series are dropped with the process
func (q *MemorySeriesQueue) Close() error {
	return nil
}
