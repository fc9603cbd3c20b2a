package queue

import (
	"context"
	"time"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
)

// SeriesQueue carries newly discovered series from discovery to the watcher
type SeriesQueue interface {
	Offer(ctx context.Context, series models.SeriesDescriptor) error
	// Poll waits at most timeout for a series; it returns nil, nil on timeout
	Poll(ctx context.Context, timeout time.Duration) (*models.SeriesDescriptor, error)
	Len(ctx context.Context) (int64, error)
	Close() error
}
