// Package cache holds short-lived copies of file status rows, backed by
// process memory or redis.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
)

// ErrCacheMiss is returned when a row is absent or expired
var ErrCacheMiss = errors.New("cache miss")

// Cache stores FileRecords by output path with a TTL
type Cache interface {
	GetFile(ctx context.Context, path string) (*models.FileRecord, error)
	SetFile(ctx context.Context, rec *models.FileRecord, ttl time.Duration) error
	DeleteFile(ctx context.Context, path string) error
	Close() error
}

// FileKey is the cache key of the status row of an output path
func FileKey(path string) string {
	return "pipeline:file:" + path
}
