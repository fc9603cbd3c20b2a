package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/otcheredev/ris-dicom-renderer/internal/cache"
	"github.com/otcheredev/ris-dicom-renderer/internal/models"
	"github.com/rs/zerolog/log"
)

// DefaultCacheTTL bounds how long a cached file row is served
const DefaultCacheTTL = time.Minute

// CachedStore serves GetFile and FileExists from a cache. Every write goes
// through to the store and evicts the cached row.
type CachedStore struct {
	FileStore
	cache cache.Cache
	ttl   time.Duration

	// writes counts evictions; a row loaded while it moved is not cached
	mu     sync.Mutex
	writes uint64
}

// NewCachedStore wraps st with c
func NewCachedStore(st FileStore, c cache.Cache, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStore{FileStore: st, cache: c, ttl: ttl}
}

// UpsertFileStatus writes through and evicts the cached row
func (s *CachedStore) UpsertFileStatus(ctx context.Context, update models.FileUpdate) error {
	if err := s.FileStore.UpsertFileStatus(ctx, update); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if err := s.cache.DeleteFile(ctx, update.Path); err != nil {
		log.Warn().Err(err).Str("path", update.Path).Msg("File cache eviction failed")
	}
	return nil
}

// GetFile returns the cached row or loads and caches it
func (s *CachedStore) GetFile(ctx context.Context, path string) (*models.FileRecord, error) {
	rec, err := s.cache.GetFile(ctx, path)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		log.Warn().Err(err).Str("path", path).Msg("File cache read failed")
	}

	s.mu.Lock()
	seen := s.writes
	s.mu.Unlock()

	rec, err = s.FileStore.GetFile(ctx, path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writes != seen {
		return rec, nil
	}
	if err := s.cache.SetFile(ctx, rec, s.ttl); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("File cache write failed")
	}
	return rec, nil
}

// FileExists answers from the cache when the row is cached
func (s *CachedStore) FileExists(ctx context.Context, path string) (bool, error) {
	_, err := s.GetFile(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close closes the cache and the wrapped store
func (s *CachedStore) Close() error {
	return errors.Join(s.cache.Close(), s.FileStore.Close())
}
