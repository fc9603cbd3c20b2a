package cache

import (
	"context"
	"sync"
	"time"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
)

// MemoryCache implements Cache in process memory, keyed by output path
type MemoryCache struct {
	mu        sync.RWMutex
	data      map[string]entry
	done      chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

type entry struct {
	rec     models.FileRecord
	expires time.Time
}

// NewMemoryCache creates a cache that drops expired entries every sweep interval
func NewMemoryCache(sweep time.Duration) *MemoryCache {
	if sweep <= 0 {
		sweep = time.Minute
	}
	mc := &MemoryCache{
		data: make(map[string]entry),
		done: make(chan struct{}),
		now:  time.Now,
	}
	go mc.sweep(sweep)
	return mc
}

// GetFile returns a copy of a live row
func (m *MemoryCache) GetFile(ctx context.Context, path string) (*models.FileRecord, error) {
	m.mu.RLock()
	e, ok := m.data[path]
	m.mu.RUnlock()

	if !ok || !m.now().Before(e.expires) {
		return nil, ErrCacheMiss
	}
	rec := e.rec
	return &rec, nil
}

// SetFile stores a copy of rec for ttl
func (m *MemoryCache) SetFile(ctx context.Context, rec *models.FileRecord, ttl time.Duration) error {
	m.mu.Lock()
	m.data[rec.Path] = entry{rec: *rec, expires: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// DeleteFile drops the row of path
func (m *MemoryCache) DeleteFile(ctx context.Context, path string) error {
	m.mu.Lock()
	delete(m.data, path)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryCache) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.purge()
		case <-m.done:
			return
		}
	}
}

func (m *MemoryCache) purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, e := range m.data {
		if !now.Before(e.expires) {
			delete(m.data, key)
		}
	}
}

// Close stops the sweeper
func (m *MemoryCache) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}
