package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/otcheredev/ris-dicom-renderer/internal/models"
)

// MemoryStore implements FileStore in process memory
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]models.InstanceFile // keyed by instance UID
	files     map[string]*models.FileRecord  // keyed by path
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]models.InstanceFile),
		files:     make(map[string]*models.FileRecord),
	}
}

// RegisterInstance records a raw instance
func (m *MemoryStore) RegisterInstance(ctx context.Context, instance models.InstanceFile) error {
	if instance.InstanceUID == "" || instance.SeriesUID == "" {
		return fmt.Errorf("instance and series UID are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	instance.Status = ""
	m.instances[instance.InstanceUID] = instance
	return nil
}

// renderedStatus finds the status of the rendered artifact of an instance
func (m *MemoryStore) renderedStatus(instanceUID string) (*models.FileRecord, bool) {
	for _, rec := range m.files {
		if rec.InstanceUID == instanceUID && isRenderedType(rec.Type) {
			return rec, true
		}
	}
	return nil, false
}

// ListUnconvertedInstances returns instances still waiting for a rendered output
func (m *MemoryStore) ListUnconvertedInstances(ctx context.Context, seriesUID string) ([]models.InstanceFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.InstanceFile
	for _, inst := range m.instances {
		if inst.SeriesUID != seriesUID {
			continue
		}
		if rec, ok := m.renderedStatus(inst.InstanceUID); ok {
			inst.Status = rec.Status
		}
		if pending(inst.Status) {
			out = append(out, inst)
		}
	}
	sortInstances(out)
	return out, nil
}

// ListConvertedInstances returns the DONE PNGs of a series
func (m *MemoryStore) ListConvertedInstances(ctx context.Context, seriesUID string) ([]models.ConvertedInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ConvertedInstance
	for _, inst := range m.instances {
		if inst.SeriesUID != seriesUID {
			continue
		}
		for _, rec := range m.files {
			if rec.InstanceUID == inst.InstanceUID && rec.Type == models.FileTypePNG && rec.Status == models.StatusDone {
				out = append(out, models.ConvertedInstance{
					SeriesUID:      inst.SeriesUID,
					StudyUID:       inst.StudyUID,
					InstanceUID:    inst.InstanceUID,
					InstanceNumber: inst.InstanceNumber,
					FilePath:       rec.Path,
				})
			}
		}
	}
	sortConverted(out)
	return out, nil
}

// UpsertFileStatus inserts or overwrites the record for update.Path
func (m *MemoryStore) UpsertFileStatus(ctx context.Context, update models.FileUpdate) error {
	if update.Path == "" {
		return fmt.Errorf("file path is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	rec, exists := m.files[update.Path]
	if !exists {
		rec = &models.FileRecord{
			ID:        uuid.New(),
			Path:      update.Path,
			CreatedAt: now,
		}
		m.files[update.Path] = rec
	}
	if update.InstanceUID != "" {
		rec.InstanceUID = update.InstanceUID
	}
	if update.SeriesUID != "" {
		rec.SeriesUID = update.SeriesUID
	}
	if update.Type != "" {
		rec.Type = update.Type
	} else if rec.Type == "" {
		rec.Type = models.FileTypeUnknown
	}
	rec.Size = update.Size
	rec.Status = update.Status
	rec.ErrorMessage = update.ErrorMessage
	rec.UpdatedAt = now
	return nil
}

// FileExists reports whether a record exists for path
func (m *MemoryStore) FileExists(ctx context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[path]
	return ok, nil
}

// GetFile returns a copy of the record for path
func (m *MemoryStore) GetFile(ctx context.Context, path string) (*models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.files[path]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Files returns copies of every record, used by tests and the CLI
func (m *MemoryStore) Files() []models.FileRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.FileRecord, 0, len(m.files))
	for _, rec := range m.files {
		out = append(out, *rec)
	}
	return out
}

// ResetInFlight moves IN_PIPELINE rows back to NEW
func (m *MemoryStore) ResetInFlight(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rec := range m.files {
		if rec.Status == models.StatusInPipeline {
			rec.Status = models.StatusNew
			n++
		}
	}
	return n, nil
}

// Ping always succeeds
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (m *MemoryStore) Close() error {
	return nil
}
