// Package store holds the persisted per-artifact status table and the raw
// instance index the pipeline reads its work from.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
)

// ErrNotFound is returned when a file record does not exist
var ErrNotFound = errors.New("record not found")

// FileStore is the persistence collaborator of the pipeline
type FileStore interface {
	// RegisterInstance records a raw instance found by discovery
	RegisterInstance(ctx context.Context, instance models.InstanceFile) error

	// ListUnconvertedInstances returns instances of a series whose rendered
	// output is missing, NEW or IN_PIPELINE, ordered by instance number
	ListUnconvertedInstances(ctx context.Context, seriesUID string) ([]models.InstanceFile, error)

	// ListConvertedInstances returns DONE PNGs of a series ordered by instance number
	ListConvertedInstances(ctx context.Context, seriesUID string) ([]models.ConvertedInstance, error)

	UpsertFileStatus(ctx context.Context, update models.FileUpdate) error
	FileExists(ctx context.Context, path string) (bool, error)
	GetFile(ctx context.Context, path string) (*models.FileRecord, error)

	// ResetInFlight moves rows left IN_PIPELINE by a previous process back to NEW
	ResetInFlight(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// renderedTypes are the file types that count as the rendering of an instance
var renderedTypes = []models.FileType{models.FileTypePNG, models.FileTypeMask}

func isRenderedType(t models.FileType) bool {
	for _, rt := range renderedTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// pending reports whether an instance with the given rendered status still needs work
func pending(status models.FileStatus) bool {
	return status == "" || status == models.StatusNew || status == models.StatusInPipeline
}

func sortInstances(instances []models.InstanceFile) {
	sort.SliceStable(instances, func(i, j int) bool {
		return instances[i].InstanceNumber < instances[j].InstanceNumber
	})
}

func sortConverted(converted []models.ConvertedInstance) {
	sort.SliceStable(converted, func(i, j int) bool {
		return converted[i].InstanceNumber < converted[j].InstanceNumber
	})
}
