// Package series tracks per-series conversion progress for the watcher.
package series

import (
	"errors"
	"fmt"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
)

// ErrNoInstances is returned for a series that declares no instances
var ErrNoInstances = errors.New("series declares no instances")

// SeriesDescription is the immutable identity of a tracked series
type SeriesDescription struct {
	models.SeriesDescriptor
}

// NewSeriesDescription validates a discovered series
func NewSeriesDescription(d models.SeriesDescriptor) (*SeriesDescription, error) {
	if d.SeriesUID == "" {
		return nil, errors.New("series UID is required")
	}
	if d.InstanceCount <= 0 {
		return nil, fmt.Errorf("series %s: %w", d.SeriesUID, ErrNoInstances)
	}
	return &SeriesDescription{SeriesDescriptor: d}, nil
}
