package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements FileStore on top of gorm (postgres in production)
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open gorm connection
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// RegisterInstance records a raw instance, updating it if already known
func (s *GormStore) RegisterInstance(ctx context.Context, instance models.InstanceFile) error {
	rec := models.InstanceRecord{
		InstanceUID:    instance.InstanceUID,
		SeriesUID:      instance.SeriesUID,
		StudyUID:       instance.StudyUID,
		InstanceNumber: instance.InstanceNumber,
		FilePath:       instance.FilePath,
		FileSize:       instance.FileSize,
		Modality:       instance.Modality,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "instance_uid"}},
			DoUpdates: clause.AssignmentColumns([]string{"series_uid", "study_uid", "instance_number", "file_path", "file_size", "modality"}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to register instance: %w", err)
	}
	return nil
}

// ListUnconvertedInstances returns instances still waiting for a rendered output
func (s *GormStore) ListUnconvertedInstances(ctx context.Context, seriesUID string) ([]models.InstanceFile, error) {
	var instances []models.InstanceFile
	if err := s.db.WithContext(ctx).Raw(unconvertedQuery, seriesUID).Scan(&instances).Error; err != nil {
		return nil, fmt.Errorf("failed to list unconverted instances: %w", err)
	}
	return instances, nil
}

// ListConvertedInstances returns the DONE PNGs of a series
func (s *GormStore) ListConvertedInstances(ctx context.Context, seriesUID string) ([]models.ConvertedInstance, error) {
	var converted []models.ConvertedInstance
	if err := s.db.WithContext(ctx).Raw(convertedQuery, seriesUID).Scan(&converted).Error; err != nil {
		return nil, fmt.Errorf("failed to list converted instances: %w", err)
	}
	return converted, nil
}

// UpsertFileStatus inserts or overwrites the record keyed by update.Path
func (s *GormStore) UpsertFileStatus(ctx context.Context, update models.FileUpdate) error {
	fileType := update.Type
	if fileType == "" {
		fileType = models.FileTypeUnknown
	}
	rec := models.FileRecord{
		Path:         update.Path,
		InstanceUID:  update.InstanceUID,
		SeriesUID:    update.SeriesUID,
		Type:         fileType,
		Size:         update.Size,
		Status:       update.Status,
		ErrorMessage: update.ErrorMessage,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "path"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"instance_uid":  gorm.Expr("COALESCE(NULLIF(excluded.instance_uid, ''), pipeline_files.instance_uid)"),
				"series_uid":    gorm.Expr("COALESCE(NULLIF(excluded.series_uid, ''), pipeline_files.series_uid)"),
				"type":          gorm.Expr("excluded.type"),
				"size":          gorm.Expr("excluded.size"),
				"status":        gorm.Expr("excluded.status"),
				"error_message": gorm.Expr("excluded.error_message"),
				"updated_at":    gorm.Expr("excluded.updated_at"),
			}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to upsert file status: %w", err)
	}
	return nil
}

// FileExists reports whether a record exists for path
func (s *GormStore) FileExists(ctx context.Context, path string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.FileRecord{}).Where("path = ?", path).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check file record: %w", err)
	}
	return count > 0, nil
}

// GetFile retrieves the record for path
func (s *GormStore) GetFile(ctx context.Context, path string) (*models.FileRecord, error) {
	var rec models.FileRecord
	if err := s.db.WithContext(ctx).Where("path = ?", path).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}
	return &rec, nil
}

// ResetInFlight moves IN_PIPELINE rows back to NEW
func (s *GormStore) ResetInFlight(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.FileRecord{}).
		Where("status = ?", models.StatusInPipeline).
		Update("status", models.StatusNew)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reset in-flight files: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Ping checks the database connection
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
