package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/otcheredev/ris-dicom-renderer/internal/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pipeline_instances (
    id TEXT PRIMARY KEY,
    instance_uid TEXT NOT NULL UNIQUE,
    series_uid TEXT NOT NULL,
    study_uid TEXT NOT NULL DEFAULT '',
    instance_number INTEGER NOT NULL,
    file_path TEXT NOT NULL,
    file_size INTEGER NOT NULL DEFAULT 0,
    modality TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pipeline_instances_series ON pipeline_instances(series_uid);

CREATE TABLE IF NOT EXISTS pipeline_files (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    instance_uid TEXT NOT NULL DEFAULT '',
    series_uid TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    size INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pipeline_files_instance ON pipeline_files(instance_uid);
CREATE INDEX IF NOT EXISTS idx_pipeline_files_status ON pipeline_files(status);
`

// SQLiteStore implements FileStore on a local SQLite database
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path and applies the schema
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// single writer; workers queue on the pool instead of hitting SQLITE_BUSY
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// RegisterInstance records a raw instance, updating it if already known
func (s *SQLiteStore) RegisterInstance(ctx context.Context, instance models.InstanceFile) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pipeline_instances (
    id, instance_uid, series_uid, study_uid, instance_number, file_path, file_size, modality, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(instance_uid) DO UPDATE SET
    series_uid = excluded.series_uid,
    study_uid = excluded.study_uid,
    instance_number = excluded.instance_number,
    file_path = excluded.file_path,
    file_size = excluded.file_size,
    modality = excluded.modality`,
		uuid.NewString(),
		instance.InstanceUID,
		instance.SeriesUID,
		instance.StudyUID,
		instance.InstanceNumber,
		instance.FilePath,
		instance.FileSize,
		instance.Modality,
		timestamp(),
	)
	if err != nil {
		return fmt.Errorf("failed to register instance: %w", err)
	}
	return nil
}

// ListUnconvertedInstances returns instances still waiting for a rendered output
func (s *SQLiteStore) ListUnconvertedInstances(ctx context.Context, seriesUID string) ([]models.InstanceFile, error) {
	rows, err := s.db.QueryContext(ctx, unconvertedQuery, seriesUID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unconverted instances: %w", err)
	}
	defer rows.Close()

	var instances []models.InstanceFile
	for rows.Next() {
		var inst models.InstanceFile
		var status string
		if err := rows.Scan(&inst.SeriesUID, &inst.StudyUID, &inst.InstanceUID, &inst.InstanceNumber,
			&inst.FilePath, &inst.FileSize, &inst.Modality, &status); err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		inst.Status = models.FileStatus(status)
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate instances: %w", err)
	}
	return instances, nil
}

// ListConvertedInstances returns the DONE PNGs of a series
func (s *SQLiteStore) ListConvertedInstances(ctx context.Context, seriesUID string) ([]models.ConvertedInstance, error) {
	rows, err := s.db.QueryContext(ctx, convertedQuery, seriesUID)
	if err != nil {
		return nil, fmt.Errorf("failed to list converted instances: %w", err)
	}
	defer rows.Close()

	var converted []models.ConvertedInstance
	for rows.Next() {
		var c models.ConvertedInstance
		if err := rows.Scan(&c.SeriesUID, &c.StudyUID, &c.InstanceUID, &c.InstanceNumber, &c.FilePath); err != nil {
			return nil, fmt.Errorf("failed to scan converted instance: %w", err)
		}
		converted = append(converted, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate converted instances: %w", err)
	}
	return converted, nil
}

// UpsertFileStatus inserts or overwrites the record keyed by update.Path
func (s *SQLiteStore) UpsertFileStatus(ctx context.Context, update models.FileUpdate) error {
	if update.Path == "" {
		return fmt.Errorf("file path is required")
	}
	fileType := update.Type
	if fileType == "" {
		fileType = models.FileTypeUnknown
	}
	now := timestamp()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pipeline_files (
    id, path, instance_uid, series_uid, type, size, status, error_message, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
    instance_uid = COALESCE(NULLIF(excluded.instance_uid, ''), pipeline_files.instance_uid),
    series_uid = COALESCE(NULLIF(excluded.series_uid, ''), pipeline_files.series_uid),
    type = excluded.type,
    size = excluded.size,
    status = excluded.status,
    error_message = excluded.error_message,
    updated_at = excluded.updated_at`,
		uuid.NewString(),
		update.Path,
		update.InstanceUID,
		update.SeriesUID,
		string(fileType),
		update.Size,
		string(update.Status),
		update.ErrorMessage,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert file status: %w", err)
	}
	return nil
}

// FileExists reports whether a record exists for path
func (s *SQLiteStore) FileExists(ctx context.Context, path string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM pipeline_files WHERE path = ?`, path).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check file record: %w", err)
	}
	return count > 0, nil
}

// GetFile retrieves the record for path
func (s *SQLiteStore) GetFile(ctx context.Context, path string) (*models.FileRecord, error) {
	var (
		rec                  models.FileRecord
		id, fileType, status string
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, path, instance_uid, series_uid, type, size, status, error_message, created_at, updated_at
FROM pipeline_files WHERE path = ?`, path).
		Scan(&id, &rec.Path, &rec.InstanceUID, &rec.SeriesUID, &fileType, &rec.Size, &status,
			&rec.ErrorMessage, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}
	rec.ID, _ = uuid.Parse(id)
	rec.Type = models.FileType(fileType)
	rec.Status = models.FileStatus(status)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &rec, nil
}

// ResetInFlight moves IN_PIPELINE rows back to NEW
func (s *SQLiteStore) ResetInFlight(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_files SET status = ?, updated_at = ? WHERE status = ?`,
		string(models.StatusNew), timestamp(), string(models.StatusInPipeline))
	if err != nil {
		return 0, fmt.Errorf("failed to reset in-flight files: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
