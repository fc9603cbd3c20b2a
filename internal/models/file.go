package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FileType is the kind of artifact a FileRecord describes
type FileType string

const (
	FileTypePNG     FileType = "PNG"
	FileTypeGrid    FileType = "GRID"
	FileTypeMask    FileType = "MASK"
	FileTypeTag     FileType = "TAG"
	FileTypeUnknown FileType = "UNKNOWN"
)

// FileStatus is the conversion state of an artifact
type FileStatus string

const (
	StatusNew        FileStatus = "NEW"
	StatusInPipeline FileStatus = "IN_PIPELINE"
	StatusDone       FileStatus = "DONE"
	StatusError      FileStatus = "ERROR"
)

// FileRecord is the durable status row of one generated artifact, keyed by output path
type FileRecord struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Path         string     `gorm:"type:varchar(1024);not null;uniqueIndex" json:"path"`
	InstanceUID  string     `gorm:"type:varchar(255);index" json:"instance_uid"`
	SeriesUID    string     `gorm:"type:varchar(255);index" json:"series_uid"`
	Type         FileType   `gorm:"type:varchar(20);not null" json:"type"`
	Size         int64      `json:"size_bytes"`
	Status       FileStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName overrides the table name
func (FileRecord) TableName() string {
	return "pipeline_files"
}

// BeforeCreate hook
func (f *FileRecord) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// InstanceRecord is a raw instance registered by series discovery
type InstanceRecord struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	InstanceUID    string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"instance_uid"`
	SeriesUID      string    `gorm:"type:varchar(255);not null;index" json:"series_uid"`
	StudyUID       string    `gorm:"type:varchar(255)" json:"study_uid"`
	InstanceNumber int       `gorm:"not null" json:"instance_number"`
	FilePath       string    `gorm:"type:varchar(1024);not null" json:"file_path"`
	FileSize       int64     `json:"file_size"`
	Modality       string    `gorm:"type:varchar(16)" json:"modality"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName overrides the table name
func (InstanceRecord) TableName() string {
	return "pipeline_instances"
}

// BeforeCreate hook
func (i *InstanceRecord) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// FileUpdate carries one status write for UpsertFileStatus
type FileUpdate struct {
	Path         string
	InstanceUID  string
	SeriesUID    string
	Type         FileType
	Size         int64
	Status       FileStatus
	ErrorMessage string
}
