package models

// SeriesDescriptor identifies one image series as reported by discovery
type SeriesDescriptor struct {
	SeriesUID     string `json:"series_uid"`
	StudyUID      string `json:"study_uid"`
	PatientID     string `json:"patient_id"`
	PatientName   string `json:"patient_name"`
	InstanceCount int    `json:"instance_count"`
}

// InstanceFile describes one raw DICOM instance stored by the archive
type InstanceFile struct {
	SeriesUID      string     `json:"series_uid"`
	StudyUID       string     `json:"study_uid"`
	InstanceUID    string     `json:"instance_uid"`
	InstanceNumber int        `json:"instance_number"`
	FilePath       string     `json:"file_path"`
	FileSize       int64      `json:"file_size"`
	Modality       string     `json:"modality,omitempty"`
	Status         FileStatus `json:"status,omitempty"` // status of the rendered PNG, empty if none yet
}

// IsSegmentation reports whether the instance is a DICOM segmentation object
func (i InstanceFile) IsSegmentation() bool {
	return i.Modality == "SEG"
}

// ConvertedInstance is an instance whose PNG has been rendered
type ConvertedInstance struct {
	SeriesUID      string `json:"series_uid"`
	StudyUID       string `json:"study_uid"`
	InstanceUID    string `json:"instance_uid"`
	InstanceNumber int    `json:"instance_number"`
	FilePath       string `json:"file_path"`
}
