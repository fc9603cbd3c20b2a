package tasks

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// DescribeInstance reads the identifying header fields of a DICOM file
// without decoding pixel data
func DescribeInstance(path string) (models.InstanceFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.InstanceFile{}, err
	}

	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return models.InstanceFile{}, fmt.Errorf("failed to parse dicom header: %w", err)
	}

	inst := models.InstanceFile{
		StudyUID:    firstString(ds, tag.StudyInstanceUID),
		SeriesUID:   firstString(ds, tag.SeriesInstanceUID),
		InstanceUID: firstString(ds, tag.SOPInstanceUID),
		Modality:    firstString(ds, tag.Modality),
		FilePath:    path,
		FileSize:    info.Size(),
	}
	if n, err := strconv.Atoi(firstString(ds, tag.InstanceNumber)); err == nil {
		inst.InstanceNumber = n
	}
	if inst.SeriesUID == "" || inst.InstanceUID == "" {
		return inst, fmt.Errorf("%s lacks series or instance uid", path)
	}
	return inst, nil
}

func firstString(ds dicom.Dataset, t tag.Tag) string {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return ""
	}
	values, ok := elem.Value.GetValue().([]string)
	if !ok || len(values) == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimSpace(values[0]), "\x00")
}
