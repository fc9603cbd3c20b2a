package tasks

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
)

// DefaultGridSize is the number of instances per grid
const DefaultGridSize = 16

const unknownStudy = "unknown-study"

// Layout maps instances to output paths under Root
type Layout struct {
	Root string
}

func (l Layout) seriesDir(studyUID, seriesUID string) string {
	if studyUID == "" {
		studyUID = unknownStudy
	}
	return filepath.Join(l.Root, studyUID, seriesUID)
}

// PNGPath is <root>/<study>/<series>/<instance>.png
func (l Layout) PNGPath(inst models.InstanceFile) string {
	return filepath.Join(l.seriesDir(inst.StudyUID, inst.SeriesUID), inst.InstanceUID+".png")
}

// MaskPath is <root>/<study>/<series>/<instance>_mask.png
func (l Layout) MaskPath(inst models.InstanceFile) string {
	return filepath.Join(l.seriesDir(inst.StudyUID, inst.SeriesUID), inst.InstanceUID+"_mask.png")
}

// OutputPath picks the mask or PNG path depending on the instance kind
func (l Layout) OutputPath(inst models.InstanceFile) string {
	if inst.IsSegmentation() {
		return l.MaskPath(inst)
	}
	return l.PNGPath(inst)
}

// GridPath is <root>/<study>/<series>/grid/grid_<NNN>.png
func (l Layout) GridPath(studyUID, seriesUID string, index int) string {
	return filepath.Join(l.seriesDir(studyUID, seriesUID), "grid", fmt.Sprintf("grid_%03d.png", index))
}

// Factory builds tasks with a shared environment and layout
type Factory struct {
	Env      *Env
	Layout   Layout
	GridSize int
	TileSize int
	Dumper   Dumper
	// Tags enables the paired header dump of instance tasks
	Tags bool
}

func (f *Factory) gridSize() int {
	if f.GridSize <= 0 {
		return DefaultGridSize
	}
	return f.GridSize
}

// ForInstance returns the conversion task of one raw instance
func (f *Factory) ForInstance(inst models.InstanceFile) GeneratorTask {
	if inst.IsSegmentation() {
		return NewMaskTask(f.Env, inst, f.Layout.MaskPath(inst), f.Tags)
	}
	return NewPngTask(f.Env, inst, f.Layout.PNGPath(inst), f.Tags)
}

// HeaderFor returns the header dump paired with task, or nil when it has no tag file
func (f *Factory) HeaderFor(task GeneratorTask) *HeaderTask {
	if task.TagFile() == "" {
		return nil
	}
	return NewHeaderTask(f.Env, task, f.Dumper)
}

// GridTasks chunks the converted PNGs of a series, ordered by instance
// number, into grid tasks of GridSize. The last chunk may be short.
func (f *Factory) GridTasks(studyUID string, converted []models.ConvertedInstance) []*GridTask {
	sorted := append([]models.ConvertedInstance(nil), converted...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].InstanceNumber < sorted[j].InstanceNumber
	})

	size := f.gridSize()
	var out []*GridTask
	for start, index := 0, 0; start < len(sorted); start, index = start+size, index+1 {
		end := min(start+size, len(sorted))
		chunk := sorted[start:end]

		inputs := make([]string, len(chunk))
		for i, c := range chunk {
			inputs[i] = c.FilePath
		}
		anchor := chunk[0]
		if studyUID == "" {
			studyUID = anchor.StudyUID
		}
		output := f.Layout.GridPath(studyUID, anchor.SeriesUID, index)
		out = append(out, NewGridTask(f.Env, anchor, inputs, output, size, end == len(sorted), f.TileSize))
	}
	return out
}
