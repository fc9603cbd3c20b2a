package tasks

import (
	"context"
	"image/png"
	"os"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
)

// PngTask renders one DICOM instance to a PNG
type PngTask struct {
	base
}

// NewPngTask creates a PNG conversion task
func NewPngTask(env *Env, inst models.InstanceFile, output string, withTags bool) *PngTask {
	t := &PngTask{base: newBase(env, inst.SeriesUID, inst.InstanceUID, inst.FilePath, output)}
	if withTags {
		t.tagFile = TagPathFor(output)
	}
	return t
}

func (t *PngTask) Type() TaskType            { return TypePNG }
func (t *PngTask) FileType() models.FileType { return models.FileTypePNG }

// Run converts the instance and records the PNG status row
func (t *PngTask) Run(ctx context.Context) Result {
	return t.execute(ctx, TypePNG, models.FileTypePNG, []string{t.input}, func(ctx context.Context, out *os.File) error {
		img, err := DecodeInstance(t.input)
		if err != nil {
			return err
		}
		return png.Encode(out, img)
	})
}
