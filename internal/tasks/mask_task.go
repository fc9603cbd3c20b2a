package tasks

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/cocosip/go-dicom/pkg/dicom/element"
	"github.com/cocosip/go-dicom/pkg/dicom/parser"
	"github.com/cocosip/go-dicom/pkg/dicom/tag"
	"github.com/otcheredev/ris-dicom-renderer/internal/models"
)

// MaskTask renders a DSO segmentation instance to a binary mask PNG, all
// segment frames unioned into one plane
type MaskTask struct {
	base
}

// NewMaskTask creates a segmentation mask task
func NewMaskTask(env *Env, inst models.InstanceFile, output string, withTags bool) *MaskTask {
	t := &MaskTask{base: newBase(env, inst.SeriesUID, inst.InstanceUID, inst.FilePath, output)}
	if withTags {
		t.tagFile = TagPathFor(output)
	}
	return t
}

func (t *MaskTask) Type() TaskType            { return TypeMask }
func (t *MaskTask) FileType() models.FileType { return models.FileTypeMask }

// Run decodes the segmentation and records the MASK status row
func (t *MaskTask) Run(ctx context.Context) Result {
	return t.execute(ctx, TypeMask, models.FileTypeMask, []string{t.input}, func(ctx context.Context, out *os.File) error {
		mask, err := DecodeMask(t.input)
		if err != nil {
			return err
		}
		return png.Encode(out, mask)
	})
}

// DecodeMask reads a segmentation instance and returns the union of its frames
func DecodeMask(path string) (*image.Gray, error) {
	res, err := parser.ParseFile(path, parser.WithReadOption(parser.ReadAll))
	if err != nil {
		return nil, fmt.Errorf("failed to parse segmentation: %w", err)
	}
	ds := res.Dataset

	rows := int(ds.TryGetUInt16(tag.Rows, 0))
	cols := int(ds.TryGetUInt16(tag.Columns, 0))
	bitsAllocated := ds.TryGetUInt16(tag.BitsAllocated, 0)
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("segmentation has no geometry")
	}

	pd, ok := ds.Get(tag.PixelData)
	if !ok {
		return nil, ErrNoPixelData
	}
	var raw []byte
	switch v := pd.(type) {
	case *element.OtherByte:
		raw = v.GetData()
	case *element.OtherWord:
		raw = v.GetData()
	default:
		return nil, fmt.Errorf("unexpected pixel data type %T", pd)
	}

	return unionFrames(raw, rows, cols, bitsAllocated == 1), nil
}

// unionFrames ORs every frame of raw into one mask. Packed frames are read
// LSB first with no padding between frames.
func unionFrames(raw []byte, rows, cols int, packed bool) *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, cols, rows))
	plane := rows * cols

	if packed {
		total := len(raw) * 8
		for bit := 0; bit < total; bit++ {
			if raw[bit/8]&(1<<(bit%8)) != 0 {
				mask.Pix[bit%plane] = 255
			}
		}
		return mask
	}

	for i, v := range raw {
		if v != 0 {
			mask.Pix[i%plane] = 255
		}
	}
	return mask
}
