package tasks

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
	"golang.org/x/image/draw"
)

// DefaultTileSize is the edge length of one grid cell in pixels
const DefaultTileSize = 256

// GridTask composes a slice of converted PNGs into one contact sheet
type GridTask struct {
	base
	inputs   []string
	expected int
	tail     bool
	tileSize int
}

// NewGridTask creates a grid task. anchor is the first instance of the slice;
// expected is the configured grid size and tail marks the final, possibly
// short, slice of a series.
func NewGridTask(env *Env, anchor models.ConvertedInstance, inputs []string, output string, expected int, tail bool, tileSize int) *GridTask {
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	return &GridTask{
		base:     newBase(env, anchor.SeriesUID, anchor.InstanceUID, anchor.FilePath, output),
		inputs:   inputs,
		expected: expected,
		tail:     tail,
		tileSize: tileSize,
	}
}

func (t *GridTask) Type() TaskType            { return TypeGrid }
func (t *GridTask) FileType() models.FileType { return models.FileTypeGrid }

// Inputs returns the sibling PNGs of the grid in layout order
func (t *GridTask) Inputs() []string { return t.inputs }

// Run renders the grid and records the GRID status row
func (t *GridTask) Run(ctx context.Context) Result {
	return t.execute(ctx, TypeGrid, models.FileTypeGrid, t.inputs, func(ctx context.Context, out *os.File) error {
		if len(t.inputs) == 0 {
			return fmt.Errorf("grid has no inputs")
		}
		if len(t.inputs) > t.expected || (!t.tail && len(t.inputs) != t.expected) {
			return fmt.Errorf("grid expects %d images, got %d", t.expected, len(t.inputs))
		}

		sheet, err := t.compose(ctx)
		if err != nil {
			return err
		}
		return png.Encode(out, sheet)
	})
}

func (t *GridTask) compose(ctx context.Context) (*image.RGBA, error) {
	cols, rows := GridDimensions(t.expected)
	if t.tail {
		rows = (len(t.inputs) + cols - 1) / cols
	}
	sheet := image.NewRGBA(image.Rect(0, 0, cols*t.tileSize, rows*t.tileSize))
	draw.Draw(sheet, sheet.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	for i, path := range t.inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := readPNG(path)
		if err != nil {
			return nil, err
		}
		cell := image.Rect(0, 0, t.tileSize, t.tileSize).Add(image.Pt((i%cols)*t.tileSize, (i/cols)*t.tileSize))
		draw.CatmullRom.Scale(sheet, fit(img.Bounds(), cell), img, img.Bounds(), draw.Over, nil)
	}
	return sheet, nil
}

// GridDimensions returns the column and row count of a square-ish grid holding n cells
func GridDimensions(n int) (cols, rows int) {
	if n <= 0 {
		return 1, 1
	}
	cols = int(math.Ceil(math.Sqrt(float64(n))))
	rows = (n + cols - 1) / cols
	return cols, rows
}

// fit centres src inside cell preserving its aspect ratio
func fit(src, cell image.Rectangle) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	cw, ch := cell.Dx(), cell.Dy()
	if sw == 0 || sh == 0 {
		return cell
	}
	w, h := cw, sh*cw/sw
	if h > ch {
		w, h = sw*ch/sh, ch
	}
	x := cell.Min.X + (cw-w)/2
	y := cell.Min.Y + (ch-h)/2
	return image.Rect(x, y, x+w, y+h)
}

func readPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}
