package tasks

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ErrNoPixelData is returned for instances without a decodable frame
var ErrNoPixelData = errors.New("instance has no pixel data")

// window is a linear VOI window; a zero width means auto-window on min/max
type window struct {
	center float64
	width  float64
}

// DecodeInstance parses a DICOM file and returns its first frame as an 8-bit
// displayable image
func DecodeInstance(path string) (image.Image, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dicom: %w", err)
	}

	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, ErrNoPixelData
	}
	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return nil, ErrNoPixelData
	}

	img, err := info.Frames[0].GetImage()
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	return toDisplay(img, windowOf(ds)), nil
}

func windowOf(ds dicom.Dataset) window {
	center, okC := firstFloat(ds, tag.WindowCenter)
	width, okW := firstFloat(ds, tag.WindowWidth)
	if !okC || !okW || width <= 0 {
		return window{}
	}
	return window{center: center, width: width}
}

func firstFloat(ds dicom.Dataset, t tag.Tag) (float64, bool) {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, false
	}
	values, ok := elem.Value.GetValue().([]string)
	if !ok || len(values) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(values[0]), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// toDisplay maps grey frames into 8 bits; colour frames pass through
func toDisplay(img image.Image, w window) image.Image {
	switch src := img.(type) {
	case *image.Gray16:
		return windowGray(src.Bounds(), func(x, y int) float64 {
			return float64(src.Gray16At(x, y).Y)
		}, w)
	case *image.Gray:
		if w.width == 0 {
			return src
		}
		return windowGray(src.Bounds(), func(x, y int) float64 {
			return float64(src.GrayAt(x, y).Y)
		}, w)
	default:
		out := image.NewRGBA(img.Bounds())
		draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
		return out
	}
}

func windowGray(b image.Rectangle, at func(x, y int) float64, w window) *image.Gray {
	lo, hi := w.center-w.width/2, w.center+w.width/2
	if w.width == 0 {
		lo, hi = math.MaxFloat64, -math.MaxFloat64
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				v := at(x, y)
				lo = math.Min(lo, v)
				hi = math.Max(hi, v)
			}
		}
	}
	span := hi - lo
	if span <= 0 {
		span = 1
	}

	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := (at(x, y) - lo) / span * 255
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			out.SetGray(x, y, color.Gray{Y: uint8(v + 0.5)})
		}
	}
	return out
}
