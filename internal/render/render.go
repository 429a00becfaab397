// Package render draws detection overlays and writes cropped outputs.
package render

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/objcrop/internal/detector"
	"github.com/ayusman/objcrop/internal/geometry"
)

var (
	selectedColor = color.RGBA{G: 255, A: 255}
	otherColor    = color.RGBA{R: 255, G: 255, A: 255}
	textColor     = color.RGBA{A: 255}
)

const (
	labelScale     = 0.6
	labelThickness = 2
	coordScale     = 0.7
)

// VisualizeDetections draws every detection on a copy of img. The detection at
// selectedIndex, or the one whose box equals selected, is drawn green and the
// rest yellow. With no detections only the selected bounds are outlined.
// Pass selectedIndex < 0 when no index was chosen. The caller must Close the result.
func VisualizeDetections(img gocv.Mat, dets []detector.Detection, selectedIndex int, selected *geometry.Bounds) gocv.Mat {
	vis := img.Clone()

	if len(dets) > 0 {
		for i, d := range dets {
			isSelected := false
			if selectedIndex >= 0 && i == selectedIndex {
				isSelected = true
			} else if selected != nil {
				isSelected = d.Box == selected.Box()
			}

			clr, thickness := otherColor, 2
			if isSelected {
				clr, thickness = selectedColor, 3
			}

			box := geometry.FromBox(d.Box).Rect()
			gocv.Rectangle(&vis, box, clr, thickness)
			drawLabel(&vis, fmt.Sprintf("%s: %.2f", d.Label, d.Confidence), box.Min, clr)
		}
	} else if selected != nil {
		gocv.Rectangle(&vis, selected.Rect(), selectedColor, 3)
	}

	if selected != nil {
		gocv.PutText(&vis, "Selected Crop: "+selected.String(), image.Pt(10, 30),
			gocv.FontHersheySimplex, coordScale, selectedColor, 2)
	}

	return vis
}

// VisualizeCrop outlines b on a copy of img with its coordinates.
// The caller must Close the result.
func VisualizeCrop(img gocv.Mat, b geometry.Bounds) gocv.Mat {
	vis := img.Clone()
	gocv.Rectangle(&vis, b.Rect(), selectedColor, 3)
	gocv.PutText(&vis, "Crop: "+b.String(), image.Pt(10, 30), gocv.FontHersheySimplex, 1, selectedColor, 2)
	return vis
}

// drawLabel draws text on a filled box just above the detection's top-left corner.
func drawLabel(img *gocv.Mat, text string, at image.Point, bg color.RGBA) {
	size, baseline := gocv.GetTextSizeWithBaseline(text, gocv.FontHersheySimplex, labelScale, labelThickness)
	labelY := max(at.Y-10, size.Y+10)

	gocv.Rectangle(img, image.Rect(
		at.X, labelY-size.Y-baseline-5,
		at.X+size.X+10, labelY+baseline,
	), bg, -1)
	gocv.PutText(img, text, image.Pt(at.X+5, labelY-5), gocv.FontHersheySimplex, labelScale, textColor, labelThickness)
}

// SaveJPEG writes mat to path as JPEG with the given quality.
func SaveJPEG(mat gocv.Mat, path string, quality int) error {
	if ok := gocv.IMWriteWithParams(path, mat, []int{int(gocv.IMWriteJpegQuality), quality}); !ok {
		return fmt.Errorf("write %s failed", path)
	}
	return nil
}

// Crop extracts b, clamped to the image, from src.
func Crop(src image.Image, b geometry.Bounds) (*image.NRGBA, error) {
	size := src.Bounds().Size()
	b = b.Clamp(size.X, size.Y)
	if b.Empty() {
		return nil, fmt.Errorf("crop region %s is empty", b)
	}
	return imaging.Crop(src, b.Rect().Add(src.Bounds().Min)), nil
}

// CropToFile crops img to b and saves it as JPEG. It returns the dimensions of
// the saved image.
func CropToFile(img gocv.Mat, b geometry.Bounds, path string, quality int) (image.Point, error) {
	src, err := img.ToImage()
	if err != nil {
		return image.Point{}, fmt.Errorf("convert image: %w", err)
	}
	return cropImageToFile(src, b, path, quality)
}

func cropImageToFile(src image.Image, b geometry.Bounds, path string, quality int) (image.Point, error) {
	cropped, err := Crop(src, b)
	if err != nil {
		return image.Point{}, err
	}
	if err := imaging.Save(cropped, path, imaging.JPEGQuality(quality)); err != nil {
		return image.Point{}, fmt.Errorf("save %s: %w", path, err)
	}
	return cropped.Bounds().Size(), nil
}

// BatchOptions controls BatchCrop.
type BatchOptions struct {
	Dir     string
	Base    string
	Padding int
	// Aspect is a width/height ratio to fit each crop to. Zero leaves crops as detected.
	Aspect  float64
	Quality int
}

// BatchCrop saves each detection as its own JPEG named
// <base>_<index>_<label>_<confidence>.jpg. A detection that cannot be cropped
// is logged and skipped.
func BatchCrop(img gocv.Mat, dets []detector.Detection, opts BatchOptions) ([]string, error) {
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	src, err := img.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert image: %w", err)
	}
	w, h := img.Cols(), img.Rows()

	var files []string
	for i, d := range dets {
		b := geometry.FromBox(d.Box)
		if opts.Padding > 0 {
			b = geometry.AddPadding(b, opts.Padding, w, h)
		}
		if opts.Aspect > 0 {
			b = geometry.AdjustAspectRatio(b, opts.Aspect, w, h)
		}

		name := fmt.Sprintf("%s_%d_%s_%.2f.jpg", SanitizeName(opts.Base), i, SanitizeName(d.Label), d.Confidence)
		path := filepath.Join(opts.Dir, name)

		if _, err := cropImageToFile(src, b, path, opts.Quality); err != nil {
			log.Errorf("Error cropping object %d: %v", i, err)
			continue
		}
		log.Infof("Saved: %s", path)
		files = append(files, path)
	}

	return files, nil
}

// SanitizeName replaces characters that are unsafe in file names with '_'.
func SanitizeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "object"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, s)
}
