// Package fixtures builds synthetic test images: a light background with dark
// rectangular objects at known positions.
package fixtures

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

var (
	Background = color.RGBA{R: 250, G: 250, B: 250, A: 255}
	Foreground = color.RGBA{R: 30, G: 60, B: 120, A: 255}
)

// Scene returns a w x h BGR image with each object drawn as a filled rectangle
// covering exactly the pixels of r. The caller must Close the Mat.
func Scene(w, h int, objects ...image.Rectangle) gocv.Mat {
	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	mat.SetTo(gocv.NewScalar(float64(Background.B), float64(Background.G), float64(Background.R), 0))
	for _, r := range objects {
		// OpenCV treats the second corner as inclusive
		gocv.Rectangle(&mat, image.Rect(r.Min.X, r.Min.Y, r.Max.X-1, r.Max.Y-1), Foreground, -1)
	}
	return mat
}

// Blank returns a uniform w x h BGR image.
func Blank(w, h int) gocv.Mat {
	return Scene(w, h)
}

// Encode returns the scene encoded in the format implied by ext (".jpg", ".png").
func Encode(ext string, w, h int, objects ...image.Rectangle) ([]byte, error) {
	mat := Scene(w, h, objects...)
	defer mat.Close()

	buf, err := gocv.IMEncode(gocv.FileExt(ext), mat)
	if err != nil {
		return nil, fmt.Errorf("encode scene: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write saves a scene to dir/name and returns its path. The format is taken
// from the file extension; PNG keeps the pixels exact.
func Write(dir, name string, w, h int, objects ...image.Rectangle) (string, error) {
	data, err := Encode(filepath.Ext(name), w, h, objects...)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}
