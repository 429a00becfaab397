package cropper

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Image is a decoded BGR image and where it came from.
type Image struct {
	Path   string
	Mat    gocv.Mat
	Width  int
	Height int
}

// Load decodes the image at path.
func Load(path string) (*Image, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("could not load image from %s", path)
	}

	img := &Image{
		Path:   path,
		Mat:    mat,
		Width:  mat.Cols(),
		Height: mat.Rows(),
	}
	log.Infof("Image loaded: %dx%d pixels", img.Width, img.Height)
	return img, nil
}

// Aspect returns width / height.
func (i *Image) Aspect() float64 {
	if i.Height == 0 {
		return 0
	}
	return float64(i.Width) / float64(i.Height)
}

// Close releases the decoded pixels.
func (i *Image) Close() error {
	return i.Mat.Close()
}
