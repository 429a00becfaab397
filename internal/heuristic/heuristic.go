// Package heuristic finds object bounds with classical computer vision:
// thresholded contours, gradient saliency, Canny edges, GrabCut and smartcrop.
package heuristic

import (
	"fmt"
	"image"
	"image/color"

	"github.com/muesli/smartcrop"
	"github.com/muesli/smartcrop/nfnt"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/objcrop/internal/config"
	"github.com/ayusman/objcrop/internal/detector"
	"github.com/ayusman/objcrop/internal/geometry"
)

// Params tunes the heuristics. Zero values select the defaults.
type Params struct {
	// Threshold is the grayscale cutoff for the contour method.
	Threshold int
	// CannyLow and CannyHigh are the hysteresis thresholds for the edge method.
	CannyLow  float32
	CannyHigh float32
	// Iterations is the GrabCut iteration count.
	Iterations int
	// Aspect is the width/height ratio requested from smartcrop.
	Aspect float64
}

func (p Params) withDefaults() Params {
	if p.Threshold <= 0 {
		p.Threshold = config.DefaultThreshold
	}
	if p.CannyLow <= 0 {
		p.CannyLow = config.CannyLow
	}
	if p.CannyHigh <= 0 {
		p.CannyHigh = config.CannyHigh
	}
	if p.Iterations <= 0 {
		p.Iterations = config.GrabCutIterations
	}
	if p.Aspect <= 0 {
		p.Aspect = 1
	}
	return p
}

// Finder runs the classical bound finders against BGR images.
type Finder struct {
	debug DebugSink
}

// New creates a Finder. debug may be nil.
func New(debug DebugSink) *Finder {
	return &Finder{debug: debug}
}

// Find dispatches to the finder for a non-AI method.
func (f *Finder) Find(method detector.Method, img gocv.Mat, p Params) (geometry.Bounds, error) {
	if img.Empty() {
		return geometry.Bounds{}, fmt.Errorf("empty image")
	}
	p = p.withDefaults()

	switch method {
	case detector.MethodContour:
		return f.Contour(img, p.Threshold), nil
	case detector.MethodSaliency:
		return f.Saliency(img), nil
	case detector.MethodEdge:
		return f.Edge(img, p.CannyLow, p.CannyHigh), nil
	case detector.MethodGrabCut:
		return f.GrabCut(img, p.Iterations), nil
	case detector.MethodSmartCrop:
		return f.SmartCrop(img, p.Aspect)
	}
	return geometry.Bounds{}, fmt.Errorf("method %q is not a heuristic", method)
}

// Contour thresholds the grayscale image and returns the bounding box of the
// largest dark region. Without contours it returns the whole image.
func (f *Finder) Contour(img gocv.Mat, threshold int) geometry.Bounds {
	w, h := img.Cols(), img.Rows()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(gray, &thresh, float32(threshold), 255, gocv.ThresholdBinaryInv)

	f.save("grayscale", gray)
	f.save("threshold", thresh)

	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	log.Infof("Found %d contour(s)", contours.Size())

	idx, area := largestContour(contours)
	if idx < 0 {
		log.Warnf("No contours found with threshold %d, falling back to full image", threshold)
		return geometry.Full(w, h)
	}

	ratio := area / float64(w*h)
	log.Infof("Largest contour covers %.1f%% of image", ratio*100)
	if ratio > config.LargeCropAreaThreshold {
		log.Warn("Detected region covers >95% of image, try a different threshold or method")
	}

	rect := gocv.BoundingRect(contours.At(idx))
	f.saveOverlay("contours", img, rect)
	return geometry.FromRect(rect)
}

// Saliency builds a gradient-magnitude saliency map, binarizes it with Otsu and
// returns the box enclosing every salient region. It falls back to Contour when
// nothing stands out.
func (f *Finder) Saliency(img gocv.Mat) geometry.Bounds {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	gradX := gocv.NewMat()
	gradY := gocv.NewMat()
	defer gradX.Close()
	defer gradY.Close()
	gocv.Sobel(gray, &gradX, gocv.MatTypeCV16S, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(gray, &gradY, gocv.MatTypeCV16S, 0, 1, 3, 1, 0, gocv.BorderDefault)

	absX := gocv.NewMat()
	absY := gocv.NewMat()
	defer absX.Close()
	defer absY.Close()
	gocv.ConvertScaleAbs(gradX, &absX, 1, 0)
	gocv.ConvertScaleAbs(gradY, &absY, 1, 0)

	gradient := gocv.NewMat()
	defer gradient.Close()
	gocv.AddWeighted(absX, 0.5, absY, 0.5, 0, &gradient)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gradient, &blurred, image.Pt(21, 21), 0, 0, gocv.BorderDefault)

	if gocv.CountNonZero(blurred) == 0 {
		log.Warn("Saliency map is empty, using contour method")
		return f.Contour(img, config.DefaultThreshold)
	}

	salient := gocv.NewMat()
	defer salient.Close()
	gocv.Threshold(blurred, &salient, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
	f.save("saliency", salient)

	contours := gocv.FindContours(salient, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	if contours.Size() == 0 {
		log.Warn("No salient regions found, using contour method")
		return f.Contour(img, config.DefaultThreshold)
	}

	bounds := geometry.FromRect(gocv.BoundingRect(contours.At(0)))
	for i := 1; i < contours.Size(); i++ {
		bounds = bounds.Union(geometry.FromRect(gocv.BoundingRect(contours.At(i))))
	}
	log.Infof("Found %d salient region(s)", contours.Size())
	return bounds
}

// Edge runs Canny on a blurred grayscale image, closes gaps by dilation and
// returns the bounding box of the largest edge contour.
func (f *Finder) Edge(img gocv.Mat, low, high float32) geometry.Bounds {
	w, h := img.Cols(), img.Rows()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, low, high)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(5, 5))
	defer kernel.Close()

	dilated := edges.Clone()
	defer dilated.Close()
	for i := 0; i < config.DilateIterations; i++ {
		next := gocv.NewMat()
		gocv.Dilate(dilated, &next, kernel)
		dilated.Close()
		dilated = next
	}

	f.save("edges", edges)
	f.save("dilated", dilated)

	contours := gocv.FindContours(dilated, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	log.Infof("Found %d contour(s) from edges", contours.Size())

	idx, _ := largestContour(contours)
	if idx < 0 {
		log.Warn("No edges found, falling back to full image")
		return geometry.Full(w, h)
	}

	rect := gocv.BoundingRect(contours.At(idx))
	f.saveOverlay("edge_contours", img, rect)
	return geometry.FromRect(rect)
}

// GrabCut segments the foreground starting from a rectangle inset by the
// configured margin, and returns the bounding box of the largest foreground
// region. Without foreground it returns the initial rectangle.
func (f *Finder) GrabCut(img gocv.Mat, iterations int) geometry.Bounds {
	w, h := img.Cols(), img.Rows()
	mx := int(float64(w) * config.GrabCutMargin)
	my := int(float64(h) * config.GrabCutMargin)
	initial := image.Rect(mx, my, w-mx, h-my)

	// GrabCut needs background pixels outside the rectangle to seed its model
	if (mx == 0 && my == 0) || initial.Dx() <= 0 || initial.Dy() <= 0 {
		log.Warnf("Image %dx%d too small for GrabCut, using initial rectangle", w, h)
		return geometry.FromRect(initial.Intersect(image.Rect(0, 0, w, h)))
	}

	mask := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8U)
	defer mask.Close()
	bgd := gocv.NewMat()
	defer bgd.Close()
	fgd := gocv.NewMat()
	defer fgd.Close()

	log.Infof("Running GrabCut with %d iterations...", iterations)
	gocv.GrabCut(img, &mask, initial, &bgd, &fgd, iterations, gocv.GCInitWithRect)

	// 1 and 3 mark definite and probable foreground
	sure := gocv.NewMat()
	defer sure.Close()
	gocv.InRangeWithScalar(mask, gocv.NewScalar(1, 0, 0, 0), gocv.NewScalar(1, 0, 0, 0), &sure)
	probable := gocv.NewMat()
	defer probable.Close()
	gocv.InRangeWithScalar(mask, gocv.NewScalar(3, 0, 0, 0), gocv.NewScalar(3, 0, 0, 0), &probable)
	fg := gocv.NewMat()
	defer fg.Close()
	gocv.BitwiseOr(sure, probable, &fg)
	f.save("grabcut_mask", fg)

	contours := gocv.FindContours(fg, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	log.Infof("Found %d contour(s) from GrabCut", contours.Size())

	idx, _ := largestContour(contours)
	if idx < 0 {
		log.Warn("GrabCut segmentation failed, falling back to initial rectangle")
		return geometry.FromRect(initial)
	}

	rect := gocv.BoundingRect(contours.At(idx))
	f.saveOverlay("grabcut_result", img, rect)
	return geometry.FromRect(rect)
}

// SmartCrop returns the most interesting region with the given width/height
// ratio, scored by edges, skin tones and saturation.
func (f *Finder) SmartCrop(img gocv.Mat, aspect float64) (geometry.Bounds, error) {
	w, h := img.Cols(), img.Rows()
	if aspect <= 0 {
		aspect = 1
	}

	cw, ch := w, int(float64(w)/aspect)
	if ch > h {
		cw, ch = int(float64(h)*aspect), h
	}
	if cw <= 0 || ch <= 0 {
		return geometry.Full(w, h), nil
	}

	src, err := img.ToImage()
	if err != nil {
		return geometry.Bounds{}, fmt.Errorf("convert image: %w", err)
	}

	analyzer := smartcrop.NewAnalyzer(nfnt.NewDefaultResizer())
	rect, err := analyzer.FindBestCrop(src, cw, ch)
	if err != nil {
		return geometry.Bounds{}, fmt.Errorf("smartcrop: %w", err)
	}
	rect = rect.Sub(src.Bounds().Min)

	log.Infof("Smartcrop selected %v", rect)
	return geometry.FromRect(rect).Clamp(w, h), nil
}

// largestContour returns the index and area of the largest contour, or -1.
// The earliest contour wins ties.
func largestContour(contours gocv.PointsVector) (int, float64) {
	best, bestArea := -1, -1.0
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > bestArea {
			best, bestArea = i, area
		}
	}
	if best < 0 {
		return -1, 0
	}
	return best, bestArea
}

func (f *Finder) save(name string, img gocv.Mat) {
	if f.debug != nil {
		f.debug.Save(name, img)
	}
}

func (f *Finder) saveOverlay(name string, img gocv.Mat, rect image.Rectangle) {
	if f.debug == nil {
		return
	}
	overlay := img.Clone()
	defer overlay.Close()
	gocv.Rectangle(&overlay, rect, color.RGBA{B: 255, A: 255}, 3)
	f.debug.Save(name, overlay)
}
