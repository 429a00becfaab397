// Package detector finds labelled objects in images using pretrained models.
package detector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gocv.io/x/gocv"
)

// ErrUnavailable is returned when a model runtime or its weights cannot be found.
var ErrUnavailable = errors.New("detector unavailable")

// Method names a cropping strategy.
type Method string

const (
	MethodContour   Method = "contour"
	MethodSaliency  Method = "saliency"
	MethodEdge      Method = "edge"
	MethodGrabCut   Method = "grabcut"
	MethodSmartCrop Method = "smartcrop"
	MethodDETR      Method = "detr"
	MethodRTDETR    Method = "rt-detr"
	MethodRFDETR    Method = "rf-detr"
	MethodYOLO      Method = "yolo"
)

// Methods lists every supported method in display order.
var Methods = []Method{
	MethodContour,
	MethodSaliency,
	MethodEdge,
	MethodGrabCut,
	MethodSmartCrop,
	MethodDETR,
	MethodRTDETR,
	MethodRFDETR,
	MethodYOLO,
}

// ParseMethod validates a method name.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Methods {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown method %q", s)
}

// IsAI reports whether the method runs a deep-learning detector.
func (m Method) IsAI() bool {
	switch m {
	case MethodDETR, MethodRTDETR, MethodRFDETR, MethodYOLO:
		return true
	}
	return false
}

// DefaultLabel is the label reported for heuristic methods.
func (m Method) DefaultLabel() string {
	switch m {
	case MethodSaliency:
		return "Salient Region"
	case MethodEdge:
		return "Edge-Detected Object"
	case MethodGrabCut:
		return "Foreground Object"
	case MethodSmartCrop:
		return "Interesting Region"
	}
	return "Object"
}

// Detection is a single labelled bounding box. Box is [x1, y1, x2, y2].
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        [4]int  `json:"box"`
}

// Area returns the box area in pixels.
func (d Detection) Area() int {
	w := d.Box[2] - d.Box[0]
	h := d.Box[3] - d.Box[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// ObjectDetector defines the interface for model-backed detectors.
type ObjectDetector interface {
	// Detect returns detections at or above confidence whose labels match
	// one of targets. Empty targets match every label.
	Detect(ctx context.Context, img gocv.Mat, targets []string, confidence float64) ([]Detection, error)

	// Available reports whether the model can be loaded.
	Available() bool

	// Close releases any resources held by the detector.
	Close() error
}

// SelectBest returns the index of the detection with the highest confidence,
// breaking ties by box area. The earliest detection wins a full tie.
func SelectBest(dets []Detection) (int, bool) {
	if len(dets) == 0 {
		return -1, false
	}
	best := 0
	for i := 1; i < len(dets); i++ {
		d, b := dets[i], dets[best]
		if d.Confidence > b.Confidence || (d.Confidence == b.Confidence && d.Area() > b.Area()) {
			best = i
		}
	}
	return best, true
}

// MatchesTarget reports whether label matches any target, case-insensitively,
// when either string contains the other.
func MatchesTarget(label string, targets []string) bool {
	targets = cleanTargets(targets)
	if len(targets) == 0 {
		return true
	}
	l := strings.ToLower(label)
	for _, t := range targets {
		t = strings.ToLower(t)
		if strings.Contains(l, t) || strings.Contains(t, l) {
			return true
		}
	}
	return false
}

// FilterTargets keeps the detections whose labels match targets.
func FilterTargets(dets []Detection, targets []string) []Detection {
	targets = cleanTargets(targets)
	if len(targets) == 0 {
		return dets
	}
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if MatchesTarget(d.Label, targets) {
			out = append(out, d)
		}
	}
	return out
}

func cleanTargets(targets []string) []string {
	var out []string
	for _, t := range targets {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
