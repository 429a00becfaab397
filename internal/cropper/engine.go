// Package cropper turns an image and a detection method into crop bounds,
// outputs on disk and a textual report.
package cropper

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/ayusman/objcrop/internal/config"
	"github.com/ayusman/objcrop/internal/detector"
	"github.com/ayusman/objcrop/internal/geometry"
	"github.com/ayusman/objcrop/internal/heuristic"
)

// Engine locates objects with either a registered model or a heuristic.
type Engine struct {
	registry *detector.Registry
}

// NewEngine creates an engine backed by registry.
func NewEngine(registry *detector.Registry) *Engine {
	if registry == nil {
		registry = detector.NewRegistry()
	}
	return &Engine{registry: registry}
}

// Registry returns the detectors the engine dispatches to.
func (e *Engine) Registry() *detector.Registry {
	return e.registry
}

// LocateRequest describes a single-object search.
type LocateRequest struct {
	Method     detector.Method
	Targets    []string
	Confidence float64
	// Selected picks a model detection by index. Out of range or nil
	// selects the best detection.
	Selected *int
	Params   heuristic.Params
	Debug    heuristic.DebugSink
}

// Location is the outcome of Locate.
type Location struct {
	// Detections holds every model detection; empty for heuristics.
	Detections []detector.Detection
	// Selected indexes Detections, or is -1.
	Selected      int
	Bounds        geometry.Bounds
	Label         string
	Confidence    float64
	HasConfidence bool
	// FellBack is set when a model found nothing and contour bounds were used.
	FellBack bool
}

// CheckMethod returns ErrUnavailable when an AI method cannot run.
func (e *Engine) CheckMethod(method detector.Method) error {
	if !method.IsAI() {
		return nil
	}
	_, err := e.registry.Get(method)
	return err
}

// DetectAll runs the model registered for method.
func (e *Engine) DetectAll(ctx context.Context, img *Image, method detector.Method, targets []string, confidence float64) ([]detector.Detection, error) {
	if !method.IsAI() {
		return nil, NewInputError("Batch crop only works with YOLO, DETR, RT-DETR, or RF-DETR detection methods")
	}
	d, err := e.registry.Get(method)
	if err != nil {
		return nil, err
	}

	dets, err := d.Detect(ctx, img.Mat, targets, confidence)
	if err != nil {
		return nil, fmt.Errorf("%s detection: %w", method, err)
	}
	log.Infof("%s found %d object(s)", method, len(dets))
	return dets, nil
}

// Locate finds the single best region for req.Method. A model that finds
// nothing falls back to the contour heuristic at the default threshold.
func (e *Engine) Locate(ctx context.Context, img *Image, req LocateRequest) (*Location, error) {
	loc := &Location{Selected: -1}

	if req.Method.IsAI() {
		dets, err := e.DetectAll(ctx, img, req.Method, req.Targets, req.Confidence)
		if err != nil {
			return nil, err
		}
		loc.Detections = dets
		if req.Selected != nil && *req.Selected >= 0 && *req.Selected < len(dets) {
			loc.choose(*req.Selected)
			log.Infof("Selected %s by index %d", loc.Label, *req.Selected)
			return loc, nil
		}
		if idx, ok := detector.SelectBest(dets); ok {
			loc.choose(idx)
			log.Infof("Selected %s (confidence: %.2f)", loc.Label, loc.Confidence)
			return loc, nil
		}
		return e.fallback(img, loc, req.Debug), nil
	}

	b, err := heuristic.New(req.Debug).Find(req.Method, img.Mat, req.Params)
	if err != nil {
		return nil, err
	}
	loc.Bounds = b
	loc.Label = req.Method.DefaultLabel()
	return loc, nil
}

// Reuse selects from previously returned detections without running a model.
// An index outside dets selects the best detection instead.
func (e *Engine) Reuse(img *Image, dets []detector.Detection, index int) *Location {
	loc := &Location{Detections: dets, Selected: -1}

	if index >= 0 && index < len(dets) {
		loc.choose(index)
		return loc
	}
	if best, ok := detector.SelectBest(dets); ok {
		loc.choose(best)
		return loc
	}
	return e.fallback(img, loc, nil)
}

func (e *Engine) fallback(img *Image, loc *Location, debug heuristic.DebugSink) *Location {
	log.Warn("No objects detected, falling back to contour method")
	loc.Detections = nil
	loc.Selected = -1
	loc.Bounds = heuristic.New(debug).Contour(img.Mat, config.DefaultThreshold)
	loc.Label = detector.MethodContour.DefaultLabel()
	loc.FellBack = true
	return loc
}

func (l *Location) choose(i int) {
	d := l.Detections[i]
	l.Selected = i
	l.Bounds = geometry.FromBox(d.Box)
	l.Label = d.Label
	l.Confidence = d.Confidence
	l.HasConfidence = true
}
