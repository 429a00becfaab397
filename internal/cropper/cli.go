package cropper

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ayusman/objcrop/internal/detector"
	"github.com/ayusman/objcrop/internal/geometry"
	"github.com/ayusman/objcrop/internal/heuristic"
)

// CLIOptions mirrors the command line flags shared by cmd/cropper and
// /api/cli-process.
type CLIOptions struct {
	Method      detector.Method
	Objects     []string
	Confidence  float64
	KeepAspect  bool
	AspectRatio string
	Padding     int
	Threshold   int
	Debug       heuristic.DebugSink
}

// Validate applies the command line's argument rules.
func (o CLIOptions) Validate(batch bool) error {
	if batch && !o.Method.IsAI() {
		return NewInputError("Batch crop only works with YOLO, DETR, RT-DETR, or RF-DETR methods.")
	}
	if o.KeepAspect && strings.TrimSpace(o.AspectRatio) != "" {
		return NewInputError("Cannot use both --keep-aspect and --aspect-ratio together.")
	}
	return nil
}

// SingleCrop locates one object and writes the analysis up to and including
// the crop coordinates to rep. The returned bounds are padded and adjusted but
// not clamped.
func (e *Engine) SingleCrop(ctx context.Context, img *Image, o CLIOptions, rep *Report) (*Location, geometry.Bounds, error) {
	rep.Linef("Detecting object using %s method...", o.Method)

	loc, err := e.Locate(ctx, img, LocateRequest{
		Method:     o.Method,
		Targets:    o.Objects,
		Confidence: o.Confidence,
		Params:     heuristic.Params{Threshold: o.Threshold, Aspect: cliSmartcropAspect(o, img)},
		Debug:      o.Debug,
	})
	if err != nil {
		return nil, geometry.Bounds{}, err
	}

	if loc.FellBack {
		rep.Line("No objects detected, falling back to contour method")
	}
	b := loc.Bounds
	rep.Linef("Initial bounds: %s", b)

	if loc.HasConfidence {
		rep.Linef("Detected: %s (confidence: %.2f)", loc.Label, loc.Confidence)
	} else {
		rep.Linef("Detected: %s", loc.Label)
	}

	if o.Padding > 0 {
		b = geometry.AddPadding(b, o.Padding, img.Width, img.Height)
		rep.Linef("Bounds with %d%% padding: %s", o.Padding, b)
	}

	switch {
	case o.KeepAspect:
		b = geometry.AdjustAspectRatio(b, img.Aspect(), img.Width, img.Height)
		rep.Linef("Bounds with original aspect ratio: %s", b)
	case strings.TrimSpace(o.AspectRatio) != "":
		ratio, err := geometry.ParseAspectRatio(o.AspectRatio)
		if err != nil {
			rep.Linef("WARNING: Invalid aspect ratio '%s', using detected bounds", o.AspectRatio)
			break
		}
		b = geometry.AdjustAspectRatio(b, ratio, img.Width, img.Height)
		rep.Linef("Bounds with custom aspect ratio %s (%.2f:1): %s", o.AspectRatio, ratio, b)
	}

	rep.Blank()
	rep.Section("CROP COORDINATES")
	rep.Linef("Tuple format: %s", b)
	rep.Linef("Left: %d, Upper: %d, Right: %d, Lower: %d", b.Left, b.Upper, b.Right, b.Lower)
	rep.Blank()
	rep.CropSummary(b)
	rep.Rule()

	return loc, b, nil
}

// BatchDetect runs the model for a batch crop and reports what was found. The
// returned aspect is zero when crops keep their detected shape.
func (e *Engine) BatchDetect(ctx context.Context, img *Image, o CLIOptions, rep *Report) ([]detector.Detection, float64, error) {
	rep.Linef("Batch cropping all objects using %s method...", o.Method)

	dets, err := e.DetectAll(ctx, img, o.Method, o.Objects, o.Confidence)
	if err != nil {
		return nil, 0, err
	}
	if len(dets) == 0 {
		rep.Line("No objects detected!")
		return nil, 0, nil
	}
	rep.Linef("Found %d object(s)", len(dets))

	var aspect float64
	switch {
	case o.KeepAspect:
		aspect = img.Aspect()
	case strings.TrimSpace(o.AspectRatio) != "":
		ratio, err := geometry.ParseAspectRatio(o.AspectRatio)
		if err != nil {
			rep.Linef("WARNING: Invalid aspect ratio '%s', ignoring", o.AspectRatio)
			break
		}
		aspect = ratio
		rep.Linef("Using custom aspect ratio: %.2f:1", ratio)
	}
	return dets, aspect, nil
}

// ReportBatchFiles lists the files written by a batch crop.
func ReportBatchFiles(rep *Report, files []string, dir string) {
	rep.Blank()
	rep.Linef("Successfully cropped %d object(s)", len(files))
	rep.Linef("Saved to: %s/", dir)
	for _, f := range files {
		rep.Linef("  - %s", filepath.Base(f))
	}
}

func cliSmartcropAspect(o CLIOptions, img *Image) float64 {
	if o.KeepAspect {
		return img.Aspect()
	}
	if ratio, err := geometry.ParseAspectRatio(o.AspectRatio); err == nil {
		return ratio
	}
	return 1
}
