package cropper

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ayusman/objcrop/internal/config"
	"github.com/ayusman/objcrop/internal/detector"
	"github.com/ayusman/objcrop/internal/geometry"
)

// Report accumulates the human readable analysis returned to clients.
type Report struct {
	width int
	lines []string
}

// NewReport creates a report whose section rules are width characters wide.
func NewReport(width int) *Report {
	if width <= 0 {
		width = config.InfoSeparatorWidth
	}
	return &Report{width: width}
}

// Linef appends a formatted line.
func (r *Report) Linef(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

// Line appends lines verbatim.
func (r *Report) Line(lines ...string) {
	r.lines = append(r.lines, lines...)
}

// Blank appends an empty line.
func (r *Report) Blank() {
	r.lines = append(r.lines, "")
}

// Rule appends a separator line.
func (r *Report) Rule() {
	r.lines = append(r.lines, strings.Repeat("=", r.width))
}

// Section appends a title framed by separator lines.
func (r *Report) Section(title string) {
	r.Rule()
	r.Line(title)
	r.Rule()
}

// ImageSummary appends the original dimensions and aspect ratio.
func (r *Report) ImageSummary(w, h int) {
	r.Linef("Original dimensions: %d x %d pixels", w, h)
	r.Linef("Aspect ratio: %s:1", formatRatio(geometry.OriginalAspect(w, h)))
}

// DetectionSummary lists detections by descending confidence.
func (r *Report) DetectionSummary(dets []detector.Detection) {
	if len(dets) == 0 {
		return
	}
	sorted := slices.Clone(dets)
	slices.SortStableFunc(sorted, func(a, b detector.Detection) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})

	r.Blank()
	r.Linef("All Detected Objects (%d):", len(dets))
	for i, d := range sorted {
		r.Linef("     %d. %s: %.2f", i+1, d.Label, d.Confidence)
	}
}

// CropSummary appends the dimensions and aspect ratio of b.
func (r *Report) CropSummary(b geometry.Bounds) {
	r.Linef("Crop dimensions: %d x %d pixels", b.Width(), b.Height())
	r.Linef("Crop aspect ratio: %s:1", formatRatio(b.AspectRatio()))
}

// Len returns the number of lines.
func (r *Report) Len() int {
	return len(r.lines)
}

// String joins the lines with newlines.
func (r *Report) String() string {
	return strings.Join(r.lines, "\n")
}

func formatRatio(v float64) string {
	return fmt.Sprintf("%.*f", config.AspectRatioPrecision, v)
}
