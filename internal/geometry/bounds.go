// Package geometry provides crop rectangle arithmetic: padding, clamping and aspect ratio fitting.
package geometry

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"
)

// AspectTolerance is how close two ratios must be to count as equal.
const AspectTolerance = 0.01

// ErrInvalidAspectRatio is returned when an aspect ratio string cannot be parsed.
var ErrInvalidAspectRatio = errors.New("invalid aspect ratio")

// Bounds is a crop rectangle in pixel coordinates. Right and Lower are exclusive.
type Bounds struct {
	Left  int
	Upper int
	Right int
	Lower int
}

// Full returns bounds covering a whole w x h image.
func Full(w, h int) Bounds {
	return Bounds{Left: 0, Upper: 0, Right: w, Lower: h}
}

// FromRect converts an image.Rectangle.
func FromRect(r image.Rectangle) Bounds {
	return Bounds{Left: r.Min.X, Upper: r.Min.Y, Right: r.Max.X, Lower: r.Max.Y}
}

// FromBox converts an [x1, y1, x2, y2] detection box.
func FromBox(box [4]int) Bounds {
	return Bounds{Left: box[0], Upper: box[1], Right: box[2], Lower: box[3]}
}

// Rect converts to an image.Rectangle.
func (b Bounds) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Upper, b.Right, b.Lower)
}

// Box converts to an [x1, y1, x2, y2] array.
func (b Bounds) Box() [4]int {
	return [4]int{b.Left, b.Upper, b.Right, b.Lower}
}

func (b Bounds) Width() int  { return b.Right - b.Left }
func (b Bounds) Height() int { return b.Lower - b.Upper }

// Area returns width*height, or 0 for an empty rectangle.
func (b Bounds) Area() int {
	if b.Width() <= 0 || b.Height() <= 0 {
		return 0
	}
	return b.Width() * b.Height()
}

// Empty reports whether the rectangle has no area.
func (b Bounds) Empty() bool {
	return b.Area() == 0
}

// AspectRatio returns width / height, or 0 when the height is not positive.
func (b Bounds) AspectRatio() float64 {
	if b.Height() <= 0 {
		return 0
	}
	return float64(b.Width()) / float64(b.Height())
}

// String renders the bounds as a tuple, e.g. "(10, 20, 110, 220)".
func (b Bounds) String() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", b.Left, b.Upper, b.Right, b.Lower)
}

// MarshalJSON encodes the bounds as a four element array.
func (b Bounds) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Box())
}

// UnmarshalJSON decodes a four element array.
func (b *Bounds) UnmarshalJSON(data []byte) error {
	var box [4]int
	if err := json.Unmarshal(data, &box); err != nil {
		return err
	}
	*b = FromBox(box)
	return nil
}

// Clamp restricts the bounds to a w x h image.
func (b Bounds) Clamp(w, h int) Bounds {
	return Bounds{
		Left:  clamp(b.Left, 0, w),
		Upper: clamp(b.Upper, 0, h),
		Right: clamp(b.Right, 0, w),
		Lower: clamp(b.Lower, 0, h),
	}
}

// Union returns the smallest bounds containing both b and o.
func (b Bounds) Union(o Bounds) Bounds {
	return Bounds{
		Left:  min(b.Left, o.Left),
		Upper: min(b.Upper, o.Upper),
		Right: max(b.Right, o.Right),
		Lower: max(b.Lower, o.Lower),
	}
}

// AddPadding grows the bounds by percent of their own width and height on every
// side, clamped to the image.
func AddPadding(b Bounds, percent, imgW, imgH int) Bounds {
	padX := int(float64(b.Width()) * float64(percent) / 100)
	padY := int(float64(b.Height()) * float64(percent) / 100)

	return Bounds{
		Left:  max(0, b.Left-padX),
		Upper: max(0, b.Upper-padY),
		Right: min(imgW, b.Right+padX),
		Lower: min(imgH, b.Lower+padY),
	}
}

// AdjustAspectRatio grows the bounds along one axis until width/height matches
// target, keeping the result inside the image. When the grown side hits an image
// edge the rectangle is anchored to that edge instead of centered.
func AdjustAspectRatio(b Bounds, target float64, imgW, imgH int) Bounds {
	if target <= 0 || math.IsNaN(target) || math.IsInf(target, 0) {
		return b
	}
	width, height := b.Width(), b.Height()
	if width <= 0 || height <= 0 {
		return b
	}

	current := float64(width) / float64(height)
	if math.Abs(current-target) < AspectTolerance {
		return b
	}

	if current > target {
		// too wide, grow height
		newHeight := int(float64(width) / target)
		diff := newHeight - height
		b.Upper = max(0, b.Upper-diff/2)
		b.Lower = min(imgH, b.Lower+diff/2)

		if b.Upper == 0 {
			b.Lower = min(imgH, newHeight)
		} else if b.Lower == imgH {
			b.Upper = max(0, imgH-newHeight)
		}
		return b
	}

	// too tall, grow width
	newWidth := int(float64(height) * target)
	diff := newWidth - width
	b.Left = max(0, b.Left-diff/2)
	b.Right = min(imgW, b.Right+diff/2)

	if b.Left == 0 {
		b.Right = min(imgW, newWidth)
	} else if b.Right == imgW {
		b.Left = max(0, imgW-newWidth)
	}
	return b
}

// OriginalAspect returns the aspect ratio of a w x h image.
func OriginalAspect(w, h int) float64 {
	if h == 0 {
		return 0
	}
	return float64(w) / float64(h)
}

// ParseAspectRatio accepts "W:H" or a plain decimal ratio such as "1.5".
func ParseAspectRatio(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAspectRatio
	}

	var ratio float64
	if w, h, ok := strings.Cut(s, ":"); ok {
		wf, err := strconv.ParseFloat(strings.TrimSpace(w), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAspectRatio, s)
		}
		hf, err := strconv.ParseFloat(strings.TrimSpace(h), 64)
		if err != nil || hf == 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAspectRatio, s)
		}
		ratio = wf / hf
	} else {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAspectRatio, s)
		}
		ratio = f
	}

	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAspectRatio, s)
	}
	return ratio, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
