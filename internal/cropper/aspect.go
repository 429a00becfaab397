package cropper

import (
	"fmt"
	"strings"

	"github.com/ayusman/objcrop/internal/geometry"
)

// AspectMode selects how the crop's aspect ratio is adjusted.
type AspectMode string

const (
	AspectNone     AspectMode = "none"
	AspectOriginal AspectMode = "original"
	AspectCustom   AspectMode = "custom"
)

// ParseAspectMode validates a mode name. Empty means none.
func ParseAspectMode(s string) (AspectMode, error) {
	switch m := AspectMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", AspectNone:
		return AspectNone, nil
	case AspectOriginal, AspectCustom:
		return m, nil
	}
	return "", NewInputError(fmt.Sprintf("Invalid aspect mode '%s'. Use none, original or custom.", s))
}

// targetAspect resolves the ratio to fit crops to. ok is false when no
// adjustment applies; err is set when a custom ratio does not parse.
func targetAspect(mode AspectMode, custom string, img *Image) (ratio float64, ok bool, err error) {
	switch mode {
	case AspectOriginal:
		return img.Aspect(), true, nil
	case AspectCustom:
		if strings.TrimSpace(custom) == "" {
			return 0, false, nil
		}
		ratio, err := geometry.ParseAspectRatio(custom)
		if err != nil {
			return 0, false, err
		}
		return ratio, true, nil
	}
	return 0, false, nil
}

// smartcropAspect picks the ratio requested from smartcrop for a mode.
func smartcropAspect(mode AspectMode, custom string, img *Image) float64 {
	if ratio, ok, err := targetAspect(mode, custom, img); ok && err == nil {
		return ratio
	}
	return 1
}
