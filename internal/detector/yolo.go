package detector

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// YOLO input geometry and post-processing defaults.
const (
	yoloInputSize    = 640
	yoloNMSThreshold = 0.45
	yoloWarmupSize   = 100
)

// YOLODetector runs an Ultralytics YOLO ONNX export through the OpenCV DNN module.
// The network is loaded on first use and cached for the life of the detector.
type YOLODetector struct {
	modelPath string
	net       *gocv.Net
	mu        sync.Mutex
}

// NewYOLODetector creates a detector for the ONNX model at modelPath.
func NewYOLODetector(modelPath string) *YOLODetector {
	return &YOLODetector{modelPath: modelPath}
}

// Available reports whether the model file exists.
func (d *YOLODetector) Available() bool {
	_, err := os.Stat(d.modelPath)
	return err == nil
}

// Detect runs inference on img and returns matching detections in image coordinates.
func (d *YOLODetector) Detect(ctx context.Context, img gocv.Mat, targets []string, confidence float64) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img.Empty() {
		return nil, fmt.Errorf("yolo: empty image")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureLoaded(); err != nil {
		return nil, err
	}

	dets := d.infer(img, float32(confidence))
	filtered := FilterTargets(dets, targets)
	log.Infof("YOLO found %d object(s), %d after target filter", len(dets), len(filtered))
	return filtered, nil
}

// Close releases the network.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.net != nil {
		err := d.net.Close()
		d.net = nil
		return err
	}
	return nil
}

func (d *YOLODetector) ensureLoaded() error {
	if d.net != nil {
		return nil
	}
	if !d.Available() {
		return fmt.Errorf("%w: yolo model not found at %s", ErrUnavailable, d.modelPath)
	}

	log.Infof("Loading YOLO model from %s", d.modelPath)
	net := gocv.ReadNetFromONNX(d.modelPath)
	if net.Empty() {
		net.Close()
		return fmt.Errorf("yolo: failed to read model %s", d.modelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	d.net = &net

	warm := gocv.NewMatWithSize(yoloWarmupSize, yoloWarmupSize, gocv.MatTypeCV8UC3)
	defer warm.Close()
	d.infer(warm, 1)
	log.Info("YOLO model loaded and warmed up")

	return nil
}

// infer runs a forward pass. Ultralytics exports emit [1, 4+classes, N]; the
// output is transposed so each row is one candidate box.
func (d *YOLODetector) infer(img gocv.Mat, confidence float32) []Detection {
	params := gocv.NewImageToBlobParams(
		1.0/255.0,
		image.Pt(yoloInputSize, yoloInputSize),
		gocv.NewScalar(0, 0, 0, 0),
		true,
		gocv.MatTypeCV32F,
		gocv.DataLayoutNCHW,
		gocv.PaddingModeLetterbox,
		gocv.NewScalar(0, 0, 0, 0),
	)
	blob := gocv.BlobFromImageWithParams(img, params)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	transposed := gocv.NewMat()
	defer transposed.Close()
	gocv.TransposeND(output, []int{0, 2, 1}, &transposed)

	rows := transposed.Reshape(1, transposed.Size()[1])
	defer rows.Close()

	cols := rows.Cols()
	var (
		boxes   []image.Rectangle
		scores  []float32
		classes []int
	)
	for i := 0; i < rows.Rows(); i++ {
		func() {
			row := rows.RowRange(i, i+1)
			defer row.Close()
			classScores := row.ColRange(4, cols)
			defer classScores.Close()

			_, score, _, classLoc := gocv.MinMaxLoc(classScores)
			if score < confidence {
				return
			}
			cx, cy := row.GetFloatAt(0, 0), row.GetFloatAt(0, 1)
			w, h := row.GetFloatAt(0, 2), row.GetFloatAt(0, 3)
			boxes = append(boxes, image.Rect(
				int(cx-w/2), int(cy-h/2),
				int(cx+w/2), int(cy+h/2),
			))
			scores = append(scores, score)
			classes = append(classes, classLoc.X)
		}()
	}
	if len(boxes) == 0 {
		return nil
	}

	boxes = params.BlobRectsToImageRects(boxes, image.Pt(img.Cols(), img.Rows()))

	var dets []Detection
	for _, i := range gocv.NMSBoxes(boxes, scores, confidence, yoloNMSThreshold) {
		r := boxes[i].Intersect(image.Rect(0, 0, img.Cols(), img.Rows()))
		dets = append(dets, Detection{
			Label:      ClassName(classes[i]),
			Confidence: float64(scores[i]),
			Box:        [4]int{r.Min.X, r.Min.Y, r.Max.X, r.Max.Y},
		})
	}
	return dets
}
