package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/akamensky/argparse"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/objcrop/internal/config"
	"github.com/ayusman/objcrop/internal/cropper"
	"github.com/ayusman/objcrop/internal/detector"
	"github.com/ayusman/objcrop/internal/heuristic"
	"github.com/ayusman/objcrop/internal/render"
)

const reportWidth = 60

func methodNames() []string {
	names := make([]string, len(detector.Methods))
	for i, m := range detector.Methods {
		names[i] = string(m)
	}
	return names
}

func main() {
	parser := argparse.NewParser("cropper", "Analyze image and provide accurate crop coordinates")
	imagePath := parser.String("i", "image", &argparse.Options{Help: "Path to the input image", Required: true})
	method := parser.Selector("", "method", methodNames(), &argparse.Options{Help: "Detection method to use", Default: string(detector.MethodContour)})
	objects := parser.StringList("", "object", &argparse.Options{Help: "Target object to detect, may be repeated. Only used by model methods"})
	confidence := parser.Float("", "confidence", &argparse.Options{Help: "Confidence threshold for model methods (0-1)", Default: config.DefaultCLIConfidence})
	keepAspect := parser.Flag("", "keep-aspect", &argparse.Options{Help: "Maintain original aspect ratio"})
	aspectRatio := parser.String("", "aspect-ratio", &argparse.Options{Help: "Custom aspect ratio (e.g. 16:9, 4:3, 1.5, 2.35:1)"})
	padding := parser.Int("", "padding", &argparse.Options{Help: "Padding around the object in percent (0-50)", Default: config.DefaultCLIPadding})
	threshold := parser.Int("", "threshold", &argparse.Options{Help: "Threshold value for contour detection (0-255)", Default: config.DefaultThreshold})
	batchCrop := parser.Flag("", "batch-crop", &argparse.Options{Help: "Crop every detected object individually (model methods only)"})
	batchDir := parser.String("", "batch-output-dir", &argparse.Options{Help: "Output directory for batch crop", Default: "cropped_images"})
	visualize := parser.Flag("", "visualize", &argparse.Options{Help: "Show a preview of the crop area"})
	cropOutput := parser.String("", "crop-output", &argparse.Options{Help: "Save cropped image to this path"})
	visOutput := parser.String("", "vis-output", &argparse.Options{Help: "Save visualization to this path"})
	debug := parser.Flag("", "debug", &argparse.Options{Help: "Save debug images of the detection steps (heuristic methods)"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	cfg := config.Load()
	config.SetupLogging(cfg.LogLevel)

	opts := cropper.CLIOptions{
		Method:      detector.Method(*method),
		Objects:     *objects,
		Confidence:  *confidence,
		KeepAspect:  *keepAspect,
		AspectRatio: *aspectRatio,
		Padding:     *padding,
		Threshold:   *threshold,
	}
	if *debug {
		opts.Debug = heuristic.NewDirSink(".")
	}

	registry := detector.NewDefaultRegistry(detector.RegistryConfig{
		YOLOModel: cfg.YOLOModel,
		Script:    cfg.DetectionScript,
		Python:    cfg.Python,
	})
	defer registry.Close()

	if err := run(context.Background(), cropper.NewEngine(registry), *imagePath, opts, runOptions{
		batch:      *batchCrop,
		batchDir:   *batchDir,
		visualize:  *visualize,
		cropOutput: *cropOutput,
		visOutput:  *visOutput,
	}); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		registry.Close()
		os.Exit(1)
	}
}

type runOptions struct {
	batch      bool
	batchDir   string
	visualize  bool
	cropOutput string
	visOutput  string
}

func run(ctx context.Context, engine *cropper.Engine, path string, opts cropper.CLIOptions, ro runOptions) error {
	if err := opts.Validate(ro.batch); err != nil {
		return err
	}
	if err := engine.CheckMethod(opts.Method); err != nil {
		return fmt.Errorf("%s method is not installed: %w", opts.Method, err)
	}

	img, err := cropper.Load(path)
	if err != nil {
		return err
	}
	defer img.Close()

	rep := cropper.NewReport(reportWidth)
	rep.Section("IMAGE ANALYSIS")
	rep.ImageSummary(img.Width, img.Height)
	rep.Blank()

	if ro.batch {
		defer func() { fmt.Print(rep.String()) }()
		return runBatch(ctx, engine, img, opts, ro, rep)
	}

	_, b, err := engine.SingleCrop(ctx, img, opts, rep)
	fmt.Print(rep.String())
	if err != nil {
		return err
	}

	if ro.visualize || ro.visOutput != "" {
		vis := render.VisualizeCrop(img.Mat, b)
		defer vis.Close()

		if ro.visOutput != "" {
			if err := render.SaveJPEG(vis, ro.visOutput, config.JPEGQuality); err != nil {
				return err
			}
			log.Infof("Visualization saved to: %s", ro.visOutput)
		}
		if ro.visualize {
			window := gocv.NewWindow("Crop Preview (Press any key to close)")
			window.IMShow(vis)
			window.WaitKey(0)
			window.Close()
		}
	}

	if ro.cropOutput != "" {
		size, err := render.CropToFile(img.Mat, b, ro.cropOutput, config.JPEGQuality)
		if err != nil {
			return err
		}
		log.Infof("Cropped image saved to: %s", ro.cropOutput)
		log.Infof("New dimensions: %d x %d pixels", size.X, size.Y)
	}
	return nil
}

func runBatch(ctx context.Context, engine *cropper.Engine, img *cropper.Image, opts cropper.CLIOptions, ro runOptions, rep *cropper.Report) error {
	dets, aspect, err := engine.BatchDetect(ctx, img, opts, rep)
	if err != nil {
		return err
	}
	if len(dets) == 0 {
		return fmt.Errorf("no objects detected")
	}

	base := strings.TrimSuffix(filepath.Base(img.Path), filepath.Ext(img.Path))
	files, err := render.BatchCrop(img.Mat, dets, render.BatchOptions{
		Dir:     ro.batchDir,
		Base:    base,
		Padding: opts.Padding,
		Aspect:  aspect,
		Quality: config.JPEGQuality,
	})
	if err != nil {
		return err
	}
	cropper.ReportBatchFiles(rep, files, strings.TrimSuffix(ro.batchDir, "/"))
	return nil
}
