package cropper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ayusman/objcrop/internal/config"
	"github.com/ayusman/objcrop/internal/detector"
	"github.com/ayusman/objcrop/internal/geometry"
	"github.com/ayusman/objcrop/internal/heuristic"
	"github.com/ayusman/objcrop/internal/render"
	"github.com/ayusman/objcrop/internal/store"
)

// Public URL prefixes for saved files.
const (
	UploadsPrefix = "/uploads/"
	OutputsPrefix = "/outputs/"
)

// Options configures a Service.
type Options struct {
	UploadDir string
	OutputDir string
	Registry  *detector.Registry
	// Store records jobs. It may be nil.
	Store *store.Store
	// Quality is the JPEG quality for every written image.
	Quality int
	// OnJob is called after each finished job.
	OnJob func(job *store.Job)
}

// Service handles uploads for the HTTP API.
type Service struct {
	opts   Options
	engine *Engine
}

// NewService creates a Service with the given options.
func NewService(opts Options) *Service {
	if opts.Quality <= 0 {
		opts.Quality = config.JPEGQuality
	}
	return &Service{
		opts:   opts,
		engine: NewEngine(opts.Registry),
	}
}

// Engine returns the underlying engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Store returns the job store, which may be nil.
func (s *Service) Store() *store.Store {
	return s.opts.Store
}

// Upload is a file received from a client.
type Upload struct {
	Filename string
	Body     io.Reader
}

// ProcessRequest holds the /api/process form.
type ProcessRequest struct {
	Upload
	Method            string
	ObjectName        string
	Confidence        float64
	AspectMode        string
	CustomAspectRatio string
	Padding           int
	Threshold         int
	// SelectedIndex picks a detection. With StoredDetections it also skips detection.
	SelectedIndex    *int
	StoredDetections []detector.Detection
}

// ProcessResult is the /api/process response.
type ProcessResult struct {
	JobID            string               `json:"job_id"`
	VisualizationURL string               `json:"visualization_url"`
	CroppedURL       string               `json:"cropped_url"`
	InfoText         string               `json:"info_text"`
	Detections       []detector.Detection `json:"detections"`
	Bounds           geometry.Bounds      `json:"bounds"`
}

// Process detects an object, crops it and renders the visualization.
func (s *Service) Process(ctx context.Context, req ProcessRequest) (_ *ProcessResult, err error) {
	log.Infof("Processing image with method: %s", req.Method)

	method, err := parseMethod(req.Method)
	if err != nil {
		return nil, err
	}
	mode, err := ParseAspectMode(req.AspectMode)
	if err != nil {
		return nil, err
	}
	ext, err := uploadExt(req.Filename)
	if err != nil {
		return nil, err
	}

	reuse := req.StoredDetections != nil && req.SelectedIndex != nil
	if !reuse {
		if err := s.engine.CheckMethod(method); err != nil {
			return nil, err
		}
	}

	id := uuid.New().String()
	inputPath, err := s.saveUpload(id, ext, req.Body)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			s.discard(id, inputPath)
		}
	}()

	img, err := Load(inputPath)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	var targets []string
	if name := strings.TrimSpace(req.ObjectName); name != "" {
		targets = []string{name}
	}

	rep := NewReport(config.InfoSeparatorWidth)
	rep.Section("  IMAGE ANALYSIS")
	rep.ImageSummary(img.Width, img.Height)
	rep.Blank()
	rep.Linef("Detecting object using %s method...", method)

	var loc *Location
	if reuse {
		rep.Line("Using previously detected objects...")
		loc = s.engine.Reuse(img, req.StoredDetections, *req.SelectedIndex)
	} else {
		loc, err = s.engine.Locate(ctx, img, LocateRequest{
			Method:     method,
			Targets:    targets,
			Confidence: req.Confidence,
			Selected:   req.SelectedIndex,
			Params: heuristic.Params{
				Threshold: req.Threshold,
				Aspect:    smartcropAspect(mode, req.CustomAspectRatio, img),
			},
		})
		if err != nil {
			return nil, err
		}
	}

	if loc.FellBack {
		rep.Line("No objects detected, falling back to contour method")
	}
	rep.Linef("Initial bounds: %s", loc.Bounds)
	rep.DetectionSummary(loc.Detections)

	rep.Blank()
	if loc.HasConfidence {
		rep.Linef("Selected: %s (confidence: %.2f)", loc.Label, loc.Confidence)
	} else {
		rep.Linef("Selected: %s", loc.Label)
	}
	if len(targets) > 0 {
		rep.Linef("     (Searched for: %s)", strings.Join(targets, ", "))
	}

	b := loc.Bounds
	if req.Padding > 0 {
		b = geometry.AddPadding(b, req.Padding, img.Width, img.Height)
		rep.Linef("Bounds with %d%% padding: %s", req.Padding, b)
	}

	ratio, ok, aspectErr := targetAspect(mode, req.CustomAspectRatio, img)
	switch {
	case aspectErr != nil:
		rep.Linef("Invalid aspect ratio format: %s. Using detected bounds.", req.CustomAspectRatio)
	case ok && mode == AspectOriginal:
		b = geometry.AdjustAspectRatio(b, ratio, img.Width, img.Height)
		rep.Linef("Bounds with original aspect ratio: %s", b)
	case ok:
		b = geometry.AdjustAspectRatio(b, ratio, img.Width, img.Height)
		rep.Linef("Bounds with custom aspect ratio %s (%.2f): %s", req.CustomAspectRatio, ratio, b)
	}

	visName := id + "_vis.jpg"
	vis := render.VisualizeDetections(img.Mat, loc.Detections, loc.Selected, &b)
	defer vis.Close()
	if err := render.SaveJPEG(vis, filepath.Join(s.opts.OutputDir, visName), s.opts.Quality); err != nil {
		return nil, err
	}

	cropName := id + "_cropped.jpg"
	if _, err := render.CropToFile(img.Mat, b, filepath.Join(s.opts.OutputDir, cropName), s.opts.Quality); err != nil {
		return nil, err
	}

	rep.Blank()
	rep.Section("  CROP COORDINATES")
	rep.Linef("Left: %d, Upper: %d, Right: %d, Lower: %d", b.Left, b.Upper, b.Right, b.Lower)
	rep.CropSummary(b)
	rep.Blank()
	rep.Rule()
	rep.Line("Processing complete!")
	rep.Rule()

	dets := loc.Detections
	if dets == nil {
		dets = []detector.Detection{}
	}

	result := &ProcessResult{
		JobID:            id,
		VisualizationURL: OutputsPrefix + visName,
		CroppedURL:       OutputsPrefix + cropName,
		InfoText:         rep.String(),
		Detections:       dets,
		Bounds:           b,
	}

	s.record(&store.Job{
		ID:           id,
		Kind:         store.JobKindProcess,
		Method:       string(method),
		OriginalName: req.Filename,
		InputPath:    inputPath,
		Targets:      targets,
		Bounds:       mustJSON(b),
		Detections:   mustJSON(dets),
		InfoText:     result.InfoText,
		Outputs: []store.Output{
			{Kind: store.OutputUpload, Path: inputPath, URL: UploadsPrefix + filepath.Base(inputPath)},
			{Kind: store.OutputVisualization, Path: filepath.Join(s.opts.OutputDir, visName), URL: result.VisualizationURL},
			{Kind: store.OutputCropped, Path: filepath.Join(s.opts.OutputDir, cropName), URL: result.CroppedURL},
		},
	})

	return result, nil
}

// BatchRequest holds the /api/batch-crop form.
type BatchRequest struct {
	Upload
	Method            string
	ObjectName        string
	Confidence        float64
	AspectMode        string
	CustomAspectRatio string
	Padding           int
}

// BatchResult is the /api/batch-crop response.
type BatchResult struct {
	JobID   string   `json:"job_id"`
	Files   []string `json:"files"`
	Message string   `json:"message"`
}

// BatchCrop saves every detected object as its own file.
func (s *Service) BatchCrop(ctx context.Context, req BatchRequest) (_ *BatchResult, err error) {
	log.Infof("Batch cropping with method: %s", req.Method)

	method, err := parseMethod(req.Method)
	if err != nil {
		return nil, err
	}
	if !method.IsAI() {
		return nil, NewInputError("Batch crop only works with YOLO, DETR, RT-DETR, or RF-DETR detection methods")
	}
	mode, err := ParseAspectMode(req.AspectMode)
	if err != nil {
		return nil, err
	}
	ext, err := uploadExt(req.Filename)
	if err != nil {
		return nil, err
	}
	if err := s.engine.CheckMethod(method); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	inputPath, err := s.saveUpload(id, ext, req.Body)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			s.discard(id, inputPath)
		}
	}()

	img, err := Load(inputPath)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	var targets []string
	if name := strings.TrimSpace(req.ObjectName); name != "" {
		targets = []string{name}
	}

	dets, err := s.engine.DetectAll(ctx, img, method, targets, req.Confidence)
	if err != nil {
		return nil, err
	}

	job := &store.Job{
		ID:           id,
		Kind:         store.JobKindBatch,
		Method:       string(method),
		OriginalName: req.Filename,
		InputPath:    inputPath,
		Targets:      targets,
		Detections:   mustJSON(nonNilDetections(dets)),
		Outputs: []store.Output{
			{Kind: store.OutputUpload, Path: inputPath, URL: UploadsPrefix + filepath.Base(inputPath)},
		},
	}

	if len(dets) == 0 {
		result := &BatchResult{JobID: id, Files: []string{}, Message: "No objects detected to crop"}
		job.InfoText = result.Message
		s.record(job)
		return result, nil
	}

	// an unparsable custom ratio leaves the crops as detected
	aspect, _, _ := targetAspect(mode, req.CustomAspectRatio, img)

	dirName := "batch_" + id
	files, err := render.BatchCrop(img.Mat, dets, render.BatchOptions{
		Dir:     filepath.Join(s.opts.OutputDir, dirName),
		Base:    stem(req.Filename),
		Padding: req.Padding,
		Aspect:  aspect,
		Quality: s.opts.Quality,
	})
	if err != nil {
		return nil, err
	}

	urls := s.batchOutputs(job, dirName, files)
	result := &BatchResult{
		JobID:   id,
		Files:   urls,
		Message: fmt.Sprintf("Successfully cropped %d object(s). Files ready for download.", len(files)),
	}
	job.InfoText = result.Message
	s.record(job)

	return result, nil
}

// CLIRequest holds the /api/cli-process form.
type CLIRequest struct {
	Upload
	Method      string
	Objects     []string
	Confidence  float64
	KeepAspect  bool
	AspectRatio string
	Padding     int
	Threshold   int
	BatchCrop   bool
	Visualize   bool
	Debug       bool
}

// CLIResult is the /api/cli-process response. Batch results carry
// batch_files; single crops carry cropped_url and an optional visualization_url.
type CLIResult struct {
	JobID            string
	Output           string
	CroppedURL       string
	VisualizationURL string
	Batch            bool
	BatchFiles       []string
	DebugURLs        []string
}

// MarshalJSON emits only the keys that apply to the result's mode.
func (r CLIResult) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"job_id": r.JobID,
		"output": r.Output,
	}
	if r.Batch {
		files := r.BatchFiles
		if files == nil {
			files = []string{}
		}
		out["batch_files"] = files
	} else {
		out["cropped_url"] = r.CroppedURL
		if r.VisualizationURL != "" {
			out["visualization_url"] = r.VisualizationURL
		}
	}
	if len(r.DebugURLs) > 0 {
		out["debug_urls"] = r.DebugURLs
	}
	return json.Marshal(out)
}

// CLIProcess runs a request shaped like the command line tool and returns its
// textual output.
func (s *Service) CLIProcess(ctx context.Context, req CLIRequest) (_ *CLIResult, err error) {
	log.Infof("CLI processing with method: %s, batch_crop: %t, objects: %v", req.Method, req.BatchCrop, req.Objects)

	method, err := parseMethod(req.Method)
	if err != nil {
		return nil, err
	}
	ext, err := uploadExt(req.Filename)
	if err != nil {
		return nil, err
	}

	opts := CLIOptions{
		Method:      method,
		Objects:     cleanObjects(req.Objects),
		Confidence:  req.Confidence,
		KeepAspect:  req.KeepAspect,
		AspectRatio: req.AspectRatio,
		Padding:     req.Padding,
		Threshold:   req.Threshold,
	}
	if req.BatchCrop && !method.IsAI() {
		return nil, NewInputError("Batch crop only works with YOLO, DETR, RT-DETR, or RF-DETR methods")
	}
	if err := s.engine.CheckMethod(method); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	inputPath, err := s.saveUpload(id, ext, req.Body)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			s.discard(id, inputPath)
		}
	}()

	img, err := Load(inputPath)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	rep := NewReport(config.InfoSeparatorWidth)
	rep.Section("IMAGE ANALYSIS")
	rep.ImageSummary(img.Width, img.Height)
	rep.Blank()

	job := &store.Job{
		ID:           id,
		Kind:         store.JobKindCLI,
		Method:       string(method),
		OriginalName: req.Filename,
		InputPath:    inputPath,
		Targets:      opts.Objects,
		Outputs: []store.Output{
			{Kind: store.OutputUpload, Path: inputPath, URL: UploadsPrefix + filepath.Base(inputPath)},
		},
	}

	if req.BatchCrop {
		return s.cliBatch(ctx, img, opts, rep, job, req.Filename)
	}

	var sink *heuristic.DirSink
	if req.Debug {
		dir := filepath.Join(s.opts.OutputDir, "debug_"+id)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create debug dir: %w", err)
		}
		sink = heuristic.NewDirSink(dir)
		opts.Debug = sink
	}

	loc, b, err := s.engine.SingleCrop(ctx, img, opts, rep)
	if err != nil {
		return nil, err
	}

	cropName := id + "_cropped.jpg"
	cropPath := filepath.Join(s.opts.OutputDir, cropName)
	size, err := render.CropToFile(img.Mat, b, cropPath, s.opts.Quality)
	if err != nil {
		return nil, err
	}
	rep.Linef("Cropped image saved to: %s", cropName)
	rep.Linef("  New dimensions: %d x %d pixels", size.X, size.Y)

	result := &CLIResult{JobID: id, CroppedURL: OutputsPrefix + cropName}
	job.Outputs = append(job.Outputs, store.Output{Kind: store.OutputCropped, Path: cropPath, URL: result.CroppedURL})

	if req.Visualize {
		visName := id + "_vis.jpg"
		visPath := filepath.Join(s.opts.OutputDir, visName)
		vis := render.VisualizeDetections(img.Mat, loc.Detections, loc.Selected, &b)
		err := render.SaveJPEG(vis, visPath, s.opts.Quality)
		vis.Close()
		if err != nil {
			return nil, err
		}
		result.VisualizationURL = OutputsPrefix + visName
		job.Outputs = append(job.Outputs, store.Output{Kind: store.OutputVisualization, Path: visPath, URL: result.VisualizationURL})
		rep.Linef("Visualization saved to: %s", visName)
	}

	if sink != nil {
		for _, f := range sink.Files() {
			url := OutputsPrefix + "debug_" + id + "/" + filepath.Base(f)
			result.DebugURLs = append(result.DebugURLs, url)
			job.Outputs = append(job.Outputs, store.Output{Kind: store.OutputDebug, Path: f, URL: url})
		}
		rep.Linef("Debug images saved: %d", len(result.DebugURLs))
	}

	rep.Blank()
	rep.Line("Processing complete!")
	result.Output = rep.String()

	job.Bounds = mustJSON(b)
	job.Detections = mustJSON(nonNilDetections(loc.Detections))
	job.InfoText = result.Output
	s.record(job)

	return result, nil
}

func (s *Service) cliBatch(ctx context.Context, img *Image, opts CLIOptions, rep *Report, job *store.Job, filename string) (*CLIResult, error) {
	result := &CLIResult{JobID: job.ID, Batch: true, BatchFiles: []string{}}

	dets, aspect, err := s.engine.BatchDetect(ctx, img, opts, rep)
	if err != nil {
		return nil, err
	}
	job.Detections = mustJSON(nonNilDetections(dets))

	if len(dets) > 0 {
		dirName := "batch_" + job.ID
		files, err := render.BatchCrop(img.Mat, dets, render.BatchOptions{
			Dir:     filepath.Join(s.opts.OutputDir, dirName),
			Base:    stem(filename),
			Padding: opts.Padding,
			Aspect:  aspect,
			Quality: s.opts.Quality,
		})
		if err != nil {
			return nil, err
		}
		result.BatchFiles = s.batchOutputs(job, dirName, files)
		ReportBatchFiles(rep, files, dirName)
	}

	result.Output = rep.String()
	job.InfoText = result.Output
	s.record(job)
	return result, nil
}

// DeleteJob removes a job record and the files it produced.
func (s *Service) DeleteJob(id string) error {
	if s.opts.Store == nil {
		return store.ErrNotFound
	}
	outputs, err := s.opts.Store.Jobs().Delete(id)
	if err != nil {
		return err
	}

	dirs := map[string]struct{}{}
	for _, o := range outputs {
		if err := os.Remove(o.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnf("Failed to remove %s: %v", o.Path, err)
		}
		if dir := filepath.Dir(o.Path); dir != filepath.Clean(s.opts.OutputDir) && dir != filepath.Clean(s.opts.UploadDir) {
			dirs[dir] = struct{}{}
		}
	}
	for dir := range dirs {
		// only empty per-job directories are removed
		if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Debugf("Keeping %s: %v", dir, err)
		}
	}
	return nil
}

func (s *Service) batchOutputs(job *store.Job, dirName string, files []string) []string {
	urls := make([]string, 0, len(files))
	for _, f := range files {
		url := OutputsPrefix + dirName + "/" + filepath.Base(f)
		urls = append(urls, url)
		job.Outputs = append(job.Outputs, store.Output{Kind: store.OutputBatch, Path: f, URL: url})
	}
	return urls
}

func (s *Service) saveUpload(id, ext string, body io.Reader) (string, error) {
	if body == nil {
		return "", NewInputError("No file uploaded")
	}
	path := filepath.Join(s.opts.UploadDir, id+ext)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("save upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}

// discard removes what a failed request left on disk.
func (s *Service) discard(id, inputPath string) {
	paths := []string{
		inputPath,
		filepath.Join(s.opts.OutputDir, id+"_vis.jpg"),
		filepath.Join(s.opts.OutputDir, id+"_cropped.jpg"),
		filepath.Join(s.opts.OutputDir, "batch_"+id),
		filepath.Join(s.opts.OutputDir, "debug_"+id),
	}
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			log.Warnf("Failed to remove %s: %v", p, err)
		}
	}
}

func (s *Service) record(job *store.Job) {
	if s.opts.OnJob != nil {
		defer s.opts.OnJob(job)
	}
	if s.opts.Store == nil {
		return
	}
	if err := s.opts.Store.Jobs().Create(job); err != nil {
		log.Errorf("Failed to record job %s: %v", job.ID, err)
	}
}

func parseMethod(name string) (detector.Method, error) {
	if strings.TrimSpace(name) == "" {
		return detector.MethodContour, nil
	}
	m, err := detector.ParseMethod(name)
	if err != nil {
		return "", NewInputError(fmt.Sprintf("Unknown method '%s'", name))
	}
	return m, nil
}

func uploadExt(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !config.IsValidExtension(ext) {
		return "", NewInputError(fmt.Sprintf("Invalid file type '%s'. Only JPEG, PNG, and WebP formats are supported.", ext))
	}
	return ext, nil
}

func stem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func cleanObjects(objects []string) []string {
	var out []string
	for _, o := range objects {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func nonNilDetections(dets []detector.Detection) []detector.Detection {
	if dets == nil {
		return []detector.Detection{}
	}
	return dets
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Errorf("Failed to encode %T: %v", v, err)
		return nil
	}
	return data
}
