package api

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/ayusman/objcrop/internal/config"
	"github.com/ayusman/objcrop/internal/cropper"
	"github.com/ayusman/objcrop/internal/detector"
)

const multipartMemory = 32 << 20

// CropHandler serves the upload endpoints.
type CropHandler struct {
	svc      *cropper.Service
	maxBytes int64
}

// NewCropHandler creates a CropHandler. Uploads larger than maxMB megabytes
// are rejected.
func NewCropHandler(svc *cropper.Service, maxMB int) *CropHandler {
	if maxMB <= 0 {
		maxMB = 50
	}
	return &CropHandler{svc: svc, maxBytes: int64(maxMB) << 20}
}

// Process handles POST /api/process.
func (h *CropHandler) Process(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	f, upload, ok := h.parse(w, r)
	if !ok {
		return
	}
	defer upload.Close()

	req := cropper.ProcessRequest{
		Upload:            upload.Upload,
		Method:            f.String("method", string(detector.MethodContour)),
		ObjectName:        f.String("object_name", ""),
		Confidence:        f.Float("confidence", config.DefaultConfidence),
		AspectMode:        f.String("aspect_mode", string(cropper.AspectNone)),
		CustomAspectRatio: f.String("custom_aspect_ratio", ""),
		Padding:           f.Int("padding", config.DefaultPadding),
		Threshold:         f.Int("threshold", config.DefaultThreshold),
		SelectedIndex:     f.OptionalInt("selected_index"),
	}
	if raw := f.String("stored_detections", ""); raw != "" && f.err == nil {
		if err := json.Unmarshal([]byte(raw), &req.StoredDetections); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "Invalid value for 'stored_detections'")
			return
		}
		if req.StoredDetections == nil {
			req.StoredDetections = []detector.Detection{}
		}
	}
	if f.err != nil {
		writeError(w, http.StatusUnprocessableEntity, f.err.Error())
		return
	}

	result, err := h.svc.Process(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// BatchCrop handles POST /api/batch-crop.
func (h *CropHandler) BatchCrop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	f, upload, ok := h.parse(w, r)
	if !ok {
		return
	}
	defer upload.Close()

	req := cropper.BatchRequest{
		Upload:            upload.Upload,
		Method:            f.String("method", string(detector.MethodYOLO)),
		ObjectName:        f.String("object_name", ""),
		Confidence:        f.Float("confidence", config.DefaultConfidence),
		AspectMode:        f.String("aspect_mode", string(cropper.AspectNone)),
		CustomAspectRatio: f.String("custom_aspect_ratio", ""),
		Padding:           f.Int("padding", config.DefaultPadding),
	}
	if f.err != nil {
		writeError(w, http.StatusUnprocessableEntity, f.err.Error())
		return
	}

	result, err := h.svc.BatchCrop(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CLIProcess handles POST /api/cli-process.
func (h *CropHandler) CLIProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	f, upload, ok := h.parse(w, r)
	if !ok {
		return
	}
	defer upload.Close()

	req := cropper.CLIRequest{
		Upload:      upload.Upload,
		Method:      f.String("method", string(detector.MethodContour)),
		Objects:     f.Strings("object"),
		Confidence:  f.Float("confidence", config.DefaultCLIConfidence),
		KeepAspect:  f.Bool("keep_aspect", false),
		AspectRatio: f.String("aspect_ratio", ""),
		Padding:     f.Int("padding", config.DefaultCLIPadding),
		Threshold:   f.Int("threshold", config.DefaultThreshold),
		BatchCrop:   f.Bool("batch_crop", false),
		Visualize:   f.Bool("visualize", true),
		Debug:       f.Bool("debug", false),
	}
	if f.err != nil {
		writeError(w, http.StatusUnprocessableEntity, f.err.Error())
		return
	}

	result, err := h.svc.CLIProcess(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type multipartUpload struct {
	cropper.Upload
	file multipart.File
}

func (u *multipartUpload) Close() error {
	return u.file.Close()
}

// parse reads the multipart form and opens the "file" part. It writes the
// error response itself when it returns false.
func (h *CropHandler) parse(w http.ResponseWriter, r *http.Request) (*form, *multipartUpload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return nil, nil, false
		}
		writeError(w, http.StatusBadRequest, "Expected a multipart form upload")
		return nil, nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return nil, nil, false
	}

	return &form{r: r}, &multipartUpload{
		Upload: cropper.Upload{Filename: header.Filename, Body: file},
		file:   file,
	}, true
}
