package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/objcrop/internal/cropper"
	"github.com/ayusman/objcrop/internal/store"
)

const defaultJobLimit = 50

// JobHandler handles HTTP requests for recorded jobs.
type JobHandler struct {
	svc *cropper.Service
}

// NewJobHandler creates a new JobHandler. The service must have a store.
func NewJobHandler(svc *cropper.Service) *JobHandler {
	return &JobHandler{svc: svc}
}

// ServeHTTP routes /api/jobs and /api/jobs/{id}.
func (h *JobHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type outputResponse struct {
	Kind string `json:"kind"`
	URL  string `json:"url,omitempty"`
}

type jobResponse struct {
	ID           string           `json:"id"`
	Kind         string           `json:"kind"`
	Method       string           `json:"method"`
	OriginalName string           `json:"original_name"`
	Targets      []string         `json:"targets"`
	Bounds       json.RawMessage  `json:"bounds"`
	Detections   json.RawMessage  `json:"detections"`
	InfoText     string           `json:"info_text,omitempty"`
	Outputs      []outputResponse `json:"outputs,omitempty"`
	CreatedAt    string           `json:"created_at"`
}

type listJobsResponse struct {
	Jobs  []jobResponse `json:"jobs"`
	Total int           `json:"total"`
}

// toJobResponse converts a store.Job. Server paths are never exposed.
func toJobResponse(j *store.Job) jobResponse {
	resp := jobResponse{
		ID:           j.ID,
		Kind:         string(j.Kind),
		Method:       j.Method,
		OriginalName: j.OriginalName,
		Targets:      j.Targets,
		Bounds:       j.Bounds,
		Detections:   j.Detections,
		InfoText:     j.InfoText,
		CreatedAt:    j.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if resp.Targets == nil {
		resp.Targets = []string{}
	}
	for _, o := range j.Outputs {
		resp.Outputs = append(resp.Outputs, outputResponse{Kind: string(o.Kind), URL: o.URL})
	}
	return resp
}

// list handles GET /api/jobs?limit=N, newest first.
func (h *JobHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	jobs, err := h.svc.Store().Jobs().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	total, err := h.svc.Store().Jobs().Count()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count jobs")
		return
	}

	response := listJobsResponse{
		Jobs:  make([]jobResponse, 0, len(jobs)),
		Total: total,
	}
	for _, j := range jobs {
		jr := toJobResponse(j)
		jr.InfoText = ""
		response.Jobs = append(response.Jobs, jr)
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/jobs/{id}.
func (h *JobHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	job, err := h.svc.Store().Jobs().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// delete handles DELETE /api/jobs/{id} and removes the job's files.
func (h *JobHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.svc.DeleteJob(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete job")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
