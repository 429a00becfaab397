// Package api provides HTTP API handlers for the objcrop service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/ayusman/objcrop/internal/cropper"
	"github.com/ayusman/objcrop/internal/detector"
	"github.com/ayusman/objcrop/internal/store"
)

type errorResponse struct {
	Detail string `json:"detail"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Detail: message})
}

// WriteError writes {"detail": message} for handlers outside this package.
func WriteError(w http.ResponseWriter, status int, message string) {
	writeError(w, status, message)
}

// writeServiceError maps a service error to a status code.
func writeServiceError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError

	switch {
	case cropper.IsInputError(err), errors.Is(err, detector.ErrUnavailable):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Job not found")
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "Upload too large")
	default:
		log.Errorf("Request failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
