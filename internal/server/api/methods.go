package api

import (
	"net/http"

	"github.com/ayusman/objcrop/internal/detector"
)

// MethodsHandler lists the cropping methods and whether each can run.
type MethodsHandler struct {
	registry *detector.Registry
}

// NewMethodsHandler creates a MethodsHandler.
func NewMethodsHandler(r *detector.Registry) *MethodsHandler {
	return &MethodsHandler{registry: r}
}

type methodResponse struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Available bool   `json:"available"`
	Batch     bool   `json:"batch"`
}

type listMethodsResponse struct {
	Methods []methodResponse `json:"methods"`
}

// ServeHTTP handles GET /api/methods.
func (h *MethodsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := listMethodsResponse{
		Methods: make([]methodResponse, 0, len(detector.Methods)),
	}
	for _, m := range detector.Methods {
		mr := methodResponse{Name: string(m), Kind: "heuristic", Available: true}
		if m.IsAI() {
			mr.Kind = "model"
			mr.Available = h.registry.Available(m)
			mr.Batch = true
		}
		response.Methods = append(response.Methods, mr)
	}

	writeJSON(w, http.StatusOK, response)
}
