// Package server provides the HTTP server for the objcrop service.
package server

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/httprate"

	"github.com/ayusman/objcrop/internal/cropper"
	"github.com/ayusman/objcrop/internal/detector"
	"github.com/ayusman/objcrop/internal/server/api"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	UploadDir string
	OutputDir string
	Service   *cropper.Service

	CORSOrigins []string
	// RateLimit caps uploads per client IP within RateWindow. Zero disables it.
	RateLimit   int
	RateWindow  time.Duration
	MaxUploadMB int
}

// Server represents the HTTP server for the objcrop service.
type Server struct {
	config  Config
	mux     *http.ServeMux
	handler http.Handler
	limiter *httprate.RateLimiter
	start   time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	s.handler = logRequests(withCORS(config.CORSOrigins, s.mux))
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if svc := s.config.Service; svc != nil {
		crop := api.NewCropHandler(svc, s.config.MaxUploadMB)
		s.mux.Handle("/api/process", s.limited(http.HandlerFunc(crop.Process)))
		s.mux.Handle("/api/batch-crop", s.limited(http.HandlerFunc(crop.BatchCrop)))
		s.mux.Handle("/api/cli-process", s.limited(http.HandlerFunc(crop.CLIProcess)))
		s.mux.Handle("/api/methods", api.NewMethodsHandler(svc.Engine().Registry()))

		if svc.Store() != nil {
			jobs := api.NewJobHandler(svc)
			s.mux.Handle("/api/jobs", jobs)
			s.mux.Handle("/api/jobs/", jobs)
		}
	}

	if s.config.UploadDir != "" {
		s.mux.Handle("/uploads/", http.StripPrefix("/uploads/", fileServer(s.config.UploadDir)))
	}
	if s.config.OutputDir != "" {
		s.mux.Handle("/outputs/", http.StripPrefix("/outputs/", fileServer(s.config.OutputDir)))
	}

	var static http.Handler
	if s.config.StaticDir != "" {
		static = http.FileServer(http.Dir(s.config.StaticDir))
	}
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			if static != nil && r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
				http.ServeFile(w, r, filepath.Join(s.config.StaticDir, "index.html"))
				return
			}
			s.handleRoot(w, r)
			return
		}
		if static == nil {
			api.WriteError(w, http.StatusNotFound, "Not Found")
			return
		}
		static.ServeHTTP(w, r)
	})
}

// limited wraps upload handlers with per-IP rate limiting. All upload routes
// draw from the same per-IP budget.
func (s *Server) limited(h http.Handler) http.Handler {
	if s.config.RateLimit <= 0 {
		return h
	}
	if s.limiter == nil {
		window := s.config.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		s.limiter = httprate.NewRateLimiter(s.config.RateLimit, window,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				api.WriteError(w, http.StatusTooManyRequests, "Too many requests, slow down")
			}),
		)
	}
	return s.limiter.Handler(h)
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// handleRoot handles GET / with the service description.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	available := func(m detector.Method) bool {
		return s.config.Service != nil && s.config.Service.Engine().Registry().Available(m)
	}

	writeJSON(w, map[string]interface{}{
		"message":          "Object Crop API",
		"status":           "running",
		"yolo_available":   available(detector.MethodYOLO),
		"detr_available":   available(detector.MethodDETR),
		"rtdetr_available": available(detector.MethodRTDETR),
		"rfdetr_available": available(detector.MethodRFDETR),
	})
}

// handleHealth handles GET requests to /health and /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.start)

	writeJSON(w, map[string]interface{}{
		"status": "healthy",
		"uptime": uptime.String(),
	})
}

func writeJSON(w http.ResponseWriter, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return s.HTTPServer(addr).ListenAndServe()
}

// HTTPServer returns an http.Server for s, for callers that need Shutdown.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
