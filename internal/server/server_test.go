package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/ayusman/objcrop/internal/cropper"
	"github.com/ayusman/objcrop/internal/detector"
)

func TestServer_Health(t *testing.T) {
	s := New(Config{})

	for _, path := range []string{"/health", "/api/health"} {
		t.Run(path+" returns 200 with JSON response", func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()

			s.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
			}

			contentType := rec.Header().Get("Content-Type")
			if contentType != "application/json" {
				t.Errorf("expected Content-Type application/json, got %s", contentType)
			}

			var response map[string]interface{}
			if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}

			if response["status"] != "healthy" {
				t.Errorf("expected status 'healthy', got %v", response["status"])
			}

			if _, exists := response["uptime"]; !exists {
				t.Error("expected 'uptime' field in response")
			}
		})
	}

	t.Run("only allows GET method", func(t *testing.T) {
		methods := []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}

		for _, method := range methods {
			req := httptest.NewRequest(method, "/api/health", nil)
			rec := httptest.NewRecorder()

			s.ServeHTTP(rec, req)

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("method %s: expected status %d, got %d", method, http.StatusMethodNotAllowed, rec.Code)
			}
		}
	})
}

func TestServer_Root(t *testing.T) {
	reg := detector.NewRegistry()
	reg.Register(detector.MethodYOLO, detector.NewMockDetector())
	unavailable := detector.NewMockDetector()
	unavailable.SetAvailable(false)
	reg.Register(detector.MethodDETR, unavailable)

	s := New(Config{Service: cropper.NewService(cropper.Options{Registry: reg})})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response["status"] != "running" {
		t.Errorf("expected status 'running', got %v", response["status"])
	}
	if response["yolo_available"] != true {
		t.Errorf("expected yolo_available true, got %v", response["yolo_available"])
	}
	for _, key := range []string{"detr_available", "rtdetr_available", "rfdetr_available"} {
		if response[key] != false {
			t.Errorf("expected %s false, got %v", key, response[key])
		}
	}
}

func TestServer_NotFound(t *testing.T) {
	s := New(Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/nonexistent", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestServer_StaticFiles(t *testing.T) {
	// Create a temporary directory with a static file
	tmpDir, err := os.MkdirTemp("", "objcrop-server-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	// Create a test HTML file
	testContent := "<html><body>Hello, World!</body></html>"
	if err := os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte(testContent), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	// Create a CSS file for testing direct file access
	cssContent := "body { color: red; }"
	if err := os.WriteFile(filepath.Join(tmpDir, "style.css"), []byte(cssContent), 0644); err != nil {
		t.Fatalf("failed to create test CSS file: %v", err)
	}

	s := New(Config{StaticDir: tmpDir})

	t.Run("serves index.html to browsers at root path", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		if rec.Body.String() != testContent {
			t.Errorf("expected body %q, got %q", testContent, rec.Body.String())
		}
	})

	t.Run("serves API info at root path to other clients", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", ct)
		}
	})

	t.Run("serves static files from configured directory", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/style.css", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		if rec.Body.String() != cssContent {
			t.Errorf("expected body %q, got %q", cssContent, rec.Body.String())
		}
	})

	t.Run("returns 404 for non-existent static files", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/nonexistent.html", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestServer_Outputs(t *testing.T) {
	outDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(outDir, "batch_1"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "batch_1", "a.jpg"), []byte("jpeg"), 0644); err != nil {
		t.Fatal(err)
	}

	s := New(Config{OutputDir: outDir})

	req := httptest.NewRequest(http.MethodGet, "/outputs/batch_1/a.jpg", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "jpeg" {
		t.Errorf("expected file contents, got %d %q", rec.Code, rec.Body.String())
	}

	t.Run("directory listings are hidden", func(t *testing.T) {
		for _, path := range []string{"/outputs/", "/outputs/batch_1/"} {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)

			if rec.Code != http.StatusNotFound {
				t.Errorf("%s: expected status %d, got %d", path, http.StatusNotFound, rec.Code)
			}
		}
	})
}

func TestServer_CORS(t *testing.T) {
	s := New(Config{CORSOrigins: []string{"http://localhost:5173"}})

	t.Run("preflight from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/process", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "content-type")
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
			t.Errorf("unexpected Allow-Origin %q", got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
			t.Errorf("unexpected Allow-Credentials %q", got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "POST" {
			t.Errorf("unexpected Allow-Methods %q", got)
		}
		if got := rec.Header().Get("Access-Control-Max-Age"); got != "600" {
			t.Errorf("unexpected Max-Age %q", got)
		}
	})

	t.Run("simple request varies on origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
			t.Errorf("unexpected Allow-Origin %q", got)
		}
		if got := rec.Header().Values("Vary"); !slices.Contains(got, "Origin") {
			t.Errorf("expected Vary: Origin, got %v", got)
		}
	})

	t.Run("other origins get no CORS headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("expected no Allow-Origin, got %q", got)
		}
	})

	t.Run("no configured origins", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := httptest.NewRecorder()

		New(Config{}).ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("expected no Allow-Origin, got %q", got)
		}
	})
}

func TestServer_RateLimit(t *testing.T) {
	s := New(Config{
		Service:    cropper.NewService(cropper.Options{Registry: detector.NewRegistry()}),
		RateLimit:  2,
		RateWindow: time.Minute,
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/process", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusBadRequest || codes[1] != http.StatusBadRequest {
		t.Errorf("expected first two requests to reach the handler, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected third request to be limited, got %d", codes[2])
	}
}

func TestServer_RateLimitSharedAcrossUploads(t *testing.T) {
	s := New(Config{
		Service:    cropper.NewService(cropper.Options{Registry: detector.NewRegistry()}),
		RateLimit:  2,
		RateWindow: time.Minute,
	})

	var codes []int
	for _, path := range []string{"/api/process", "/api/batch-crop", "/api/cli-process"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "10.0.0.2:1234"
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected the third upload route to share the budget, got %v", codes)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/process", nil)
	req.RemoteAddr = "10.0.0.3:1234"
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code == http.StatusTooManyRequests {
		t.Errorf("expected another client to keep its own budget")
	}
}

func TestServer_Methods(t *testing.T) {
	s := New(Config{Service: cropper.NewService(cropper.Options{Registry: detector.NewRegistry()})})

	req := httptest.NewRequest(http.MethodGet, "/api/methods", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var response struct {
		Methods []struct {
			Name      string `json:"name"`
			Kind      string `json:"kind"`
			Available bool   `json:"available"`
		} `json:"methods"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if len(response.Methods) != len(detector.Methods) {
		t.Fatalf("expected %d methods, got %d", len(detector.Methods), len(response.Methods))
	}
	for _, m := range response.Methods {
		wantAvailable := m.Kind == "heuristic"
		if m.Available != wantAvailable {
			t.Errorf("%s: available = %v, want %v", m.Name, m.Available, wantAvailable)
		}
	}
}

func TestNew(t *testing.T) {
	t.Run("creates server with config", func(t *testing.T) {
		cfg := Config{StaticDir: "/some/path"}
		s := New(cfg)

		if s == nil {
			t.Fatal("expected non-nil server")
		}

		if s.config.StaticDir != cfg.StaticDir {
			t.Errorf("expected StaticDir %s, got %s", cfg.StaticDir, s.config.StaticDir)
		}
	})

	t.Run("server implements http.Handler", func(t *testing.T) {
		s := New(Config{})
		var _ http.Handler = s
	})
}
