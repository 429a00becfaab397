package detector

import (
	"errors"
	"fmt"
	"sync"
)

// Registry maps AI methods to their detectors.
type Registry struct {
	mu        sync.RWMutex
	detectors map[Method]ObjectDetector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{detectors: make(map[Method]ObjectDetector)}
}

// RegistryConfig locates the model runtimes.
type RegistryConfig struct {
	YOLOModel string
	Script    string
	Python    string
}

// NewDefaultRegistry registers YOLO through OpenCV DNN and the DETR family
// through the Python detection service.
func NewDefaultRegistry(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	r.Register(MethodYOLO, NewYOLODetector(cfg.YOLOModel))
	for _, m := range []Method{MethodDETR, MethodRTDETR, MethodRFDETR} {
		r.Register(m, NewBridgeDetector(BridgeConfig{
			Method: m,
			Script: cfg.Script,
			Python: cfg.Python,
		}))
	}
	return r
}

// Register sets the detector for method, replacing any previous one.
func (r *Registry) Register(method Method, d ObjectDetector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detectors[method] = d
}

// Get returns the detector for method. It fails with ErrUnavailable when none
// is registered or the registered one cannot run.
func (r *Registry) Get(method Method) (ObjectDetector, error) {
	r.mu.RLock()
	d, ok := r.detectors[method]
	r.mu.RUnlock()

	if !ok || !d.Available() {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, method)
	}
	return d, nil
}

// Available reports whether method can run.
func (r *Registry) Available(method Method) bool {
	_, err := r.Get(method)
	return err == nil
}

// Close closes every registered detector.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for m, d := range r.detectors {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", m, err))
		}
	}
	return errors.Join(errs...)
}
