package detector

import (
	"context"
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the ObjectDetector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu          sync.Mutex
	detections  []Detection
	err         error
	unavailable bool
	calls       int
	lastTargets []string
	lastConf    float64
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetDetections sets the detections that will be returned by Detect.
func (m *MockDetector) SetDetections(dets []Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detections = dets
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetAvailable controls the result of Available.
func (m *MockDetector) SetAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = !available
}

// Calls returns how many times Detect has been invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastRequest returns the targets and confidence of the most recent Detect call.
func (m *MockDetector) LastRequest() ([]string, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTargets, m.lastConf
}

// Detect returns the pre-configured detections, filtered like a real model.
func (m *MockDetector) Detect(ctx context.Context, img gocv.Mat, targets []string, confidence float64) ([]Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.lastTargets = targets
	m.lastConf = confidence

	if m.err != nil {
		return nil, m.err
	}

	var out []Detection
	for _, d := range FilterTargets(m.detections, targets) {
		if d.Confidence >= confidence {
			out = append(out, d)
		}
	}
	return out, nil
}

// Available reports the configured availability (true by default).
func (m *MockDetector) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unavailable
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}
