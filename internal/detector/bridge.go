package detector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// DefaultIdleTimeout is how long a bridge process may sit unused before it is stopped.
const DefaultIdleTimeout = 5 * time.Minute

const serviceScript = "detection_service.py"

// BridgeConfig configures a Python-backed detector.
type BridgeConfig struct {
	// Method selects the model the service loads (detr, rt-detr or rf-detr).
	Method Method
	// Script is the path to detection_service.py. Empty means search the usual locations.
	Script string
	// Python is the interpreter. Empty means a project venv, else python3.
	Python string
	// IdleTimeout stops the subprocess after inactivity. Zero uses DefaultIdleTimeout.
	IdleTimeout time.Duration
}

// BridgeDetector implements ObjectDetector by talking to a Python model server
// over stdin/stdout. The process is started lazily and stopped when idle.
//
// Each request is a JSON header line {"confidence":c,"size":n} followed by n
// bytes of JPEG. Each response is one JSON line.
type BridgeDetector struct {
	config    BridgeConfig
	command   func() *exec.Cmd
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	lastUsed  time.Time
	idleTimer *time.Timer
}

// NewBridgeDetector creates a detector for one of the DETR-family models.
// The Python process is started lazily on first detection.
func NewBridgeDetector(config BridgeConfig) *BridgeDetector {
	if config.Script == "" {
		config.Script = findServiceScript()
	}
	if config.Python == "" {
		config.Python = findVenvPython()
	}
	if config.Python == "" {
		config.Python = "python3"
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}

	d := &BridgeDetector{config: config}
	d.command = func() *exec.Cmd {
		return exec.Command(d.config.Python, d.config.Script, "--model", string(d.config.Method))
	}
	return d
}

// Available reports whether the service script was found.
func (d *BridgeDetector) Available() bool {
	if d.config.Script == "" {
		return false
	}
	_, err := os.Stat(d.config.Script)
	return err == nil
}

// Detect encodes img as JPEG, sends it to the model service and returns the
// detections whose labels match targets.
func (d *BridgeDetector) Detect(ctx context.Context, img gocv.Mat, targets []string, confidence float64) ([]Detection, error) {
	if img.Empty() {
		return nil, fmt.Errorf("%s: empty image", d.config.Method)
	}

	buf, err := gocv.IMEncode(".jpg", img)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	defer buf.Close()

	dets, err := d.detectBytes(ctx, buf.GetBytes(), confidence)
	if err != nil {
		return nil, err
	}

	filtered := FilterTargets(dets, targets)
	log.Infof("%s found %d object(s), %d after target filter", d.config.Method, len(dets), len(filtered))
	return filtered, nil
}

// Close shuts down the Python process.
func (d *BridgeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

type bridgeRequest struct {
	Confidence float64 `json:"confidence"`
	Size       int     `json:"size"`
}

type bridgeResponse struct {
	Detections []bridgeDetection `json:"detections"`
	Error      string            `json:"error"`
}

type bridgeDetection struct {
	Label      string     `json:"label"`
	ClassID    int        `json:"class_id"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

func (b bridgeDetection) toDetection() Detection {
	label := b.Label
	if label == "" {
		label = COCOLabel(b.ClassID)
	}
	return Detection{
		Label:      label,
		Confidence: b.Confidence,
		Box:        [4]int{int(b.Box[0]), int(b.Box[1]), int(b.Box[2]), int(b.Box[3])},
	}
}

func (d *BridgeDetector) detectBytes(ctx context.Context, data []byte, confidence float64) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	stdin, stdout := d.stdin, d.stdout

	go func() {
		header, err := json.Marshal(bridgeRequest{Confidence: confidence, Size: len(data)})
		if err != nil {
			done <- result{err: fmt.Errorf("encode header: %w", err)}
			return
		}
		if _, err := stdin.Write(append(header, '\n')); err != nil {
			done <- result{err: fmt.Errorf("write header: %w", err)}
			return
		}
		if _, err := stdin.Write(data); err != nil {
			done <- result{err: fmt.Errorf("write data: %w", err)}
			return
		}
		line, err := stdout.ReadString('\n')
		if err != nil {
			done <- result{err: fmt.Errorf("read response: %w", err)}
			return
		}
		done <- result{line: line}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		d.kill()
		return nil, ctx.Err()
	}
	if res.err != nil {
		d.kill()
		return nil, res.err
	}

	var response bridgeResponse
	if err := json.Unmarshal([]byte(res.line), &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("%s service: %s", d.config.Method, response.Error)
	}

	dets := make([]Detection, len(response.Detections))
	for i, bd := range response.Detections {
		dets[i] = bd.toDetection()
	}

	d.lastUsed = time.Now()
	d.resetIdleTimer()

	return dets, nil
}

func (d *BridgeDetector) ensureStarted() error {
	if d.started {
		return nil
	}
	if !d.Available() {
		return fmt.Errorf("%w: %s not found", ErrUnavailable, serviceScript)
	}

	d.cmd = d.command()

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start %s service: %w", d.config.Method, err)
	}

	log.Infof("Started %s detection service (pid %d)", d.config.Method, d.cmd.Process.Pid)

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true
	d.lastUsed = time.Now()

	return nil
}

// kill terminates a process left in an unknown protocol state.
func (d *BridgeDetector) kill() {
	if d.started && d.cmd != nil && d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	d.shutdown()
}

func (d *BridgeDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

func (d *BridgeDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(d.config.IdleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		log.Debugf("Stopping idle %s detection service", d.config.Method)
		d.shutdown()
	})
}

func findServiceScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", serviceScript),
		filepath.Join("..", "scripts", serviceScript),
		filepath.Join("..", "..", "scripts", serviceScript),
		filepath.Join(execDir, "scripts", serviceScript),
		filepath.Join(os.Getenv("HOME"), ".objcrop", "scripts", serviceScript),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment
// next to the working directory or the executable.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		".venv/bin/python",
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".objcrop/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}
