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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBridgeHelperProcess is not a real test. It stands in for the Python
// detection service when re-executed by newHelperBridge.
func TestBridgeHelperProcess(t *testing.T) {
	if os.Getenv("OBJCROP_BRIDGE_HELPER") != "1" {
		return
	}

	in := bufio.NewReader(os.Stdin)
	for {
		line, err := in.ReadBytes('\n')
		if err != nil {
			os.Exit(0)
		}
		var req bridgeRequest
		if err := json.Unmarshal(line, &req); err != nil {
			fmt.Println(`{"detections":[],"error":"bad header"}`)
			continue
		}
		data := make([]byte, req.Size)
		if _, err := io.ReadFull(in, data); err != nil {
			os.Exit(1)
		}
		if string(data) == "fail" {
			fmt.Println(`{"detections":[],"error":"model exploded"}`)
			continue
		}
		resp := bridgeResponse{Detections: []bridgeDetection{
			{ClassID: 18, Confidence: req.Confidence + 0.1, Box: [4]float64{10.7, 20.2, 110.9, 220}},
			{Label: "cat", ClassID: 17, Confidence: 0.95, Box: [4]float64{1, 2, 3, 4}},
		}}
		out, _ := json.Marshal(resp)
		fmt.Println(string(out))
	}
}

func newHelperBridge(t *testing.T) *BridgeDetector {
	t.Helper()

	script := filepath.Join(t.TempDir(), serviceScript)
	require.NoError(t, os.WriteFile(script, []byte("# stub\n"), 0644))

	d := NewBridgeDetector(BridgeConfig{Method: MethodRFDETR, Script: script, IdleTimeout: time.Minute})
	d.command = func() *exec.Cmd {
		cmd := exec.Command(os.Args[0], "-test.run=TestBridgeHelperProcess")
		cmd.Env = append(os.Environ(), "OBJCROP_BRIDGE_HELPER=1")
		return cmd
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestBridgeDetector_Available(t *testing.T) {
	d := NewBridgeDetector(BridgeConfig{Method: MethodDETR, Script: filepath.Join(t.TempDir(), "nope.py")})
	assert.False(t, d.Available())

	_, err := d.detectBytes(context.Background(), []byte("x"), 0.5)
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.True(t, newHelperBridge(t).Available())
}

func TestBridgeDetector_RoundTrip(t *testing.T) {
	d := newHelperBridge(t)

	dets, err := d.detectBytes(context.Background(), []byte("jpeg-bytes"), 0.5)
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, "dog", dets[0].Label, "class id maps through COCO table")
	assert.InDelta(t, 0.6, dets[0].Confidence, 1e-9)
	assert.Equal(t, [4]int{10, 20, 110, 220}, dets[0].Box)
	assert.Equal(t, "cat", dets[1].Label)

	// the process is reused for later requests
	pid := d.cmd.Process.Pid
	dets, err = d.detectBytes(context.Background(), []byte("more"), 0.2)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, dets[0].Confidence, 1e-9)
	assert.Equal(t, pid, d.cmd.Process.Pid)
}

func TestBridgeDetector_ServiceError(t *testing.T) {
	d := newHelperBridge(t)

	_, err := d.detectBytes(context.Background(), []byte("fail"), 0.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model exploded")

	// protocol is still in sync after an error response
	dets, err := d.detectBytes(context.Background(), []byte("ok"), 0.5)
	require.NoError(t, err)
	assert.Len(t, dets, 2)
}

func TestBridgeDetector_CanceledContext(t *testing.T) {
	d := newHelperBridge(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.detectBytes(ctx, []byte("x"), 0.5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, d.started)
}

func TestBridgeDetector_Close(t *testing.T) {
	d := newHelperBridge(t)

	_, err := d.detectBytes(context.Background(), []byte("x"), 0.5)
	require.NoError(t, err)
	require.True(t, d.started)

	assert.NoError(t, d.Close())
	assert.False(t, d.started)
	assert.NoError(t, d.Close())
}
