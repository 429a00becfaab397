package detector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestParseMethod(t *testing.T) {
	for _, m := range Methods {
		got, err := ParseMethod(string(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}

	got, err := ParseMethod("  YOLO ")
	require.NoError(t, err)
	assert.Equal(t, MethodYOLO, got)

	_, err = ParseMethod("sam")
	assert.Error(t, err)
}

func TestMethod_IsAI(t *testing.T) {
	ai := map[Method]bool{
		MethodContour:   false,
		MethodSaliency:  false,
		MethodEdge:      false,
		MethodGrabCut:   false,
		MethodSmartCrop: false,
		MethodDETR:      true,
		MethodRTDETR:    true,
		MethodRFDETR:    true,
		MethodYOLO:      true,
	}
	for m, want := range ai {
		assert.Equal(t, want, m.IsAI(), string(m))
	}
	assert.Equal(t, "Foreground Object", MethodGrabCut.DefaultLabel())
	assert.Equal(t, "Object", MethodContour.DefaultLabel())
}

func TestSelectBest(t *testing.T) {
	t.Run("empty list", func(t *testing.T) {
		idx, ok := SelectBest(nil)
		assert.False(t, ok)
		assert.Equal(t, -1, idx)
	})

	t.Run("highest confidence wins", func(t *testing.T) {
		dets := []Detection{
			{Label: "cat", Confidence: 0.6, Box: [4]int{0, 0, 500, 500}},
			{Label: "dog", Confidence: 0.9, Box: [4]int{0, 0, 10, 10}},
		}
		idx, ok := SelectBest(dets)
		require.True(t, ok)
		assert.Equal(t, 1, idx)
	})

	t.Run("area breaks confidence ties", func(t *testing.T) {
		dets := []Detection{
			{Label: "a", Confidence: 0.8, Box: [4]int{0, 0, 10, 10}},
			{Label: "b", Confidence: 0.8, Box: [4]int{0, 0, 20, 20}},
			{Label: "c", Confidence: 0.8, Box: [4]int{0, 0, 15, 15}},
		}
		idx, _ := SelectBest(dets)
		assert.Equal(t, 1, idx)
	})

	t.Run("first wins a full tie", func(t *testing.T) {
		dets := []Detection{
			{Label: "a", Confidence: 0.8, Box: [4]int{0, 0, 10, 10}},
			{Label: "b", Confidence: 0.8, Box: [4]int{5, 5, 15, 15}},
		}
		idx, _ := SelectBest(dets)
		assert.Equal(t, 0, idx)
	})
}

func TestMatchesTarget(t *testing.T) {
	tests := []struct {
		label   string
		targets []string
		want    bool
	}{
		{"dog", nil, true},
		{"dog", []string{"", "  "}, true},
		{"dog", []string{"Dog"}, true},
		{"hot dog", []string{"dog"}, true},
		{"tv", []string{"tv monitor"}, true},
		{"cat", []string{"dog", "person"}, false},
		{"potted plant", []string{"chair", "PLANT"}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchesTarget(tt.label, tt.targets), "%s vs %v", tt.label, tt.targets)
	}
}

func TestFilterTargets(t *testing.T) {
	dets := []Detection{
		{Label: "person", Confidence: 0.9},
		{Label: "couch", Confidence: 0.8},
		{Label: "dining table", Confidence: 0.7},
	}

	assert.Len(t, FilterTargets(dets, nil), 3)

	got := FilterTargets(dets, []string{"table", "couch"})
	require.Len(t, got, 2)
	assert.Equal(t, "couch", got[0].Label)
	assert.Equal(t, "dining table", got[1].Label)
}

func TestCOCOLabels(t *testing.T) {
	assert.Len(t, COCOClasses, 80)
	assert.Len(t, cocoIDs, 80)

	assert.Equal(t, "person", COCOLabel(1))
	assert.Equal(t, "stop sign", COCOLabel(13))
	assert.Equal(t, "dining table", COCOLabel(67))
	assert.Equal(t, "toothbrush", COCOLabel(90))
	assert.Equal(t, "class_12", COCOLabel(12))

	assert.Equal(t, "person", ClassName(0))
	assert.Equal(t, "toothbrush", ClassName(79))
	assert.Equal(t, "class_80", ClassName(80))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get(MethodYOLO)
	assert.ErrorIs(t, err, ErrUnavailable)

	mock := NewMockDetector()
	r.Register(MethodYOLO, mock)
	got, err := r.Get(MethodYOLO)
	require.NoError(t, err)
	assert.Same(t, mock, got)
	assert.True(t, r.Available(MethodYOLO))

	mock.SetAvailable(false)
	assert.False(t, r.Available(MethodYOLO))
	_, err = r.Get(MethodYOLO)
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.NoError(t, r.Close())
}

func TestNewDefaultRegistry_MissingRuntimes(t *testing.T) {
	dir := t.TempDir()
	r := NewDefaultRegistry(RegistryConfig{
		YOLOModel: dir + "/missing.onnx",
		Script:    dir + "/missing.py",
	})
	defer r.Close()

	for _, m := range []Method{MethodYOLO, MethodDETR, MethodRTDETR, MethodRFDETR} {
		assert.False(t, r.Available(m), string(m))
	}
}

func TestYOLODetector_MissingModel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping gocv test in short mode")
	}

	d := NewYOLODetector(t.TempDir() + "/missing.onnx")
	img := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	defer img.Close()

	_, err := d.Detect(context.Background(), img, nil, 0.5)
	assert.ErrorIs(t, err, ErrUnavailable)
	// nothing was loaded, so there is nothing to release
	assert.NoError(t, d.Close())
	assert.Nil(t, d.net)
}

func TestMockDetector(t *testing.T) {
	mock := NewMockDetector()
	mock.SetDetections([]Detection{
		{Label: "dog", Confidence: 0.9, Box: [4]int{1, 2, 3, 4}},
		{Label: "cat", Confidence: 0.4, Box: [4]int{5, 6, 7, 8}},
	})

	img := gocv.NewMat()
	defer img.Close()

	dets, err := mock.Detect(context.Background(), img, nil, 0.5)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "dog", dets[0].Label)

	dets, err = mock.Detect(context.Background(), img, []string{"cat"}, 0.1)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "cat", dets[0].Label)
	assert.Equal(t, 2, mock.Calls())

	targets, conf := mock.LastRequest()
	assert.Equal(t, []string{"cat"}, targets)
	assert.InDelta(t, 0.1, conf, 1e-9)

	wantErr := errors.New("model crashed")
	mock.SetError(wantErr)
	_, err = mock.Detect(context.Background(), img, nil, 0.5)
	assert.ErrorIs(t, err, wantErr)
}
