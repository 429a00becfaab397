package store

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJobRepository_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	repo := s.Jobs()

	job := &Job{
		ID:           "job-1",
		Kind:         JobKindProcess,
		Method:       "yolo",
		OriginalName: "living-room.jpg",
		InputPath:    "/data/uploads/job-1.jpg",
		Targets:      []string{"couch"},
		Bounds:       json.RawMessage(`[10,20,110,220]`),
		Detections:   json.RawMessage(`[{"label":"couch","confidence":0.91,"box":[10,20,110,220]}]`),
		InfoText:     "Selected: couch",
		Outputs: []Output{
			{Kind: OutputVisualization, Path: "/data/outputs/job-1_vis.jpg", URL: "/outputs/job-1_vis.jpg"},
			{Kind: OutputCropped, Path: "/data/outputs/job-1_cropped.jpg", URL: "/outputs/job-1_cropped.jpg"},
		},
	}

	if err := repo.Create(job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if job.CreatedAt.IsZero() {
		t.Error("Create() should set CreatedAt")
	}
	if job.Outputs[0].ID == 0 || job.Outputs[1].ID == 0 {
		t.Error("Create() should assign output IDs")
	}

	got, err := repo.GetByID("job-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if got.Kind != JobKindProcess {
		t.Errorf("Kind = %q, want %q", got.Kind, JobKindProcess)
	}
	if got.Method != "yolo" || got.OriginalName != "living-room.jpg" {
		t.Errorf("unexpected job fields: %+v", got)
	}
	if len(got.Targets) != 1 || got.Targets[0] != "couch" {
		t.Errorf("Targets = %v, want [couch]", got.Targets)
	}
	if string(got.Bounds) != `[10,20,110,220]` {
		t.Errorf("Bounds = %s", got.Bounds)
	}

	var dets []map[string]any
	if err := json.Unmarshal(got.Detections, &dets); err != nil {
		t.Fatalf("Detections not valid JSON: %v", err)
	}
	if len(dets) != 1 || dets[0]["label"] != "couch" {
		t.Errorf("Detections = %s", got.Detections)
	}

	if len(got.Outputs) != 2 {
		t.Fatalf("Outputs = %d, want 2", len(got.Outputs))
	}
	if got.Outputs[0].Kind != OutputVisualization || got.Outputs[1].Kind != OutputCropped {
		t.Errorf("outputs out of order: %+v", got.Outputs)
	}
	if got.Outputs[1].URL != "/outputs/job-1_cropped.jpg" {
		t.Errorf("URL = %q", got.Outputs[1].URL)
	}
}

func TestJobRepository_Defaults(t *testing.T) {
	s := newTestStore(t)
	repo := s.Jobs()

	if err := repo.Create(&Job{ID: "bare", Kind: JobKindBatch, Method: "detr", InputPath: "in.png"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID("bare")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if string(got.Bounds) != "null" {
		t.Errorf("Bounds = %s, want null", got.Bounds)
	}
	if string(got.Detections) != "[]" {
		t.Errorf("Detections = %s, want []", got.Detections)
	}
	if len(got.Targets) != 0 {
		t.Errorf("Targets = %v, want empty", got.Targets)
	}
	if len(got.Outputs) != 0 {
		t.Errorf("Outputs = %v, want none", got.Outputs)
	}
}

func TestJobRepository_InvalidKind(t *testing.T) {
	s := newTestStore(t)

	err := s.Jobs().Create(&Job{ID: "x", Kind: JobKind("bogus"), Method: "contour", InputPath: "in.jpg"})
	if err == nil {
		t.Fatal("Create() should reject an unknown kind")
	}

	if _, err := s.Jobs().GetByID("x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("failed insert must not leave a row, got %v", err)
	}
}

func TestJobRepository_GetByID_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Jobs().GetByID("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestJobRepository_List(t *testing.T) {
	s := newTestStore(t)
	repo := s.Jobs()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		job := &Job{
			ID:        id,
			Kind:      JobKindCLI,
			Method:    "contour",
			InputPath: id + ".jpg",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Create(job); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}

	all, err := repo.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List() = %d jobs, want 3", len(all))
	}
	if all[0].ID != "c" || all[2].ID != "a" {
		t.Errorf("List() order = %s,%s,%s, want newest first", all[0].ID, all[1].ID, all[2].ID)
	}

	limited, err := repo.List(2)
	if err != nil {
		t.Fatalf("List(2) error = %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("List(2) = %d jobs, want 2", len(limited))
	}

	n, err := repo.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}
}

func TestJobRepository_Delete(t *testing.T) {
	s := newTestStore(t)
	repo := s.Jobs()

	job := &Job{
		ID:        "del",
		Kind:      JobKindProcess,
		Method:    "edge",
		InputPath: "in.jpg",
		Outputs: []Output{
			{Kind: OutputUpload, Path: "in.jpg"},
			{Kind: OutputCropped, Path: "out.jpg", URL: "/outputs/out.jpg"},
		},
	}
	if err := repo.Create(job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	outputs, err := repo.Delete("del")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(outputs) != 2 {
		t.Errorf("Delete() returned %d outputs, want 2", len(outputs))
	}

	if _, err := repo.GetByID("del"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrNotFound", err)
	}

	var remaining int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM job_outputs WHERE job_id = ?`, "del").Scan(&remaining); err != nil {
		t.Fatalf("count outputs: %v", err)
	}
	if remaining != 0 {
		t.Errorf("outputs should cascade on delete, %d remain", remaining)
	}

	if _, err := repo.Delete("del"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestStore_ReopenKeepsJobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Jobs().Create(&Job{ID: "keep", Kind: JobKindProcess, Method: "grabcut", InputPath: "in.jpg"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	s.Close()

	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	if _, err := s.Jobs().GetByID("keep"); err != nil {
		t.Errorf("job should survive reopen: %v", err)
	}
}
