package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// JobKind identifies which endpoint produced a job.
type JobKind string

const (
	JobKindProcess JobKind = "process"
	JobKindBatch   JobKind = "batch"
	JobKindCLI     JobKind = "cli"
)

// OutputKind classifies a file written for a job.
type OutputKind string

const (
	OutputUpload        OutputKind = "upload"
	OutputVisualization OutputKind = "visualization"
	OutputCropped       OutputKind = "cropped"
	OutputBatch         OutputKind = "batch"
	OutputDebug         OutputKind = "debug"
)

// Job is a processed upload. Bounds and Detections hold JSON documents.
type Job struct {
	ID           string
	Kind         JobKind
	Method       string
	OriginalName string
	InputPath    string
	Targets      []string
	Bounds       json.RawMessage
	Detections   json.RawMessage
	InfoText     string
	CreatedAt    time.Time
	Outputs      []Output
}

// Output is a file produced by a job.
type Output struct {
	ID   int64
	Kind OutputKind
	Path string
	URL  string
}

// JobRepository provides CRUD operations for jobs.
type JobRepository struct {
	db *sql.DB
}

// Jobs returns the job repository for this store.
func (s *Store) Jobs() *JobRepository {
	return &JobRepository{db: s.db}
}

// Create inserts a job and its outputs in a single transaction.
func (r *JobRepository) Create(j *Job) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}

	targets, err := json.Marshal(nonNilStrings(j.Targets))
	if err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO jobs (id, kind, method, original_name, input_path, targets, bounds, detections, info_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, string(j.Kind), j.Method, j.OriginalName, j.InputPath, string(targets),
		rawOr(j.Bounds, "null"), rawOr(j.Detections, "[]"), j.InfoText, j.CreatedAt,
	)
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO job_outputs (job_id, kind, path, url, sequence) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range j.Outputs {
		o := &j.Outputs[i]
		res, err := stmt.Exec(j.ID, string(o.Kind), o.Path, o.URL, i)
		if err != nil {
			return err
		}
		if o.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetByID retrieves a job and its outputs by ID.
func (r *JobRepository) GetByID(id string) (*Job, error) {
	j, err := scanJob(r.db.QueryRow(
		`SELECT id, kind, method, original_name, input_path, targets, bounds, detections, info_text, created_at
		 FROM jobs WHERE id = ?`,
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if j.Outputs, err = r.outputs(id); err != nil {
		return nil, err
	}
	return j, nil
}

// List retrieves the most recent jobs, newest first. Outputs are not loaded.
// A limit <= 0 returns every job.
func (r *JobRepository) List(limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(
		`SELECT id, kind, method, original_name, input_path, targets, bounds, detections, info_text, created_at
		 FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return jobs, nil
}

// Delete removes a job and, by cascade, its outputs. It returns the outputs
// that were recorded so the caller can remove the files.
func (r *JobRepository) Delete(id string) ([]Output, error) {
	outputs, err := r.outputs(id)
	if err != nil {
		return nil, err
	}

	result, err := r.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	return outputs, nil
}

// Count returns the number of stored jobs.
func (r *JobRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM jobs`).Scan(&n)
	return n, err
}

func (r *JobRepository) outputs(jobID string) ([]Output, error) {
	rows, err := r.db.Query(
		`SELECT id, kind, path, url FROM job_outputs WHERE job_id = ? ORDER BY sequence`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outputs []Output
	for rows.Next() {
		var o Output
		var kind string
		if err := rows.Scan(&o.ID, &kind, &o.Path, &o.URL); err != nil {
			return nil, err
		}
		o.Kind = OutputKind(kind)
		outputs = append(outputs, o)
	}

	return outputs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	j := &Job{}
	var kind, targets, bounds, detections string

	err := row.Scan(&j.ID, &kind, &j.Method, &j.OriginalName, &j.InputPath,
		&targets, &bounds, &detections, &j.InfoText, &j.CreatedAt)
	if err != nil {
		return nil, err
	}

	j.Kind = JobKind(kind)
	j.Bounds = json.RawMessage(bounds)
	j.Detections = json.RawMessage(detections)
	if err := json.Unmarshal([]byte(targets), &j.Targets); err != nil {
		return nil, err
	}
	return j, nil
}

func rawOr(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 {
		return fallback
	}
	return string(raw)
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
