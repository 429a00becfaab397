package store

import "fmt"

// schema lists the migrations in order. The database's user_version records
// how many have been applied; append new steps, never edit old ones.
var schema = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL CHECK(kind IN ('process', 'batch', 'cli')),
		method TEXT NOT NULL,
		original_name TEXT NOT NULL DEFAULT '',
		input_path TEXT NOT NULL,
		targets TEXT NOT NULL DEFAULT '[]',
		bounds TEXT NOT NULL DEFAULT 'null',
		detections TEXT NOT NULL DEFAULT '[]',
		info_text TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
		`CREATE TABLE IF NOT EXISTS job_outputs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		kind TEXT NOT NULL CHECK(kind IN ('upload', 'visualization', 'cropped', 'batch', 'debug')),
		path TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		sequence INTEGER NOT NULL
	)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_job_outputs_job_id ON job_outputs(job_id)`,
	},
}

func (s *Store) version() (int, error) {
	var v int
	err := s.db.QueryRow(`PRAGMA user_version`).Scan(&v)
	return v, err
}

// migrate applies every step past the recorded version, each in its own transaction.
func (s *Store) migrate() error {
	current, err := s.version()
	if err != nil {
		return err
	}
	if current > len(schema) {
		return fmt.Errorf("database schema version %d is newer than this build (%d)", current, len(schema))
	}

	for v := current; v < len(schema); v++ {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		for _, stmt := range schema[v] {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d: %w", v+1, err)
			}
		}
		// PRAGMA does not take bind parameters
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
