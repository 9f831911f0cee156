// Package manifest records conversion runs in a SQLite database: one row
// per run and one row per series. It is a record only; runs are not resumed
// from it.
package manifest

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"mrivolumes/pkg/reconstruction"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	command     TEXT NOT NULL,
	input_root  TEXT NOT NULL,
	output_dir  TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	succeeded   INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS series (
	run_id      INTEGER NOT NULL REFERENCES runs(id),
	sequence    INTEGER NOT NULL,
	series_id   TEXT NOT NULL,
	file_count  INTEGER NOT NULL,
	dropped     INTEGER NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	output_path TEXT NOT NULL DEFAULT '',
	shape       TEXT NOT NULL DEFAULT '',
	bytes       INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, sequence)
);`

// Store is an open manifest database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the manifest at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("manifest path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create manifest tables: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Run is one conversion run being recorded. It implements
// reconstruction.Recorder.
type Run struct {
	store *Store
	ID    int64
}

// StartRun inserts a run row and returns its handle.
func (s *Store) StartRun(command, inputRoot, outputDir string) (*Run, error) {
	res, err := s.db.Exec(
		`INSERT INTO runs (command, input_root, output_dir, started_at) VALUES (?, ?, ?, ?)`,
		command, inputRoot, outputDir, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	return &Run{store: s, ID: id}, nil
}

// RecordGroup inserts the outcome of one series.
func (r *Run) RecordGroup(result reconstruction.GroupResult) error {
	errText := ""
	if result.Err != nil {
		errText = result.Err.Error()
	}
	shape := ""
	if result.OK() {
		shape = formatShape(result.Shape)
	}
	_, err := r.store.db.Exec(
		`INSERT INTO series (run_id, sequence, series_id, file_count, dropped, status, error, output_path, shape, bytes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, result.Sequence, result.SeriesID, result.Files, len(result.Dropped),
		result.Status(), errText, result.OutputPath, shape, result.Bytes,
	)
	if err != nil {
		return fmt.Errorf("insert series %d: %w", result.Sequence, err)
	}
	return nil
}

// Finish stores the totals of a run.
func (r *Run) Finish(summary *reconstruction.Summary) error {
	_, err := r.store.db.Exec(
		`UPDATE runs SET finished_at = ?, succeeded = ?, failed = ?, skipped = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), summary.Succeeded(), summary.Failed(), len(summary.Skipped), r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run %d: %w", r.ID, err)
	}
	return nil
}

// Entry is a recorded series row.
type Entry struct {
	RunID      int64
	Sequence   int
	SeriesID   string
	FileCount  int
	Dropped    int
	Status     string
	Error      string
	OutputPath string
	Shape      string
	Bytes      int64
}

// Entries returns the series rows of a run in sequence order.
func (s *Store) Entries(runID int64) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT run_id, sequence, series_id, file_count, dropped, status, error, output_path, shape, bytes
		 FROM series WHERE run_id = ? ORDER BY sequence`, runID)
	if err != nil {
		return nil, fmt.Errorf("select series: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.RunID, &e.Sequence, &e.SeriesID, &e.FileCount, &e.Dropped,
			&e.Status, &e.Error, &e.OutputPath, &e.Shape, &e.Bytes); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RunInfo is a recorded run row.
type RunInfo struct {
	ID         int64
	Command    string
	InputRoot  string
	OutputDir  string
	StartedAt  string
	FinishedAt string
	Succeeded  int
	Failed     int
	Skipped    int
}

// Runs returns every recorded run, oldest first.
func (s *Store) Runs() ([]RunInfo, error) {
	rows, err := s.db.Query(
		`SELECT id, command, input_root, output_dir, started_at, COALESCE(finished_at, ''), succeeded, failed, skipped
		 FROM runs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []RunInfo
	for rows.Next() {
		var r RunInfo
		if err := rows.Scan(&r.ID, &r.Command, &r.InputRoot, &r.OutputDir, &r.StartedAt,
			&r.FinishedAt, &r.Succeeded, &r.Failed, &r.Skipped); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func formatShape(shape [3]int) string {
	parts := make([]string, 3)
	for i, n := range shape {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, "x")
}
