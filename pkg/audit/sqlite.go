package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/polisai/polis-redact/pkg/storage"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	created_at       TEXT NOT NULL,
	input_file       TEXT NOT NULL,
	output_file      TEXT NOT NULL,
	format           TEXT NOT NULL,
	threshold        REAL NOT NULL,
	total_detections INTEGER NOT NULL,
	summary_json     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS detections (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq          INTEGER NOT NULL,
	row_index    INTEGER NOT NULL,
	column_name  TEXT NOT NULL,
	pii_type     TEXT NOT NULL,
	raw_value    TEXT NOT NULL,
	masked_value TEXT NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset   INTEGER NOT NULL,
	confidence   REAL NOT NULL,
	context      TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_detections_type ON detections(pii_type)`,
}

// runTimeLayout is fixed width so created_at sorts as text in time order.
const runTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RunInfo is the stored header of one run.
type RunInfo struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	InputFile       string    `json:"input_file"`
	OutputFile      string    `json:"output_file"`
	Format          string    `json:"format"`
	Threshold       float64   `json:"threshold"`
	TotalDetections int       `json:"total_detections"`
}

// SQLiteSink keeps an audit history of every run in a SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the database at path and applies the schema.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &SQLiteSink{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteSink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Write stores rec in a single transaction.
func (s *SQLiteSink) Write(ctx context.Context, rec Record) error {
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, input_file, output_file, format, threshold, total_detections, summary_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Summary.Timestamp.UTC().Format(runTimeLayout), rec.Summary.InputFile,
		rec.Summary.OutputFile, rec.Summary.Format, rec.Summary.Threshold,
		rec.Summary.TotalDetections, string(summary))
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO detections (run_id, seq, row_index, column_name, pii_type, raw_value, masked_value, start_offset, end_offset, confidence, context)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare detection insert: %w", err)
	}
	defer stmt.Close()

	for i, d := range rec.Detections {
		_, err := stmt.ExecContext(ctx, rec.ID, i, d.RowIndex, d.Column, string(d.Type),
			d.Value, d.Masked, d.Start, d.End, d.Confidence, d.Context)
		if err != nil {
			return fmt.Errorf("failed to save detection %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// Summary returns the stored summary of run id.
func (s *SQLiteSink) Summary(ctx context.Context, id string) (Summary, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT summary_json FROM runs WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Summary{}, fmt.Errorf("%w: run %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return Summary{}, fmt.Errorf("failed to query run: %w", err)
	}

	var out Summary
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Summary{}, fmt.Errorf("failed to decode summary: %w", err)
	}
	return out, nil
}

// Runs lists the most recent runs, newest first.
func (s *SQLiteSink) Runs(ctx context.Context, limit int) ([]RunInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, input_file, output_file, format, threshold, total_detections
		 FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var r RunInfo
		var created string
		if err := rows.Scan(&r.ID, &created, &r.InputFile, &r.OutputFile, &r.Format, &r.Threshold, &r.TotalDetections); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.Timestamp, err = time.Parse(runTimeLayout, created); err != nil {
			return nil, fmt.Errorf("failed to parse run time %q: %w", created, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return out, nil
}

// RunStats totals the stored history.
type RunStats struct {
	Runs         int            `json:"runs"`
	CountsByType map[string]int `json:"counts_by_type"`
}

// Stats counts the stored runs and their detections per PII type.
func (s *SQLiteSink) Stats(ctx context.Context) (RunStats, error) {
	out := RunStats{CountsByType: make(map[string]int)}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&out.Runs); err != nil {
		return RunStats{}, fmt.Errorf("failed to count runs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT pii_type, COUNT(*) FROM detections GROUP BY pii_type`)
	if err != nil {
		return RunStats{}, fmt.Errorf("failed to query counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return RunStats{}, fmt.Errorf("failed to scan count: %w", err)
		}
		out.CountsByType[kind] = n
	}
	if err := rows.Err(); err != nil {
		return RunStats{}, fmt.Errorf("error iterating counts: %w", err)
	}
	return out, nil
}
