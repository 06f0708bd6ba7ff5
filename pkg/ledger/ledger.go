// Package ledger keeps a SQLite history of submitted jobs.
//
// The ledger stores job metadata only (provider, mode, step count, status,
// error classification and timings). Prompt and result text are never written.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/llmsession/pkg/orchestrator"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned by Get for unknown job ids.
var ErrNotFound = errors.New("job not found")

// Job statuses stored in the ledger.
const (
	StatusQueued    = "queued"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
)

// Entry is one ledger row.
type Entry struct {
	ID          string     `json:"job_id"`
	Provider    string     `json:"provider"`
	Mode        string     `json:"mode"`
	Steps       int        `json:"steps"`
	Status      string     `json:"status"`
	SessionID   string     `json:"session_id,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	Error       string     `json:"error,omitempty"`
	FailedStep  *int       `json:"failed_step,omitempty"`
	Completed   int        `json:"completed_steps"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Store is a SQLite-backed orchestrator.Recorder.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

var _ orchestrator.Recorder = (*Store)(nil)

// Open opens or creates the ledger database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("ledger path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and writes serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger.With().Str("component", "ledger").Logger()}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("Job ledger opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			mode TEXT NOT NULL,
			steps INTEGER NOT NULL,
			status TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			error_kind TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			failed_step INTEGER,
			completed_steps INTEGER NOT NULL DEFAULT 0,
			submitted_at INTEGER NOT NULL,
			started_at INTEGER,
			finished_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_provider ON jobs(provider);
		CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
		CREATE INDEX IF NOT EXISTS idx_jobs_submitted ON jobs(submitted_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordSubmitted inserts a queued row for job.
func (s *Store) RecordSubmitted(ctx context.Context, job *orchestrator.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, provider, mode, steps, status, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		job.ID, job.Provider.String(), string(job.Payload.Mode), len(job.Payload.Prompts),
		StatusQueued, job.SubmittedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record job %s: %w", job.ID, err)
	}
	return nil
}

// RecordFinished stores the final status of a job.
func (s *Store) RecordFinished(ctx context.Context, outcome orchestrator.Outcome) error {
	status := StatusSucceeded
	var errText string
	var failedStep sql.NullInt64
	if outcome.Err != nil {
		status = StatusFailed
		errText = outcome.Err.Error()
		var stepErr *orchestrator.StepError
		if errors.As(outcome.Err, &stepErr) {
			failedStep = sql.NullInt64{Int64: int64(stepErr.Index), Valid: true}
		}
	}

	var startedAt sql.NullInt64
	if !outcome.StartedAt.IsZero() {
		startedAt = sql.NullInt64{Int64: outcome.StartedAt.UnixMilli(), Valid: true}
	}

	steps := len(outcome.Results)
	if failedStep.Valid {
		steps = int(failedStep.Int64) + 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, provider, mode, steps, status, session_id, error_kind, error,
			failed_step, completed_steps, submitted_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			session_id = excluded.session_id,
			error_kind = excluded.error_kind,
			error = excluded.error,
			failed_step = excluded.failed_step,
			completed_steps = excluded.completed_steps,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`,
		outcome.JobID, outcome.Provider.String(), string(outcome.Mode), steps, status,
		outcome.SessionID, orchestrator.ErrorKind(outcome.Err), errText,
		failedStep, len(outcome.Results), outcome.SubmittedAt.UnixMilli(),
		startedAt, outcome.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome of job %s: %w", outcome.JobID, err)
	}
	return nil
}

const selectColumns = `id, provider, mode, steps, status, session_id, error_kind, error,
	failed_step, completed_steps, submitted_at, started_at, finished_at`

// Get returns the entry for id.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM jobs WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return entry, nil
}

// Recent returns up to limit entries, newest first, optionally for one provider.
func (s *Store) Recent(ctx context.Context, providerID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + selectColumns + ` FROM jobs`
	args := []interface{}{}
	if providerID != "" {
		query += ` WHERE provider = ?`
		args = append(args, providerID)
	}
	query += ` ORDER BY submitted_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// Recover marks jobs left queued by a previous process as abandoned and
// returns how many were updated.
func (s *Store) Recover(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, finished_at = ? WHERE status = ?`,
		StatusAbandoned, time.Now().UnixMilli(), StatusQueued,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to recover ledger: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Warn().Int64("count", n).Msg("Marked unfinished jobs from previous run as abandoned")
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e           Entry
		failedStep  sql.NullInt64
		submittedAt int64
		startedAt   sql.NullInt64
		finishedAt  sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.Provider, &e.Mode, &e.Steps, &e.Status, &e.SessionID,
		&e.ErrorKind, &e.Error, &failedStep, &e.Completed, &submittedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	e.SubmittedAt = time.UnixMilli(submittedAt).UTC()
	if failedStep.Valid {
		step := int(failedStep.Int64)
		e.FailedStep = &step
	}
	if startedAt.Valid {
		t := time.UnixMilli(startedAt.Int64).UTC()
		e.StartedAt = &t
	}
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64).UTC()
		e.FinishedAt = &t
	}
	return &e, nil
}
