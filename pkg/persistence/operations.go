package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

const timeLayout = "2006-01-02T15:04:05.000Z"

// Store wraps a database handle with typed operations.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, "2006-01-02T15:04:05.999999999Z", time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// CreateRun inserts a new running run.
func (s *Store) CreateRun(ctx context.Context, id, task string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, task, status, started_at) VALUES (?, ?, ?, ?)",
		id, task, RunStatusRunning, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", id, err)
	}
	return nil
}

// FinishRun records the terminal status of a run.
func (s *Store) FinishRun(ctx context.Context, id, status string, iterations int, runErr error) error {
	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, iterations = ?, error = ?, finished_at = ? WHERE id = ?",
		status, iterations, errText, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetRun loads one run.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, task, status, iterations, COALESCE(error, ''), started_at, finished_at FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, task, status, iterations, COALESCE(error, ''), started_at, finished_at FROM runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run      Run
		started  string
		finished sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Task, &run.Status, &run.Iterations, &run.Error, &started, &finished); err != nil {
		return nil, err //nolint:wrapcheck // callers check sql.ErrNoRows
	}
	run.StartedAt = parseTime(started)
	if finished.Valid {
		t := parseTime(finished.String)
		run.FinishedAt = &t
	}
	return &run, nil
}

// InsertTurn appends a turn record.
func (s *Store) InsertTurn(ctx context.Context, rec *TurnRecord) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO turns (run_id, seq, iteration, source, type, content, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		rec.RunID, rec.Seq, rec.Iteration, rec.Source, rec.Type, rec.Content, formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert turn %d for run %s: %w", rec.Seq, rec.RunID, err)
	}
	return nil
}

// ListTurns returns the turns of a run in sequence order.
func (s *Store) ListTurns(ctx context.Context, runID string) ([]*TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, seq, iteration, source, type, content, created_at FROM turns WHERE run_id = ? ORDER BY seq", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	var out []*TurnRecord
	for rows.Next() {
		var (
			rec     TurnRecord
			created string
		)
		if err := rows.Scan(&rec.RunID, &rec.Seq, &rec.Iteration, &rec.Source, &rec.Type, &rec.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		rec.CreatedAt = parseTime(created)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// InsertKnowledge appends a knowledge entry and returns its id.
func (s *Store) InsertKnowledge(ctx context.Context, rec *KnowledgeRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO knowledge_entries (category, name, description, code) VALUES (?, ?, ?, ?)",
		rec.Category, rec.Name, rec.Description, rec.Code)
	if err != nil {
		return 0, fmt.Errorf("failed to insert knowledge entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read knowledge entry id: %w", err)
	}
	return id, nil
}

// ListKnowledge returns every knowledge entry in insertion order.
func (s *Store) ListKnowledge(ctx context.Context) ([]*KnowledgeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, category, name, description, code, created_at FROM knowledge_entries ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge: %w", err)
	}
	defer rows.Close()

	var out []*KnowledgeRecord
	for rows.Next() {
		var (
			rec     KnowledgeRecord
			created string
		)
		if err := rows.Scan(&rec.ID, &rec.Category, &rec.Name, &rec.Description, &rec.Code, &created); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge entry: %w", err)
		}
		rec.CreatedAt = parseTime(created)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// InsertCorrection appends a user correction.
func (s *Store) InsertCorrection(ctx context.Context, runID, text string) error {
	_, err := s.db.ExecContext(ctx, "INSERT INTO corrections (run_id, text) VALUES (?, ?)", runID, text)
	if err != nil {
		return fmt.Errorf("failed to insert correction: %w", err)
	}
	return nil
}

// ListCorrections returns every correction in insertion order.
func (s *Store) ListCorrections(ctx context.Context) ([]*CorrectionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, COALESCE(run_id, ''), text, created_at FROM corrections ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list corrections: %w", err)
	}
	defer rows.Close()

	var out []*CorrectionRecord
	for rows.Next() {
		var (
			rec     CorrectionRecord
			created string
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Text, &created); err != nil {
			return nil, fmt.Errorf("failed to scan correction: %w", err)
		}
		rec.CreatedAt = parseTime(created)
		out = append(out, &rec)
	}
	return out, rows.Err()
}
