package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

type sqlRuns struct {
	*SQLStorage
}

const runColumns = `id, thread_id, assistant_id, status, metadata, kwargs, multitask_strategy, created_at, updated_at`

func (s *sqlRuns) Create(ctx context.Context, run *Run) (*Run, error) {
	stored := cloneRun(run)
	if stored.RunID == "" {
		stored.RunID = uuid.NewString()
	}
	if stored.Status == "" {
		stored.Status = RunStatusPending
	}
	now := utcNow()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), stored.RunID, stored.ThreadID, stored.AssistantID, stored.Status,
		marshalJSON(stored.Metadata), marshalJSON(stored.Kwargs), stored.MultitaskStrategy,
		stored.CreatedAt, stored.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *sqlRuns) Get(ctx context.Context, runID string) (*Run, error) {
	row := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT `+runColumns+` FROM runs WHERE id = ?
	`), runID)
	return scanRun(row)
}

func (s *sqlRuns) GetByThread(ctx context.Context, threadID, runID string) (*Run, error) {
	row := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT `+runColumns+` FROM runs WHERE id = ? AND thread_id = ?
	`), runID, threadID)
	return scanRun(row)
}

func (s *sqlRuns) ListByThread(ctx context.Context, threadID string, limit, offset int, status string) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE thread_id = ?`
	args := []any{threadID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, ClampLimit(limit), ClampOffset(offset))

	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *sqlRuns) DeleteByThread(ctx context.Context, threadID, runID string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM runs WHERE id = ? AND thread_id = ?
	`), runID, threadID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlRuns) GetActiveRun(ctx context.Context, threadID string) (*Run, error) {
	row := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT `+runColumns+` FROM runs
		WHERE thread_id = ? AND status IN (?, ?)
		ORDER BY created_at DESC LIMIT 1
	`), threadID, RunStatusPending, RunStatusRunning)
	run, err := scanRun(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return run, err
}

func (s *sqlRuns) UpdateStatus(ctx context.Context, runID, status string) error {
	// Terminal statuses are final: the guard clause makes late writes no-ops.
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE runs SET status = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?, ?, ?)
	`), status, utcNow(), runID,
		RunStatusSuccess, RunStatusError, RunStatusTimeout, RunStatusInterrupted)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, err := s.Get(ctx, runID); err != nil {
			return err
		}
	}
	return nil
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var metadata, kwargs string
	err := row.Scan(&run.RunID, &run.ThreadID, &run.AssistantID, &run.Status,
		&metadata, &kwargs, &run.MultitaskStrategy, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	run.Metadata = unmarshalMap(metadata)
	run.Kwargs = unmarshalMap(kwargs)
	run.CreatedAt = run.CreatedAt.UTC()
	run.UpdatedAt = run.UpdatedAt.UTC()
	return run, nil
}
