package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/langline/langline/internal/db/dialect"
)

type sqlThreads struct {
	*SQLStorage
}

const threadColumns = `id, metadata, config, status, state_values, interrupts, created_at, updated_at`

func (s *sqlThreads) Create(ctx context.Context, thread *Thread, caller, ifExists string) (*Thread, error) {
	existing, err := s.Get(ctx, thread.ThreadID, "")
	if err == nil {
		if ifExists == IfExistsDoNothing {
			return existing, nil
		}
		return nil, ErrConflict
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	stored := cloneThread(thread)
	stored.Metadata = StampOwner(stored.Metadata, caller)
	if stored.Status == "" {
		stored.Status = ThreadStatusIdle
	}
	if stored.Values == nil {
		stored.Values = map[string]any{}
	}
	now := utcNow()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO threads (`+threadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), stored.ThreadID, marshalJSON(stored.Metadata), marshalJSON(stored.Config), stored.Status,
		marshalJSON(stored.Values), marshalJSON(stored.Interrupts), stored.CreatedAt, stored.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *sqlThreads) Get(ctx context.Context, id, caller string) (*Thread, error) {
	row := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT `+threadColumns+` FROM threads WHERE id = ?
	`), id)
	thread, err := scanThread(row)
	if err != nil {
		return nil, err
	}
	if !CanRead(thread.Owner(), caller) {
		return nil, ErrNotFound
	}
	return thread, nil
}

func (s *sqlThreads) Search(ctx context.Context, q ThreadQuery, caller string) ([]*Thread, error) {
	where, args, appFilter := s.threadWhere(q, caller)
	limit, offset := ClampLimit(q.Limit), ClampOffset(q.Offset)

	query := `SELECT ` + threadColumns + ` FROM threads WHERE ` + where + ` ORDER BY created_at DESC`
	if !appFilter {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		if appFilter && (!MatchesMetadata(thread.Metadata, q.Metadata) || !MatchesMetadata(thread.Values, q.Values)) {
			continue
		}
		out = append(out, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if appFilter {
		if offset >= len(out) {
			out = nil
		} else {
			end := offset + limit
			if end > len(out) {
				end = len(out)
			}
			out = out[offset:end]
		}
	}
	if out == nil {
		out = []*Thread{}
	}
	return out, nil
}

func (s *sqlThreads) Count(ctx context.Context, q ThreadQuery, caller string) (int, error) {
	where, args, appFilter := s.threadWhere(q, caller)
	if !appFilter {
		var count int
		err := s.ro.QueryRowContext(ctx, s.ro.Rebind(
			`SELECT COUNT(*) FROM threads WHERE `+where), args...).Scan(&count)
		return count, err
	}

	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(
		`SELECT metadata, state_values FROM threads WHERE `+where), args...)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rows.Close() }()

	count := 0
	for rows.Next() {
		var metadata, values string
		if err := rows.Scan(&metadata, &values); err != nil {
			return 0, err
		}
		if MatchesMetadata(unmarshalMap(metadata), q.Metadata) && MatchesMetadata(unmarshalMap(values), q.Values) {
			count++
		}
	}
	return count, rows.Err()
}

func (s *sqlThreads) threadWhere(q ThreadQuery, caller string) (string, []any, bool) {
	scope, args := s.readScope(caller)
	clauses := []string{scope}

	if q.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, q.Status)
	}

	appFilter := false
	if len(q.Metadata) > 0 || len(q.Values) > 0 {
		if dialect.IsPostgres(s.driver) {
			if len(q.Metadata) > 0 {
				clauses = append(clauses, dialect.JSONContains(s.driver, "metadata", "?"))
				args = append(args, marshalJSON(q.Metadata))
			}
			if len(q.Values) > 0 {
				clauses = append(clauses, dialect.JSONContains(s.driver, "state_values", "?"))
				args = append(args, marshalJSON(q.Values))
			}
		} else {
			appFilter = true
		}
	}
	return strings.Join(clauses, " AND "), args, appFilter
}

func (s *sqlThreads) Update(ctx context.Context, id string, patch ThreadPatch, caller string) (*Thread, error) {
	thread, err := s.Get(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if !CanWrite(thread.Owner(), caller) {
		return nil, ErrNotFound
	}

	if patch.Metadata != nil {
		thread.Metadata = MergeMetadata(thread.Metadata, patch.Metadata)
	}
	if patch.Config != nil {
		thread.Config = cloneMap(patch.Config)
	}
	thread.UpdatedAt = utcNow()

	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE threads SET metadata = ?, config = ?, updated_at = ? WHERE id = ?
	`), marshalJSON(thread.Metadata), marshalJSON(thread.Config), thread.UpdatedAt, id)
	if err != nil {
		return nil, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, ErrNotFound
	}
	return thread, nil
}

func (s *sqlThreads) Delete(ctx context.Context, id, caller string) error {
	thread, err := s.Get(ctx, id, "")
	if err != nil {
		return err
	}
	if !CanWrite(thread.Owner(), caller) {
		return ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range []string{
		`DELETE FROM thread_snapshots WHERE thread_id = ?`,
		`DELETE FROM runs WHERE thread_id = ?`,
		`DELETE FROM threads WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, s.db.Rebind(stmt), id); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

const snapshotColumns = `checkpoint_id, thread_id, seq, state_values, next_nodes, tasks, metadata, parent_checkpoint, interrupts, created_at`

func (s *sqlThreads) GetState(ctx context.Context, threadID string) (*StateSnapshot, error) {
	thread, err := s.Get(ctx, threadID, "")
	if err != nil {
		return nil, err
	}

	row := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT `+snapshotColumns+` FROM thread_snapshots
		WHERE thread_id = ? ORDER BY seq DESC LIMIT 1
	`), threadID)
	snapshot, err := scanSnapshot(row)
	if errors.Is(err, ErrNotFound) {
		// No checkpoint yet: synthesize from current thread values.
		return &StateSnapshot{
			ThreadID: threadID,
			Values:   thread.Values,
			Next:     []string{},
			Tasks:    []any{},
			Metadata: map[string]any{},
		}, nil
	}
	return snapshot, err
}

func (s *sqlThreads) AddStateSnapshot(ctx context.Context, threadID string, snapshot *StateSnapshot) (*StateSnapshot, error) {
	if _, err := s.Get(ctx, threadID, ""); err != nil {
		return nil, err
	}

	stored := cloneSnapshot(snapshot)
	stored.ThreadID = threadID
	stored.CheckpointID = uuid.NewString()
	stored.CreatedAt = utcNow()
	if stored.Values == nil {
		stored.Values = map[string]any{}
	}
	if stored.Next == nil {
		stored.Next = []string{}
	}
	if stored.Tasks == nil {
		stored.Tasks = []any{}
	}
	if stored.Metadata == nil {
		stored.Metadata = map[string]any{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	var seq int
	err = tx.QueryRowContext(ctx, s.db.Rebind(`
		SELECT COALESCE(MAX(seq), 0) FROM thread_snapshots WHERE thread_id = ?
	`), threadID).Scan(&seq)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if seq > 0 {
		var parentID string
		err = tx.QueryRowContext(ctx, s.db.Rebind(`
			SELECT checkpoint_id FROM thread_snapshots WHERE thread_id = ? AND seq = ?
		`), threadID, seq).Scan(&parentID)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		stored.ParentCheckpoint = map[string]any{"checkpoint_id": parentID}
	}

	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO thread_snapshots (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), stored.CheckpointID, threadID, seq+1, marshalJSON(stored.Values), marshalJSONSlice(stored.Next),
		marshalJSONSlice(stored.Tasks), marshalJSON(stored.Metadata), marshalJSON(stored.ParentCheckpoint),
		marshalJSONSlice(stored.Interrupts), stored.CreatedAt)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE threads SET state_values = ?, updated_at = ? WHERE id = ?
	`), marshalJSON(stored.Values), stored.CreatedAt, threadID)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *sqlThreads) GetHistory(ctx context.Context, threadID string, limit int, before string) ([]*StateSnapshot, error) {
	if _, err := s.Get(ctx, threadID, ""); err != nil {
		return nil, err
	}

	limit = ClampLimit(limit)
	query := `SELECT ` + snapshotColumns + ` FROM thread_snapshots WHERE thread_id = ?`
	args := []any{threadID}
	if before != "" {
		query += ` AND seq < COALESCE((SELECT seq FROM thread_snapshots WHERE thread_id = ? AND checkpoint_id = ?), 0)`
		args = append(args, threadID, before)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []*StateSnapshot{}
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snapshot)
	}
	return out, rows.Err()
}

func (s *sqlThreads) SetStatus(ctx context.Context, threadID, status string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE threads SET status = ?, updated_at = ? WHERE id = ?
	`), status, utcNow(), threadID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanThread(row rowScanner) (*Thread, error) {
	thread := &Thread{}
	var metadata, config, values, interrupts string
	err := row.Scan(&thread.ThreadID, &metadata, &config, &thread.Status, &values, &interrupts,
		&thread.CreatedAt, &thread.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	thread.Metadata = unmarshalMap(metadata)
	thread.Config = unmarshalMap(config)
	thread.Values = unmarshalMap(values)
	thread.Interrupts = unmarshalMap(interrupts)
	thread.CreatedAt = thread.CreatedAt.UTC()
	thread.UpdatedAt = thread.UpdatedAt.UTC()
	return thread, nil
}

func scanSnapshot(row rowScanner) (*StateSnapshot, error) {
	snapshot := &StateSnapshot{}
	var seq int
	var values, next, tasks, metadata, parent, interrupts string
	err := row.Scan(&snapshot.CheckpointID, &snapshot.ThreadID, &seq, &values, &next, &tasks,
		&metadata, &parent, &interrupts, &snapshot.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	snapshot.Values = unmarshalMap(values)
	snapshot.Next = []string{}
	_ = json.Unmarshal([]byte(next), &snapshot.Next)
	snapshot.Tasks = []any{}
	_ = json.Unmarshal([]byte(tasks), &snapshot.Tasks)
	snapshot.Metadata = unmarshalMap(metadata)
	if parent != "" && parent != "{}" && parent != "null" {
		snapshot.ParentCheckpoint = unmarshalMap(parent)
	}
	snapshot.Interrupts = []any{}
	_ = json.Unmarshal([]byte(interrupts), &snapshot.Interrupts)
	snapshot.CreatedAt = snapshot.CreatedAt.UTC()
	return snapshot, nil
}
