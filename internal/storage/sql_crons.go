package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type sqlCrons struct {
	*SQLStorage
}

const cronColumns = `id, schedule, assistant_id, thread_id, end_time, payload, user_id, next_run_date, metadata, created_at, updated_at`

func (s *sqlCrons) Create(ctx context.Context, cron *Cron) (*Cron, error) {
	stored := cloneCron(cron)
	if stored.CronID == "" {
		stored.CronID = uuid.NewString()
	}
	now := utcNow()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	var endTime any
	if stored.EndTime != nil {
		endTime = *stored.EndTime
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO crons (`+cronColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), stored.CronID, stored.Schedule, stored.AssistantID, stored.ThreadID, endTime,
		marshalJSON(stored.Payload), stored.UserID, stored.NextRunDate, marshalJSON(stored.Metadata),
		stored.CreatedAt, stored.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *sqlCrons) Get(ctx context.Context, cronID, caller string) (*Cron, error) {
	row := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT `+cronColumns+` FROM crons WHERE id = ?
	`), cronID)
	cron, err := scanCron(row)
	if err != nil {
		return nil, err
	}
	if !CanRead(cron.Owner(), caller) {
		return nil, ErrNotFound
	}
	return cron, nil
}

func (s *sqlCrons) List(ctx context.Context, q CronQuery, caller string) ([]*Cron, error) {
	where, args := s.cronWhere(q, caller)
	query := `SELECT ` + cronColumns + ` FROM crons WHERE ` + where +
		` ORDER BY created_at ASC LIMIT ? OFFSET ?`
	args = append(args, ClampLimit(q.Limit), ClampOffset(q.Offset))

	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []*Cron{}
	for rows.Next() {
		cron, err := scanCron(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cron)
	}
	return out, rows.Err()
}

func (s *sqlCrons) Count(ctx context.Context, q CronQuery, caller string) (int, error) {
	where, args := s.cronWhere(q, caller)
	var count int
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(
		`SELECT COUNT(*) FROM crons WHERE `+where), args...).Scan(&count)
	return count, err
}

// cronWhere scopes listings to the caller. Cron ownership lives in user_id
// (with metadata owner as an override), so the scope checks both.
func (s *sqlCrons) cronWhere(q CronQuery, caller string) (string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if caller != "" {
		clauses = append(clauses, "(user_id = ? OR user_id = '' OR user_id = ?)")
		args = append(args, caller, SystemOwner)
	}
	if q.AssistantID != "" {
		clauses = append(clauses, "assistant_id = ?")
		args = append(args, q.AssistantID)
	}
	if q.ThreadID != "" {
		clauses = append(clauses, "thread_id = ?")
		args = append(args, q.ThreadID)
	}
	return strings.Join(clauses, " AND "), args
}

func (s *sqlCrons) Update(ctx context.Context, cronID string, patch map[string]any, caller string) (*Cron, error) {
	cron, err := s.Get(ctx, cronID, "")
	if err != nil {
		return nil, err
	}
	if !CanWrite(cron.Owner(), caller) {
		return nil, ErrNotFound
	}

	applyCronPatch(cron, patch)
	cron.UpdatedAt = utcNow()

	var endTime any
	if cron.EndTime != nil {
		endTime = *cron.EndTime
	}
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE crons
		SET schedule = ?, thread_id = ?, end_time = ?, payload = ?, next_run_date = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`), cron.Schedule, cron.ThreadID, endTime, marshalJSON(cron.Payload), cron.NextRunDate,
		marshalJSON(cron.Metadata), cron.UpdatedAt, cronID)
	if err != nil {
		return nil, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, ErrNotFound
	}
	return cron, nil
}

func (s *sqlCrons) Delete(ctx context.Context, cronID, caller string) error {
	cron, err := s.Get(ctx, cronID, "")
	if err != nil {
		return err
	}
	if !CanWrite(cron.Owner(), caller) {
		return ErrNotFound
	}
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM crons WHERE id = ?`), cronID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlCrons) Due(ctx context.Context, now time.Time) ([]*Cron, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT `+cronColumns+` FROM crons
		WHERE next_run_date IS NOT NULL AND next_run_date <= ?
		ORDER BY next_run_date ASC
	`), now.UTC())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []*Cron{}
	for rows.Next() {
		cron, err := scanCron(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cron)
	}
	return out, rows.Err()
}

func (s *sqlCrons) SetNextRun(ctx context.Context, cronID string, next time.Time) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE crons SET next_run_date = ?, updated_at = ? WHERE id = ?
	`), next.UTC(), utcNow(), cronID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCron(row rowScanner) (*Cron, error) {
	cron := &Cron{}
	var payload, metadata string
	var endTime, nextRun sql.NullTime
	err := row.Scan(&cron.CronID, &cron.Schedule, &cron.AssistantID, &cron.ThreadID, &endTime,
		&payload, &cron.UserID, &nextRun, &metadata, &cron.CreatedAt, &cron.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		end := endTime.Time.UTC()
		cron.EndTime = &end
	}
	if nextRun.Valid {
		cron.NextRunDate = nextRun.Time.UTC()
	}
	cron.Payload = unmarshalMap(payload)
	cron.Metadata = unmarshalMap(metadata)
	cron.CreatedAt = cron.CreatedAt.UTC()
	cron.UpdatedAt = cron.UpdatedAt.UTC()
	return cron, nil
}
