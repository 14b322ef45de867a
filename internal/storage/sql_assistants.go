package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/langline/langline/internal/db/dialect"
)

type sqlAssistants struct {
	*SQLStorage
}

const assistantColumns = `id, graph_id, config, context, metadata, name, description, version, created_at, updated_at`

func (s *sqlAssistants) Create(ctx context.Context, assistant *Assistant, caller, ifExists string) (*Assistant, error) {
	existing, err := s.Get(ctx, assistant.AssistantID, "")
	if err == nil {
		if ifExists == IfExistsDoNothing {
			return existing, nil
		}
		return nil, ErrConflict
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	stored := cloneAssistant(assistant)
	stored.Metadata = StampOwner(stored.Metadata, caller)
	stored.Version = 1
	now := utcNow()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	config, err := marshalAssistantConfig(&stored.Config)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO assistants (`+assistantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), stored.AssistantID, stored.GraphID, config, marshalJSON(stored.Context), marshalJSON(stored.Metadata),
		stored.Name, stored.Description, stored.Version, stored.CreatedAt, stored.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *sqlAssistants) Get(ctx context.Context, id, caller string) (*Assistant, error) {
	row := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT `+assistantColumns+` FROM assistants WHERE id = ?
	`), id)
	assistant, err := scanAssistant(row)
	if err != nil {
		return nil, err
	}
	if !CanRead(assistant.Owner(), caller) {
		return nil, ErrNotFound
	}
	return assistant, nil
}

func (s *sqlAssistants) Search(ctx context.Context, q AssistantQuery, caller string) ([]*Assistant, error) {
	where, args, appFilter := s.assistantWhere(q, caller)
	limit, offset := ClampLimit(q.Limit), ClampOffset(q.Offset)

	query := `SELECT ` + assistantColumns + ` FROM assistants WHERE ` + where +
		` ORDER BY ` + assistantOrderBy(q.SortBy, q.SortOrder)
	if !appFilter {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Assistant
	for rows.Next() {
		assistant, err := scanAssistant(rows)
		if err != nil {
			return nil, err
		}
		if appFilter && !MatchesMetadata(assistant.Metadata, q.Metadata) {
			continue
		}
		out = append(out, assistant)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if appFilter {
		out = sliceAssistants(out, limit, offset)
	}
	if out == nil {
		out = []*Assistant{}
	}
	return out, nil
}

func (s *sqlAssistants) Count(ctx context.Context, q AssistantQuery, caller string) (int, error) {
	where, args, appFilter := s.assistantWhere(q, caller)
	if !appFilter {
		var count int
		err := s.ro.QueryRowContext(ctx, s.ro.Rebind(
			`SELECT COUNT(*) FROM assistants WHERE `+where), args...).Scan(&count)
		return count, err
	}

	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(
		`SELECT metadata FROM assistants WHERE `+where), args...)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rows.Close() }()

	count := 0
	for rows.Next() {
		var metadata string
		if err := rows.Scan(&metadata); err != nil {
			return 0, err
		}
		if MatchesMetadata(unmarshalMap(metadata), q.Metadata) {
			count++
		}
	}
	return count, rows.Err()
}

// assistantWhere builds the SQL filter. The returned bool signals that the
// metadata subset match could not be pushed into SQL (SQLite) and must be
// applied in application code, along with pagination.
func (s *sqlAssistants) assistantWhere(q AssistantQuery, caller string) (string, []any, bool) {
	scope, args := s.readScope(caller)
	clauses := []string{scope}

	if q.GraphID != "" {
		clauses = append(clauses, "graph_id = ?")
		args = append(args, q.GraphID)
	}
	if q.Name != "" {
		clauses = append(clauses, fmt.Sprintf("name %s ?", dialect.Like(s.driver)))
		args = append(args, "%"+q.Name+"%")
	}

	appFilter := false
	if len(q.Metadata) > 0 {
		if dialect.IsPostgres(s.driver) {
			clauses = append(clauses, dialect.JSONContains(s.driver, "metadata", "?"))
			args = append(args, marshalJSON(q.Metadata))
		} else {
			appFilter = true
		}
	}
	return strings.Join(clauses, " AND "), args, appFilter
}

func (s *sqlAssistants) Update(ctx context.Context, id string, patch AssistantPatch, caller string) (*Assistant, error) {
	assistant, err := s.Get(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if !CanWrite(assistant.Owner(), caller) {
		return nil, ErrNotFound
	}

	if patch.GraphID != nil {
		assistant.GraphID = *patch.GraphID
	}
	if patch.Config != nil {
		assistant.Config = *cloneAssistantConfig(patch.Config)
	}
	if patch.Context != nil {
		assistant.Context = cloneMap(patch.Context)
	}
	if patch.Metadata != nil {
		assistant.Metadata = MergeMetadata(assistant.Metadata, patch.Metadata)
	}
	if patch.Name != nil {
		assistant.Name = *patch.Name
	}
	if patch.Description != nil {
		assistant.Description = *patch.Description
	}
	assistant.Version++
	assistant.UpdatedAt = utcNow()

	config, err := marshalAssistantConfig(&assistant.Config)
	if err != nil {
		return nil, err
	}
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE assistants
		SET graph_id = ?, config = ?, context = ?, metadata = ?, name = ?, description = ?, version = ?, updated_at = ?
		WHERE id = ?
	`), assistant.GraphID, config, marshalJSON(assistant.Context), marshalJSON(assistant.Metadata),
		assistant.Name, assistant.Description, assistant.Version, assistant.UpdatedAt, id)
	if err != nil {
		return nil, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, ErrNotFound
	}
	return assistant, nil
}

func (s *sqlAssistants) Delete(ctx context.Context, id, caller string) error {
	assistant, err := s.Get(ctx, id, "")
	if err != nil {
		return err
	}
	if !CanWrite(assistant.Owner(), caller) {
		return ErrNotFound
	}
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM assistants WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlAssistants) FindByGraphID(ctx context.Context, graphID string) (*Assistant, error) {
	row := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT `+assistantColumns+` FROM assistants
		WHERE graph_id = ? ORDER BY created_at ASC LIMIT 1
	`), graphID)
	return scanAssistant(row)
}

func assistantOrderBy(sortBy, sortOrder string) string {
	col := "created_at"
	switch sortBy {
	case "updated_at", "name", "graph_id":
		col = sortBy
	}
	dir := "DESC"
	if strings.EqualFold(sortOrder, "asc") {
		dir = "ASC"
	}
	return col + " " + dir
}

func sliceAssistants(list []*Assistant, limit, offset int) []*Assistant {
	if offset >= len(list) {
		return []*Assistant{}
	}
	end := offset + limit
	if end > len(list) {
		end = len(list)
	}
	return list[offset:end]
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssistant(row rowScanner) (*Assistant, error) {
	assistant := &Assistant{}
	var config, contextJSON, metadata string
	err := row.Scan(&assistant.AssistantID, &assistant.GraphID, &config, &contextJSON, &metadata,
		&assistant.Name, &assistant.Description, &assistant.Version, &assistant.CreatedAt, &assistant.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	assistant.Config = unmarshalAssistantConfig(config)
	assistant.Context = unmarshalMap(contextJSON)
	assistant.Metadata = unmarshalMap(metadata)
	assistant.CreatedAt = assistant.CreatedAt.UTC()
	assistant.UpdatedAt = assistant.UpdatedAt.UTC()
	return assistant, nil
}

func marshalAssistantConfig(c *AssistantConfig) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode assistant config: %w", err)
	}
	return string(b), nil
}

func unmarshalAssistantConfig(raw string) AssistantConfig {
	var c AssistantConfig
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &c)
	}
	return c
}
