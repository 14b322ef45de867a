package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/langline/langline/internal/db/dialect"
)

type sqlItems struct {
	*SQLStorage
}

const itemColumns = `namespace, item_key, owner_id, value, metadata, created_at, updated_at`

func (s *sqlItems) Put(ctx context.Context, owner, namespace, key string, value, metadata map[string]any) (*StoreItem, error) {
	now := utcNow()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO store_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		`+dialect.UpsertConflict("namespace, item_key, owner_id")+`
		value = excluded.value, metadata = excluded.metadata, updated_at = excluded.updated_at
	`), namespace, key, owner, marshalJSON(value), marshalJSON(metadata), now, now)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, owner, namespace, key)
}

func (s *sqlItems) Get(ctx context.Context, owner, namespace, key string) (*StoreItem, error) {
	row := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT `+itemColumns+` FROM store_items
		WHERE namespace = ? AND item_key = ? AND owner_id = ?
	`), namespace, key, owner)
	return scanItem(row)
}

func (s *sqlItems) Delete(ctx context.Context, owner, namespace, key string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM store_items WHERE namespace = ? AND item_key = ? AND owner_id = ?
	`), namespace, key, owner)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlItems) Search(ctx context.Context, owner, namespacePrefix string, limit, offset int) ([]*StoreItem, error) {
	query := `SELECT ` + itemColumns + ` FROM store_items WHERE owner_id = ?`
	args := []any{owner}
	if namespacePrefix != "" {
		// Namespaces are validated upstream to dot-separated labels, so the
		// prefix cannot carry LIKE wildcards.
		query += ` AND namespace LIKE ?`
		args = append(args, namespacePrefix+"%")
	}
	query += ` ORDER BY namespace, item_key LIMIT ? OFFSET ?`
	args = append(args, ClampLimit(limit), ClampOffset(offset))

	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []*StoreItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *sqlItems) ListNamespaces(ctx context.Context, owner string) ([]string, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT DISTINCT namespace FROM store_items WHERE owner_id = ? ORDER BY namespace
	`), owner)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []string{}
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}

func scanItem(row rowScanner) (*StoreItem, error) {
	item := &StoreItem{}
	var value, metadata string
	err := row.Scan(&item.Namespace, &item.Key, &item.OwnerID, &value, &metadata,
		&item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	item.Value = unmarshalMap(value)
	item.Metadata = unmarshalMap(metadata)
	if len(item.Metadata) == 0 {
		item.Metadata = nil
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}
