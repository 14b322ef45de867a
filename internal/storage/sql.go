package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/langline/langline/internal/db"
	"github.com/langline/langline/internal/db/dialect"
)

// SQLStorage backs the resource stores with PostgreSQL or SQLite through a
// shared writer/reader pool. All JSON documents are stored as TEXT so the
// same statements run on both engines; owner scoping uses dialect helpers.
type SQLStorage struct {
	pool   *db.Pool
	db     *sqlx.DB // writer
	ro     *sqlx.DB // reader
	driver string
	ownsDB bool
}

// NewSQLStorage wraps an existing connection pool and initializes the schema.
func NewSQLStorage(pool *db.Pool, ownsDB bool) (*SQLStorage, error) {
	s := &SQLStorage{
		pool:   pool,
		db:     pool.Writer(),
		ro:     pool.Reader(),
		driver: pool.Driver(),
		ownsDB: ownsDB,
	}
	if err := s.initSchema(); err != nil {
		if ownsDB {
			_ = pool.Close()
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStorage) Assistants() AssistantStore { return &sqlAssistants{s} }
func (s *SQLStorage) Threads() ThreadStore       { return &sqlThreads{s} }
func (s *SQLStorage) Runs() RunStore             { return &sqlRuns{s} }
func (s *SQLStorage) Items() ItemStore           { return &sqlItems{s} }
func (s *SQLStorage) Crons() CronStore           { return &sqlCrons{s} }

func (s *SQLStorage) Counts(ctx context.Context) (Counts, error) {
	var counts Counts
	for _, q := range []struct {
		table string
		dst   *int
	}{
		{"assistants", &counts.Assistants},
		{"threads", &counts.Threads},
		{"runs", &counts.Runs},
		{"store_items", &counts.StoreItems},
		{"crons", &counts.Crons},
	} {
		if err := s.ro.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, q.table)).Scan(q.dst); err != nil {
			return Counts{}, err
		}
	}
	return counts, nil
}

func (s *SQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStorage) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.pool.Close()
}

// initSchema creates tables and indexes if they don't exist.
func (s *SQLStorage) initSchema() error {
	if _, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS assistants (
		id TEXT PRIMARY KEY,
		graph_id TEXT NOT NULL,
		config TEXT DEFAULT '{}',
		context TEXT DEFAULT '{}',
		metadata TEXT DEFAULT '{}',
		name TEXT DEFAULT '',
		description TEXT DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		metadata TEXT DEFAULT '{}',
		config TEXT DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'idle',
		state_values TEXT DEFAULT '{}',
		interrupts TEXT DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS thread_snapshots (
		checkpoint_id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		state_values TEXT DEFAULT '{}',
		next_nodes TEXT DEFAULT '[]',
		tasks TEXT DEFAULT '[]',
		metadata TEXT DEFAULT '{}',
		parent_checkpoint TEXT DEFAULT '',
		interrupts TEXT DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		UNIQUE(thread_id, seq)
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		assistant_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		metadata TEXT DEFAULT '{}',
		kwargs TEXT DEFAULT '{}',
		multitask_strategy TEXT DEFAULT 'reject',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS store_items (
		namespace TEXT NOT NULL,
		item_key TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		value TEXT DEFAULT '{}',
		metadata TEXT DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (namespace, item_key, owner_id)
	);

	CREATE TABLE IF NOT EXISTS crons (
		id TEXT PRIMARY KEY,
		schedule TEXT NOT NULL,
		assistant_id TEXT NOT NULL,
		thread_id TEXT DEFAULT '',
		end_time TIMESTAMP,
		payload TEXT DEFAULT '{}',
		user_id TEXT DEFAULT '',
		next_run_date TIMESTAMP,
		metadata TEXT DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`); err != nil {
		return err
	}
	return s.initIndexes()
}

func (s *SQLStorage) initIndexes() error {
	_, err := s.db.Exec(`
	CREATE INDEX IF NOT EXISTS idx_assistants_graph_id ON assistants(graph_id);
	CREATE INDEX IF NOT EXISTS idx_snapshots_thread_seq ON thread_snapshots(thread_id, seq);
	CREATE INDEX IF NOT EXISTS idx_runs_thread_id ON runs(thread_id);
	CREATE INDEX IF NOT EXISTS idx_runs_thread_status ON runs(thread_id, status);
	CREATE INDEX IF NOT EXISTS idx_store_items_owner_ns ON store_items(owner_id, namespace);
	CREATE INDEX IF NOT EXISTS idx_crons_next_run ON crons(next_run_date);
	`)
	return err
}

// readScope returns a WHERE fragment restricting rows to those the caller may
// read, plus its bind args. An empty caller reads everything.
func (s *SQLStorage) readScope(caller string) (string, []any) {
	if caller == "" {
		return "1=1", nil
	}
	owner := dialect.JSONExtract(s.driver, "metadata", OwnerMetadataKey)
	return fmt.Sprintf("(%s IS NULL OR %s = '' OR %s = ? OR %s = ?)", owner, owner, owner, owner),
		[]any{caller, SystemOwner}
}

func marshalJSON(m map[string]any) string {
	if m == nil {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func marshalJSONSlice(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "[]"
	}
	return string(b)
}

func unmarshalMap(raw string) map[string]any {
	out := map[string]any{}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &out)
	}
	return out
}

func utcNow() time.Time {
	return time.Now().UTC()
}
