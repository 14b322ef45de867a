package agentsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib" // catalog is a Postgres database
)

// AgentRecord is one catalog row, with its MCP tools joined in.
type AgentRecord struct {
	ID               string
	OrgID            string
	Name             string
	SystemPrompt     string
	RuntimeModelName string
	SamplingParams   map[string]any
	AssistantToolIDs []string
	MCPTools         []MCPTool
	AssistantID      string
}

// MCPTool is a tool row bound to an agent, grouped by server URL when
// mapped into assistant config.
type MCPTool struct {
	Name         string
	ServerName   string
	URL          string
	AuthRequired bool
}

// Catalog reads agents from the external store and optionally writes the
// local assistant ID back.
type Catalog interface {
	ListAgents(ctx context.Context, scope Scope) ([]*AgentRecord, error)
	GetAgent(ctx context.Context, agentID string) (*AgentRecord, error)
	WriteBackAssistantID(ctx context.Context, agentID, assistantID string) error
	Close() error
}

// SQLCatalog reads the catalog over a Postgres connection.
type SQLCatalog struct {
	db *sqlx.DB
}

// OpenCatalog connects to the catalog database.
func OpenCatalog(dsn string) (*SQLCatalog, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open agent catalog: %w", err)
	}
	db.SetMaxOpenConns(4)
	return &SQLCatalog{db: db}, nil
}

// Close releases the catalog connection pool.
func (c *SQLCatalog) Close() error { return c.db.Close() }

// Ping probes catalog reachability.
func (c *SQLCatalog) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

type agentRow struct {
	ID               string         `db:"id"`
	OrgID            sql.NullString `db:"org_id"`
	Name             sql.NullString `db:"name"`
	SystemPrompt     sql.NullString `db:"system_prompt"`
	RuntimeModelName sql.NullString `db:"runtime_model_name"`
	SamplingParams   sql.NullString `db:"sampling_params"`
	AssistantToolIDs sql.NullString `db:"assistant_tool_ids"`
	AssistantID      sql.NullString `db:"assistant_id"`
}

const agentColumns = `id, org_id, name, system_prompt, runtime_model_name,
	sampling_params, assistant_tool_ids, assistant_id`

// ListAgents returns the agents visible under the scope.
func (c *SQLCatalog) ListAgents(ctx context.Context, scope Scope) ([]*AgentRecord, error) {
	var (
		rows []agentRow
		err  error
	)
	switch scope.Kind {
	case ScopeNone:
		return nil, nil
	case ScopeAll:
		err = c.db.SelectContext(ctx, &rows, "SELECT "+agentColumns+" FROM agents")
	case ScopeOrgs:
		query, args, buildErr := sqlx.In("SELECT "+agentColumns+" FROM agents WHERE org_id IN (?)", scope.OrgIDs)
		if buildErr != nil {
			return nil, buildErr
		}
		err = c.db.SelectContext(ctx, &rows, c.db.Rebind(query), args...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog agents: %w", err)
	}

	records := make([]*AgentRecord, 0, len(rows))
	for i := range rows {
		record, err := c.hydrate(ctx, &rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// GetAgent returns one agent by ID, or sql.ErrNoRows.
func (c *SQLCatalog) GetAgent(ctx context.Context, agentID string) (*AgentRecord, error) {
	var row agentRow
	err := c.db.GetContext(ctx, &row,
		c.db.Rebind("SELECT "+agentColumns+" FROM agents WHERE id = ?"), agentID)
	if err != nil {
		return nil, err
	}
	return c.hydrate(ctx, &row)
}

// WriteBackAssistantID records the local assistant ID on the catalog row.
func (c *SQLCatalog) WriteBackAssistantID(ctx context.Context, agentID, assistantID string) error {
	_, err := c.db.ExecContext(ctx,
		c.db.Rebind("UPDATE agents SET assistant_id = ? WHERE id = ?"), assistantID, agentID)
	return err
}

func (c *SQLCatalog) hydrate(ctx context.Context, row *agentRow) (*AgentRecord, error) {
	record := &AgentRecord{
		ID:               row.ID,
		OrgID:            row.OrgID.String,
		Name:             row.Name.String,
		SystemPrompt:     row.SystemPrompt.String,
		RuntimeModelName: row.RuntimeModelName.String,
		AssistantID:      row.AssistantID.String,
	}
	if row.SamplingParams.Valid && row.SamplingParams.String != "" {
		if err := json.Unmarshal([]byte(row.SamplingParams.String), &record.SamplingParams); err != nil {
			return nil, fmt.Errorf("agent %s has malformed sampling_params: %w", row.ID, err)
		}
	}
	if row.AssistantToolIDs.Valid {
		record.AssistantToolIDs = parseToolIDs(row.AssistantToolIDs.String)
	}

	tools, err := c.agentTools(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	record.MCPTools = tools
	return record, nil
}

type mcpToolRow struct {
	Name         string         `db:"name"`
	ServerName   sql.NullString `db:"server_name"`
	URL          string         `db:"url"`
	AuthRequired bool           `db:"auth_required"`
}

func (c *SQLCatalog) agentTools(ctx context.Context, agentID string) ([]MCPTool, error) {
	var rows []mcpToolRow
	err := c.db.SelectContext(ctx, &rows, c.db.Rebind(`
		SELECT name, server_name, url, auth_required
		FROM agent_mcp_tools
		WHERE agent_id = ?
		ORDER BY url, name
	`), agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load MCP tools for agent %s: %w", agentID, err)
	}

	tools := make([]MCPTool, 0, len(rows))
	for _, r := range rows {
		tools = append(tools, MCPTool{
			Name:         r.Name,
			ServerName:   r.ServerName.String,
			URL:          r.URL,
			AuthRequired: r.AuthRequired,
		})
	}
	return tools, nil
}

// parseToolIDs accepts either a JSON array or a Postgres text[] literal.
func parseToolIDs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "{}" || raw == "[]" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err == nil {
			return ids
		}
		return nil
	}
	trimmed := strings.Trim(raw, "{}")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, strings.Trim(strings.TrimSpace(p), `"`))
	}
	return ids
}
