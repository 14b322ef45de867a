package agentsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langline/langline/internal/storage"
)

func TestBuildConfigurableSpreadsSamplingParams(t *testing.T) {
	record := &AgentRecord{
		ID:               "agent-1",
		Name:             "support",
		SystemPrompt:     "be helpful",
		RuntimeModelName: "claude-sonnet-4-5",
		SamplingParams:   map[string]any{"temperature": 0.3, "max_tokens": float64(2048)},
		AssistantToolIDs: []string{"tool-a", "tool-b"},
	}

	configurable := buildConfigurable(record, "fallback-model")

	// Sampling params sit flat at the top level, not nested.
	assert.Equal(t, 0.3, configurable["temperature"])
	assert.Equal(t, float64(2048), configurable["max_tokens"])
	assert.Equal(t, "claude-sonnet-4-5", configurable["model_name"])
	assert.Equal(t, "be helpful", configurable["system_prompt"])
	assert.Equal(t, []any{"tool-a", "tool-b"}, configurable["agent_tools"])
	_, hasMCP := configurable["mcp_config"]
	assert.False(t, hasMCP)
}

func TestBuildConfigurableDefaultsModel(t *testing.T) {
	configurable := buildConfigurable(&AgentRecord{ID: "agent-1"}, "fallback-model")
	assert.Equal(t, "fallback-model", configurable["model_name"])
	_, hasPrompt := configurable["system_prompt"]
	assert.False(t, hasPrompt)
}

func TestGroupMCPServersByURL(t *testing.T) {
	tools := []MCPTool{
		{Name: "search", ServerName: "search-srv", URL: "https://mcp.example.com/search", AuthRequired: true},
		{Name: "search_news", ServerName: "search-srv", URL: "https://mcp.example.com/search", AuthRequired: true},
		{Name: "db_query", ServerName: "db-srv", URL: "https://mcp.example.com/db"},
		{Name: "orphan", ServerName: "", URL: ""},
	}

	servers := groupMCPServers(tools)
	require.Len(t, servers, 2)

	first := servers[0].(map[string]any)
	assert.Equal(t, "search-srv", first["name"])
	assert.Equal(t, "https://mcp.example.com/search", first["url"])
	assert.Equal(t, true, first["auth_required"])
	// No per-server tools filter key.
	_, hasTools := first["tools"]
	assert.False(t, hasTools)

	second := servers[1].(map[string]any)
	assert.Equal(t, "db-srv", second["name"])
}

func TestBuildAssistantIdentityAndStamps(t *testing.T) {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	record := &AgentRecord{ID: "7f0f2a44-51f1-4f5e-92d0-2b51a86d11bb", Name: "support"}

	assistant := buildAssistant(record, "agent", "fallback-model", now)

	// The catalog UUID doubles as the assistant ID so re-syncs are idempotent.
	assert.Equal(t, record.ID, assistant.AssistantID)
	assert.Equal(t, "agent", assistant.GraphID)
	assert.Equal(t, storage.SystemOwner, assistant.Metadata[storage.OwnerMetadataKey])
	assert.Equal(t, record.ID, assistant.Metadata["supabase_agent_id"])
	assert.Equal(t, "2026-08-24T10:00:00Z", assistant.Metadata["synced_at"])
}
