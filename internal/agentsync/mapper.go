package agentsync

import (
	"time"

	"github.com/langline/langline/internal/storage"
)

// buildConfigurable assembles the assistant configurable for a catalog
// agent. Sampling params spread flat; MCP tools group into servers by URL.
// The per-server "tools" filter key is deliberately omitted: including it
// made clients reject legitimate tool names.
func buildConfigurable(record *AgentRecord, defaultModel string) map[string]any {
	configurable := map[string]any{}
	for k, v := range record.SamplingParams {
		configurable[k] = v
	}

	model := record.RuntimeModelName
	if model == "" {
		model = defaultModel
	}
	configurable["model_name"] = model

	if record.SystemPrompt != "" {
		configurable["system_prompt"] = record.SystemPrompt
	}
	if len(record.AssistantToolIDs) > 0 {
		tools := make([]any, len(record.AssistantToolIDs))
		for i, id := range record.AssistantToolIDs {
			tools[i] = id
		}
		configurable["agent_tools"] = tools
	}
	if servers := groupMCPServers(record.MCPTools); len(servers) > 0 {
		configurable["mcp_config"] = map[string]any{"servers": servers}
	}
	return configurable
}

// groupMCPServers groups tool rows into one server entry per endpoint URL,
// preserving first-seen order.
func groupMCPServers(tools []MCPTool) []any {
	var order []string
	byURL := map[string]map[string]any{}
	for _, tool := range tools {
		if tool.URL == "" {
			continue
		}
		if _, ok := byURL[tool.URL]; !ok {
			name := tool.ServerName
			if name == "" {
				name = tool.Name
			}
			byURL[tool.URL] = map[string]any{
				"name":          name,
				"url":           tool.URL,
				"auth_required": tool.AuthRequired,
			}
			order = append(order, tool.URL)
		}
	}

	servers := make([]any, 0, len(order))
	for _, url := range order {
		servers = append(servers, byURL[url])
	}
	return servers
}

// buildAssistant maps a catalog agent onto the system-owned assistant it
// should reconcile into. The agent's catalog UUID doubles as assistant ID
// so the reconcile is idempotent.
func buildAssistant(record *AgentRecord, graphID, defaultModel string, now time.Time) *storage.Assistant {
	return &storage.Assistant{
		AssistantID: record.ID,
		GraphID:     graphID,
		Name:        record.Name,
		Config: storage.AssistantConfig{
			Configurable: buildConfigurable(record, defaultModel),
		},
		Metadata: map[string]any{
			storage.OwnerMetadataKey: storage.SystemOwner,
			"supabase_agent_id":      record.ID,
			"synced_at":              now.UTC().Format(time.RFC3339),
		},
	}
}
