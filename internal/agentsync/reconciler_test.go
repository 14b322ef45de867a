package agentsync

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langline/langline/internal/common/config"
	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/storage"
)

type fakeCatalog struct {
	agents     map[string]*AgentRecord
	writeBacks map[string]string
	getCalls   int
}

func newFakeCatalog(records ...*AgentRecord) *fakeCatalog {
	c := &fakeCatalog{agents: map[string]*AgentRecord{}, writeBacks: map[string]string{}}
	for _, r := range records {
		c.agents[r.ID] = r
	}
	return c
}

func (c *fakeCatalog) ListAgents(_ context.Context, _ Scope) ([]*AgentRecord, error) {
	out := make([]*AgentRecord, 0, len(c.agents))
	for _, r := range c.agents {
		out = append(out, r)
	}
	return out, nil
}

func (c *fakeCatalog) GetAgent(_ context.Context, agentID string) (*AgentRecord, error) {
	c.getCalls++
	record, ok := c.agents[agentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return record, nil
}

func (c *fakeCatalog) WriteBackAssistantID(_ context.Context, agentID, assistantID string) error {
	c.writeBacks[agentID] = assistantID
	return nil
}

func (c *fakeCatalog) Close() error { return nil }

func newTestReconciler(t *testing.T, catalog Catalog, scope string) (*Reconciler, storage.Storage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	reconciler, err := New(store, catalog, config.AgentSyncConfig{
		Scope:     scope,
		WriteBack: true,
		LazyTTL:   300,
	}, config.GraphConfig{
		DefaultGraphID: "agent",
		DefaultModel:   "claude-sonnet-4-5",
	}, logger.Default())
	require.NoError(t, err)
	return reconciler, store
}

func TestStartupSyncCreatesSystemAssistants(t *testing.T) {
	catalog := newFakeCatalog(
		&AgentRecord{ID: "11111111-1111-1111-1111-111111111111", Name: "support", SystemPrompt: "help"},
		&AgentRecord{ID: "22222222-2222-2222-2222-222222222222", Name: "triage"},
	)
	reconciler, store := newTestReconciler(t, catalog, "all")
	ctx := context.Background()

	stats := reconciler.StartupSync(ctx)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Created)
	assert.Zero(t, stats.Failed)

	assistant, err := store.Assistants().Get(ctx, "11111111-1111-1111-1111-111111111111", storage.SystemOwner)
	require.NoError(t, err)
	assert.Equal(t, storage.SystemOwner, assistant.Owner())
	assert.Equal(t, "support", assistant.Name)
	assert.Equal(t, "help", assistant.Config.Configurable["system_prompt"])
	assert.Equal(t, "claude-sonnet-4-5", assistant.Config.Configurable["model_name"])
}

func TestStartupSyncIsIdempotent(t *testing.T) {
	catalog := newFakeCatalog(
		&AgentRecord{ID: "11111111-1111-1111-1111-111111111111", Name: "support"},
	)
	reconciler, _ := newTestReconciler(t, catalog, "all")
	ctx := context.Background()

	first := reconciler.StartupSync(ctx)
	assert.Equal(t, 1, first.Created)

	second := reconciler.StartupSync(ctx)
	assert.Equal(t, 1, second.Skipped)
	assert.Zero(t, second.Created)
	assert.Zero(t, second.Updated)
}

func TestStartupSyncUpdatesDriftedAssistant(t *testing.T) {
	record := &AgentRecord{ID: "11111111-1111-1111-1111-111111111111", Name: "support", SystemPrompt: "v1"}
	catalog := newFakeCatalog(record)
	reconciler, store := newTestReconciler(t, catalog, "all")
	ctx := context.Background()

	reconciler.StartupSync(ctx)

	record.SystemPrompt = "v2"
	stats := reconciler.StartupSync(ctx)
	assert.Equal(t, 1, stats.Updated)

	assistant, err := store.Assistants().Get(ctx, record.ID, storage.SystemOwner)
	require.NoError(t, err)
	assert.Equal(t, "v2", assistant.Config.Configurable["system_prompt"])
}

func TestStartupSyncNoneScopeIsNoop(t *testing.T) {
	catalog := newFakeCatalog(
		&AgentRecord{ID: "11111111-1111-1111-1111-111111111111", Name: "support"},
	)
	reconciler, store := newTestReconciler(t, catalog, "none")

	stats := reconciler.StartupSync(context.Background())
	assert.Zero(t, stats.Total)

	count, err := store.Assistants().Count(context.Background(), storage.AssistantQuery{}, storage.SystemOwner)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSyncAgentLazyTTLSuppressesRefresh(t *testing.T) {
	catalog := newFakeCatalog(
		&AgentRecord{ID: "11111111-1111-1111-1111-111111111111", Name: "support"},
	)
	reconciler, _ := newTestReconciler(t, catalog, "all")
	ctx := context.Background()

	require.NoError(t, reconciler.SyncAgent(ctx, "11111111-1111-1111-1111-111111111111"))
	assert.Equal(t, 1, catalog.getCalls)

	// Within the TTL the catalog is not consulted again.
	require.NoError(t, reconciler.SyncAgent(ctx, "11111111-1111-1111-1111-111111111111"))
	assert.Equal(t, 1, catalog.getCalls)
}

func TestSyncAgentUnknownAgent(t *testing.T) {
	reconciler, _ := newTestReconciler(t, newFakeCatalog(), "all")

	err := reconciler.SyncAgent(context.Background(), "33333333-3333-3333-3333-333333333333")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in catalog")
}

func TestWriteBackOnlyWhenAssistantIDDiffers(t *testing.T) {
	catalog := newFakeCatalog(
		&AgentRecord{ID: "11111111-1111-1111-1111-111111111111", Name: "no-writeback",
			AssistantID: "11111111-1111-1111-1111-111111111111"},
		&AgentRecord{ID: "22222222-2222-2222-2222-222222222222", Name: "needs-writeback"},
	)
	reconciler, _ := newTestReconciler(t, catalog, "all")

	reconciler.StartupSync(context.Background())

	_, wrote := catalog.writeBacks["11111111-1111-1111-1111-111111111111"]
	assert.False(t, wrote)
	assert.Equal(t, "22222222-2222-2222-2222-222222222222",
		catalog.writeBacks["22222222-2222-2222-2222-222222222222"])
}
