package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langline/langline/internal/db"
)

func newSQLiteStorage(t *testing.T) Storage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	writer, err := db.OpenSQLite(path)
	require.NoError(t, err)
	store, err := NewSQLStorage(db.NewPool(writer, writer, writer.DriverName()), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLAssistantRoundTrip(t *testing.T) {
	s := newSQLiteStorage(t)
	ctx := context.Background()
	id := uuid.NewString()

	created, err := s.Assistants().Create(ctx, &Assistant{
		AssistantID: id,
		GraphID:     "agent",
		Name:        "helper",
		Config: AssistantConfig{
			Tags:         []string{"demo"},
			Configurable: map[string]any{"model_name": "claude-sonnet-4-5"},
		},
		Metadata: map[string]any{"team": "search"},
	}, "u1", IfExistsRaise)
	require.NoError(t, err)
	assert.Equal(t, 1, created.Version)

	got, err := s.Assistants().Get(ctx, id, "u1")
	require.NoError(t, err)
	assert.Equal(t, "helper", got.Name)
	assert.Equal(t, []string{"demo"}, got.Config.Tags)
	assert.Equal(t, "claude-sonnet-4-5", got.Config.Configurable["model_name"])
	assert.Equal(t, "u1", got.Owner())

	_, err = s.Assistants().Get(ctx, id, "u2")
	assert.ErrorIs(t, err, ErrNotFound)

	name := "renamed"
	updated, err := s.Assistants().Update(ctx, id, AssistantPatch{Name: &name}, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	// Metadata subset match is applied in application code on SQLite.
	found, err := s.Assistants().Search(ctx, AssistantQuery{Metadata: map[string]any{"team": "search"}}, "u1")
	require.NoError(t, err)
	require.Len(t, found, 1)

	missing, err := s.Assistants().Search(ctx, AssistantQuery{Metadata: map[string]any{"team": "other"}}, "u1")
	require.NoError(t, err)
	assert.Empty(t, missing)

	count, err := s.Assistants().Count(ctx, AssistantQuery{Metadata: map[string]any{"team": "search"}}, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	byGraph, err := s.Assistants().FindByGraphID(ctx, "agent")
	require.NoError(t, err)
	assert.Equal(t, id, byGraph.AssistantID)

	require.NoError(t, s.Assistants().Delete(ctx, id, "u1"))
	_, err = s.Assistants().Get(ctx, id, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLThreadSnapshots(t *testing.T) {
	s := newSQLiteStorage(t)
	ctx := context.Background()
	threadID := uuid.NewString()

	_, err := s.Threads().Create(ctx, &Thread{ThreadID: threadID}, "u1", IfExistsRaise)
	require.NoError(t, err)

	state, err := s.Threads().GetState(ctx, threadID)
	require.NoError(t, err)
	assert.Empty(t, state.CheckpointID)

	first, err := s.Threads().AddStateSnapshot(ctx, threadID, &StateSnapshot{
		Values: map[string]any{"messages": []any{map[string]any{"type": "human", "content": "hi"}}},
	})
	require.NoError(t, err)
	assert.Nil(t, first.ParentCheckpoint)

	second, err := s.Threads().AddStateSnapshot(ctx, threadID, &StateSnapshot{
		Values: map[string]any{"messages": []any{"a", "b"}},
	})
	require.NoError(t, err)
	require.NotNil(t, second.ParentCheckpoint)
	assert.Equal(t, first.CheckpointID, second.ParentCheckpoint["checkpoint_id"])

	state, err = s.Threads().GetState(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, second.CheckpointID, state.CheckpointID)

	history, err := s.Threads().GetHistory(ctx, threadID, 10, "")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.CheckpointID, history[0].CheckpointID)

	older, err := s.Threads().GetHistory(ctx, threadID, 10, second.CheckpointID)
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, first.CheckpointID, older[0].CheckpointID)

	thread, err := s.Threads().Get(ctx, threadID, "u1")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, thread.Values["messages"])

	// Delete cascades to snapshots and runs.
	run, err := s.Runs().Create(ctx, &Run{ThreadID: threadID, AssistantID: "a", Status: RunStatusSuccess})
	require.NoError(t, err)
	require.NoError(t, s.Threads().Delete(ctx, threadID, "u1"))
	_, err = s.Runs().Get(ctx, run.RunID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLRunStatusGuard(t *testing.T) {
	s := newSQLiteStorage(t)
	ctx := context.Background()
	threadID := uuid.NewString()

	run, err := s.Runs().Create(ctx, &Run{ThreadID: threadID, AssistantID: "a", MultitaskStrategy: MultitaskReject})
	require.NoError(t, err)
	assert.Equal(t, RunStatusPending, run.Status)

	active, err := s.Runs().GetActiveRun(ctx, threadID)
	require.NoError(t, err)
	require.NotNil(t, active)

	require.NoError(t, s.Runs().UpdateStatus(ctx, run.RunID, RunStatusError))
	require.NoError(t, s.Runs().UpdateStatus(ctx, run.RunID, RunStatusSuccess))

	got, err := s.Runs().Get(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusError, got.Status)

	active, err = s.Runs().GetActiveRun(ctx, threadID)
	require.NoError(t, err)
	assert.Nil(t, active)

	assert.ErrorIs(t, s.Runs().UpdateStatus(ctx, "missing", RunStatusError), ErrNotFound)
}

func TestSQLStoreItemUpsert(t *testing.T) {
	s := newSQLiteStorage(t)
	ctx := context.Background()

	first, err := s.Items().Put(ctx, "u1", "memories", "food", map[string]any{"v": "pizza"}, nil)
	require.NoError(t, err)

	second, err := s.Items().Put(ctx, "u1", "memories", "food", map[string]any{"v": "sushi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "sushi", second.Value["v"])
	assert.WithinDuration(t, first.CreatedAt, second.CreatedAt, time.Second)

	// Same key under a different owner is a separate row.
	_, err = s.Items().Put(ctx, "u2", "memories", "food", map[string]any{"v": "ramen"}, nil)
	require.NoError(t, err)

	items, err := s.Items().Search(ctx, "u1", "mem", 10, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	namespaces, err := s.Items().ListNamespaces(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"memories"}, namespaces)
}

func TestSQLCronDueSweep(t *testing.T) {
	s := newSQLiteStorage(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	duePast, err := s.Crons().Create(ctx, &Cron{Schedule: "* * * * *", AssistantID: "agent", UserID: "u1", NextRunDate: past})
	require.NoError(t, err)
	_, err = s.Crons().Create(ctx, &Cron{Schedule: "0 0 * * *", AssistantID: "agent", UserID: "u2", NextRunDate: future})
	require.NoError(t, err)

	due, err := s.Crons().Due(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, duePast.CronID, due[0].CronID)

	// Scheduler sweep crosses owners; a user listing does not.
	all, err := s.Crons().List(ctx, CronQuery{}, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := s.Crons().List(ctx, CronQuery{}, "u1")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}
