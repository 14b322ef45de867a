package crons

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langline/langline/internal/checkpoint"
	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/events/bus"
	"github.com/langline/langline/internal/graph"
	"github.com/langline/langline/internal/runs"
	"github.com/langline/langline/internal/storage"
)

func newTestScheduler(t *testing.T) (*Scheduler, storage.Storage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	registry := graph.NewRegistry(checkpoint.NewMemorySaver())
	registry.Register("agent", graph.NewEcho("agent"))
	log := logger.Default()
	engine := runs.NewEngine(store, registry, bus.NewMemoryEventBus(log), nil, "agent", log)
	return NewScheduler(store, engine, bus.NewMemoryEventBus(log), time.Minute, log), store
}

func seedAssistant(t *testing.T, store storage.Storage) *storage.Assistant {
	t.Helper()
	assistant, err := store.Assistants().Create(context.Background(), &storage.Assistant{
		AssistantID: uuid.NewString(),
		GraphID:     "agent",
	}, storage.SystemOwner, storage.IfExistsRaise)
	require.NoError(t, err)
	return assistant
}

func TestTickFiresDueCron(t *testing.T) {
	scheduler, store := newTestScheduler(t)
	ctx := context.Background()
	assistant := seedAssistant(t, store)

	cron, err := store.Crons().Create(ctx, &storage.Cron{
		CronID:      uuid.NewString(),
		Schedule:    "*/5 * * * *",
		AssistantID: assistant.AssistantID,
		Payload:     map[string]any{"input": "ping"},
		UserID:      "u1",
		NextRunDate: time.Now().UTC().Add(-time.Minute),
	})
	require.NoError(t, err)

	scheduler.Tick(ctx)

	// The cron is now bound to a freshly created thread.
	after, err := store.Crons().Get(ctx, cron.CronID, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, after.ThreadID)

	thread, err := store.Threads().Get(ctx, after.ThreadID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "cron", thread.Metadata["created_by"])

	// One pending run carrying the cron id was enqueued.
	runList, err := store.Runs().ListByThread(ctx, after.ThreadID, 10, 0, "")
	require.NoError(t, err)
	require.Len(t, runList, 1)
	assert.Equal(t, storage.RunStatusPending, runList[0].Status)
	assert.Equal(t, cron.CronID, runList[0].Metadata["cron_id"])

	// The schedule advanced into the future.
	assert.True(t, after.NextRunDate.After(time.Now().UTC()))
}

func TestTickReusesBoundThread(t *testing.T) {
	scheduler, store := newTestScheduler(t)
	ctx := context.Background()
	assistant := seedAssistant(t, store)

	cron, err := store.Crons().Create(ctx, &storage.Cron{
		CronID:      uuid.NewString(),
		Schedule:    "*/5 * * * *",
		AssistantID: assistant.AssistantID,
		Payload:     map[string]any{"input": "ping"},
		UserID:      "u1",
		NextRunDate: time.Now().UTC().Add(-time.Minute),
	})
	require.NoError(t, err)

	scheduler.Tick(ctx)
	first, err := store.Crons().Get(ctx, cron.CronID, "u1")
	require.NoError(t, err)

	// Make it due again and re-tick: same thread, second run enqueued.
	require.NoError(t, store.Crons().SetNextRun(ctx, cron.CronID, time.Now().UTC().Add(-time.Minute)))
	scheduler.Tick(ctx)

	second, err := store.Crons().Get(ctx, cron.CronID, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.ThreadID, second.ThreadID)

	runList, err := store.Runs().ListByThread(ctx, first.ThreadID, 10, 0, "")
	require.NoError(t, err)
	assert.Len(t, runList, 2)
}

func TestTickDeletesExpiredCron(t *testing.T) {
	scheduler, store := newTestScheduler(t)
	ctx := context.Background()
	assistant := seedAssistant(t, store)

	endTime := time.Now().UTC().Add(-time.Hour)
	cron, err := store.Crons().Create(ctx, &storage.Cron{
		CronID:      uuid.NewString(),
		Schedule:    "*/5 * * * *",
		AssistantID: assistant.AssistantID,
		Payload:     map[string]any{},
		UserID:      "u1",
		EndTime:     &endTime,
		NextRunDate: time.Now().UTC().Add(-time.Minute),
	})
	require.NoError(t, err)

	scheduler.Tick(ctx)

	_, err = store.Crons().Get(ctx, cron.CronID, "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Nothing fired: no threads were created for the expired cron.
	count, err := store.Threads().Count(ctx, storage.ThreadQuery{}, "")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTickSkipsUnknownAssistant(t *testing.T) {
	scheduler, store := newTestScheduler(t)
	ctx := context.Background()

	cron, err := store.Crons().Create(ctx, &storage.Cron{
		CronID:      uuid.NewString(),
		Schedule:    "*/5 * * * *",
		AssistantID: uuid.NewString(),
		Payload:     map[string]any{},
		UserID:      "u1",
		NextRunDate: time.Now().UTC().Add(-time.Minute),
	})
	require.NoError(t, err)

	// The fire fails but the sweep survives and still advances the schedule.
	scheduler.Tick(ctx)

	after, err := store.Crons().Get(ctx, cron.CronID, "u1")
	require.NoError(t, err)
	assert.True(t, after.NextRunDate.After(time.Now().UTC()))
}
