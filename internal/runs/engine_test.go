package runs

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langline/langline/internal/checkpoint"
	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/events/bus"
	"github.com/langline/langline/internal/graph"
	"github.com/langline/langline/internal/storage"
)

func newTestEngine(t *testing.T) (*Engine, storage.Storage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	registry := graph.NewRegistry(checkpoint.NewMemorySaver())
	registry.Register("agent", graph.NewEcho("agent"))
	log := logger.Default()
	return NewEngine(store, registry, bus.NewMemoryEventBus(log), nil, "agent", log), store
}

func seedThread(t *testing.T, store storage.Storage, owner string) *storage.Thread {
	t.Helper()
	thread, err := store.Threads().Create(context.Background(), &storage.Thread{
		ThreadID: uuid.NewString(),
		Status:   storage.ThreadStatusIdle,
		Values:   map[string]any{},
	}, owner, storage.IfExistsRaise)
	require.NoError(t, err)
	return thread
}

func seedAssistant(t *testing.T, store storage.Storage, owner string) *storage.Assistant {
	t.Helper()
	assistant, err := store.Assistants().Create(context.Background(), &storage.Assistant{
		AssistantID: uuid.NewString(),
		GraphID:     "agent",
		Config: storage.AssistantConfig{
			Tags:         []string{"base"},
			Configurable: map[string]any{"model_name": "claude-sonnet-4-5", "checkpoint_ns": "poison"},
		},
	}, owner, storage.IfExistsRaise)
	require.NoError(t, err)
	return assistant
}

func TestResolveAssistantFallsBackToGraphID(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seeded, err := store.Assistants().Create(ctx, &storage.Assistant{
		AssistantID: uuid.NewString(),
		GraphID:     "agent",
	}, storage.SystemOwner, storage.IfExistsRaise)
	require.NoError(t, err)

	// By UUID.
	got, err := engine.ResolveAssistant(ctx, seeded.AssistantID, "u1")
	require.NoError(t, err)
	assert.Equal(t, seeded.AssistantID, got.AssistantID)

	// By graph alias.
	got, err = engine.ResolveAssistant(ctx, "agent", "u1")
	require.NoError(t, err)
	assert.Equal(t, seeded.AssistantID, got.AssistantID)

	// Empty falls back to the default graph.
	got, err = engine.ResolveAssistant(ctx, "", "u1")
	require.NoError(t, err)
	assert.Equal(t, "agent", got.GraphID)

	_, err = engine.ResolveAssistant(ctx, "nope", "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateRunRejectConflict(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	assistant := seedAssistant(t, store, storage.SystemOwner)
	thread := seedThread(t, store, "u1")

	first, err := engine.CreateRun(ctx, CreateRunParams{
		ThreadID:          thread.ThreadID,
		Assistant:         assistant,
		Input:             "hello",
		MultitaskStrategy: storage.MultitaskEnqueue,
	})
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusPending, first.Status)

	_, err = engine.CreateRun(ctx, CreateRunParams{
		ThreadID:          thread.ThreadID,
		Assistant:         assistant,
		Input:             "again",
		MultitaskStrategy: storage.MultitaskReject,
	})
	assert.ErrorIs(t, err, ErrRunConflict)
}

func TestCreateRunInterruptFlipsActiveRun(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	assistant := seedAssistant(t, store, storage.SystemOwner)
	thread := seedThread(t, store, "u1")

	first, err := engine.CreateRun(ctx, CreateRunParams{
		ThreadID:  thread.ThreadID,
		Assistant: assistant,
		Input:     "hello",
	})
	require.NoError(t, err)

	second, err := engine.CreateRun(ctx, CreateRunParams{
		ThreadID:          thread.ThreadID,
		Assistant:         assistant,
		Input:             "again",
		MultitaskStrategy: storage.MultitaskInterrupt,
	})
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusPending, second.Status)

	interrupted, err := store.Runs().Get(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusInterrupted, interrupted.Status)
}

func TestCreateRunRollbackFailsActiveRun(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	assistant := seedAssistant(t, store, storage.SystemOwner)
	thread := seedThread(t, store, "u1")

	first, err := engine.CreateRun(ctx, CreateRunParams{
		ThreadID:  thread.ThreadID,
		Assistant: assistant,
		Input:     "hello",
	})
	require.NoError(t, err)

	_, err = engine.CreateRun(ctx, CreateRunParams{
		ThreadID:          thread.ThreadID,
		Assistant:         assistant,
		Input:             "again",
		MultitaskStrategy: storage.MultitaskRollback,
	})
	require.NoError(t, err)

	rolled, err := store.Runs().Get(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusError, rolled.Status)
}

func TestBuildRunnableConfigMergeOrder(t *testing.T) {
	engine, store := newTestEngine(t)
	assistant := seedAssistant(t, store, storage.SystemOwner)

	run := &storage.Run{
		RunID:       uuid.NewString(),
		ThreadID:    uuid.NewString(),
		AssistantID: assistant.AssistantID,
		Kwargs: map[string]any{
			"config": map[string]any{
				"tags":            []any{"per-run"},
				"recursion_limit": float64(7),
				"configurable": map[string]any{
					"model_name":    "override-model",
					"temperature":   0.2,
					"checkpoint_ns": "still-poison",
				},
			},
		},
	}

	cfg := engine.buildRunnableConfig(assistant, run, "tok-123")

	assert.Equal(t, []string{"base", "per-run"}, cfg.Tags)
	assert.Equal(t, 7, cfg.RecursionLimit)
	// Run config overrides the assistant's.
	assert.Equal(t, "override-model", cfg.Configurable["model_name"])
	// Runtime identifiers always win.
	assert.Equal(t, run.RunID, cfg.Configurable["run_id"])
	assert.Equal(t, run.ThreadID, cfg.Configurable["thread_id"])
	assert.Equal(t, assistant.AssistantID, cfg.Configurable["assistant_id"])
	assert.Equal(t, "tok-123", cfg.Configurable[TokenConfigurableKey])
	// checkpoint_ns never survives the merge.
	_, present := cfg.Configurable["checkpoint_ns"]
	assert.False(t, present)
}

func TestExecuteAccumulatesConversation(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	assistant := seedAssistant(t, store, storage.SystemOwner)
	thread := seedThread(t, store, "u1")

	run1, err := engine.CreateRun(ctx, CreateRunParams{
		ThreadID:  thread.ThreadID,
		Assistant: assistant,
		Input:     "my name is Luke",
	})
	require.NoError(t, err)
	state, err := engine.Execute(ctx, run1, assistant, "")
	require.NoError(t, err)
	require.Len(t, graph.Messages(state.Values), 2)

	run2, err := engine.CreateRun(ctx, CreateRunParams{
		ThreadID:  thread.ThreadID,
		Assistant: assistant,
		Input:     "what is my name?",
	})
	require.NoError(t, err)
	state, err = engine.Execute(ctx, run2, assistant, "")
	require.NoError(t, err)

	messages := graph.Messages(state.Values)
	require.Len(t, messages, 4)
	last, ok := messages[3].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ai", last["type"])
	assert.Contains(t, last["content"], "what is my name?")

	// The run finished and the thread idled.
	final, err := store.Runs().Get(ctx, run2.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusSuccess, final.Status)
	after, err := store.Threads().Get(ctx, thread.ThreadID, "u1")
	require.NoError(t, err)
	assert.Equal(t, storage.ThreadStatusIdle, after.Status)

	// Each run appended one snapshot.
	history, err := store.Threads().GetHistory(ctx, thread.ThreadID, 10, "")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestCancelOnlyActiveRuns(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	assistant := seedAssistant(t, store, storage.SystemOwner)
	thread := seedThread(t, store, "u1")

	run, err := engine.CreateRun(ctx, CreateRunParams{
		ThreadID:  thread.ThreadID,
		Assistant: assistant,
		Input:     "hello",
	})
	require.NoError(t, err)

	cancelled, err := engine.Cancel(ctx, thread.ThreadID, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusInterrupted, cancelled.Status)

	// A second cancel hits a terminal run.
	_, err = engine.Cancel(ctx, thread.ThreadID, run.RunID)
	assert.ErrorIs(t, err, ErrCancelConflict)
}

func TestJoinReturnsStateForFinishedRun(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	assistant := seedAssistant(t, store, storage.SystemOwner)
	thread := seedThread(t, store, "u1")

	run, err := engine.CreateRun(ctx, CreateRunParams{
		ThreadID:  thread.ThreadID,
		Assistant: assistant,
		Input:     "hello",
	})
	require.NoError(t, err)
	_, err = engine.Execute(ctx, run, assistant, "")
	require.NoError(t, err)

	state, err := engine.Join(ctx, thread.ThreadID, run.RunID)
	require.NoError(t, err)
	assert.Len(t, graph.Messages(state.Values), 2)
}
