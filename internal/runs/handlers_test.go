package runs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/common/reqctx"
	"github.com/langline/langline/internal/graph"
	"github.com/langline/langline/internal/storage"
)

func newTestServer(t *testing.T) (*gin.Engine, *Engine, storage.Storage) {
	t.Helper()
	engine, store := newTestEngine(t)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		identity := c.GetHeader("x-test-identity")
		c.Request = c.Request.WithContext(reqctx.WithIdentity(c.Request.Context(), identity, ""))
	})
	NewHandlers(store, engine, logger.Default()).RegisterRoutes(router)
	return router, engine, store
}

func doJSON(t *testing.T, router *gin.Engine, method, path, identity string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if identity != "" {
		req.Header.Set("x-test-identity", identity)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			if name, ok := strings.CutPrefix(line, "event: "); ok {
				ev.name = name
			}
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				ev.data = data
			}
			if rest, ok := strings.CutPrefix(line, "data:"); ok && ev.data == "" {
				ev.data = rest
			}
		}
		require.NotEmpty(t, ev.name, "block without event name: %q", block)
		events = append(events, ev)
	}
	return events
}

func eventNames(events []sseEvent) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.name
	}
	return names
}

func TestWaitReturnsThreadState(t *testing.T) {
	router, _, store := newTestServer(t)
	seedAssistant(t, store, storage.SystemOwner)
	thread := seedThread(t, store, "u1")

	rec := doJSON(t, router, http.MethodPost, "/threads/"+thread.ThreadID+"/runs/wait", "u1", map[string]any{
		"input": "hello there",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var state storage.StateSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	messages := graph.Messages(state.Values)
	require.Len(t, messages, 2)
	reply := messages[1].(map[string]any)
	assert.Equal(t, "ai", reply["type"])
	assert.Contains(t, reply["content"], "hello there")
}

func TestWaitRejectsActiveRun(t *testing.T) {
	router, engine, store := newTestServer(t)
	assistant := seedAssistant(t, store, storage.SystemOwner)
	thread := seedThread(t, store, "u1")

	_, err := engine.CreateRun(context.Background(), CreateRunParams{
		ThreadID:  thread.ThreadID,
		Assistant: assistant,
		Input:     "first",
	})
	require.NoError(t, err)

	// wait defaults to reject while an active run exists.
	rec := doJSON(t, router, http.MethodPost, "/threads/"+thread.ThreadID+"/runs/wait", "u1", map[string]any{
		"input": "second",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateRunStaysPending(t *testing.T) {
	router, _, store := newTestServer(t)
	seedAssistant(t, store, storage.SystemOwner)
	thread := seedThread(t, store, "u1")

	rec := doJSON(t, router, http.MethodPost, "/threads/"+thread.ThreadID+"/runs", "u1", map[string]any{
		"input": "queued",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var run storage.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, storage.RunStatusPending, run.Status)

	stored, err := store.Runs().Get(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusPending, stored.Status)
}

func TestRunRequestValidation(t *testing.T) {
	router, _, store := newTestServer(t)
	seedAssistant(t, store, storage.SystemOwner)
	thread := seedThread(t, store, "u1")

	rec := doJSON(t, router, http.MethodPost, "/threads/"+thread.ThreadID+"/runs", "u1", map[string]any{
		"multitask_strategy": "overwrite",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/threads/nonexistent/runs", "u1", map[string]any{
		"input": "x",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Thread not found")
}

func TestStreamEventSequence(t *testing.T) {
	router, _, store := newTestServer(t)
	seedAssistant(t, store, storage.SystemOwner)
	thread := seedThread(t, store, "u1")

	rec := doJSON(t, router, http.MethodPost, "/threads/"+thread.ThreadID+"/runs/stream", "u1", map[string]any{
		"input": "stream me",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.Contains(t, rec.Header().Get("Location"), "/threads/"+thread.ThreadID+"/runs/")

	events := parseSSE(t, rec.Body.String())
	assert.Equal(t, []string{"metadata", "values", "messages", "updates", "values", "end"}, eventNames(events))

	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &meta))
	assert.NotEmpty(t, meta["run_id"])
	assert.EqualValues(t, 1, meta["attempt"])

	// First values frame: input only.
	var firstValues map[string]any
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &firstValues))
	assert.Len(t, graph.Messages(firstValues), 1)

	// The messages frame is a [delta, metadata] tuple.
	var tuple []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(events[2].data), &tuple))
	require.Len(t, tuple, 2)
	var delta map[string]any
	require.NoError(t, json.Unmarshal(tuple[0], &delta))
	assert.Equal(t, "ai", delta["type"])
	var msgMeta map[string]any
	require.NoError(t, json.Unmarshal(tuple[1], &msgMeta))
	assert.Equal(t, "model", msgMeta["langgraph_node"])
	assert.Equal(t, thread.ThreadID, msgMeta["thread_id"])

	// Final values frame: accumulated state.
	var finalValues map[string]any
	require.NoError(t, json.Unmarshal([]byte(events[4].data), &finalValues))
	assert.Len(t, graph.Messages(finalValues), 2)

	// The run finished even though the client read everything up front.
	runs, err := store.Runs().ListByThread(context.Background(), thread.ThreadID, 10, 0, "")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, storage.RunStatusSuccess, runs[0].Status)
}

func TestStreamExistingTerminalRunReplaysState(t *testing.T) {
	router, engine, store := newTestServer(t)
	assistant := seedAssistant(t, store, storage.SystemOwner)
	thread := seedThread(t, store, "u1")

	run, err := engine.CreateRun(context.Background(), CreateRunParams{
		ThreadID:  thread.ThreadID,
		Assistant: assistant,
		Input:     "already done",
	})
	require.NoError(t, err)
	_, err = engine.Execute(context.Background(), run, assistant, "")
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet,
		"/threads/"+thread.ThreadID+"/runs/"+run.RunID+"/stream", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	events := parseSSE(t, rec.Body.String())
	assert.Equal(t, []string{"metadata", "values", "end"}, eventNames(events))
}

func TestCancelRun(t *testing.T) {
	router, engine, store := newTestServer(t)
	assistant := seedAssistant(t, store, storage.SystemOwner)
	thread := seedThread(t, store, "u1")

	run, err := engine.CreateRun(context.Background(), CreateRunParams{
		ThreadID:  thread.ThreadID,
		Assistant: assistant,
		Input:     "cancel me",
	})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost,
		"/threads/"+thread.ThreadID+"/runs/"+run.RunID+"/cancel", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled storage.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, storage.RunStatusInterrupted, cancelled.Status)

	rec = doJSON(t, router, http.MethodPost,
		"/threads/"+thread.ThreadID+"/runs/"+run.RunID+"/cancel", "u1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Only pending or running runs can be cancelled")
}

func TestJoinFinishedRun(t *testing.T) {
	router, _, store := newTestServer(t)
	seedAssistant(t, store, storage.SystemOwner)
	thread := seedThread(t, store, "u1")

	rec := doJSON(t, router, http.MethodPost, "/threads/"+thread.ThreadID+"/runs/wait", "u1", map[string]any{
		"input": "join target",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	runs, err := store.Runs().ListByThread(context.Background(), thread.ThreadID, 10, 0, "")
	require.NoError(t, err)
	require.Len(t, runs, 1)

	rec = doJSON(t, router, http.MethodGet,
		"/threads/"+thread.ThreadID+"/runs/"+runs[0].RunID+"/join", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var state storage.StateSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Len(t, graph.Messages(state.Values), 2)
}

func TestListRunsFilterByStatus(t *testing.T) {
	router, engine, store := newTestServer(t)
	assistant := seedAssistant(t, store, storage.SystemOwner)
	thread := seedThread(t, store, "u1")

	run, err := engine.CreateRun(context.Background(), CreateRunParams{
		ThreadID:  thread.ThreadID,
		Assistant: assistant,
		Input:     "one",
	})
	require.NoError(t, err)
	_, err = engine.Execute(context.Background(), run, assistant, "")
	require.NoError(t, err)
	_, err = engine.CreateRun(context.Background(), CreateRunParams{
		ThreadID:  thread.ThreadID,
		Assistant: assistant,
		Input:     "two",
	})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/threads/"+thread.ThreadID+"/runs?status=pending", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []storage.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, storage.RunStatusPending, list[0].Status)

	rec = doJSON(t, router, http.MethodGet, "/threads/"+thread.ThreadID+"/runs?limit=nope", "u1", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestStatelessWaitDeletesEphemeralThread(t *testing.T) {
	router, _, store := newTestServer(t)
	seedAssistant(t, store, storage.SystemOwner)

	rec := doJSON(t, router, http.MethodPost, "/runs/wait", "u1", map[string]any{
		"input": "one shot",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var state storage.StateSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Len(t, graph.Messages(state.Values), 2)

	count, err := store.Threads().Count(context.Background(), storage.ThreadQuery{}, "u1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStatelessWaitKeepsThreadOnRequest(t *testing.T) {
	router, _, store := newTestServer(t)
	seedAssistant(t, store, storage.SystemOwner)

	rec := doJSON(t, router, http.MethodPost, "/runs/wait", "u1", map[string]any{
		"input":         "keep me",
		"on_completion": "keep",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	count, err := store.Threads().Count(context.Background(), storage.ThreadQuery{}, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStatelessCreateReturnsFinishedRun(t *testing.T) {
	router, _, store := newTestServer(t)
	seedAssistant(t, store, storage.SystemOwner)

	rec := doJSON(t, router, http.MethodPost, "/runs", "u1", map[string]any{
		"input": "fire and forget",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var run storage.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, storage.RunStatusSuccess, run.Status)

	// Ephemeral thread is gone along with its runs.
	_, err := store.Runs().Get(context.Background(), run.RunID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStatelessStreamEmitsFullSequence(t *testing.T) {
	router, _, store := newTestServer(t)
	seedAssistant(t, store, storage.SystemOwner)

	rec := doJSON(t, router, http.MethodPost, "/runs/stream", "u1", map[string]any{
		"input": "stream once",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	events := parseSSE(t, rec.Body.String())
	assert.Equal(t, []string{"metadata", "values", "messages", "updates", "values", "end"}, eventNames(events))

	count, err := store.Threads().Count(context.Background(), storage.ThreadQuery{}, "u1")
	require.NoError(t, err)
	assert.Zero(t, count)
}
