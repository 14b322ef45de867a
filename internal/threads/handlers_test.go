package threads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/common/reqctx"
	"github.com/langline/langline/internal/storage"
)

func newTestRouter(t *testing.T, store storage.Storage) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		identity := c.GetHeader("x-test-identity")
		c.Request = c.Request.WithContext(reqctx.WithIdentity(c.Request.Context(), identity, ""))
	})
	NewHandlers(store, logger.Default()).RegisterRoutes(router)
	return router
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

func createThread(t *testing.T, router *gin.Engine, identity string, body map[string]any) storage.Thread {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/threads", identity, body)
	require.Equal(t, http.StatusOK, rec.Code)
	var thread storage.Thread
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &thread))
	return thread
}

func TestCreateThreadMintsIDAndDefaults(t *testing.T) {
	router := newTestRouter(t, storage.NewMemoryStorage())

	thread := createThread(t, router, "u1", nil)
	assert.NotEmpty(t, thread.ThreadID)
	assert.Equal(t, storage.ThreadStatusIdle, thread.Status)
	assert.NotNil(t, thread.Values)
}

func TestCreateThreadValidatesIfExists(t *testing.T) {
	router := newTestRouter(t, storage.NewMemoryStorage())

	rec := doJSON(t, router, http.MethodPost, "/threads", "u1", map[string]any{"if_exists": "merge"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestThreadOwnerIsolationButStateIsOpen(t *testing.T) {
	store := storage.NewMemoryStorage()
	router := newTestRouter(t, store)

	thread := createThread(t, router, "u1", nil)

	// The thread record itself stays owner-scoped.
	rec := doJSON(t, router, http.MethodGet, "/threads/"+thread.ThreadID, "u2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// State reads are not: the thread ID is the access token.
	rec = doJSON(t, router, http.MethodGet, "/threads/"+thread.ThreadID+"/state", "u2", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateThreadMergesMetadata(t *testing.T) {
	router := newTestRouter(t, storage.NewMemoryStorage())

	thread := createThread(t, router, "u1", map[string]any{"metadata": map[string]any{"a": "1"}})

	rec := doJSON(t, router, http.MethodPatch, "/threads/"+thread.ThreadID, "u1", map[string]any{
		"metadata": map[string]any{"b": "2"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated storage.Thread
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "1", updated.Metadata["a"])
	assert.Equal(t, "2", updated.Metadata["b"])
}

func TestDeleteThreadReturnsEmptyObject(t *testing.T) {
	router := newTestRouter(t, storage.NewMemoryStorage())

	thread := createThread(t, router, "u1", nil)
	rec := doJSON(t, router, http.MethodDelete, "/threads/"+thread.ThreadID, "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "{}", rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/threads/"+thread.ThreadID, "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStateReturnsLatestSnapshot(t *testing.T) {
	store := storage.NewMemoryStorage()
	router := newTestRouter(t, store)
	ctx := context.Background()

	thread := createThread(t, router, "u1", nil)
	_, err := store.Threads().AddStateSnapshot(ctx, thread.ThreadID, &storage.StateSnapshot{
		Values: map[string]any{"messages": []any{map[string]any{"type": "human", "content": "hi"}}},
	})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/threads/"+thread.ThreadID+"/state", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var state storage.StateSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.NotEmpty(t, state.CheckpointID)
	assert.Len(t, state.Values["messages"], 1)
}

func TestHistoryLimitAndCursor(t *testing.T) {
	store := storage.NewMemoryStorage()
	router := newTestRouter(t, store)
	ctx := context.Background()

	thread := createThread(t, router, "u1", nil)
	for i := 0; i < 15; i++ {
		_, err := store.Threads().AddStateSnapshot(ctx, thread.ThreadID, &storage.StateSnapshot{
			Values: map[string]any{"step": i},
		})
		require.NoError(t, err)
	}

	// GET defaults to 10, newest first.
	rec := doJSON(t, router, http.MethodGet, "/threads/"+thread.ThreadID+"/history", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshots []storage.StateSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshots))
	require.Len(t, snapshots, 10)
	assert.EqualValues(t, 14, snapshots[0].Values["step"])

	// POST with a before cursor pages past the newest snapshot.
	rec = doJSON(t, router, http.MethodPost, "/threads/"+thread.ThreadID+"/history", "u1", map[string]any{
		"limit":  5,
		"before": snapshots[0].CheckpointID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshots))
	require.Len(t, snapshots, 5)
	assert.EqualValues(t, 13, snapshots[0].Values["step"])

	rec = doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/threads/%s/history?limit=3", thread.ThreadID), "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshots))
	assert.Len(t, snapshots, 3)
}

func TestSearchThreadsValidatesStatus(t *testing.T) {
	router := newTestRouter(t, storage.NewMemoryStorage())

	rec := doJSON(t, router, http.MethodPost, "/threads/search", "u1", map[string]any{"status": "sleeping"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSearchAndCountThreads(t *testing.T) {
	router := newTestRouter(t, storage.NewMemoryStorage())

	createThread(t, router, "u1", map[string]any{"metadata": map[string]any{"project": "x"}})
	createThread(t, router, "u1", nil)
	createThread(t, router, "u2", nil)

	rec := doJSON(t, router, http.MethodPost, "/threads/search", "u1", map[string]any{
		"metadata": map[string]any{"project": "x"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var results []storage.Thread
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	assert.Len(t, results, 1)

	rec = doJSON(t, router, http.MethodPost, "/threads/count", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Body.String())
}
