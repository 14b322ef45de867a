package runs

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langline/langline/internal/common/httpapi"
	"github.com/langline/langline/internal/common/reqctx"
	"github.com/langline/langline/internal/storage"
)

// prepareStateless binds the body, creates an ephemeral thread, and creates
// the run on it. The returned cleanup applies on_completion.
func (h *Handlers) prepareStateless(c *gin.Context) (*storage.Run, *storage.Assistant, func(), bool) {
	var body runRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return nil, nil, nil, false
	}
	if msg := body.validate(); msg != "" {
		httpapi.Detail(c, http.StatusUnprocessableEntity, msg)
		return nil, nil, nil, false
	}

	ctx := c.Request.Context()
	identity := reqctx.Identity(ctx)

	assistant, err := h.engine.ResolveAssistant(ctx, body.AssistantID, identity)
	if err != nil {
		httpapi.StorageError(c, err, "Assistant not found", "")
		return nil, nil, nil, false
	}

	thread := &storage.Thread{
		ThreadID: uuid.NewString(),
		Metadata: map[string]any{"stateless": true},
		Status:   storage.ThreadStatusIdle,
		Values:   map[string]any{},
	}
	if _, err := h.store.Threads().Create(ctx, thread, identity, storage.IfExistsRaise); err != nil {
		httpapi.StorageError(c, err, "Thread not found", "Thread already exists")
		return nil, nil, nil, false
	}

	run, err := h.engine.CreateRun(ctx, CreateRunParams{
		ThreadID:          thread.ThreadID,
		Assistant:         assistant,
		Input:             body.Input,
		Config:            body.Config,
		Metadata:          body.Metadata,
		MultitaskStrategy: storage.MultitaskEnqueue,
		StreamMode:        body.StreamMode,
		InterruptBefore:   body.InterruptBefore,
		InterruptAfter:    body.InterruptAfter,
		Webhook:           body.Webhook,
	})
	if err != nil {
		httpapi.StorageError(c, err, "Thread not found", "")
		return nil, nil, nil, false
	}

	cleanup := func() {
		if body.OnCompletion == "keep" {
			return
		}
		// Default is delete: the ephemeral thread and its runs disappear
		// once the response is produced.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.store.Threads().Delete(cleanupCtx, thread.ThreadID, identity); err != nil && !errors.Is(err, storage.ErrNotFound) {
			h.logger.WithError(err).Warn("failed to delete ephemeral thread",
				zap.String("thread_id", thread.ThreadID))
		}
	}
	return run, assistant, cleanup, true
}

func (h *Handlers) statelessCreate(c *gin.Context) {
	run, assistant, cleanup, ok := h.prepareStateless(c)
	if !ok {
		return
	}
	defer cleanup()

	if _, err := h.engine.Execute(c.Request.Context(), run, assistant, reqctx.Token(c.Request.Context())); err != nil {
		httpapi.Detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	final, err := h.store.Runs().Get(c.Request.Context(), run.RunID)
	if err != nil {
		final = run
	}
	c.JSON(http.StatusOK, final)
}

func (h *Handlers) statelessWait(c *gin.Context) {
	run, assistant, cleanup, ok := h.prepareStateless(c)
	if !ok {
		return
	}
	defer cleanup()

	state, err := h.engine.Execute(c.Request.Context(), run, assistant, reqctx.Token(c.Request.Context()))
	if err != nil {
		httpapi.Detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handlers) statelessStream(c *gin.Context) {
	run, assistant, cleanup, ok := h.prepareStateless(c)
	if !ok {
		return
	}
	defer cleanup()

	h.engine.Stream(c, run, assistant, reqctx.Token(c.Request.Context()))
}
