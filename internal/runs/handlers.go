package runs

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langline/langline/internal/common/httpapi"
	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/common/reqctx"
	"github.com/langline/langline/internal/storage"
)

// Handlers provides HTTP handlers for stateful and stateless runs.
type Handlers struct {
	store  storage.Storage
	engine *Engine
	logger *logger.Logger
}

// NewHandlers creates new run handlers.
func NewHandlers(store storage.Storage, engine *Engine, log *logger.Logger) *Handlers {
	return &Handlers{
		store:  store,
		engine: engine,
		logger: log.WithFields(zap.String("component", "runs-handlers")),
	}
}

// RegisterRoutes registers run HTTP routes. Literal segments (wait, stream)
// are registered before :run_id captures.
func (h *Handlers) RegisterRoutes(router gin.IRouter) {
	// Stateless runs on ephemeral threads.
	router.POST("/runs/wait", h.statelessWait)
	router.POST("/runs/stream", h.statelessStream)
	router.POST("/runs", h.statelessCreate)

	// Stateful runs.
	router.POST("/threads/:thread_id/runs/wait", h.wait)
	router.POST("/threads/:thread_id/runs/stream", h.stream)
	router.POST("/threads/:thread_id/runs", h.create)
	router.GET("/threads/:thread_id/runs", h.list)
	router.GET("/threads/:thread_id/runs/:run_id", h.get)
	router.DELETE("/threads/:thread_id/runs/:run_id", h.delete)
	router.POST("/threads/:thread_id/runs/:run_id/cancel", h.cancel)
	router.GET("/threads/:thread_id/runs/:run_id/join", h.join)
	router.GET("/threads/:thread_id/runs/:run_id/stream", h.streamExisting)
}

type runRequest struct {
	AssistantID       string         `json:"assistant_id"`
	Input             any            `json:"input"`
	Config            map[string]any `json:"config"`
	Metadata          map[string]any `json:"metadata"`
	MultitaskStrategy string         `json:"multitask_strategy"`
	StreamMode        any            `json:"stream_mode"`
	InterruptBefore   any            `json:"interrupt_before"`
	InterruptAfter    any            `json:"interrupt_after"`
	Webhook           string         `json:"webhook"`
	OnCompletion      string         `json:"on_completion"`
}

func (r runRequest) validate() string {
	switch r.MultitaskStrategy {
	case "", storage.MultitaskReject, storage.MultitaskInterrupt, storage.MultitaskRollback, storage.MultitaskEnqueue:
	default:
		return "multitask_strategy must be one of: reject, interrupt, rollback, enqueue"
	}
	switch r.OnCompletion {
	case "", "delete", "keep":
	default:
		return "on_completion must be 'delete' or 'keep'"
	}
	return ""
}

// prepare binds the body, resolves the assistant, and creates the run.
func (h *Handlers) prepare(c *gin.Context, threadID, defaultStrategy string) (*storage.Run, *storage.Assistant, bool) {
	var body runRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return nil, nil, false
	}
	if msg := body.validate(); msg != "" {
		httpapi.Detail(c, http.StatusUnprocessableEntity, msg)
		return nil, nil, false
	}

	ctx := c.Request.Context()
	identity := reqctx.Identity(ctx)

	assistant, err := h.engine.ResolveAssistant(ctx, body.AssistantID, identity)
	if err != nil {
		httpapi.StorageError(c, err, "Assistant not found", "")
		return nil, nil, false
	}

	// The thread ID itself grants run access, matching state and history.
	if _, err := h.store.Threads().Get(ctx, threadID, ""); err != nil {
		httpapi.StorageError(c, err, "Thread not found", "")
		return nil, nil, false
	}

	strategy := body.MultitaskStrategy
	if strategy == "" {
		strategy = defaultStrategy
	}
	run, err := h.engine.CreateRun(ctx, CreateRunParams{
		ThreadID:          threadID,
		Assistant:         assistant,
		Input:             body.Input,
		Config:            body.Config,
		Metadata:          body.Metadata,
		MultitaskStrategy: strategy,
		StreamMode:        body.StreamMode,
		InterruptBefore:   body.InterruptBefore,
		InterruptAfter:    body.InterruptAfter,
		Webhook:           body.Webhook,
	})
	if err != nil {
		if errors.Is(err, ErrRunConflict) {
			httpapi.Detail(c, http.StatusConflict, err.Error())
			return nil, nil, false
		}
		httpapi.StorageError(c, err, "Thread not found", "")
		return nil, nil, false
	}
	return run, assistant, true
}

func (h *Handlers) create(c *gin.Context) {
	run, _, ok := h.prepare(c, c.Param("thread_id"), storage.MultitaskEnqueue)
	if !ok {
		return
	}
	// Background create does not drive execution; a later wait, stream, or
	// join call picks the run up.
	c.JSON(http.StatusOK, run)
}

func (h *Handlers) wait(c *gin.Context) {
	run, assistant, ok := h.prepare(c, c.Param("thread_id"), storage.MultitaskReject)
	if !ok {
		return
	}
	state, err := h.engine.Execute(c.Request.Context(), run, assistant, reqctx.Token(c.Request.Context()))
	if err != nil {
		httpapi.Detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handlers) stream(c *gin.Context) {
	run, assistant, ok := h.prepare(c, c.Param("thread_id"), storage.MultitaskReject)
	if !ok {
		return
	}
	h.engine.Stream(c, run, assistant, reqctx.Token(c.Request.Context()))
}

func (h *Handlers) streamExisting(c *gin.Context) {
	ctx := c.Request.Context()
	run, err := h.store.Runs().GetByThread(ctx, c.Param("thread_id"), c.Param("run_id"))
	if err != nil {
		httpapi.StorageError(c, err, "Run not found", "")
		return
	}
	assistant, err := h.engine.ResolveAssistant(ctx, run.AssistantID, reqctx.Identity(ctx))
	if err != nil {
		httpapi.StorageError(c, err, "Assistant not found", "")
		return
	}
	h.engine.StreamExisting(c, run, assistant, reqctx.Token(ctx))
}

func (h *Handlers) list(c *gin.Context) {
	limit := 10
	offset := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpapi.Detail(c, http.StatusUnprocessableEntity, "limit must be an integer")
			return
		}
		limit = parsed
	}
	if raw := c.Query("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpapi.Detail(c, http.StatusUnprocessableEntity, "offset must be an integer")
			return
		}
		offset = parsed
	}

	runs, err := h.store.Runs().ListByThread(c.Request.Context(), c.Param("thread_id"), limit, offset, c.Query("status"))
	if err != nil {
		httpapi.StorageError(c, err, "Thread not found", "")
		return
	}
	if runs == nil {
		runs = []*storage.Run{}
	}
	c.JSON(http.StatusOK, runs)
}

func (h *Handlers) get(c *gin.Context) {
	run, err := h.store.Runs().GetByThread(c.Request.Context(), c.Param("thread_id"), c.Param("run_id"))
	if err != nil {
		httpapi.StorageError(c, err, "Run not found", "")
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handlers) delete(c *gin.Context) {
	if err := h.store.Runs().DeleteByThread(c.Request.Context(), c.Param("thread_id"), c.Param("run_id")); err != nil {
		httpapi.StorageError(c, err, "Run not found", "")
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (h *Handlers) cancel(c *gin.Context) {
	run, err := h.engine.Cancel(c.Request.Context(), c.Param("thread_id"), c.Param("run_id"))
	if err != nil {
		if errors.Is(err, ErrCancelConflict) {
			httpapi.Detail(c, http.StatusConflict, "Only pending or running runs can be cancelled")
			return
		}
		httpapi.StorageError(c, err, "Run not found", "")
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handlers) join(c *gin.Context) {
	state, err := h.engine.Join(c.Request.Context(), c.Param("thread_id"), c.Param("run_id"))
	if err != nil {
		httpapi.StorageError(c, err, "Run not found", "")
		return
	}
	c.JSON(http.StatusOK, state)
}
