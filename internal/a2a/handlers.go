// Package a2a publishes the runtime as an A2A peer: a JSON-RPC 2.0 endpoint
// per assistant supporting message/send, tasks/get, and tasks/cancel.
package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/common/reqctx"
	"github.com/langline/langline/internal/graph"
	"github.com/langline/langline/internal/jsonrpc"
	"github.com/langline/langline/internal/runs"
	"github.com/langline/langline/internal/storage"
)

// OwnerHeader names the caller for A2A requests; absent means the system.
const OwnerHeader = "x-owner-id"

// Handlers provides the A2A JSON-RPC endpoint.
type Handlers struct {
	store  storage.Storage
	engine *runs.Engine
	logger *logger.Logger
}

// NewHandlers creates A2A handlers.
func NewHandlers(store storage.Storage, engine *runs.Engine, log *logger.Logger) *Handlers {
	return &Handlers{
		store:  store,
		engine: engine,
		logger: log.WithFields(zap.String("component", "a2a-handlers")),
	}
}

// RegisterRoutes registers the A2A endpoint.
func (h *Handlers) RegisterRoutes(router gin.IRouter) {
	router.POST("/a2a/:assistant_id", h.handle)
}

func (h *Handlers) handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 4<<20))
	if err != nil {
		c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(nil, jsonrpc.CodeParseError, "failed to read request body"))
		return
	}

	req, rpcErr := jsonrpc.Decode(body)
	if rpcErr != nil {
		var id any
		if req != nil {
			id = req.ID
		}
		c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(id, rpcErr.Code, rpcErr.Message))
		return
	}

	owner := c.GetHeader(OwnerHeader)
	if owner == "" {
		owner = storage.SystemOwner
	}
	ctx := reqctx.WithIdentity(c.Request.Context(), owner, reqctx.Token(c.Request.Context()))

	switch req.Method {
	case "message/send":
		h.messageSend(c, ctx, req, owner)
	case "message/stream":
		h.messageStream(c, req)
	case "tasks/get":
		h.tasksGet(c, ctx, req)
	case "tasks/cancel":
		h.tasksCancel(c, ctx, req)
	default:
		c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeMethodNotFound, "method not found: "+req.Method))
	}
}

type messageSendParams struct {
	Message struct {
		Role  string `json:"role"`
		Parts []struct {
			Kind string `json:"kind"`
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"message"`
	ContextID string `json:"contextId"`
}

func (h *Handlers) messageSend(c *gin.Context, ctx context.Context, req *jsonrpc.Request, owner string) {
	var params messageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidParams, "invalid params: "+err.Error()))
		return
	}
	var text string
	for _, part := range params.Message.Parts {
		if part.Kind == "" || part.Kind == "text" {
			text += part.Text
		}
	}
	if text == "" {
		c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidParams, "message has no text parts"))
		return
	}

	assistant, err := h.engine.ResolveAssistant(ctx, c.Param("assistant_id"), owner)
	if err != nil {
		c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidParams, "unknown assistant"))
		return
	}

	threadID := params.ContextID
	if threadID == "" {
		threadID = uuid.NewString()
	}
	thread := &storage.Thread{
		ThreadID: threadID,
		Metadata: map[string]any{"a2a": true},
		Status:   storage.ThreadStatusIdle,
		Values:   map[string]any{},
	}
	if _, err := h.store.Threads().Create(ctx, thread, owner, storage.IfExistsDoNothing); err != nil {
		c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInternalError, err.Error()))
		return
	}

	run, err := h.engine.CreateRun(ctx, runs.CreateRunParams{
		ThreadID:          threadID,
		Assistant:         assistant,
		Input:             text,
		Metadata:          map[string]any{"a2a": true},
		MultitaskStrategy: storage.MultitaskEnqueue,
	})
	if err != nil {
		c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInternalError, err.Error()))
		return
	}

	state, err := h.engine.Execute(ctx, run, assistant, reqctx.Token(ctx))
	if err != nil {
		c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInternalError, err.Error()))
		return
	}

	final, getErr := h.store.Runs().Get(ctx, run.RunID)
	if getErr != nil {
		final = run
	}
	c.JSON(http.StatusOK, jsonrpc.NewResponse(req.ID, taskFromRun(final, state)))
}

// messageStream is not implemented: the stub emits one SSE error frame and
// closes so streaming-capable peers degrade to message/send.
func (h *Handlers) messageStream(c *gin.Context, req *jsonrpc.Request) {
	if !strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidRequest, "message/stream requires Accept: text/event-stream"))
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	c.Writer.Header().Set("Cache-Control", "no-store")
	c.Writer.WriteHeader(http.StatusOK)

	frame, _ := json.Marshal(jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeUnsupportedOperation, "message/stream is not supported"))
	_, _ = c.Writer.WriteString("data: " + string(frame) + "\n\n")
	if flusher, ok := c.Writer.(http.Flusher); ok {
		flusher.Flush()
	}
}

type taskParams struct {
	ID string `json:"id"`
}

func (h *Handlers) tasksGet(c *gin.Context, ctx context.Context, req *jsonrpc.Request) {
	var params taskParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidParams, "task id is required"))
		return
	}
	run, err := h.store.Runs().Get(ctx, params.ID)
	if err != nil {
		c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidParams, "unknown task"))
		return
	}
	state, _ := h.store.Threads().GetState(ctx, run.ThreadID)
	c.JSON(http.StatusOK, jsonrpc.NewResponse(req.ID, taskFromRun(run, state)))
}

func (h *Handlers) tasksCancel(c *gin.Context, ctx context.Context, req *jsonrpc.Request) {
	var params taskParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidParams, "task id is required"))
		return
	}
	run, err := h.store.Runs().Get(ctx, params.ID)
	if err != nil {
		c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidParams, "unknown task"))
		return
	}
	cancelled, err := h.engine.Cancel(ctx, run.ThreadID, run.RunID)
	if err != nil {
		if errors.Is(err, runs.ErrCancelConflict) {
			c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidRequest, "task is not cancelable"))
			return
		}
		c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInternalError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, jsonrpc.NewResponse(req.ID, taskFromRun(cancelled, nil)))
}

// taskFromRun shapes a run as an A2A task.
func taskFromRun(run *storage.Run, state *storage.StateSnapshot) map[string]any {
	task := map[string]any{
		"id":        run.RunID,
		"contextId": run.ThreadID,
		"kind":      "task",
		"status":    map[string]any{"state": taskState(run.Status)},
	}
	if state != nil {
		task["history"] = graph.Messages(state.Values)
	}
	return task
}

func taskState(runStatus string) string {
	switch runStatus {
	case storage.RunStatusPending:
		return "submitted"
	case storage.RunStatusRunning:
		return "working"
	case storage.RunStatusSuccess:
		return "completed"
	case storage.RunStatusInterrupted:
		return "canceled"
	default:
		return "failed"
	}
}
