// Package threads exposes thread CRUD, state, and history endpoints.
//
// Thread state and history reads are not owner-scoped: the thread ID is the
// access token, which keeps page reloads and multi-user participation
// working. Writes and list/search stay owner-scoped.
package threads

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langline/langline/internal/common/httpapi"
	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/common/reqctx"
	"github.com/langline/langline/internal/storage"
)

// Handlers provides HTTP handlers for threads.
type Handlers struct {
	store  storage.Storage
	logger *logger.Logger
}

// NewHandlers creates new thread handlers.
func NewHandlers(store storage.Storage, log *logger.Logger) *Handlers {
	return &Handlers{
		store:  store,
		logger: log.WithFields(zap.String("component", "threads-handlers")),
	}
}

// RegisterRoutes registers thread HTTP routes. Literal paths go first so
// /threads/search never falls into the :thread_id capture.
func (h *Handlers) RegisterRoutes(router gin.IRouter) {
	router.POST("/threads/search", h.search)
	router.POST("/threads/count", h.count)
	router.POST("/threads", h.create)
	router.GET("/threads/:thread_id", h.get)
	router.PATCH("/threads/:thread_id", h.update)
	router.DELETE("/threads/:thread_id", h.delete)
	router.GET("/threads/:thread_id/state", h.getState)
	router.GET("/threads/:thread_id/history", h.getHistory)
	router.POST("/threads/:thread_id/history", h.postHistory)
}

type createRequest struct {
	ThreadID string         `json:"thread_id"`
	Metadata map[string]any `json:"metadata"`
	IfExists string         `json:"if_exists"`
}

func (h *Handlers) create(c *gin.Context) {
	var body createRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return
	}
	ifExists := body.IfExists
	if ifExists == "" {
		ifExists = storage.IfExistsRaise
	}
	if ifExists != storage.IfExistsRaise && ifExists != storage.IfExistsDoNothing {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "if_exists must be 'raise' or 'do_nothing'")
		return
	}

	thread := &storage.Thread{
		ThreadID: body.ThreadID,
		Metadata: body.Metadata,
		Status:   storage.ThreadStatusIdle,
		Values:   map[string]any{},
	}
	if thread.ThreadID == "" {
		thread.ThreadID = uuid.NewString()
	}

	created, err := h.store.Threads().Create(c.Request.Context(), thread, reqctx.Identity(c.Request.Context()), ifExists)
	if err != nil {
		httpapi.StorageError(c, err, "Thread not found", "Thread already exists")
		return
	}
	c.JSON(http.StatusOK, created)
}

func (h *Handlers) get(c *gin.Context) {
	thread, err := h.store.Threads().Get(c.Request.Context(), c.Param("thread_id"), reqctx.Identity(c.Request.Context()))
	if err != nil {
		httpapi.StorageError(c, err, "Thread not found", "")
		return
	}
	c.JSON(http.StatusOK, thread)
}

type updateRequest struct {
	Metadata map[string]any `json:"metadata"`
	Config   map[string]any `json:"config"`
}

func (h *Handlers) update(c *gin.Context) {
	var body updateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return
	}

	patch := storage.ThreadPatch{Metadata: body.Metadata, Config: body.Config}
	updated, err := h.store.Threads().Update(c.Request.Context(), c.Param("thread_id"), patch, reqctx.Identity(c.Request.Context()))
	if err != nil {
		httpapi.StorageError(c, err, "Thread not found", "")
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handlers) delete(c *gin.Context) {
	if err := h.store.Threads().Delete(c.Request.Context(), c.Param("thread_id"), reqctx.Identity(c.Request.Context())); err != nil {
		httpapi.StorageError(c, err, "Thread not found", "")
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (h *Handlers) getState(c *gin.Context) {
	state, err := h.store.Threads().GetState(c.Request.Context(), c.Param("thread_id"))
	if err != nil {
		httpapi.StorageError(c, err, "Thread not found", "")
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handlers) getHistory(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpapi.Detail(c, http.StatusUnprocessableEntity, "limit must be an integer")
			return
		}
		limit = parsed
	}
	h.history(c, limit, c.Query("before"))
}

type historyRequest struct {
	Limit  int    `json:"limit"`
	Before string `json:"before"`
}

func (h *Handlers) postHistory(c *gin.Context) {
	body := historyRequest{Limit: 10}
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return
	}
	h.history(c, body.Limit, body.Before)
}

func (h *Handlers) history(c *gin.Context, limit int, before string) {
	snapshots, err := h.store.Threads().GetHistory(c.Request.Context(), c.Param("thread_id"), limit, before)
	if err != nil {
		httpapi.StorageError(c, err, "Thread not found", "")
		return
	}
	if snapshots == nil {
		snapshots = []*storage.StateSnapshot{}
	}
	c.JSON(http.StatusOK, snapshots)
}

type searchRequest struct {
	Metadata map[string]any `json:"metadata"`
	Status   string         `json:"status"`
	Values   map[string]any `json:"values"`
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset"`
}

func (r searchRequest) validate() string {
	switch r.Status {
	case "", storage.ThreadStatusIdle, storage.ThreadStatusBusy:
	default:
		return "status must be 'idle' or 'busy'"
	}
	if r.Offset < 0 {
		return "offset must be >= 0"
	}
	return ""
}

func (r searchRequest) query() storage.ThreadQuery {
	return storage.ThreadQuery{
		Metadata: r.Metadata,
		Status:   r.Status,
		Values:   r.Values,
		Limit:    r.Limit,
		Offset:   r.Offset,
	}
}

func (h *Handlers) search(c *gin.Context) {
	var body searchRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return
	}
	if msg := body.validate(); msg != "" {
		httpapi.Detail(c, http.StatusUnprocessableEntity, msg)
		return
	}

	results, err := h.store.Threads().Search(c.Request.Context(), body.query(), reqctx.Identity(c.Request.Context()))
	if err != nil {
		httpapi.StorageError(c, err, "Thread not found", "")
		return
	}
	if results == nil {
		results = []*storage.Thread{}
	}
	c.JSON(http.StatusOK, results)
}

func (h *Handlers) count(c *gin.Context) {
	var body searchRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return
	}

	n, err := h.store.Threads().Count(c.Request.Context(), body.query(), reqctx.Identity(c.Request.Context()))
	if err != nil {
		httpapi.StorageError(c, err, "Thread not found", "")
		return
	}
	c.JSON(http.StatusOK, n)
}
