// Package assistants exposes the assistant CRUD and search endpoints.
package assistants

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langline/langline/internal/common/httpapi"
	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/common/reqctx"
	"github.com/langline/langline/internal/storage"
)

// LazySyncer refreshes a single catalog agent on demand. Wired to the
// agent-sync reconciler; nil disables lazy sync.
type LazySyncer interface {
	SyncAgent(ctx context.Context, agentID string) error
}

// Handlers provides HTTP handlers for assistants.
type Handlers struct {
	store  storage.Storage
	syncer LazySyncer
	logger *logger.Logger
}

// NewHandlers creates new assistant handlers.
func NewHandlers(store storage.Storage, syncer LazySyncer, log *logger.Logger) *Handlers {
	return &Handlers{
		store:  store,
		syncer: syncer,
		logger: log.WithFields(zap.String("component", "assistants-handlers")),
	}
}

// RegisterRoutes registers assistant HTTP routes. Literal paths go first so
// /assistants/search never falls into the :assistant_id capture.
func (h *Handlers) RegisterRoutes(router gin.IRouter) {
	router.POST("/assistants/search", h.search)
	router.POST("/assistants/count", h.count)
	router.POST("/assistants", h.create)
	router.GET("/assistants/:assistant_id", h.get)
	router.PATCH("/assistants/:assistant_id", h.update)
	router.DELETE("/assistants/:assistant_id", h.delete)
}

type createRequest struct {
	AssistantID string                   `json:"assistant_id"`
	GraphID     string                   `json:"graph_id"`
	Config      *storage.AssistantConfig `json:"config"`
	Context     map[string]any           `json:"context"`
	Metadata    map[string]any           `json:"metadata"`
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	IfExists    string                   `json:"if_exists"`
}

func (h *Handlers) create(c *gin.Context) {
	var body createRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.GraphID) == "" {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "graph_id is required")
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

	// Catalog-backed assistants carry a supabase_agent_id; refresh that agent
	// from the catalog before the create lands, best-effort.
	if h.syncer != nil && body.Metadata != nil {
		if agentID, ok := body.Metadata["supabase_agent_id"].(string); ok && agentID != "" {
			if err := h.syncer.SyncAgent(c.Request.Context(), agentID); err != nil {
				h.logger.WithError(err).Warn("lazy agent sync failed",
					zap.String("agent_id", agentID))
			}
		}
	}

	assistant := &storage.Assistant{
		AssistantID: body.AssistantID,
		GraphID:     body.GraphID,
		Context:     body.Context,
		Metadata:    body.Metadata,
		Name:        body.Name,
		Description: body.Description,
	}
	if body.Config != nil {
		assistant.Config = *body.Config
	}
	if assistant.AssistantID == "" {
		assistant.AssistantID = uuid.NewString()
	}

	created, err := h.store.Assistants().Create(c.Request.Context(), assistant, reqctx.Identity(c.Request.Context()), ifExists)
	if err != nil {
		httpapi.StorageError(c, err, "Assistant not found", "Assistant already exists")
		return
	}
	c.JSON(http.StatusOK, created)
}

func (h *Handlers) get(c *gin.Context) {
	assistant, err := h.store.Assistants().Get(c.Request.Context(), c.Param("assistant_id"), reqctx.Identity(c.Request.Context()))
	if err != nil {
		httpapi.StorageError(c, err, "Assistant not found", "")
		return
	}
	c.JSON(http.StatusOK, assistant)
}

type updateRequest struct {
	GraphID     *string                  `json:"graph_id"`
	Config      *storage.AssistantConfig `json:"config"`
	Context     map[string]any           `json:"context"`
	Metadata    map[string]any           `json:"metadata"`
	Name        *string                  `json:"name"`
	Description *string                  `json:"description"`
}

func (h *Handlers) update(c *gin.Context) {
	var body updateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return
	}
	if body.GraphID != nil && strings.TrimSpace(*body.GraphID) == "" {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "graph_id cannot be empty")
		return
	}

	patch := storage.AssistantPatch{
		GraphID:     body.GraphID,
		Config:      body.Config,
		Context:     body.Context,
		Metadata:    body.Metadata,
		Name:        body.Name,
		Description: body.Description,
	}
	updated, err := h.store.Assistants().Update(c.Request.Context(), c.Param("assistant_id"), patch, reqctx.Identity(c.Request.Context()))
	if err != nil {
		httpapi.StorageError(c, err, "Assistant not found", "")
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handlers) delete(c *gin.Context) {
	if err := h.store.Assistants().Delete(c.Request.Context(), c.Param("assistant_id"), reqctx.Identity(c.Request.Context())); err != nil {
		httpapi.StorageError(c, err, "Assistant not found", "")
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

type searchRequest struct {
	Metadata  map[string]any `json:"metadata"`
	GraphID   string         `json:"graph_id"`
	Name      string         `json:"name"`
	Limit     int            `json:"limit"`
	Offset    int            `json:"offset"`
	SortBy    string         `json:"sort_by"`
	SortOrder string         `json:"sort_order"`
}

func (r searchRequest) validate() string {
	switch r.SortBy {
	case "", "assistant_id", "graph_id", "name", "created_at", "updated_at":
	default:
		return "sort_by must be one of: assistant_id, graph_id, name, created_at, updated_at"
	}
	switch r.SortOrder {
	case "", "asc", "desc":
	default:
		return "sort_order must be 'asc' or 'desc'"
	}
	if r.Offset < 0 {
		return "offset must be >= 0"
	}
	return ""
}

func (r searchRequest) query() storage.AssistantQuery {
	return storage.AssistantQuery{
		Metadata:  r.Metadata,
		GraphID:   r.GraphID,
		Name:      r.Name,
		Limit:     r.Limit,
		Offset:    r.Offset,
		SortBy:    r.SortBy,
		SortOrder: r.SortOrder,
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

	results, err := h.store.Assistants().Search(c.Request.Context(), body.query(), reqctx.Identity(c.Request.Context()))
	if err != nil {
		httpapi.StorageError(c, err, "Assistant not found", "")
		return
	}
	if results == nil {
		results = []*storage.Assistant{}
	}
	c.JSON(http.StatusOK, results)
}

func (h *Handlers) count(c *gin.Context) {
	var body searchRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return
	}

	n, err := h.store.Assistants().Count(c.Request.Context(), body.query(), reqctx.Identity(c.Request.Context()))
	if err != nil {
		httpapi.StorageError(c, err, "Assistant not found", "")
		return
	}
	c.JSON(http.StatusOK, n)
}
