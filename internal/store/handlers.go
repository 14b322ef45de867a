// Package store exposes the cross-thread key-value store endpoints.
// Items are keyed by (namespace, key, owner): two owners can hold the same
// namespace and key without seeing each other's values.
package store

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langline/langline/internal/common/httpapi"
	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/common/reqctx"
	"github.com/langline/langline/internal/storage"
)

// Handlers provides HTTP handlers for store items.
type Handlers struct {
	store  storage.Storage
	logger *logger.Logger
}

// NewHandlers creates new store handlers.
func NewHandlers(store storage.Storage, log *logger.Logger) *Handlers {
	return &Handlers{
		store:  store,
		logger: log.WithFields(zap.String("component", "store-handlers")),
	}
}

// RegisterRoutes registers store HTTP routes.
func (h *Handlers) RegisterRoutes(router gin.IRouter) {
	router.PUT("/store/items", h.put)
	router.GET("/store/items", h.get)
	router.DELETE("/store/items", h.delete)
	router.POST("/store/items/search", h.search)
	router.GET("/store/namespaces", h.listNamespaces)
}

type putRequest struct {
	Namespace string         `json:"namespace"`
	Key       string         `json:"key"`
	Value     map[string]any `json:"value"`
	Metadata  map[string]any `json:"metadata"`
}

func (h *Handlers) put(c *gin.Context) {
	var body putRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.Namespace) == "" || strings.TrimSpace(body.Key) == "" {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "namespace and key are required")
		return
	}

	item, err := h.store.Items().Put(c.Request.Context(), reqctx.Identity(c.Request.Context()),
		body.Namespace, body.Key, body.Value, body.Metadata)
	if err != nil {
		httpapi.StorageError(c, err, "Item not found", "")
		return
	}
	c.JSON(http.StatusOK, item)
}

func itemKey(c *gin.Context) (string, string, bool) {
	namespace := c.Query("namespace")
	key := c.Query("key")
	if namespace == "" || key == "" {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "namespace and key query parameters are required")
		return "", "", false
	}
	return namespace, key, true
}

func (h *Handlers) get(c *gin.Context) {
	namespace, key, ok := itemKey(c)
	if !ok {
		return
	}
	item, err := h.store.Items().Get(c.Request.Context(), reqctx.Identity(c.Request.Context()), namespace, key)
	if err != nil {
		httpapi.StorageError(c, err, "Item not found", "")
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handlers) delete(c *gin.Context) {
	namespace, key, ok := itemKey(c)
	if !ok {
		return
	}
	if err := h.store.Items().Delete(c.Request.Context(), reqctx.Identity(c.Request.Context()), namespace, key); err != nil {
		httpapi.StorageError(c, err, "Item not found", "")
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

type searchRequest struct {
	NamespacePrefix string `json:"namespace_prefix"`
	Limit           int    `json:"limit"`
	Offset          int    `json:"offset"`
}

func (h *Handlers) search(c *gin.Context) {
	var body searchRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return
	}
	if body.Offset < 0 {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "offset must be >= 0")
		return
	}

	items, err := h.store.Items().Search(c.Request.Context(), reqctx.Identity(c.Request.Context()),
		body.NamespacePrefix, body.Limit, body.Offset)
	if err != nil {
		httpapi.StorageError(c, err, "Item not found", "")
		return
	}
	if items == nil {
		items = []*storage.StoreItem{}
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handlers) listNamespaces(c *gin.Context) {
	namespaces, err := h.store.Items().ListNamespaces(c.Request.Context(), reqctx.Identity(c.Request.Context()))
	if err != nil {
		httpapi.StorageError(c, err, "Item not found", "")
		return
	}
	if namespaces == nil {
		namespaces = []string{}
	}
	c.JSON(http.StatusOK, namespaces)
}
