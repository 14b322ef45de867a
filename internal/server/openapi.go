package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// openapiHandler returns a minimal OpenAPI skeleton enumerating the REST
// surface. Schemas are intentionally loose; the SDK owns the real types.
func openapiHandler(c *gin.Context) {
	paths := map[string]any{}
	add := func(path string, methods ...string) {
		ops := map[string]any{}
		for _, m := range methods {
			ops[m] = map[string]any{"responses": map[string]any{"200": map[string]any{"description": "OK"}}}
		}
		paths[path] = ops
	}

	add("/assistants", "post")
	add("/assistants/search", "post")
	add("/assistants/count", "post")
	add("/assistants/{assistant_id}", "get", "patch", "delete")
	add("/threads", "post")
	add("/threads/search", "post")
	add("/threads/count", "post")
	add("/threads/{thread_id}", "get", "patch", "delete")
	add("/threads/{thread_id}/state", "get")
	add("/threads/{thread_id}/history", "get", "post")
	add("/threads/{thread_id}/runs", "get", "post")
	add("/threads/{thread_id}/runs/wait", "post")
	add("/threads/{thread_id}/runs/stream", "post")
	add("/threads/{thread_id}/runs/{run_id}", "get", "delete")
	add("/threads/{thread_id}/runs/{run_id}/cancel", "post")
	add("/threads/{thread_id}/runs/{run_id}/join", "get")
	add("/threads/{thread_id}/runs/{run_id}/stream", "get")
	add("/runs", "post")
	add("/runs/wait", "post")
	add("/runs/stream", "post")
	add("/runs/crons", "post")
	add("/runs/crons/search", "post")
	add("/runs/crons/count", "post")
	add("/runs/crons/{cron_id}", "delete")
	add("/store/items", "get", "put", "delete")
	add("/store/items/search", "post")
	add("/store/namespaces", "get")
	add("/mcp", "post")
	add("/a2a/{assistant_id}", "post")

	c.JSON(http.StatusOK, gin.H{
		"openapi": "3.1.0",
		"info": gin.H{
			"title":   "langline",
			"version": Version,
		},
		"paths": paths,
	})
}
