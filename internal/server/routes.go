// Package server wires the HTTP surface: router, middleware chain, public
// endpoints, and graceful shutdown.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/langline/langline/internal/a2a"
	"github.com/langline/langline/internal/assistants"
	"github.com/langline/langline/internal/auth"
	"github.com/langline/langline/internal/common/config"
	"github.com/langline/langline/internal/common/httpmw"
	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/crons"
	"github.com/langline/langline/internal/mcpserver"
	"github.com/langline/langline/internal/metrics"
	"github.com/langline/langline/internal/runs"
	"github.com/langline/langline/internal/storage"
	"github.com/langline/langline/internal/store"
	"github.com/langline/langline/internal/threads"
)

// Version is reported by /info and the MCP server identity.
const Version = "0.1.0"

// publicPaths bypass authentication.
var publicPaths = map[string]bool{
	"/":             true,
	"/health":       true,
	"/ok":           true,
	"/info":         true,
	"/openapi.json": true,
	"/metrics":      true,
	"/metrics/json": true,
}

// Deps carries everything the router needs.
type Deps struct {
	Config     *config.Config
	Logger     *logger.Logger
	Storage    storage.Storage
	Verifier   auth.Verifier
	Collector  *metrics.Collector
	Engine     *runs.Engine
	MCP        *mcpserver.Server
	LazySyncer assistants.LazySyncer
}

// NewRouter builds the gin engine with the full middleware chain and all
// resource routes.
func NewRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(d.Logger))
	router.Use(httpmw.OtelTracing("langline"))
	if d.Collector != nil {
		router.Use(httpmw.Metrics(d.Collector))
	}
	router.Use(httpmw.Auth(d.Verifier, publicPaths, d.Logger))

	registerPublicRoutes(router, d)

	assistants.NewHandlers(d.Storage, d.LazySyncer, d.Logger).RegisterRoutes(router)
	threads.NewHandlers(d.Storage, d.Logger).RegisterRoutes(router)
	store.NewHandlers(d.Storage, d.Logger).RegisterRoutes(router)
	crons.NewHandlers(d.Storage, d.Logger).RegisterRoutes(router)
	runs.NewHandlers(d.Storage, d.Engine, d.Logger).RegisterRoutes(router)
	a2a.NewHandlers(d.Storage, d.Engine, d.Logger).RegisterRoutes(router)
	if d.MCP != nil {
		d.MCP.RegisterRoutes(router)
	}

	return router
}

func registerPublicRoutes(router *gin.Engine, d Deps) {
	startedAt := time.Now()

	root := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    "langline",
			"version": Version,
		})
	}
	router.GET("/", root)

	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		detail := "ok"
		if err := d.Storage.Ping(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			detail = err.Error()
		}
		c.JSON(status, gin.H{"status": detail})
	})

	router.GET("/ok", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	router.GET("/info", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":           "langline",
			"version":        Version,
			"uptime_seconds": int(time.Since(startedAt).Seconds()),
			"default_graph":  d.Config.Graph.DefaultGraphID,
		})
	})

	router.GET("/openapi.json", openapiHandler)

	if d.Collector != nil {
		router.GET("/metrics", gin.WrapH(d.Collector.Handler()))
		router.GET("/metrics/json", func(c *gin.Context) {
			c.JSON(http.StatusOK, d.Collector.Snapshot())
		})
	}
}
