// Package mcpserver publishes the runtime as an MCP server over the
// Streamable HTTP transport, mounted at /mcp on the main router.
package mcpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/runs"
	"github.com/langline/langline/internal/storage"
)

// Server wraps the MCP streamable HTTP transport.
type Server struct {
	mcpServer  *server.MCPServer
	streamable *server.StreamableHTTPServer
	logger     *logger.Logger
}

// New creates the MCP server and registers the runtime tools.
func New(store storage.Storage, engine *runs.Engine, version string, log *logger.Logger) *Server {
	mcpServer := server.NewMCPServer(
		"langline",
		version,
		server.WithToolCapabilities(true),
	)
	componentLog := log.WithFields(zap.String("component", "mcp-server"))
	registerTools(mcpServer, store, engine, componentLog)

	return &Server{
		mcpServer: mcpServer,
		streamable: server.NewStreamableHTTPServer(mcpServer,
			server.WithEndpointPath("/mcp"),
			server.WithStateLess(true),
		),
		logger: componentLog,
	}
}

// RegisterRoutes mounts the transport. The server is stateless: there is no
// server-push GET stream and no session to DELETE.
func (s *Server) RegisterRoutes(router gin.IRouter) {
	router.POST("/mcp", gin.WrapH(s.streamable))
	router.GET("/mcp", func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"detail": "Method not allowed"})
	})
	router.DELETE("/mcp", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found"})
	})
}
