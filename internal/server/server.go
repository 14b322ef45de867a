package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/langline/langline/internal/common/config"
	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/metrics"
)

// streamDrainGrace bounds how long shutdown waits for open SSE streams.
const streamDrainGrace = 10 * time.Second

// Server runs the HTTP listener with graceful shutdown.
type Server struct {
	httpServer *http.Server
	collector  *metrics.Collector
	logger     *logger.Logger
}

// New builds the HTTP server around the wired router.
func New(cfg config.ServerConfig, handler http.Handler, collector *metrics.Collector, log *logger.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeoutDuration(),
			WriteTimeout: cfg.WriteTimeoutDuration(),
		},
		collector: collector,
		logger:    log.WithFields(zap.String("component", "http-server")),
	}
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and lets active SSE streams drain
// for up to the grace period before forcing the close.
func (s *Server) Shutdown(ctx context.Context) error {
	s.drainStreams(ctx)
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) drainStreams(ctx context.Context) {
	if s.collector == nil {
		return
	}
	deadline := time.Now().Add(streamDrainGrace)
	for s.collector.ActiveStreams() > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	if open := s.collector.ActiveStreams(); open > 0 {
		s.logger.Warn("closing with streams still open", zap.Int("streams", open))
	}
}
