// Command langline runs the agent runtime server.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langline/langline/internal/agentsync"
	"github.com/langline/langline/internal/assistants"
	"github.com/langline/langline/internal/auth"
	"github.com/langline/langline/internal/checkpoint"
	"github.com/langline/langline/internal/common/config"
	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/crons"
	"github.com/langline/langline/internal/events/bus"
	"github.com/langline/langline/internal/graph"
	"github.com/langline/langline/internal/mcpserver"
	"github.com/langline/langline/internal/metrics"
	"github.com/langline/langline/internal/prompts"
	"github.com/langline/langline/internal/runs"
	"github.com/langline/langline/internal/server"
	"github.com/langline/langline/internal/storage"
	"github.com/langline/langline/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Default().Fatal("failed to load config", zap.Error(err))
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		logger.Default().Fatal("failed to initialize logger", zap.Error(err))
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	store, closeStorage, err := storage.Provide(cfg.Database, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}

	saver := checkpoint.NewMemorySaver()
	registry := graph.NewRegistry(saver)
	registry.Register(cfg.Graph.DefaultGraphID, graph.NewEcho(cfg.Graph.DefaultGraphID))

	eventBus := bus.Provide(cfg.NATS, log)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New(store.Counts)
	}

	engine := runs.NewEngine(store, registry, eventBus, collector, cfg.Graph.DefaultGraphID, log)

	notifier, err := runs.NewWebhookNotifier(eventBus, log)
	if err != nil {
		log.WithError(err).Warn("webhook notifier disabled")
	}

	promptRegistry := prompts.NewRegistry(cfg.Prompts, log)
	seedPrompts(promptRegistry, log)

	ctx := context.Background()
	seedDefaultAssistant(ctx, store, cfg.Graph, log)

	var lazySyncer assistants.LazySyncer
	if reconciler := setupAgentSync(ctx, store, cfg, log); reconciler != nil {
		lazySyncer = reconciler
	}

	scheduler := crons.NewScheduler(store, engine, eventBus, cfg.Cron.TickIntervalDuration(), log)
	scheduler.Start()

	router := server.NewRouter(server.Deps{
		Config:     cfg,
		Logger:     log,
		Storage:    store,
		Verifier:   auth.Provide(cfg.Auth),
		Collector:  collector,
		Engine:     engine,
		MCP:        mcpserver.New(store, engine, server.Version, log),
		LazySyncer: lazySyncer,
	})
	srv := server.New(cfg.Server, router, collector, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	scheduler.Stop()
	if notifier != nil {
		notifier.Close()
	}
	eventBus.Close()
	if err := closeStorage(); err != nil {
		log.WithError(err).Warn("storage close failed")
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracing shutdown failed")
	}
}

// seedPrompts warms the registry with the code defaults so the first run
// does not pay a service round-trip. Best-effort.
func seedPrompts(registry *prompts.Registry, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := registry.Get(ctx, prompts.DefaultSystemPrompt); err != nil {
		log.WithError(err).Warn("default prompt seed failed")
	}
}

// seedDefaultAssistant guarantees a system assistant exists for the default
// graph so the server is invokable out of the box.
func seedDefaultAssistant(ctx context.Context, store storage.Storage, cfg config.GraphConfig, log *logger.Logger) {
	_, err := store.Assistants().FindByGraphID(ctx, cfg.DefaultGraphID)
	if err == nil {
		return
	}
	if !errors.Is(err, storage.ErrNotFound) {
		log.WithError(err).Warn("default assistant lookup failed")
		return
	}

	assistant := &storage.Assistant{
		AssistantID: uuid.NewString(),
		GraphID:     cfg.DefaultGraphID,
		Name:        cfg.DefaultGraphID,
		Config: storage.AssistantConfig{
			Configurable: map[string]any{
				"model_name":    cfg.DefaultModel,
				"system_prompt": prompts.DefaultSystemPrompt,
			},
		},
	}
	if _, err := store.Assistants().Create(ctx, assistant, storage.SystemOwner, storage.IfExistsDoNothing); err != nil {
		log.WithError(err).Warn("default assistant seed failed")
		return
	}
	log.Info("seeded default assistant",
		zap.String("graph_id", cfg.DefaultGraphID),
		zap.String("assistant_id", assistant.AssistantID))
}

// setupAgentSync wires the catalog reconciler and kicks the startup sweep in
// the background. Sync problems never block boot.
func setupAgentSync(ctx context.Context, store storage.Storage, cfg *config.Config, log *logger.Logger) *agentsync.Reconciler {
	if cfg.AgentSync.CatalogURL == "" {
		return nil
	}

	catalog, err := agentsync.OpenCatalog(cfg.AgentSync.CatalogURL)
	if err != nil {
		log.WithError(err).Warn("agent catalog unavailable, sync disabled")
		return nil
	}
	reconciler, err := agentsync.New(store, catalog, cfg.AgentSync, cfg.Graph, log)
	if err != nil {
		log.WithError(err).Warn("agent sync misconfigured, sync disabled")
		return nil
	}

	go func() {
		syncCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		reconciler.StartupSync(syncCtx)
	}()
	return reconciler
}
