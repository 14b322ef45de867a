// Package runs implements the run engine: run creation with multitask
// conflict resolution, synchronous execution with checkpointer read-back,
// SSE streaming, and join/cancel.
package runs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/events/bus"
	"github.com/langline/langline/internal/graph"
	"github.com/langline/langline/internal/metrics"
	"github.com/langline/langline/internal/storage"
)

// TokenConfigurableKey carries the caller's raw bearer token into the
// runnable config so downstream tools can perform token exchange.
const TokenConfigurableKey = "langgraph_auth_token"

// ErrRunConflict is returned when a reject-strategy run hits an active run.
var ErrRunConflict = errors.New("thread already has an active run")

// ErrCancelConflict is returned when cancelling a run that is not active.
var ErrCancelConflict = errors.New("run is not pending or running")

// Engine drives run execution against the graph registry.
type Engine struct {
	store          storage.Storage
	registry       *graph.Registry
	eventBus       bus.EventBus
	collector      *metrics.Collector
	defaultGraphID string
	logger         *logger.Logger

	// threadLocks serializes the active-run check with run creation so two
	// concurrent creates cannot both observe "no active run".
	threadLocks sync.Map
}

// NewEngine creates a run engine.
func NewEngine(store storage.Storage, registry *graph.Registry, eventBus bus.EventBus, collector *metrics.Collector, defaultGraphID string, log *logger.Logger) *Engine {
	return &Engine{
		store:          store,
		registry:       registry,
		eventBus:       eventBus,
		collector:      collector,
		defaultGraphID: defaultGraphID,
		logger:         log.WithFields(zap.String("component", "run-engine")),
	}
}

func (e *Engine) lockThread(threadID string) func() {
	actual, _ := e.threadLocks.LoadOrStore(threadID, &sync.Mutex{})
	mu := actual.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// ResolveAssistant looks up an assistant by UUID, falling back to treating
// the identifier as a graph_id alias.
func (e *Engine) ResolveAssistant(ctx context.Context, assistantID, caller string) (*storage.Assistant, error) {
	if assistantID == "" {
		assistantID = e.defaultGraphID
	}
	assistant, err := e.store.Assistants().Get(ctx, assistantID, caller)
	if err == nil {
		return assistant, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return e.store.Assistants().FindByGraphID(ctx, assistantID)
}

// CreateRunParams carries everything needed to create a run on a thread.
type CreateRunParams struct {
	ThreadID          string
	Assistant         *storage.Assistant
	Input             any
	Config            map[string]any
	Metadata          map[string]any
	MultitaskStrategy string
	StreamMode        any
	InterruptBefore   any
	InterruptAfter    any
	Webhook           string
}

// CreateRun records a new run after resolving any conflict with the
// thread's active run per the multitask strategy.
func (e *Engine) CreateRun(ctx context.Context, p CreateRunParams) (*storage.Run, error) {
	strategy := p.MultitaskStrategy
	if strategy == "" {
		strategy = storage.MultitaskEnqueue
	}

	unlock := e.lockThread(p.ThreadID)
	defer unlock()

	if err := e.resolveMultitask(ctx, p.ThreadID, strategy); err != nil {
		return nil, err
	}

	kwargs := map[string]any{
		"input":       p.Input,
		"config":      p.Config,
		"stream_mode": p.StreamMode,
	}
	if p.InterruptBefore != nil {
		kwargs["interrupt_before"] = p.InterruptBefore
	}
	if p.InterruptAfter != nil {
		kwargs["interrupt_after"] = p.InterruptAfter
	}
	if p.Webhook != "" {
		kwargs["webhook"] = p.Webhook
	}

	run := &storage.Run{
		RunID:             uuid.NewString(),
		ThreadID:          p.ThreadID,
		AssistantID:       p.Assistant.AssistantID,
		Status:            storage.RunStatusPending,
		Metadata:          p.Metadata,
		Kwargs:            kwargs,
		MultitaskStrategy: strategy,
	}
	created, err := e.store.Runs().Create(ctx, run)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, bus.SubjectRunCreated, created, p.Assistant, nil)
	return created, nil
}

// buildRunnableConfig merges configuration layers, later wins: assistant
// configurable, run configurable, runtime identifiers, bearer token.
// A checkpoint_ns key is never set: the graph engine parses namespaces as
// subgraph hierarchy and an unknown namespace breaks state reads.
func (e *Engine) buildRunnableConfig(assistant *storage.Assistant, run *storage.Run, token string) *graph.RunnableConfig {
	cfg := &graph.RunnableConfig{
		Tags:           append([]string(nil), assistant.Config.Tags...),
		RecursionLimit: assistant.Config.RecursionLimit,
		Configurable:   map[string]any{},
	}
	for k, v := range assistant.Config.Configurable {
		cfg.Configurable[k] = v
	}

	if runCfg, ok := run.Kwargs["config"].(map[string]any); ok {
		if tags, ok := runCfg["tags"].([]any); ok {
			for _, t := range tags {
				if s, ok := t.(string); ok {
					cfg.Tags = append(cfg.Tags, s)
				}
			}
		}
		if limit, ok := runCfg["recursion_limit"].(float64); ok {
			cfg.RecursionLimit = int(limit)
		}
		if configurable, ok := runCfg["configurable"].(map[string]any); ok {
			for k, v := range configurable {
				cfg.Configurable[k] = v
			}
		}
	}

	cfg.Configurable["run_id"] = run.RunID
	cfg.Configurable["thread_id"] = run.ThreadID
	cfg.Configurable["assistant_id"] = assistant.AssistantID
	cfg.Configurable["assistant"] = assistant
	if token != "" {
		cfg.Configurable[TokenConfigurableKey] = token
	}
	delete(cfg.Configurable, "checkpoint_ns")

	return cfg
}

// Execute drives a run to completion synchronously and returns the thread
// state after checkpointer read-back.
func (e *Engine) Execute(ctx context.Context, run *storage.Run, assistant *storage.Assistant, token string) (*storage.StateSnapshot, error) {
	g, err := e.registry.Get(assistant.GraphID)
	if err != nil {
		e.finishRun(ctx, run, assistant, storage.RunStatusError, err)
		return nil, fmt.Errorf("Failed to initialize agent: %w", err)
	}

	_ = e.store.Runs().UpdateStatus(ctx, run.RunID, storage.RunStatusRunning)
	_ = e.store.Threads().SetStatus(ctx, run.ThreadID, storage.ThreadStatusBusy)

	cfg := e.buildRunnableConfig(assistant, run, token)
	input := graph.NormalizeInput(run.Kwargs["input"])

	result, err := g.Invoke(ctx, input, cfg)
	if err != nil {
		e.finishRun(ctx, run, assistant, storage.RunStatusError, err)
		return nil, fmt.Errorf("Agent execution failed: %w", err)
	}

	// Cancelled mid-flight: keep the interrupted status and return the
	// current state without persisting a new snapshot.
	if current, getErr := e.store.Runs().Get(ctx, run.RunID); getErr == nil && current.Status == storage.RunStatusInterrupted {
		_ = e.store.Threads().SetStatus(ctx, run.ThreadID, storage.ThreadStatusIdle)
		return e.store.Threads().GetState(ctx, run.ThreadID)
	}

	values := e.readBackState(ctx, g, cfg, result, run)
	if _, err := e.store.Threads().AddStateSnapshot(ctx, run.ThreadID, &storage.StateSnapshot{
		Values: values,
		Metadata: map[string]any{
			"run_id":       run.RunID,
			"assistant_id": assistant.AssistantID,
			"source":       "loop",
		},
	}); err != nil {
		e.logger.WithError(err).Warn("failed to persist state snapshot",
			zap.String("run_id", run.RunID), zap.String("thread_id", run.ThreadID))
	}

	e.finishRun(ctx, run, assistant, storage.RunStatusSuccess, nil)
	return e.store.Threads().GetState(ctx, run.ThreadID)
}

// readBackState returns the full accumulated state for the run's thread.
// Falling back to the invoke result alone loses prior turns, so the
// fallback is logged.
func (e *Engine) readBackState(ctx context.Context, g graph.Graph, cfg *graph.RunnableConfig, result map[string]any, run *storage.Run) map[string]any {
	state, err := g.GetState(ctx, cfg)
	if err == nil && state != nil {
		return state
	}
	if err != nil {
		e.logger.WithError(err).Warn("state read-back failed, using invoke result",
			zap.String("run_id", run.RunID))
	}
	if result != nil {
		return result
	}
	return map[string]any{}
}

func (e *Engine) finishRun(ctx context.Context, run *storage.Run, assistant *storage.Assistant, status string, cause error) {
	_ = e.store.Runs().UpdateStatus(ctx, run.RunID, status)
	_ = e.store.Threads().SetStatus(ctx, run.ThreadID, storage.ThreadStatusIdle)

	if e.collector != nil {
		e.collector.ObserveAgentInvocation(assistant.GraphID, status != storage.RunStatusSuccess)
	}
	if status == storage.RunStatusSuccess {
		e.publish(ctx, bus.SubjectRunCompleted, run, assistant, nil)
	} else {
		e.publish(ctx, bus.SubjectRunFailed, run, assistant, cause)
	}
}

func (e *Engine) publish(ctx context.Context, subject string, run *storage.Run, assistant *storage.Assistant, cause error) {
	if e.eventBus == nil {
		return
	}
	data := map[string]any{
		"run_id":       run.RunID,
		"thread_id":    run.ThreadID,
		"assistant_id": run.AssistantID,
		"graph_id":     assistant.GraphID,
		"status":       run.Status,
	}
	if webhook, ok := run.Kwargs["webhook"].(string); ok && webhook != "" {
		data["webhook"] = webhook
	}
	if cause != nil {
		data["error"] = cause.Error()
	}
	if err := e.eventBus.Publish(ctx, subject, bus.NewEvent(subject, "run-engine", data)); err != nil {
		e.logger.WithError(err).Warn("event publish failed", zap.String("subject", subject))
	}
}

// Cancel flips an active run to interrupted and idles its thread.
func (e *Engine) Cancel(ctx context.Context, threadID, runID string) (*storage.Run, error) {
	run, err := e.store.Runs().GetByThread(ctx, threadID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != storage.RunStatusPending && run.Status != storage.RunStatusRunning {
		return nil, ErrCancelConflict
	}
	if err := e.store.Runs().UpdateStatus(ctx, runID, storage.RunStatusInterrupted); err != nil {
		return nil, err
	}
	if err := e.store.Threads().SetStatus(ctx, threadID, storage.ThreadStatusIdle); err != nil {
		return nil, err
	}
	return e.store.Runs().Get(ctx, runID)
}

// Join waits for a run to reach a terminal status, polling at joinInterval
// for up to joinTimeout, then returns the thread state.
const (
	joinInterval = 100 * time.Millisecond
	joinTimeout  = 5 * time.Second
)

func (e *Engine) Join(ctx context.Context, threadID, runID string) (*storage.StateSnapshot, error) {
	run, err := e.store.Runs().GetByThread(ctx, threadID, runID)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(joinTimeout)
	for !storage.IsTerminalRunStatus(run.Status) && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(joinInterval):
		}
		run, err = e.store.Runs().Get(ctx, runID)
		if err != nil {
			return nil, err
		}
	}
	return e.store.Threads().GetState(ctx, threadID)
}
