package crons

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/events/bus"
	"github.com/langline/langline/internal/runs"
	"github.com/langline/langline/internal/storage"
)

// Scheduler is the in-process ticker that fires due crons. Each fire
// resolves or creates the cron's thread and enqueues a run; failures are
// per-cron and never stop the loop.
type Scheduler struct {
	store    storage.Storage
	engine   *runs.Engine
	eventBus bus.EventBus
	interval time.Duration
	logger   *logger.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a cron scheduler ticking at the given interval.
func NewScheduler(store storage.Storage, engine *runs.Engine, eventBus bus.EventBus, interval time.Duration, log *logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		store:    store,
		engine:   engine,
		eventBus: eventBus,
		interval: interval,
		logger:   log.WithFields(zap.String("component", "cron-scheduler")),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the ticker loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.logger.Info("cron scheduler started", zap.Duration("interval", s.interval))
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Tick(context.Background())
			}
		}
	}()
}

// Stop halts the ticker and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

// Tick sweeps due crons once. Exported so boot code and tests can drive the
// sweep without waiting on the ticker.
func (s *Scheduler) Tick(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	due, err := s.store.Crons().Due(ctx, now)
	if err != nil {
		s.logger.WithError(err).Error("cron sweep failed")
		return
	}

	for _, cron := range due {
		if cron.EndTime != nil && now.After(*cron.EndTime) {
			if err := s.store.Crons().Delete(ctx, cron.CronID, cron.Owner()); err != nil && !errors.Is(err, storage.ErrNotFound) {
				s.logger.WithError(err).Warn("failed to delete expired cron", zap.String("cron_id", cron.CronID))
			}
			continue
		}

		if err := s.fire(ctx, cron); err != nil {
			s.logger.WithError(err).Warn("cron fire failed",
				zap.String("cron_id", cron.CronID),
				zap.String("assistant_id", cron.AssistantID))
		}

		s.advance(ctx, cron, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, cron *storage.Cron) error {
	assistant, err := s.engine.ResolveAssistant(ctx, cron.AssistantID, cron.Owner())
	if err != nil {
		return err
	}

	threadID, err := s.resolveThread(ctx, cron)
	if err != nil {
		return err
	}

	strategy := storage.MultitaskEnqueue
	if v, ok := cron.Payload["multitask_strategy"].(string); ok && v != "" {
		strategy = v
	}
	config, _ := cron.Payload["config"].(map[string]any)

	run, err := s.engine.CreateRun(ctx, runs.CreateRunParams{
		ThreadID:          threadID,
		Assistant:         assistant,
		Input:             cron.Payload["input"],
		Config:            config,
		Metadata:          map[string]any{"cron_id": cron.CronID},
		MultitaskStrategy: strategy,
	})
	if err != nil {
		return err
	}

	if s.eventBus != nil {
		event := bus.NewEvent(bus.SubjectCronFired, "cron-scheduler", map[string]any{
			"cron_id":      cron.CronID,
			"run_id":       run.RunID,
			"thread_id":    threadID,
			"assistant_id": assistant.AssistantID,
		})
		if err := s.eventBus.Publish(ctx, bus.SubjectCronFired, event); err != nil {
			s.logger.WithError(err).Warn("cron event publish failed", zap.String("cron_id", cron.CronID))
		}
	}

	s.logger.Info("cron fired",
		zap.String("cron_id", cron.CronID),
		zap.String("run_id", run.RunID),
		zap.String("thread_id", threadID))
	return nil
}

// resolveThread returns the cron's bound thread, creating it when absent or
// when the cron has no thread binding yet.
func (s *Scheduler) resolveThread(ctx context.Context, cron *storage.Cron) (string, error) {
	if cron.ThreadID != "" {
		if _, err := s.store.Threads().Get(ctx, cron.ThreadID, ""); err == nil {
			return cron.ThreadID, nil
		} else if !errors.Is(err, storage.ErrNotFound) {
			return "", err
		}
	}

	threadID := cron.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}
	thread := &storage.Thread{
		ThreadID: threadID,
		Metadata: map[string]any{"created_by": "cron", "cron_id": cron.CronID},
		Status:   storage.ThreadStatusIdle,
		Values:   map[string]any{},
	}
	created, err := s.store.Threads().Create(ctx, thread, cron.Owner(), storage.IfExistsDoNothing)
	if err != nil {
		return "", err
	}

	if cron.ThreadID == "" {
		patch := map[string]any{"thread_id": created.ThreadID}
		if _, err := s.store.Crons().Update(ctx, cron.CronID, patch, cron.Owner()); err != nil {
			s.logger.WithError(err).Warn("failed to bind thread to cron", zap.String("cron_id", cron.CronID))
		}
	}
	return created.ThreadID, nil
}

func (s *Scheduler) advance(ctx context.Context, cron *storage.Cron, now time.Time) {
	schedule, err := ParseSchedule(cron.Schedule)
	if err != nil {
		s.logger.WithError(err).Error("stored cron schedule no longer parses",
			zap.String("cron_id", cron.CronID), zap.String("schedule", cron.Schedule))
		return
	}
	if err := s.store.Crons().SetNextRun(ctx, cron.CronID, schedule.Next(now)); err != nil {
		s.logger.WithError(err).Warn("failed to advance cron", zap.String("cron_id", cron.CronID))
	}
}
