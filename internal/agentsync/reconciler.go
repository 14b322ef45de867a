package agentsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/langline/langline/internal/common/config"
	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/storage"
)

// Stats tallies one reconcile sweep.
type Stats struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Reconciler maps catalog agents onto system-owned assistants.
type Reconciler struct {
	store        storage.Storage
	catalog      Catalog
	scope        Scope
	writeBack    bool
	lazyTTL      time.Duration
	graphID      string
	defaultModel string
	logger       *logger.Logger

	// sf collapses concurrent lazy refreshes of the same agent.
	sf singleflight.Group
}

// New creates a reconciler. A nil catalog or a "none" scope yields a
// reconciler whose syncs are no-ops.
func New(store storage.Storage, catalog Catalog, syncCfg config.AgentSyncConfig, graphCfg config.GraphConfig, log *logger.Logger) (*Reconciler, error) {
	scope, err := ParseScope(syncCfg.Scope)
	if err != nil {
		return nil, err
	}
	return &Reconciler{
		store:        store,
		catalog:      catalog,
		scope:        scope,
		writeBack:    syncCfg.WriteBack,
		lazyTTL:      syncCfg.LazyTTLDuration(),
		graphID:      graphCfg.DefaultGraphID,
		defaultModel: graphCfg.DefaultModel,
		logger:       log.WithFields(zap.String("component", "agent-sync")),
	}, nil
}

// StartupSync sweeps the catalog once. Per-agent failures are counted and
// logged; the sweep itself never returns an error to the caller's boot path.
func (r *Reconciler) StartupSync(ctx context.Context) Stats {
	var stats Stats
	if r.catalog == nil || r.scope.Kind == ScopeNone {
		return stats
	}

	records, err := r.catalog.ListAgents(ctx, r.scope)
	if err != nil {
		r.logger.WithError(err).Warn("agent catalog unreachable, skipping startup sync")
		return stats
	}

	for _, record := range records {
		stats.Total++
		action, err := r.reconcile(ctx, record)
		if err != nil {
			stats.Failed++
			r.logger.WithError(err).Warn("agent reconcile failed", zap.String("agent_id", record.ID))
			continue
		}
		switch action {
		case "created":
			stats.Created++
		case "updated":
			stats.Updated++
		default:
			stats.Skipped++
		}
	}

	r.logger.Info("startup agent sync complete",
		zap.Int("total", stats.Total),
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed))
	return stats
}

// SyncAgent refreshes one agent from the catalog, suppressed by the lazy TTL
// when the local assistant was synced recently.
func (r *Reconciler) SyncAgent(ctx context.Context, agentID string) error {
	if r.catalog == nil || r.scope.Kind == ScopeNone {
		return nil
	}
	if r.syncedRecently(ctx, agentID) {
		return nil
	}

	_, err, _ := r.sf.Do(agentID, func() (any, error) {
		record, err := r.catalog.GetAgent(ctx, agentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("agent %s not in catalog", agentID)
			}
			return nil, err
		}
		_, err = r.reconcile(ctx, record)
		return nil, err
	})
	return err
}

func (r *Reconciler) syncedRecently(ctx context.Context, agentID string) bool {
	existing, err := r.store.Assistants().Get(ctx, agentID, storage.SystemOwner)
	if err != nil {
		return false
	}
	raw, ok := existing.Metadata["synced_at"].(string)
	if !ok {
		return false
	}
	syncedAt, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	return time.Since(syncedAt) < r.lazyTTL
}

// reconcile upserts one catalog agent: create when absent, update when the
// assembled payload differs, skip when equal.
func (r *Reconciler) reconcile(ctx context.Context, record *AgentRecord) (string, error) {
	desired := buildAssistant(record, r.graphID, r.defaultModel, time.Now())

	existing, err := r.store.Assistants().Get(ctx, record.ID, storage.SystemOwner)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if _, err := r.store.Assistants().Create(ctx, desired, storage.SystemOwner, storage.IfExistsRaise); err != nil {
			return "", err
		}
		r.maybeWriteBack(ctx, record)
		return "created", nil
	case err != nil:
		return "", err
	}

	if configurablesEqual(existing.Config.Configurable, desired.Config.Configurable) && existing.Name == desired.Name {
		return "skipped", nil
	}

	name := desired.Name
	if _, err := r.store.Assistants().Update(ctx, record.ID, storage.AssistantPatch{
		Config:   &desired.Config,
		Name:     &name,
		Metadata: desired.Metadata,
	}, storage.SystemOwner); err != nil {
		return "", err
	}
	r.maybeWriteBack(ctx, record)
	return "updated", nil
}

func (r *Reconciler) maybeWriteBack(ctx context.Context, record *AgentRecord) {
	if !r.writeBack || record.AssistantID == record.ID {
		return
	}
	if err := r.catalog.WriteBackAssistantID(ctx, record.ID, record.ID); err != nil {
		r.logger.WithError(err).Warn("assistant id write-back failed", zap.String("agent_id", record.ID))
	}
}

// configurablesEqual compares after a JSON round-trip so numeric types from
// different sources (catalog JSONB, stored TEXT) normalize the same way.
// Missing keys on either side count as different.
func configurablesEqual(a, b map[string]any) bool {
	return reflect.DeepEqual(jsonNormalize(a), jsonNormalize(b))
}

func jsonNormalize(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return m
	}
	return out
}
