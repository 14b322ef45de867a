// Package storage provides durable CRUD for the runtime's resources:
// assistants, threads, runs, state snapshots, store items, and crons.
// Two interchangeable backends implement the same contracts: an in-memory
// map store and a SQL store (PostgreSQL or SQLite).
package storage

import (
	"errors"
	"time"
)

// Common errors returned by all backends.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// SystemOwner marks resources produced by agent-sync. They are readable by
// all authenticated users but writable only by the runtime itself.
const SystemOwner = "system"

// OwnerMetadataKey is the metadata key carrying resource ownership.
const OwnerMetadataKey = "owner"

// Thread statuses.
const (
	ThreadStatusIdle = "idle"
	ThreadStatusBusy = "busy"
)

// Run statuses. The last four are terminal: once set they never change.
const (
	RunStatusPending     = "pending"
	RunStatusRunning     = "running"
	RunStatusSuccess     = "success"
	RunStatusError       = "error"
	RunStatusTimeout     = "timeout"
	RunStatusInterrupted = "interrupted"
)

// IsTerminalRunStatus reports whether a run status is final.
func IsTerminalRunStatus(status string) bool {
	switch status {
	case RunStatusSuccess, RunStatusError, RunStatusTimeout, RunStatusInterrupted:
		return true
	}
	return false
}

// Multitask strategies resolving concurrent run attempts on one thread.
const (
	MultitaskReject    = "reject"
	MultitaskInterrupt = "interrupt"
	MultitaskRollback  = "rollback"
	MultitaskEnqueue   = "enqueue"
)

// Duplicate handling for create endpoints.
const (
	IfExistsRaise     = "raise"
	IfExistsDoNothing = "do_nothing"
)

// AssistantConfig is the reusable configuration bound to a graph.
type AssistantConfig struct {
	Tags           []string       `json:"tags,omitempty"`
	RecursionLimit int            `json:"recursion_limit,omitempty"`
	Configurable   map[string]any `json:"configurable,omitempty"`
}

// Assistant is a reusable agent configuration bound to a named graph.
type Assistant struct {
	AssistantID string          `json:"assistant_id"`
	GraphID     string          `json:"graph_id"`
	Config      AssistantConfig `json:"config"`
	Context     map[string]any  `json:"context"`
	Metadata    map[string]any  `json:"metadata"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Version     int             `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Owner returns the owner stamped in metadata, or "".
func (a *Assistant) Owner() string {
	return metadataOwner(a.Metadata)
}

// Thread is a conversation state container.
type Thread struct {
	ThreadID   string         `json:"thread_id"`
	Metadata   map[string]any `json:"metadata"`
	Config     map[string]any `json:"config"`
	Status     string         `json:"status"`
	Values     map[string]any `json:"values"`
	Interrupts map[string]any `json:"interrupts"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Owner returns the owner stamped in metadata, or "".
func (t *Thread) Owner() string {
	return metadataOwner(t.Metadata)
}

// StateSnapshot is a point-in-time capture of thread values. Snapshots are
// append-only per thread; parent_checkpoint links form a branch-capable tree.
type StateSnapshot struct {
	ThreadID         string         `json:"thread_id,omitempty"`
	Values           map[string]any `json:"values"`
	Next             []string       `json:"next"`
	Tasks            []any          `json:"tasks"`
	Metadata         map[string]any `json:"metadata"`
	CheckpointID     string         `json:"checkpoint_id"`
	ParentCheckpoint map[string]any `json:"parent_checkpoint,omitempty"`
	Interrupts       []any          `json:"interrupts"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Run is a single agent invocation on a thread.
type Run struct {
	RunID             string         `json:"run_id"`
	ThreadID          string         `json:"thread_id"`
	AssistantID       string         `json:"assistant_id"`
	Status            string         `json:"status"`
	Metadata          map[string]any `json:"metadata"`
	Kwargs            map[string]any `json:"kwargs"`
	MultitaskStrategy string         `json:"multitask_strategy"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// StoreItem is a cross-thread key-value record owned by a single user.
// The primary key is (namespace, key, owner_id).
type StoreItem struct {
	Namespace string         `json:"namespace"`
	Key       string         `json:"key"`
	OwnerID   string         `json:"owner_id"`
	Value     map[string]any `json:"value"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Cron schedules recurring runs for an assistant.
type Cron struct {
	CronID      string         `json:"cron_id"`
	Schedule    string         `json:"schedule"`
	AssistantID string         `json:"assistant_id"`
	ThreadID    string         `json:"thread_id,omitempty"`
	EndTime     *time.Time     `json:"end_time,omitempty"`
	Payload     map[string]any `json:"payload"`
	UserID      string         `json:"user_id"`
	NextRunDate time.Time      `json:"next_run_date"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Owner returns the owner stamped in metadata, falling back to UserID.
func (c *Cron) Owner() string {
	if owner := metadataOwner(c.Metadata); owner != "" {
		return owner
	}
	return c.UserID
}

// Counts tallies stored resources, used for metrics gauges.
type Counts struct {
	Assistants int `json:"assistants"`
	Threads    int `json:"threads"`
	Runs       int `json:"runs"`
	StoreItems int `json:"store_items"`
	Crons      int `json:"crons"`
}

func metadataOwner(metadata map[string]any) string {
	if metadata == nil {
		return ""
	}
	if owner, ok := metadata[OwnerMetadataKey].(string); ok {
		return owner
	}
	return ""
}
