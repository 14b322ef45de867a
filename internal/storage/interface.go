package storage

import (
	"context"
	"time"
)

// AssistantQuery filters assistant searches. Zero-value fields are ignored.
type AssistantQuery struct {
	Metadata  map[string]any
	GraphID   string
	Name      string
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

// AssistantPatch carries partial updates; nil pointers leave fields as-is.
type AssistantPatch struct {
	GraphID     *string
	Config      *AssistantConfig
	Context     map[string]any
	Metadata    map[string]any
	Name        *string
	Description *string
}

// AssistantStore persists assistants with owner-scoped access.
type AssistantStore interface {
	// Create stores a new assistant stamped with the caller's owner. When an
	// assistant with the same ID exists, ifExists selects between returning
	// ErrConflict ("raise") and returning the existing record ("do_nothing").
	Create(ctx context.Context, assistant *Assistant, caller, ifExists string) (*Assistant, error)
	Get(ctx context.Context, id, caller string) (*Assistant, error)
	Search(ctx context.Context, q AssistantQuery, caller string) ([]*Assistant, error)
	Count(ctx context.Context, q AssistantQuery, caller string) (int, error)
	// Update applies a patch, bumps version, and merges metadata shallowly
	// while preserving the owner stamp.
	Update(ctx context.Context, id string, patch AssistantPatch, caller string) (*Assistant, error)
	Delete(ctx context.Context, id, caller string) error
	// FindByGraphID returns the first system assistant bound to the graph,
	// used when a run names a graph instead of an assistant UUID.
	FindByGraphID(ctx context.Context, graphID string) (*Assistant, error)
}

// ThreadQuery filters thread searches.
type ThreadQuery struct {
	Metadata map[string]any
	Status   string
	Values   map[string]any
	Limit    int
	Offset   int
}

// ThreadPatch carries partial thread updates.
type ThreadPatch struct {
	Metadata map[string]any
	Config   map[string]any
}

// ThreadStore persists threads and their append-only state snapshots.
// State and history reads are deliberately not owner-scoped: the run engine
// reads them with runtime identity, and thread IDs are unguessable UUIDs.
type ThreadStore interface {
	Create(ctx context.Context, thread *Thread, caller, ifExists string) (*Thread, error)
	Get(ctx context.Context, id, caller string) (*Thread, error)
	Search(ctx context.Context, q ThreadQuery, caller string) ([]*Thread, error)
	Count(ctx context.Context, q ThreadQuery, caller string) (int, error)
	Update(ctx context.Context, id string, patch ThreadPatch, caller string) (*Thread, error)
	Delete(ctx context.Context, id, caller string) error

	// GetState returns the latest snapshot, synthesizing an empty-shape
	// snapshot from thread.values when no snapshot has been recorded yet.
	GetState(ctx context.Context, threadID string) (*StateSnapshot, error)
	// AddStateSnapshot appends a snapshot and updates thread.values to the
	// snapshot's values. The snapshot's checkpoint ID and parent link are
	// assigned here.
	AddStateSnapshot(ctx context.Context, threadID string, snapshot *StateSnapshot) (*StateSnapshot, error)
	// GetHistory returns snapshots newest-first. A non-empty before cursor
	// restricts results to snapshots older than the named checkpoint.
	GetHistory(ctx context.Context, threadID string, limit int, before string) ([]*StateSnapshot, error)
	SetStatus(ctx context.Context, threadID, status string) error
}

// RunStore persists runs. Status transitions out of a terminal state are
// silently ignored so late engine writes cannot resurrect a finished run.
type RunStore interface {
	Create(ctx context.Context, run *Run) (*Run, error)
	Get(ctx context.Context, runID string) (*Run, error)
	GetByThread(ctx context.Context, threadID, runID string) (*Run, error)
	ListByThread(ctx context.Context, threadID string, limit, offset int, status string) ([]*Run, error)
	DeleteByThread(ctx context.Context, threadID, runID string) error
	// GetActiveRun returns the thread's pending or running run, or nil.
	GetActiveRun(ctx context.Context, threadID string) (*Run, error)
	UpdateStatus(ctx context.Context, runID, status string) error
}

// ItemStore is the cross-thread key-value store. Every operation is scoped
// to a single owner; two owners can hold the same (namespace, key) pair
// without collision.
type ItemStore interface {
	Put(ctx context.Context, owner, namespace, key string, value, metadata map[string]any) (*StoreItem, error)
	Get(ctx context.Context, owner, namespace, key string) (*StoreItem, error)
	Delete(ctx context.Context, owner, namespace, key string) error
	Search(ctx context.Context, owner, namespacePrefix string, limit, offset int) ([]*StoreItem, error)
	ListNamespaces(ctx context.Context, owner string) ([]string, error)
}

// CronQuery filters cron listings.
type CronQuery struct {
	AssistantID string
	ThreadID    string
	Limit       int
	Offset      int
}

// CronStore persists cron schedules. Listing with an empty caller returns
// every cron; the scheduler tick uses that to sweep all owners.
type CronStore interface {
	Create(ctx context.Context, cron *Cron) (*Cron, error)
	Get(ctx context.Context, cronID, caller string) (*Cron, error)
	List(ctx context.Context, q CronQuery, caller string) ([]*Cron, error)
	Count(ctx context.Context, q CronQuery, caller string) (int, error)
	Update(ctx context.Context, cronID string, patch map[string]any, caller string) (*Cron, error)
	Delete(ctx context.Context, cronID, caller string) error
	// Due returns crons whose next_run_date is at or before now.
	Due(ctx context.Context, now time.Time) ([]*Cron, error)
	SetNextRun(ctx context.Context, cronID string, next time.Time) error
}

// Storage aggregates the per-resource stores behind one backend.
type Storage interface {
	Assistants() AssistantStore
	Threads() ThreadStore
	Runs() RunStore
	Items() ItemStore
	Crons() CronStore
	Counts(ctx context.Context) (Counts, error)
	Ping(ctx context.Context) error
	Close() error
}
