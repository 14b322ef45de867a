// Package graph defines the runnable graph boundary the run engine invokes,
// plus the registry mapping graph IDs to implementations.
package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/langline/langline/internal/checkpoint"
)

// RunnableConfig is the merged configuration handed to a graph invocation.
// Configurable always carries thread_id for stateful runs.
type RunnableConfig struct {
	Tags           []string       `json:"tags,omitempty"`
	RecursionLimit int            `json:"recursion_limit,omitempty"`
	Configurable   map[string]any `json:"configurable,omitempty"`
}

// ThreadID returns the thread bound to this invocation, or "".
func (c *RunnableConfig) ThreadID() string {
	if c == nil || c.Configurable == nil {
		return ""
	}
	if id, ok := c.Configurable["thread_id"].(string); ok {
		return id
	}
	return ""
}

// Graph is a runnable agent graph. Implementations own their state
// accumulation through the checkpointer bound at construction.
type Graph interface {
	ID() string
	// Invoke runs the graph to completion and returns the resulting state.
	Invoke(ctx context.Context, input map[string]any, cfg *RunnableConfig) (map[string]any, error)
	// GetState returns the accumulated state for the invocation's thread.
	GetState(ctx context.Context, cfg *RunnableConfig) (map[string]any, error)
}

// Builder constructs a graph bound to a checkpointer.
type Builder func(saver checkpoint.Checkpointer) Graph

// Registry maps graph IDs to builders and caches built instances.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
	built    map[string]Graph
	saver    checkpoint.Checkpointer
}

// NewRegistry creates a registry whose graphs share one checkpointer.
func NewRegistry(saver checkpoint.Checkpointer) *Registry {
	return &Registry{
		builders: make(map[string]Builder),
		built:    make(map[string]Graph),
		saver:    saver,
	}
}

// Register adds a graph builder under an ID, replacing any previous one.
func (r *Registry) Register(graphID string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[graphID] = builder
	delete(r.built, graphID)
}

// Get returns the graph for an ID, building it on first use.
func (r *Registry) Get(graphID string) (Graph, error) {
	r.mu.RLock()
	if g, ok := r.built[graphID]; ok {
		r.mu.RUnlock()
		return g, nil
	}
	builder, ok := r.builders[graphID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("graph %q is not registered", graphID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.built[graphID]; ok {
		return g, nil
	}
	g := builder(r.saver)
	r.built[graphID] = g
	return g, nil
}

// Has reports whether a graph ID is registered.
func (r *Registry) Has(graphID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[graphID]
	return ok
}

// IDs returns registered graph IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.builders))
	for id := range r.builders {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
