// Package checkpoint persists graph state between invocations on the same
// thread. The reducer appends to the messages channel and replaces every
// other key, matching how graph state accumulates across turns.
package checkpoint

import (
	"context"
	"sync"
)

// MessagesKey is the state channel holding the conversation.
const MessagesKey = "messages"

// Checkpointer loads and saves per-thread graph state.
type Checkpointer interface {
	// Load returns the accumulated state for a thread. A thread with no
	// prior invocations yields an empty map.
	Load(ctx context.Context, threadID string) (map[string]any, error)
	// Save merges new state into the thread's accumulated state: messages
	// append, other keys replace.
	Save(ctx context.Context, threadID string, state map[string]any) (map[string]any, error)
	// Clear drops a thread's state.
	Clear(ctx context.Context, threadID string) error
}

// MemorySaver is the in-process checkpointer.
type MemorySaver struct {
	mu     sync.RWMutex
	states map[string]map[string]any
}

// NewMemorySaver creates an empty checkpointer.
func NewMemorySaver() *MemorySaver {
	return &MemorySaver{states: make(map[string]map[string]any)}
}

func (m *MemorySaver) Load(_ context.Context, threadID string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[threadID]
	if !ok {
		return map[string]any{}, nil
	}
	return deepCopy(state), nil
}

func (m *MemorySaver) Save(_ context.Context, threadID string, state map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.states[threadID]
	if !ok {
		current = map[string]any{}
		m.states[threadID] = current
	}
	for key, value := range state {
		if key == MessagesKey {
			current[key] = appendMessages(current[key], value)
			continue
		}
		current[key] = copyValue(value)
	}
	return deepCopy(current), nil
}

func (m *MemorySaver) Clear(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, threadID)
	return nil
}

// appendMessages concatenates the new messages channel onto the existing one.
func appendMessages(existing, incoming any) []any {
	out := []any{}
	if list, ok := existing.([]any); ok {
		out = append(out, list...)
	}
	if list, ok := incoming.([]any); ok {
		for _, msg := range list {
			out = append(out, copyValue(msg))
		}
	} else if incoming != nil {
		out = append(out, copyValue(incoming))
	}
	return out
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopy(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
