package graph

import (
	"context"
	"fmt"

	"github.com/langline/langline/internal/checkpoint"
)

// EchoGraph is the built-in graph registered under the default graph ID.
// It appends an assistant reply acknowledging the latest user message, with
// the full conversation accumulating through the checkpointer. It keeps the
// server functional without any external agent backend and is the graph the
// startup default assistant binds to.
type EchoGraph struct {
	id    string
	saver checkpoint.Checkpointer
}

// NewEcho returns a builder for the echo graph under the given ID.
func NewEcho(id string) Builder {
	return func(saver checkpoint.Checkpointer) Graph {
		return &EchoGraph{id: id, saver: saver}
	}
}

func (g *EchoGraph) ID() string {
	return g.id
}

func (g *EchoGraph) Invoke(ctx context.Context, input map[string]any, cfg *RunnableConfig) (map[string]any, error) {
	threadID := cfg.ThreadID()
	if threadID == "" {
		// Stateless invocation: no checkpoint, just extend the input state.
		reply := g.reply(input, nil, cfg)
		out := make(map[string]any, len(input))
		for k, v := range input {
			out[k] = v
		}
		out[checkpoint.MessagesKey] = append(append([]any{}, Messages(input)...), reply)
		return out, nil
	}

	merged, err := g.saver.Save(ctx, threadID, input)
	if err != nil {
		return nil, fmt.Errorf("failed to checkpoint input: %w", err)
	}
	reply := g.reply(input, Messages(merged), cfg)
	state, err := g.saver.Save(ctx, threadID, map[string]any{
		checkpoint.MessagesKey: []any{reply},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to checkpoint reply: %w", err)
	}
	return state, nil
}

func (g *EchoGraph) GetState(ctx context.Context, cfg *RunnableConfig) (map[string]any, error) {
	threadID := cfg.ThreadID()
	if threadID == "" {
		return map[string]any{}, nil
	}
	return g.saver.Load(ctx, threadID)
}

// reply acknowledges the latest user message. history is the accumulated
// conversation including the current input, so earlier turns show up in the
// reply text.
func (g *EchoGraph) reply(input map[string]any, history []any, cfg *RunnableConfig) map[string]any {
	content := LastMessageContent(input)
	if content == "" {
		content = "(empty input)"
	}
	text := "You said: " + content
	if prior := len(history) - len(Messages(input)); prior > 0 {
		text += fmt.Sprintf(" (after %d earlier messages)", prior)
	}
	reply := NewMessage("ai", text)
	if cfg != nil && cfg.Configurable != nil {
		if model, ok := cfg.Configurable["model_name"].(string); ok && model != "" {
			reply["response_metadata"] = map[string]any{"model_name": model}
		}
	}
	return reply
}
