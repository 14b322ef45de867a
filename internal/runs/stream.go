package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langline/langline/internal/graph"
	"github.com/langline/langline/internal/storage"
)

// sseWriter frames server-sent events: "event: <type>\ndata: <payload>\n\n".
type sseWriter struct {
	w       gin.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(c *gin.Context, location string) *sseWriter {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("X-Accel-Buffering", "no")
	if location != "" {
		h.Set("Location", location)
		h.Set("Content-Location", location)
	}
	c.Writer.WriteHeader(http.StatusOK)

	flusher, _ := c.Writer.(http.Flusher)
	return &sseWriter{w: c.Writer, flusher: flusher}
}

func (s *sseWriter) event(name string, payload any) {
	var data string
	switch v := payload.(type) {
	case nil:
		data = ""
	case string:
		data = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return
		}
		data = string(encoded)
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data)
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// Stream drives a run and writes the SSE event sequence: metadata, values
// (accumulated state plus the new input), one messages delta per new AI
// message, updates, final values, end. Failures surface as an in-band error
// event; the stream still terminates with exactly one end event.
func (e *Engine) Stream(c *gin.Context, run *storage.Run, assistant *storage.Assistant, token string) {
	if e.collector != nil {
		e.collector.StreamOpened()
		defer e.collector.StreamClosed()
	}

	ctx := c.Request.Context()
	location := fmt.Sprintf("/threads/%s/runs/%s", run.ThreadID, run.RunID)
	w := newSSEWriter(c, location)

	w.event("metadata", map[string]any{"run_id": run.RunID, "attempt": 1})

	// Lifecycle writes use a detached context so a client disconnect cannot
	// leave the run stuck in running.
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer func() {
		if current, err := e.store.Runs().Get(cleanupCtx, run.RunID); err == nil && !storage.IsTerminalRunStatus(current.Status) {
			e.finishRun(cleanupCtx, run, assistant, storage.RunStatusSuccess, nil)
		}
	}()

	g, err := e.registry.Get(assistant.GraphID)
	if err != nil {
		e.finishRun(cleanupCtx, run, assistant, storage.RunStatusError, err)
		w.event("error", map[string]any{"error": "Failed to initialize agent: " + err.Error()})
		w.event("end", "")
		return
	}

	var priorMessages []any
	if state, err := e.store.Threads().GetState(ctx, run.ThreadID); err == nil && state != nil {
		priorMessages = graph.Messages(state.Values)
	}
	input := graph.NormalizeInput(run.Kwargs["input"])
	inputMessages := graph.Messages(input)

	w.event("values", map[string]any{"messages": append(append([]any{}, priorMessages...), inputMessages...)})

	_ = e.store.Runs().UpdateStatus(ctx, run.RunID, storage.RunStatusRunning)
	_ = e.store.Threads().SetStatus(ctx, run.ThreadID, storage.ThreadStatusBusy)

	cfg := e.buildRunnableConfig(assistant, run, token)
	result, err := g.Invoke(ctx, input, cfg)
	if err != nil {
		e.finishRun(cleanupCtx, run, assistant, storage.RunStatusError, err)
		w.event("error", map[string]any{"error": "Agent execution failed: " + err.Error()})
		w.event("end", "")
		return
	}

	resultMessages := graph.Messages(result)
	newAI := newAIMessages(resultMessages, len(priorMessages)+len(inputMessages))

	messageMeta := map[string]any{
		"graph_id":                assistant.GraphID,
		"assistant_id":            assistant.AssistantID,
		"run_id":                  run.RunID,
		"thread_id":               run.ThreadID,
		"langgraph_node":          "model",
		"langgraph_step":          1,
		"langgraph_checkpoint_ns": "",
	}
	for _, msg := range newAI {
		// A 2-tuple of [delta, metadata]; the delta carries only this
		// chunk's new content so SDK clients can concatenate.
		w.event("messages", []any{msg, messageMeta})
	}
	if len(newAI) > 0 {
		w.event("updates", map[string]any{"model": map[string]any{"messages": []any{newAI[len(newAI)-1]}}})
	}

	values := e.readBackState(ctx, g, cfg, result, run)
	w.event("values", values)

	if _, err := e.store.Threads().AddStateSnapshot(cleanupCtx, run.ThreadID, &storage.StateSnapshot{
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

	e.finishRun(cleanupCtx, run, assistant, storage.RunStatusSuccess, nil)
	w.event("end", "")
}

// StreamExisting replays a run that was created earlier. Pending runs are
// driven to completion; terminal runs emit the current thread state.
func (e *Engine) StreamExisting(c *gin.Context, run *storage.Run, assistant *storage.Assistant, token string) {
	if run.Status == storage.RunStatusPending {
		e.Stream(c, run, assistant, token)
		return
	}

	if e.collector != nil {
		e.collector.StreamOpened()
		defer e.collector.StreamClosed()
	}
	w := newSSEWriter(c, fmt.Sprintf("/threads/%s/runs/%s", run.ThreadID, run.RunID))
	w.event("metadata", map[string]any{"run_id": run.RunID, "attempt": 1})
	if state, err := e.store.Threads().GetState(c.Request.Context(), run.ThreadID); err == nil && state != nil {
		w.event("values", state.Values)
	}
	w.event("end", "")
}

// newAIMessages returns the AI-typed messages appended past the given offset.
func newAIMessages(messages []any, offset int) []any {
	if offset > len(messages) {
		offset = len(messages)
	}
	var out []any
	for _, raw := range messages[offset:] {
		if msg, ok := raw.(map[string]any); ok {
			if t, _ := msg["type"].(string); t == "ai" {
				out = append(out, msg)
			}
		}
	}
	return out
}
