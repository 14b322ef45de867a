package graph

import (
	"github.com/google/uuid"

	"github.com/langline/langline/internal/checkpoint"
)

// NormalizeInput converts the permissive run input shapes into graph state:
//
//	"hello"                      -> {"messages": [{type: human, content: "hello", id}]}
//	{"messages": [...]}          -> messages normalized, other keys kept
//	{"anything": ...}            -> passed through as state
//	nil                          -> {}
//
// Every message gets a type (default "human") and a generated id when absent.
func NormalizeInput(input any) map[string]any {
	switch v := input.(type) {
	case nil:
		return map[string]any{}
	case string:
		return map[string]any{
			checkpoint.MessagesKey: []any{NormalizeMessage(v)},
		}
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			if key == checkpoint.MessagesKey {
				out[key] = normalizeMessages(value)
				continue
			}
			out[key] = value
		}
		return out
	default:
		return map[string]any{"input": v}
	}
}

func normalizeMessages(value any) []any {
	list, ok := value.([]any)
	if !ok {
		if value == nil {
			return []any{}
		}
		return []any{NormalizeMessage(value)}
	}
	out := make([]any, 0, len(list))
	for _, msg := range list {
		out = append(out, NormalizeMessage(msg))
	}
	return out
}

// NormalizeMessage coerces a single message into map form.
func NormalizeMessage(msg any) map[string]any {
	switch v := msg.(type) {
	case string:
		return NewMessage("human", v)
	case map[string]any:
		out := make(map[string]any, len(v)+2)
		for k, val := range v {
			out[k] = val
		}
		if _, ok := out["type"]; !ok {
			// LangChain clients send "role" instead of "type".
			if role, ok := out["role"].(string); ok {
				out["type"] = roleToType(role)
			} else {
				out["type"] = "human"
			}
		}
		if _, ok := out["id"]; !ok {
			out["id"] = uuid.NewString()
		}
		return out
	default:
		return NewMessage("human", "")
	}
}

// NewMessage builds a message map with a fresh id.
func NewMessage(msgType, content string) map[string]any {
	return map[string]any{
		"type":    msgType,
		"content": content,
		"id":      uuid.NewString(),
	}
}

func roleToType(role string) string {
	switch role {
	case "user", "human":
		return "human"
	case "assistant", "ai":
		return "ai"
	case "system":
		return "system"
	case "tool":
		return "tool"
	default:
		return "human"
	}
}

// Messages extracts the messages channel from a state map.
func Messages(state map[string]any) []any {
	if state == nil {
		return nil
	}
	list, _ := state[checkpoint.MessagesKey].([]any)
	return list
}

// LastMessageContent returns the content of the last message as a string.
func LastMessageContent(state map[string]any) string {
	messages := Messages(state)
	if len(messages) == 0 {
		return ""
	}
	last, ok := messages[len(messages)-1].(map[string]any)
	if !ok {
		if s, ok := messages[len(messages)-1].(string); ok {
			return s
		}
		return ""
	}
	content, _ := last["content"].(string)
	return content
}
