// Package prompts resolves named prompt templates from an optional external
// prompt service, falling back to compiled-in defaults, with TTL caching.
package prompts

import (
	"errors"
	"time"
)

var (
	ErrPromptNotFound = errors.New("prompt not found")
	ErrInvalidPrompt  = errors.New("invalid prompt")
)

// DefaultSystemPrompt is the prompt name bound to assistants that carry no
// explicit system prompt.
const DefaultSystemPrompt = "agent_system_default"

// Prompt is a named template. Text templates are rendered verbatim; chat
// templates hold a JSON-encoded message list in Content.
type Prompt struct {
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	Builtin   bool      `json:"builtin"`
	UpdatedAt time.Time `json:"updated_at"`
}

// builtinPrompts seed the registry so the server renders without any
// external prompt service.
var builtinPrompts = map[string]string{
	DefaultSystemPrompt: "You are a helpful assistant. Answer the user's questions concisely, " +
		"using the conversation so far for context. Today's date is {{current_date}}.",
}
