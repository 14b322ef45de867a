package prompts

import "strings"

// RenderText substitutes {{var}} placeholders. Unknown placeholders are left
// in place so missing variables are visible rather than silently blank.
func RenderText(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// RenderChat substitutes placeholders in every message of a chat template
// without mutating the input.
func RenderChat(messages []map[string]any, vars map[string]string) []map[string]any {
	out := make([]map[string]any, len(messages))
	for i, msg := range messages {
		rendered := make(map[string]any, len(msg))
		for k, v := range msg {
			if s, ok := v.(string); ok {
				rendered[k] = RenderText(s, vars)
				continue
			}
			rendered[k] = v
		}
		out[i] = rendered
	}
	return out
}
