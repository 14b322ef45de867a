package storage

// Deep-copy helpers so the memory backend never hands out aliases into its
// internal state.

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneSlice(s []any) []any {
	if s == nil {
		return nil
	}
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		return cloneSlice(t)
	default:
		return v
	}
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func cloneAssistantConfig(c *AssistantConfig) *AssistantConfig {
	if c == nil {
		return nil
	}
	return &AssistantConfig{
		Tags:           cloneStrings(c.Tags),
		RecursionLimit: c.RecursionLimit,
		Configurable:   cloneMap(c.Configurable),
	}
}

func cloneAssistant(a *Assistant) *Assistant {
	out := *a
	out.Config = *cloneAssistantConfig(&a.Config)
	out.Context = cloneMap(a.Context)
	out.Metadata = cloneMap(a.Metadata)
	return &out
}

func cloneThread(t *Thread) *Thread {
	out := *t
	out.Metadata = cloneMap(t.Metadata)
	out.Config = cloneMap(t.Config)
	out.Values = cloneMap(t.Values)
	out.Interrupts = cloneMap(t.Interrupts)
	return &out
}

func cloneSnapshot(s *StateSnapshot) *StateSnapshot {
	out := *s
	out.Values = cloneMap(s.Values)
	out.Next = cloneStrings(s.Next)
	out.Tasks = cloneSlice(s.Tasks)
	out.Metadata = cloneMap(s.Metadata)
	out.ParentCheckpoint = cloneMap(s.ParentCheckpoint)
	out.Interrupts = cloneSlice(s.Interrupts)
	return &out
}

func cloneRun(r *Run) *Run {
	out := *r
	out.Metadata = cloneMap(r.Metadata)
	out.Kwargs = cloneMap(r.Kwargs)
	return &out
}

func cloneItem(i *StoreItem) *StoreItem {
	out := *i
	out.Value = cloneMap(i.Value)
	out.Metadata = cloneMap(i.Metadata)
	return &out
}

func cloneCron(c *Cron) *Cron {
	out := *c
	out.Payload = cloneMap(c.Payload)
	out.Metadata = cloneMap(c.Metadata)
	if c.EndTime != nil {
		end := *c.EndTime
		out.EndTime = &end
	}
	return &out
}
