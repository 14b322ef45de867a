package prompts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langline/langline/internal/common/config"
	"github.com/langline/langline/internal/common/logger"
)

// Registry serves prompts by name. Lookup order: TTL cache, external prompt
// service (when configured), compiled-in defaults. Service outages degrade to
// defaults rather than failing runs.
type Registry struct {
	serviceURL string
	apiKey     string
	cacheTTL   time.Duration
	client     *http.Client
	logger     *logger.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	prompt    *Prompt
	fetchedAt time.Time
}

// NewRegistry builds a registry from configuration.
func NewRegistry(cfg config.PromptsConfig, log *logger.Logger) *Registry {
	return &Registry{
		serviceURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		cacheTTL:   cfg.CacheTTLDuration(),
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     log,
		cache:      make(map[string]cacheEntry),
	}
}

// Get resolves a prompt by name.
func (r *Registry) Get(ctx context.Context, name string) (*Prompt, error) {
	if name = strings.TrimSpace(name); name == "" {
		return nil, ErrInvalidPrompt
	}

	if prompt := r.cached(name); prompt != nil {
		return prompt, nil
	}

	if r.serviceURL != "" {
		prompt, err := r.fetch(ctx, name)
		if err == nil {
			r.store(name, prompt)
			return prompt, nil
		}
		if err != ErrPromptNotFound {
			r.logger.Warn("prompt service lookup failed, using builtin default",
				zap.String("prompt", name), zap.Error(err))
		}
	}

	if content, ok := builtinPrompts[name]; ok {
		prompt := &Prompt{Name: name, Content: content, Builtin: true}
		r.store(name, prompt)
		return prompt, nil
	}
	return nil, ErrPromptNotFound
}

// Render resolves a prompt and substitutes variables.
func (r *Registry) Render(ctx context.Context, name string, vars map[string]string) (string, error) {
	prompt, err := r.Get(ctx, name)
	if err != nil {
		return "", err
	}
	return RenderText(prompt.Content, vars), nil
}

func (r *Registry) cached(name string) *Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[name]
	if !ok || time.Since(entry.fetchedAt) > r.cacheTTL {
		return nil
	}
	return entry.prompt
}

func (r *Registry) store(name string, prompt *Prompt) {
	r.mu.Lock()
	r.cache[name] = cacheEntry{prompt: prompt, fetchedAt: time.Now()}
	r.mu.Unlock()
}

// Invalidate drops a cached prompt so the next Get refetches.
func (r *Registry) Invalidate(name string) {
	r.mu.Lock()
	delete(r.cache, name)
	r.mu.Unlock()
}

func (r *Registry) fetch(ctx context.Context, name string) (*Prompt, error) {
	endpoint := fmt.Sprintf("%s/prompts/%s", r.serviceURL, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrPromptNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prompt service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var prompt Prompt
	if err := json.Unmarshal(body, &prompt); err != nil {
		return nil, fmt.Errorf("failed to decode prompt: %w", err)
	}
	if prompt.Name == "" {
		prompt.Name = name
	}
	return &prompt, nil
}
