// Package auth verifies bearer tokens against an external identity service.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/langline/langline/internal/common/config"
)

// ErrUnauthorized is returned when the identity service rejects a token.
var ErrUnauthorized = errors.New("unauthorized")

// Verifier resolves a bearer token to a stable owner identity.
type Verifier interface {
	// Verify returns the identity for a token. An empty identity with a nil
	// error means the request proceeds anonymously.
	Verify(ctx context.Context, token string) (string, error)
}

// AnonymousVerifier admits every request without an identity. Used when no
// verify URL is configured (single-tenant and development deployments).
type AnonymousVerifier struct{}

func (AnonymousVerifier) Verify(context.Context, string) (string, error) {
	return "", nil
}

// HTTPVerifier calls the configured identity endpoint with the bearer token
// and expects {"identity": "..."} back.
type HTTPVerifier struct {
	verifyURL string
	client    *http.Client
}

// NewHTTPVerifier builds a verifier with a fail-fast timeout so a slow
// identity service cannot stall every request.
func NewHTTPVerifier(cfg config.AuthConfig) *HTTPVerifier {
	return &HTTPVerifier{
		verifyURL: cfg.VerifyURL,
		client:    &http.Client{Timeout: cfg.VerifyTimeoutDuration()},
	}
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.verifyURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity service unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrUnauthorized
	default:
		return "", fmt.Errorf("identity service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	var payload struct {
		Identity string `json:"identity"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to decode identity response: %w", err)
	}
	if payload.Identity == "" {
		return "", ErrUnauthorized
	}
	return payload.Identity, nil
}

// Provide selects the verifier for the configuration.
func Provide(cfg config.AuthConfig) Verifier {
	if strings.TrimSpace(cfg.VerifyURL) == "" {
		return AnonymousVerifier{}
	}
	return NewHTTPVerifier(cfg)
}
