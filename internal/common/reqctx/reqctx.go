// Package reqctx carries per-request authentication state on the request
// context: the verified identity string and the raw bearer token. Handlers
// read both without threading them through every signature; concurrent
// requests are isolated because each carries its own context.
package reqctx

import "context"

type contextKey string

const (
	identityKey contextKey = "identity"
	tokenKey    contextKey = "bearer_token"
)

// WithIdentity returns a context carrying the authenticated identity and the
// raw bearer token. Either value may be empty.
func WithIdentity(ctx context.Context, identity, token string) context.Context {
	ctx = context.WithValue(ctx, identityKey, identity)
	return context.WithValue(ctx, tokenKey, token)
}

// Identity returns the authenticated identity for the request, or "" when the
// request is anonymous (auth disabled or public route). Callers treat "" as
// "skip owner filtering".
func Identity(ctx context.Context) string {
	if v, ok := ctx.Value(identityKey).(string); ok {
		return v
	}
	return ""
}

// Token returns the raw bearer token presented on the request, or "". The
// token is preserved so downstream tools (MCP, RAG) can perform token
// exchange.
func Token(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey).(string); ok {
		return v
	}
	return ""
}
