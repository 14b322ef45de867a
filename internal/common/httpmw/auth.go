package httpmw

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langline/langline/internal/auth"
	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/common/reqctx"
)

// BearerToken extracts the bearer token from an Authorization header.
// Returns "" when the header is absent or not a bearer scheme.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Auth resolves the caller identity from the bearer token and stashes it on
// the request context. Paths in public are admitted without verification.
func Auth(verifier auth.Verifier, public map[string]bool, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if public[path] {
			c.Next()
			return
		}

		token := BearerToken(c.Request)

		// Anonymous deployments admit every request with no identity; the
		// token is still forwarded so graphs can call downstream services.
		if _, ok := verifier.(auth.AnonymousVerifier); ok {
			c.Request = c.Request.WithContext(reqctx.WithIdentity(c.Request.Context(), "", token))
			c.Next()
			return
		}

		identity, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid or missing credentials"})
				return
			}
			log.WithError(err).Error("identity verification failed", zap.String("path", path))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"detail": "Identity service unavailable"})
			return
		}

		c.Request = c.Request.WithContext(reqctx.WithIdentity(c.Request.Context(), identity, token))
		c.Next()
	}
}
