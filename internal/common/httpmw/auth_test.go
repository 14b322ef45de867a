package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langline/langline/internal/auth"
	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/common/reqctx"
)

type stubVerifier struct {
	identity string
	err      error
}

func (s stubVerifier) Verify(context.Context, string) (string, error) {
	return s.identity, s.err
}

func newAuthRouter(v auth.Verifier, public map[string]bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth(v, public, logger.Default()))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"identity": reqctx.Identity(c.Request.Context()),
			"token":    reqctx.Token(c.Request.Context()),
		})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, BearerToken(req))

	req.Header.Set("Authorization", "Bearer tok-123")
	assert.Equal(t, "tok-123", BearerToken(req))

	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, BearerToken(req))
}

func TestAuthVerifiedIdentity(t *testing.T) {
	r := newAuthRouter(stubVerifier{identity: "user-1"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"identity":"user-1"`)
	assert.Contains(t, rec.Body.String(), `"token":"good"`)
}

func TestAuthRejectsBadToken(t *testing.T) {
	r := newAuthRouter(stubVerifier{err: auth.ErrUnauthorized}, nil)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "detail")
}

func TestAuthPublicPathBypass(t *testing.T) {
	r := newAuthRouter(stubVerifier{err: auth.ErrUnauthorized}, map[string]bool{"/health": true})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthAnonymousPassThrough(t *testing.T) {
	r := newAuthRouter(auth.AnonymousVerifier{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer forwarded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"identity":""`)
	assert.Contains(t, rec.Body.String(), `"token":"forwarded"`)
}
