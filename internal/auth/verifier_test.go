package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langline/langline/internal/common/config"
)

func TestAnonymousVerifier(t *testing.T) {
	identity, err := AnonymousVerifier{}.Verify(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, identity)
}

func TestHTTPVerifierSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") == "Bearer good" {
			_, _ = w.Write([]byte(`{"identity":"user-1"}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	v := NewHTTPVerifier(config.AuthConfig{VerifyURL: srv.URL, VerifyTimeout: 5})

	identity, err := v.Verify(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity)

	_, err = v.Verify(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = v.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestHTTPVerifierRejectsEmptyIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	v := NewHTTPVerifier(config.AuthConfig{VerifyURL: srv.URL, VerifyTimeout: 5})
	_, err := v.Verify(context.Background(), "token")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestProvide(t *testing.T) {
	assert.IsType(t, AnonymousVerifier{}, Provide(config.AuthConfig{}))
	assert.IsType(t, &HTTPVerifier{}, Provide(config.AuthConfig{VerifyURL: "http://idp", VerifyTimeout: 5}))
}
