package reqctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityRoundTrip(t *testing.T) {
	ctx := WithIdentity(context.Background(), "user-1", "tok-abc")
	assert.Equal(t, "user-1", Identity(ctx))
	assert.Equal(t, "tok-abc", Token(ctx))
}

func TestUnsetIdentityIsEmpty(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", Identity(ctx))
	assert.Equal(t, "", Token(ctx))
}

func TestConcurrentRequestsAreIsolated(t *testing.T) {
	base := context.Background()
	a := WithIdentity(base, "user-a", "tok-a")
	b := WithIdentity(base, "user-b", "tok-b")

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.Equal(t, "user-b", Identity(b))
	}()
	assert.Equal(t, "user-a", Identity(a))
	<-done
}
