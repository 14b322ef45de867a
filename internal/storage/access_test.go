package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanRead(t *testing.T) {
	assert.True(t, CanRead("", "u1"), "unowned resources are public")
	assert.True(t, CanRead("u1", ""), "runtime identity reads everything")
	assert.True(t, CanRead("u1", "u1"))
	assert.True(t, CanRead(SystemOwner, "u1"), "system resources are shared")
	assert.False(t, CanRead("u1", "u2"))
}

func TestCanWrite(t *testing.T) {
	assert.True(t, CanWrite("", "u1"))
	assert.True(t, CanWrite("u1", ""))
	assert.True(t, CanWrite("u1", "u1"))
	assert.False(t, CanWrite(SystemOwner, "u1"), "system resources are read-only for users")
	assert.False(t, CanWrite("u1", "u2"))
}

func TestMergeMetadataPreservesOwner(t *testing.T) {
	base := map[string]any{"owner": "u1", "a": 1}
	merged := MergeMetadata(base, map[string]any{"owner": "u2", "b": 2})
	assert.Equal(t, "u1", merged["owner"])
	assert.Equal(t, 1, merged["a"])
	assert.Equal(t, 2, merged["b"])

	// No owner on base: patch value is kept as a plain key.
	merged = MergeMetadata(map[string]any{}, map[string]any{"owner": "u2"})
	assert.Equal(t, "u2", merged["owner"])

	assert.Equal(t, map[string]any{"a": 1}, MergeMetadata(map[string]any{"a": 1}, nil))
}

func TestMatchesMetadata(t *testing.T) {
	meta := map[string]any{
		"env":  "prod",
		"n":    2,
		"tags": []any{"a", "b"},
		"deep": map[string]any{"k": "v"},
	}

	assert.True(t, MatchesMetadata(meta, nil))
	assert.True(t, MatchesMetadata(meta, map[string]any{"env": "prod"}))
	assert.True(t, MatchesMetadata(meta, map[string]any{"n": 2.0}), "JSON numbers compare loosely")
	assert.True(t, MatchesMetadata(meta, map[string]any{"tags": []any{"a", "b"}}))
	assert.True(t, MatchesMetadata(meta, map[string]any{"deep": map[string]any{"k": "v"}}))
	assert.False(t, MatchesMetadata(meta, map[string]any{"env": "dev"}))
	assert.False(t, MatchesMetadata(meta, map[string]any{"missing": 1}))
	assert.False(t, MatchesMetadata(nil, map[string]any{"env": "prod"}))
}
