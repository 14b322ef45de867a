package agentsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScope(t *testing.T) {
	scope, err := ParseScope("")
	require.NoError(t, err)
	assert.Equal(t, ScopeNone, scope.Kind)

	scope, err = ParseScope("none")
	require.NoError(t, err)
	assert.Equal(t, ScopeNone, scope.Kind)

	scope, err = ParseScope("all")
	require.NoError(t, err)
	assert.Equal(t, ScopeAll, scope.Kind)

	scope, err = ParseScope("org:0fbc1c7e-7b38-4a22-a3a8-3c3f2f5df3a0")
	require.NoError(t, err)
	assert.Equal(t, ScopeOrgs, scope.Kind)
	assert.Len(t, scope.OrgIDs, 1)

	scope, err = ParseScope("org:0fbc1c7e-7b38-4a22-a3a8-3c3f2f5df3a0, org:9a1a63cc-23f1-4b7e-8f1e-d2ad3ee3ae61")
	require.NoError(t, err)
	assert.Len(t, scope.OrgIDs, 2)
}

func TestParseScopeRejectsGarbage(t *testing.T) {
	_, err := ParseScope("org:not-a-uuid")
	assert.Error(t, err)

	_, err = ParseScope("team:abc")
	assert.Error(t, err)

	_, err = ParseScope("everything")
	assert.Error(t, err)
}
