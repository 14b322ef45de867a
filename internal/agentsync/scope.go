// Package agentsync reconciles an external agent catalog into local
// system-owned assistants: a startup sweep plus lazy per-agent refresh.
package agentsync

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ScopeKind selects which catalog agents are reconciled.
type ScopeKind int

const (
	ScopeNone ScopeKind = iota
	ScopeAll
	ScopeOrgs
)

// Scope is the parsed agent-sync scope.
type Scope struct {
	Kind   ScopeKind
	OrgIDs []string
}

// ParseScope parses "none", "", "all", or "org:<uuid>[,org:<uuid>]*".
func ParseScope(raw string) (Scope, error) {
	switch strings.TrimSpace(raw) {
	case "", "none":
		return Scope{Kind: ScopeNone}, nil
	case "all":
		return Scope{Kind: ScopeAll}, nil
	}

	var orgIDs []string
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		id, ok := strings.CutPrefix(token, "org:")
		if !ok {
			return Scope{}, fmt.Errorf("invalid agent sync scope token %q", token)
		}
		if _, err := uuid.Parse(id); err != nil {
			return Scope{}, fmt.Errorf("invalid org id %q in agent sync scope: %w", id, err)
		}
		orgIDs = append(orgIDs, id)
	}
	if len(orgIDs) == 0 {
		return Scope{}, fmt.Errorf("invalid agent sync scope %q", raw)
	}
	return Scope{Kind: ScopeOrgs, OrgIDs: orgIDs}, nil
}
