package models

import (
	"fmt"
	"sort"
	"strings"
)

// Scope is a unit of authority attached to an API key or token claim.
// The string values are the canonical wire serialization; anything else is
// rejected at parse time rather than round-tripped lossily.
type Scope string

const (
	ScopeEventsPublish   Scope = "EventsPublish"
	ScopeEventsSubscribe Scope = "EventsSubscribe"
	ScopeAdminRead       Scope = "AdminRead"
	ScopeAdminWrite      Scope = "AdminWrite"
	ScopeBillingRead     Scope = "BillingRead"
)

// ParseScope validates a single scope token.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeEventsPublish, ScopeEventsSubscribe, ScopeAdminRead, ScopeAdminWrite, ScopeBillingRead:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// ScopeSet is a set of scopes.
type ScopeSet map[Scope]struct{}

// NewScopeSet builds a set from scope values.
func NewScopeSet(scopes ...Scope) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return set
}

// ParseScopes validates a list of scope tokens into a set.
func ParseScopes(tokens []string) (ScopeSet, error) {
	set := make(ScopeSet, len(tokens))
	for _, tok := range tokens {
		s, err := ParseScope(strings.TrimSpace(tok))
		if err != nil {
			return nil, err
		}
		set[s] = struct{}{}
	}
	return set, nil
}

// Has reports whether the set contains the scope.
func (s ScopeSet) Has(scope Scope) bool {
	_, ok := s[scope]
	return ok
}

// Strings returns the canonical sorted token list.
func (s ScopeSet) Strings() []string {
	out := make([]string, 0, len(s))
	for scope := range s {
		out = append(out, string(scope))
	}
	sort.Strings(out)
	return out
}
