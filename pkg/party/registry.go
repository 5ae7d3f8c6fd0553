// Package party tracks the authorization mode of known parties: whether a
// party's signing key is custodied by the platform operator (non-interactive
// submission possible) or by the party itself (interactive signing required).
package party

import (
	"sync"

	"github.com/finvault/cantor/pkg/ledger"
)

// Registry maps parties to their custody mode. Parties not listed default to
// operator custody: self-custody is explicit onboarding state, not a guess.
type Registry struct {
	mu       sync.RWMutex
	external map[ledger.Party]bool
}

// NewRegistry seeds the registry with the configured self-custodied parties.
func NewRegistry(selfCustodied []ledger.Party) *Registry {
	r := &Registry{external: make(map[ledger.Party]bool, len(selfCustodied))}
	for _, p := range selfCustodied {
		r.external[p] = true
	}
	return r
}

// IsSelfCustodied reports whether party holds its own signing key.
func (r *Registry) IsSelfCustodied(p ledger.Party) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.external[p]
}

// AnySelfCustodied reports whether any of the given parties is self-custodied.
func (r *Registry) AnySelfCustodied(parties ...ledger.Party) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range parties {
		if r.external[p] {
			return true
		}
	}
	return false
}

// MarkSelfCustodied registers a party as holding its own key (onboarding).
func (r *Registry) MarkSelfCustodied(p ledger.Party) {
	r.mu.Lock()
	r.external[p] = true
	r.mu.Unlock()
}
