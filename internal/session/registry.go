package session

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Registry maps tenant to token to the live session for that credential.
// A (tenant, token) pair holds at most one session.
type Registry struct {
	mu      sync.Mutex
	tenants map[string]map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tenants: make(map[string]map[string]*Session)}
}

// Put stores s under its tenant and token, returning the session it
// replaced, if any. The last writer wins.
func (r *Registry) Put(s *Session) (replaced *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byToken, ok := r.tenants[s.Tenant]
	if !ok {
		byToken = make(map[string]*Session)
		r.tenants[s.Tenant] = byToken
	}
	replaced = byToken[s.Token]
	byToken[s.Token] = s
	return replaced
}

// Get returns the session for tenant and token.
func (r *Registry) Get(tenant, token string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.tenants[tenant][token]
	return s, ok
}

// Delete removes the session for tenant and token. When only is non-nil the
// entry is removed only if it still holds that exact session.
func (r *Registry) Delete(tenant, token string, only *Session) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byToken := r.tenants[tenant]
	s, ok := byToken[token]
	if !ok || (only != nil && s != only) {
		return nil, false
	}
	delete(byToken, token)
	if len(byToken) == 0 {
		delete(r.tenants, tenant)
	}
	return s, true
}

// Tenant returns the tenant's sessions ordered by start time.
func (r *Registry) Tenant(tenant string) []*Session {
	r.mu.Lock()
	out := lo.Values(r.tenants[tenant])
	r.mu.Unlock()
	sortSessions(out)
	return out
}

// All returns every session ordered by tenant then start time.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	var out []*Session
	for _, byToken := range r.tenants {
		out = append(out, lo.Values(byToken)...)
	}
	r.mu.Unlock()
	sortSessions(out)
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.SumBy(lo.Values(r.tenants), func(m map[string]*Session) int { return len(m) })
}

func sortSessions(ss []*Session) {
	sort.SliceStable(ss, func(i, j int) bool {
		if ss[i].Tenant != ss[j].Tenant {
			return ss[i].Tenant < ss[j].Tenant
		}
		if !ss[i].StartedAt.Equal(ss[j].StartedAt) {
			return ss[i].StartedAt.Before(ss[j].StartedAt)
		}
		return ss[i].Token < ss[j].Token
	})
}
