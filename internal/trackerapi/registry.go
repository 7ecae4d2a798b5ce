package trackerapi

import (
	"sync"

	"golang.org/x/time/rate"
)

// Registry hands out one Client, *rate.Limiter, and responseCache per
// distinct Tracker token, so repositories sharing a token share their
// rate budget and cache, per §5.
type Registry struct {
	mu      sync.Mutex
	clients map[string]Client
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// ClientFor returns the shared Client for token, creating it (with a
// fresh burst=requestsPerSec limiter and cache) on first use.
func (r *Registry) ClientFor(token string, opts ...Option) Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[token]; ok {
		return c
	}
	limiter := rate.NewLimiter(rate.Limit(requestsPerSec), requestsPerSec)
	c := NewClient(token, limiter, newResponseCache(), opts...)
	r.clients[token] = c
	return c
}

// Forget drops the shared client for a token — §4.8's "tear down
// transport if no other repositories share the token" extends to
// dropping the Tracker client too.
func (r *Registry) Forget(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, token)
}
