package transport

import (
	"fmt"
	"sync"

	"github.com/gorilla/mux"

	"github.com/nextlevelbuilder/agentworker/internal/config"
)

// Registry owns one Transport per distinct Tracker token, created on
// first use and torn down when the last repository sharing that token
// is removed, per §4.8 ("tear down transport if no other repositories
// share the token").
type Registry struct {
	mu         sync.Mutex
	transports map[string]Transport
	cfg        *config.Config
	proxyURL   string
	useDirect  bool
	mux        *mux.Router
	deliverer  Deliverer
}

// NewRegistry builds a transport Registry. mux may be nil if
// useDirect is always false for this deployment.
func NewRegistry(cfg *config.Config, proxyURL string, useDirect bool, router *mux.Router, deliverer Deliverer) *Registry {
	return &Registry{
		transports: make(map[string]Transport),
		cfg:        cfg,
		proxyURL:   proxyURL,
		useDirect:  useDirect,
		mux:        router,
		deliverer:  deliverer,
	}
}

// EnsureForToken returns the Transport for token, creating it (and,
// for direct mode, registering its route) if this is the first
// repository seen for that token.
func (r *Registry) EnsureForToken(token string) (Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.transports[token]; ok {
		return t, nil
	}

	repoFn := func() []config.Repository { return ReposForToken(r.cfg, token) }

	var t Transport
	if r.useDirect {
		if r.mux == nil {
			return nil, fmt.Errorf("transport registry: direct mode requires a router")
		}
		dt := NewDirectTransport(token, "webhooks/"+tokenSuffix(token), repoFn, r.deliverer).(*directTransport)
		dt.RegisterRoutes(r.mux)
		t = dt
	} else {
		t = NewProxyTransport(token, r.proxyURL, repoFn, r.deliverer)
	}

	r.transports[token] = t
	return t, nil
}

// Forget tears down and removes the transport for token — called once
// no repository references it any longer.
func (r *Registry) Forget(token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transports[token]
	if !ok {
		return nil
	}
	delete(r.transports, token)
	return t.Close()
}

// Tokens lists every token currently owning a transport.
func (r *Registry) Tokens() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.transports))
	for tok := range r.transports {
		out = append(out, tok)
	}
	return out
}
