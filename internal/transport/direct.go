package transport

import (
	"context"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nextlevelbuilder/agentworker/internal/config"
)

// directTransport serves a direct HTTP POST webhook endpoint for one
// token, hosted on the shared application server's router, §4.9 mode
// (b). Grounded on houzhh15-mote's api/v1/routes.go RegisterRoutes
// idiom of handing a *mux.Router to each component for its own route
// registration.
type directTransport struct {
	token     string
	path      string
	deliverer Deliverer
	repoFn    func() []config.Repository
}

// NewDirectTransport builds a transport that expects webhook POSTs at
// path on the router passed to RegisterRoutes.
func NewDirectTransport(token, path string, repoFn func() []config.Repository, deliverer Deliverer) Transport {
	return &directTransport{token: token, path: path, deliverer: deliverer, repoFn: repoFn}
}

func (t *directTransport) Token() string { return t.token }

func (t *directTransport) Close() error { return nil }

// Run blocks until ctx is cancelled; direct transports do no polling
// of their own, they only serve requests delivered by RegisterRoutes'
// handler, so Run exists purely to satisfy the Transport contract and
// to participate uniformly in shutdown.
func (t *directTransport) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// RegisterRoutes wires the direct webhook endpoint onto router.
func (t *directTransport) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/"+t.path, t.handleWebhook).Methods(http.MethodPost)
}

func (t *directTransport) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	evt, ok := decodeEnvelope(body)
	if !ok {
		// §7.6: webhook parse / unknown type is logged (in
		// decodeEnvelope) and dropped; a direct webhook still gets a
		// 200 so the sender doesn't retry a request we'll never be
		// able to parse.
		w.WriteHeader(http.StatusOK)
		return
	}

	t.deliverer.Deliver(r.Context(), evt, t.repoFn())
	w.WriteHeader(http.StatusOK)
}
