package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentworker/internal/config"
)

// proxy reconnect/backoff sizing, mirrors internal/mcp/manager.go's
// healthCheckInterval/initialBackoff/maxBackoff/maxReconnectAttempts
// constants, adapted to a webhook stream instead of an MCP session.
const (
	proxyInitialBackoff = 2 * time.Second
	proxyMaxBackoff      = 60 * time.Second
	proxyMaxAttempts     = 10
)

// proxyTransport streams newline-delimited event frames pushed by a
// central proxy over a websocket connection, §4.9 mode (a).
type proxyTransport struct {
	token     string
	proxyURL  string
	deliverer Deliverer
	repoFn    func() []config.Repository

	conn *websocket.Conn
}

// NewProxyTransport dials proxyURL (a ws:// or wss:// endpoint) for
// token and forwards decoded events to deliverer, with repos looked up
// fresh on every delivered event (so C8 config changes take effect
// without restarting the connection).
func NewProxyTransport(token, proxyURL string, repoFn func() []config.Repository, deliverer Deliverer) Transport {
	return &proxyTransport{token: token, proxyURL: proxyURL, repoFn: repoFn, deliverer: deliverer}
}

func (t *proxyTransport) Token() string { return t.token }

func (t *proxyTransport) Close() error {
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

// Run dials and reads frames until ctx is cancelled, reconnecting with
// exponential backoff up to proxyMaxAttempts consecutive failures
// before giving up — reconnection is the transport's own concern,
// §4.9.
func (t *proxyTransport) Run(ctx context.Context) error {
	attempts := 0
	backoff := proxyInitialBackoff

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := t.runOnce(ctx); err != nil {
			attempts++
			if attempts >= proxyMaxAttempts {
				return fmt.Errorf("proxy transport: giving up after %d attempts: %w", attempts, err)
			}
			slog.Warn("transport.proxy.reconnecting", "token_suffix", tokenSuffix(t.token), "attempt", attempts, "error", err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > proxyMaxBackoff {
				backoff = proxyMaxBackoff
			}
			continue
		}

		// runOnce only returns nil when ctx was cancelled cleanly.
		return nil
	}
}

func (t *proxyTransport) runOnce(ctx context.Context) error {
	u, err := url.Parse(t.proxyURL)
	if err != nil {
		return fmt.Errorf("parse proxy url: %w", err)
	}
	q := u.Query()
	q.Set("token", t.token)
	u.RawQuery = q.Encode()

	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial proxy: %w", err)
	}
	t.conn = conn
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read proxy frame: %w", err)
		}

		evt, ok := decodeEnvelope(raw)
		if !ok {
			continue
		}
		t.deliverer.Deliver(ctx, evt, t.repoFn())
	}
}

func tokenSuffix(token string) string {
	if len(token) <= 4 {
		return token
	}
	return "..." + token[len(token)-4:]
}
