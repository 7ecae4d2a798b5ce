// Package transport implements the Webhook Transport, C9: one
// connection per Tracker token, delivering decoded event.Event values
// to C3 with the set of repositories bound to that token.
//
// Two transports are provided: proxyTransport, a gorilla/websocket
// client reading a newline-delimited event stream from a central
// proxy (grounded on internal/gateway/server.go's websocket.Upgrader
// use and Client read/write-pump shape, adapted from server-side
// accept to client-side dial), and directTransport, a gorilla/mux HTTP
// POST endpoint hosted by the shared application server (grounded on
// houzhh15-mote's api/v1/routes.go router-registration idiom).
// Selection is driven by config.Config.UseLinearDirectWebhooks.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nextlevelbuilder/agentworker/internal/config"
	"github.com/nextlevelbuilder/agentworker/pkg/event"
)

// Deliverer receives decoded events along with the repositories bound
// to the token that produced them.
type Deliverer interface {
	Deliver(ctx context.Context, evt event.Event, repos []config.Repository)
}

// DelivererFunc adapts a function to a Deliverer.
type DelivererFunc func(ctx context.Context, evt event.Event, repos []config.Repository)

func (f DelivererFunc) Deliver(ctx context.Context, evt event.Event, repos []config.Repository) {
	f(ctx, evt, repos)
}

// Transport is one live connection for a single Tracker token.
type Transport interface {
	// Run blocks, delivering events until ctx is cancelled.
	// Reconnection is the Transport's own concern; Run only returns
	// once ctx is done or a non-recoverable setup error occurs.
	Run(ctx context.Context) error
	// Token is the Tracker token this transport serves.
	Token() string
	// Close tears down the underlying connection.
	Close() error
}

// rawEnvelope is the wire shape common to both transport modes: an
// Event-shaped JSON body plus a discriminator for heartbeats, which
// never carry an event and must not be delivered.
type rawEnvelope struct {
	Heartbeat bool        `json:"heartbeat"`
	Event     rawEventMsg `json:"event"`
}

type rawEventMsg struct {
	Kind           string          `json:"kind"`
	OrganizationID string          `json:"organizationId"`
	WebhookID      string          `json:"webhookId"`
	Synthetic      bool            `json:"synthetic"`
	Payload        json.RawMessage `json:"payload"`
}

// decodeEnvelope parses one frame and reports ok=false for heartbeats
// (mode a never delivers them, §4.9) or unparseable bodies (§7.6,
// "webhook parse / unknown type: logged and dropped").
func decodeEnvelope(raw []byte) (event.Event, bool) {
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Warn("transport.decode_failed", "error", err)
		return event.Event{}, false
	}
	if env.Heartbeat {
		return event.Event{}, false
	}

	evt := event.Event{
		Kind:           event.Kind(env.Event.Kind),
		OrganizationID: env.Event.OrganizationID,
		WebhookID:      env.Event.WebhookID,
		Synthetic:      env.Event.Synthetic,
	}

	var err error
	switch evt.Kind {
	case event.KindSessionCreated:
		evt.SessionCreated = new(event.SessionCreated)
		err = json.Unmarshal(env.Event.Payload, evt.SessionCreated)
	case event.KindSessionPrompted:
		evt.SessionPrompted = new(event.SessionPrompted)
		err = json.Unmarshal(env.Event.Payload, evt.SessionPrompted)
	case event.KindIssueAssigned:
		evt.IssueAssigned = new(event.IssueAssigned)
		err = json.Unmarshal(env.Event.Payload, evt.IssueAssigned)
	case event.KindIssueUnassigned:
		evt.IssueUnassigned = new(event.IssueUnassigned)
		err = json.Unmarshal(env.Event.Payload, evt.IssueUnassigned)
	case event.KindIssueEdited:
		evt.IssueEdited = new(event.IssueEdited)
		err = json.Unmarshal(env.Event.Payload, evt.IssueEdited)
	case event.KindCommentCreated:
		evt.CommentCreated = new(event.CommentCreated)
		err = json.Unmarshal(env.Event.Payload, evt.CommentCreated)
	default:
		slog.Warn("transport.unknown_event_kind", "kind", env.Event.Kind)
		return event.Event{}, false
	}
	if err != nil {
		slog.Warn("transport.decode_payload_failed", "kind", evt.Kind, "error", err)
		return event.Event{}, false
	}
	return evt, true
}

// ReposForToken returns the repositories bound to token. Thin wrapper
// kept at this layer so transports depend only on this function's
// signature, not on config.Config's method set.
func ReposForToken(cfg *config.Config, token string) []config.Repository {
	return cfg.ByToken(token)
}
