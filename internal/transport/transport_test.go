package transport

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/agentworker/internal/config"
	"github.com/nextlevelbuilder/agentworker/pkg/event"
)

func TestDecodeEnvelope_Heartbeat(t *testing.T) {
	_, ok := decodeEnvelope([]byte(`{"heartbeat":true}`))
	if ok {
		t.Errorf("expected heartbeat frames to not be delivered")
	}
}

func TestDecodeEnvelope_UnknownKindDropped(t *testing.T) {
	_, ok := decodeEnvelope([]byte(`{"event":{"kind":"something.else"}}`))
	if ok {
		t.Errorf("expected unknown event kinds to be dropped")
	}
}

func TestDecodeEnvelope_MalformedJSONDropped(t *testing.T) {
	_, ok := decodeEnvelope([]byte(`not json`))
	if ok {
		t.Errorf("expected malformed JSON to be dropped")
	}
}

func TestDecodeEnvelope_CommentCreated(t *testing.T) {
	raw := []byte(`{"event":{"kind":"comment.created","organizationId":"org-1","webhookId":"wh-1","payload":{"commentId":"C1","issueId":"ENG-1","authorId":"u1","body":"hello"}}}`)
	evt, ok := decodeEnvelope(raw)
	if !ok {
		t.Fatalf("expected decode to succeed")
	}
	if evt.Kind != event.KindCommentCreated || evt.CommentCreated == nil {
		t.Fatalf("evt = %+v", evt)
	}
	if evt.CommentCreated.CommentID != "C1" || evt.CommentCreated.Body != "hello" {
		t.Errorf("CommentCreated = %+v", evt.CommentCreated)
	}
}

type recordingDeliverer struct {
	delivered []event.Event
}

func (r *recordingDeliverer) Deliver(ctx context.Context, evt event.Event, repos []config.Repository) {
	r.delivered = append(r.delivered, evt)
}

func TestRegistry_EnsureForTokenIsIdempotent(t *testing.T) {
	cfg := &config.Config{}
	rec := &recordingDeliverer{}
	reg := NewRegistry(cfg, "ws://proxy.example/events", false, nil, rec)

	t1, err := reg.EnsureForToken("tok-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t2, err := reg.EnsureForToken("tok-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if t1 != t2 {
		t.Errorf("expected the same Transport instance to be reused")
	}
	if len(reg.Tokens()) != 1 {
		t.Errorf("Tokens() = %v, want 1 entry", reg.Tokens())
	}
}

func TestRegistry_ForgetTearsDown(t *testing.T) {
	cfg := &config.Config{}
	rec := &recordingDeliverer{}
	reg := NewRegistry(cfg, "ws://proxy.example/events", false, nil, rec)

	if _, err := reg.EnsureForToken("tok-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := reg.Forget("tok-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reg.Tokens()) != 0 {
		t.Errorf("expected no tokens after Forget")
	}
}

func TestRegistry_DirectModeRequiresRouter(t *testing.T) {
	cfg := &config.Config{}
	rec := &recordingDeliverer{}
	reg := NewRegistry(cfg, "", true, nil, rec)

	if _, err := reg.EnsureForToken("tok-1"); err == nil {
		t.Errorf("expected an error when direct mode has no router")
	}
}
