package supervisor

import (
	"context"
	"errors"
	"testing"
)

type fakeAssistant struct {
	startErr   error
	addErr     error
	stopErr    error
	started    []StartRequest
	added      []string
	stopped    []string
	nextSessID string
}

func (f *fakeAssistant) Start(ctx context.Context, req StartRequest) (string, error) {
	f.started = append(f.started, req)
	if f.startErr != nil {
		return "", f.startErr
	}
	if f.nextSessID != "" {
		return f.nextSessID, nil
	}
	return "runtime-1", nil
}

func (f *fakeAssistant) AddMessage(ctx context.Context, sessionID, text string) error {
	f.added = append(f.added, text)
	return f.addErr
}

func (f *fakeAssistant) Stop(ctx context.Context, sessionID string) error {
	f.stopped = append(f.stopped, sessionID)
	return f.stopErr
}

func TestStartStreaming_RegistersState(t *testing.T) {
	fa := &fakeAssistant{}
	sup := New(fa, nil, nil)

	id, err := sup.StartStreaming(context.Background(), "sess-1", StartRequest{InitialPrompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "runtime-1" {
		t.Errorf("id = %q, want runtime-1", id)
	}
	if !sup.IsStreaming("sess-1") {
		t.Errorf("expected session to be streaming")
	}
}

func TestStartStreaming_RejectsDoubleStart(t *testing.T) {
	fa := &fakeAssistant{}
	sup := New(fa, nil, nil)

	if _, err := sup.StartStreaming(context.Background(), "sess-1", StartRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := sup.StartStreaming(context.Background(), "sess-1", StartRequest{}); err == nil {
		t.Errorf("expected error starting an already-streaming session")
	}
}

func TestAddStreamMessage_RequiresStreaming(t *testing.T) {
	fa := &fakeAssistant{}
	sup := New(fa, nil, nil)

	if err := sup.AddStreamMessage(context.Background(), "sess-1", "runtime-1", "more text"); err == nil {
		t.Errorf("expected error adding a message to an idle session")
	}

	sup.StartStreaming(context.Background(), "sess-1", StartRequest{})
	if err := sup.AddStreamMessage(context.Background(), "sess-1", "runtime-1", "more text"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fa.added) != 1 || fa.added[0] != "more text" {
		t.Errorf("added = %v", fa.added)
	}
}

func TestStop_Idempotent(t *testing.T) {
	fa := &fakeAssistant{}
	sup := New(fa, nil, nil)

	if err := sup.Stop(context.Background(), "sess-1", "runtime-1"); err != nil {
		t.Fatalf("stopping an idle session should be a no-op: %v", err)
	}
	if len(fa.stopped) != 0 {
		t.Errorf("expected no Stop call on an idle session")
	}

	sup.StartStreaming(context.Background(), "sess-1", StartRequest{})
	if err := sup.Stop(context.Background(), "sess-1", "runtime-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sup.IsStreaming("sess-1") {
		t.Errorf("expected session to be idle after Stop")
	}
}

func TestIsBenign(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"abort error", &AbortError{SessionID: "s1"}, true},
		{"aborted by user message", errors.New("aborted by user"), true},
		{"context canceled", context.Canceled, true},
		{"other error", errors.New("connection reset"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsBenign(tc.err); got != tc.want {
				t.Errorf("IsBenign(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestDeliver_FinalMessageResetsToIdle(t *testing.T) {
	fa := &fakeAssistant{}
	var delivered []Message
	sup := New(fa, func(m Message) { delivered = append(delivered, m) }, nil)

	sup.StartStreaming(context.Background(), "sess-1", StartRequest{})
	sup.Deliver("sess-1", Message{SessionID: "sess-1", Kind: "result", Final: true})

	if sup.IsStreaming("sess-1") {
		t.Errorf("expected session to be idle after final message")
	}
	if len(delivered) != 1 {
		t.Errorf("expected message to be forwarded to onMessage")
	}
}

func TestDeliverError_ResetsToIdleAndForwards(t *testing.T) {
	fa := &fakeAssistant{}
	var gotErr error
	sup := New(fa, nil, func(err error) { gotErr = err })

	sup.StartStreaming(context.Background(), "sess-1", StartRequest{})
	sup.DeliverError("sess-1", errors.New("boom"))

	if sup.IsStreaming("sess-1") {
		t.Errorf("expected session to be idle after error")
	}
	if gotErr == nil || gotErr.Error() != "boom" {
		t.Errorf("gotErr = %v", gotErr)
	}
}
