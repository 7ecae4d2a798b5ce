package cliassistant

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentworker/internal/supervisor"
)

// fakeAssistantScript writes an executable shell script that prints
// each line in order and exits — a stand-in for the real Assistant CLI
// binary so these tests don't depend on it being installed. Extra
// argv (the CLI flags buildArgs produces) is accepted and ignored,
// exactly as a script with no arg parsing would.
func fakeAssistantScript(t *testing.T, lines ...string) string {
	t.Helper()
	var body string
	for _, l := range lines {
		body += "printf '%s\\n' '" + l + "'\n"
	}
	path := filepath.Join(t.TempDir(), "fake-assistant.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write fake assistant script: %v", err)
	}
	return path
}

type collector struct {
	mu       sync.Mutex
	messages []supervisor.Message
	errs     []error
}

func (c *collector) onMessage(_ string, msg supervisor.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

func (c *collector) onError(_ string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collector) snapshot() ([]supervisor.Message, []error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]supervisor.Message(nil), c.messages...), append([]error(nil), c.errs...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within timeout")
}

func TestStart_ParsesSystemInitAndStreamedMessages(t *testing.T) {
	script := fakeAssistantScript(t,
		`{"type":"system","session_id":"fake-session-1"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"hi there"}]}}`,
		`{"type":"result","is_error":false,"result":"done"}`,
	)
	c := &collector{}
	a := New(script, c.onMessage, c.onError)

	sessionID, err := a.Start(context.Background(), supervisor.StartRequest{InitialPrompt: "go"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sessionID != "fake-session-1" {
		t.Errorf("sessionID = %q, want fake-session-1", sessionID)
	}

	var msgs []supervisor.Message
	waitFor(t, func() bool {
		msgs, _ = c.snapshot()
		return len(msgs) >= 2
	})
	if msgs[0].Kind != "assistant" || msgs[0].Content != "hi there" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if !msgs[1].Final || msgs[1].Content != "done" {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}
}

func TestStop_CancelsLongRunningSubprocessAndReportsBenignAbort(t *testing.T) {
	// After printing init, the script blocks reading stdin (via cat)
	// instead of exiting, so it only terminates when Stop cancels its
	// context.
	script := filepath.Join(t.TempDir(), "fake-assistant-blocking.sh")
	body := "#!/bin/sh\nprintf '%s\\n' '{\"type\":\"system\",\"session_id\":\"fake-session-2\"}'\ncat\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write fake assistant script: %v", err)
	}

	c := &collector{}
	a := New(script, c.onMessage, c.onError)

	sessionID, err := a.Start(context.Background(), supervisor.StartRequest{InitialPrompt: "go"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := a.Stop(context.Background(), sessionID); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	waitFor(t, func() bool {
		_, errs := c.snapshot()
		return len(errs) > 0
	})
	_, errs := c.snapshot()
	if !supervisor.IsBenign(errs[0]) {
		t.Fatalf("expected benign abort error, got %v", errs[0])
	}
}

func TestStop_UnknownSessionIsNoOp(t *testing.T) {
	a := New("sh", func(string, supervisor.Message) {}, func(string, error) {})
	if err := a.Stop(context.Background(), "does-not-exist"); err != nil {
		t.Fatalf("Stop on unknown session: %v", err)
	}
}

func TestAddMessage_UnknownSessionErrors(t *testing.T) {
	a := New("sh", func(string, supervisor.Message) {}, func(string, error) {})
	if err := a.AddMessage(context.Background(), "does-not-exist", "hi"); err == nil {
		t.Fatalf("expected error for unknown session")
	}
}
