// Package supervisor implements the Assistant Supervisor, C6: a thin
// per-session wrapper over the external Assistant runtime contract —
// start/stream/stop, a message callback, and resumption by session id.
// Grounded on internal/agent/loop.go's Loop (construction contract,
// event callback shape). The package does no retrying of its own.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Assistant is the external child-process runtime contract this
// package supervises — the Assistant CLI/SDK process itself, injected
// so tests can stub it.
type Assistant interface {
	// Start launches a new streaming run with initialPrompt and returns
	// the runtime's own session id.
	Start(ctx context.Context, req StartRequest) (sessionID string, err error)
	// AddMessage enqueues additional user input into a running stream.
	AddMessage(ctx context.Context, sessionID, text string) error
	// Stop cooperatively cancels a running stream. Idempotent.
	Stop(ctx context.Context, sessionID string) error
}

// StartRequest is C6's construction contract, §4.6.
type StartRequest struct {
	WorkingDirectory   string
	InitialPrompt      string
	AllowedTools       []string
	DisallowedTools    []string
	AllowedDirectories []string
	Model              string
	FallbackModel      string
	AppendSystemPrompt string
	MCPServers         map[string]MCPServerRef
	PostToolUseHooks   []string
	ResumeSessionID    string
	MaxTurns           int
}

// MCPServerRef names an MCP server the Assistant process should
// connect to, e.g. "tracker", "cyrus", or an optional image/video
// server.
type MCPServerRef struct {
	Name string
	URL  string
}

// Message is one streamed message from the Assistant, delivered via
// OnMessage.
type Message struct {
	SessionID string
	Kind      string // "assistant", "thought", "tool_use", "tool_result", "result"
	Content   string
	ToolUseID string
	Final     bool // true on the terminal "result" message of a run
}

// OnMessage is invoked for every message the Assistant streams back.
type OnMessage func(Message)

// OnError is invoked for any runtime error. Benign errors (AbortError,
// "aborted by user", timeouts) are still delivered so callers can log
// them, but IsBenign(err) reports true for them per §4.6's failure
// semantics ("any other error is surfaced to C7").
type OnError func(error)

// AbortError is returned by an Assistant implementation when a run was
// cooperatively cancelled via Stop.
type AbortError struct {
	SessionID string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("assistant run %s aborted by user", e.SessionID)
}

// IsBenign reports whether err is expected at subroutine transitions
// and explicit stops — AbortError, the literal "aborted by user"
// message, or a context deadline/cancellation — per §4.6.
func IsBenign(err error) bool {
	if err == nil {
		return false
	}
	var abortErr *AbortError
	if errors.As(err, &abortErr) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(err.Error(), "aborted by user")
}

// runState is a session's local state machine: idle (no run in
// flight), streaming (a run is active), or stopping (Stop has been
// called but the runtime hasn't confirmed termination yet).
type runState int

const (
	stateIdle runState = iota
	stateStreaming
	stateStopping
)

// Supervisor manages one Assistant run per session id, serializing
// operations against each session so a stop and a concurrent
// addStreamMessage can never race.
type Supervisor struct {
	assistant Assistant
	onMessage OnMessage
	onError   OnError

	mu       sync.Mutex
	sessions map[string]*sessionHandle
}

type sessionHandle struct {
	mu    sync.Mutex
	state runState
}

// New builds a Supervisor around assistant, delivering every streamed
// message to onMessage and every surfaced (non-benign-filtered) error
// to onError.
func New(assistant Assistant, onMessage OnMessage, onError OnError) *Supervisor {
	return &Supervisor{
		assistant: assistant,
		onMessage: onMessage,
		onError:   onError,
		sessions:  make(map[string]*sessionHandle),
	}
}

func (s *Supervisor) handle(sessionID string) *sessionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.sessions[sessionID]
	if !ok {
		h = &sessionHandle{}
		s.sessions[sessionID] = h
	}
	return h
}

// StartStreaming launches req and registers the resulting runtime
// session id, §4.6. The sessionKey is the AgentSession id this run
// belongs to in C4 — it may differ from the runtime's own session id
// (req.ResumeSessionID / the returned assistantSessionID).
func (s *Supervisor) StartStreaming(ctx context.Context, sessionKey string, req StartRequest) (string, error) {
	h := s.handle(sessionKey)
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == stateStreaming {
		return "", fmt.Errorf("supervisor: session %s is already streaming", sessionKey)
	}

	assistantSessionID, err := s.assistant.Start(ctx, req)
	if err != nil {
		return "", fmt.Errorf("start assistant: %w", err)
	}
	h.state = stateStreaming
	return assistantSessionID, nil
}

// AddStreamMessage enqueues text into a running stream, §4.6.
func (s *Supervisor) AddStreamMessage(ctx context.Context, sessionKey, runtimeSessionID, text string) error {
	h := s.handle(sessionKey)
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != stateStreaming {
		return fmt.Errorf("supervisor: session %s is not streaming", sessionKey)
	}
	return s.assistant.AddMessage(ctx, runtimeSessionID, text)
}

// IsStreaming reports whether sessionKey currently has a run in
// flight, §4.6.
func (s *Supervisor) IsStreaming(sessionKey string) bool {
	h := s.handle(sessionKey)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateStreaming
}

// Stop cooperatively cancels a running stream. Idempotent: calling
// Stop on an idle or already-stopping session is a no-op, §4.6.
func (s *Supervisor) Stop(ctx context.Context, sessionKey, runtimeSessionID string) error {
	h := s.handle(sessionKey)
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == stateIdle {
		return nil
	}
	h.state = stateStopping
	err := s.assistant.Stop(ctx, runtimeSessionID)
	h.state = stateIdle
	if err != nil && !IsBenign(err) {
		return fmt.Errorf("stop assistant: %w", err)
	}
	return nil
}

// Deliver routes one message from the underlying Assistant runtime to
// onMessage, transitioning the session back to idle when the message
// is the terminal "result" of a run.
func (s *Supervisor) Deliver(sessionKey string, msg Message) {
	if msg.Final {
		h := s.handle(sessionKey)
		h.mu.Lock()
		h.state = stateIdle
		h.mu.Unlock()
	}
	if s.onMessage != nil {
		s.onMessage(msg)
	}
}

// DeliverError routes a runtime error, resetting the session to idle
// and forwarding to onError — callers are expected to check
// IsBenign(err) before treating it as a failure worth surfacing
// further, per §4.6.
func (s *Supervisor) DeliverError(sessionKey string, err error) {
	h := s.handle(sessionKey)
	h.mu.Lock()
	h.state = stateIdle
	h.mu.Unlock()

	if s.onError != nil {
		s.onError(err)
	}
}

// Forget drops local bookkeeping for a session once its AgentSession
// is terminal — keeps the sessions map from growing unbounded across a
// long-lived worker process.
func (s *Supervisor) Forget(sessionKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionKey)
}

// UpdatePromptVersions is bookkeeping-only per §4.6; callers persist
// the returned values onto the AgentSession themselves via C4.
func UpdatePromptVersions(userPromptVersion, systemPromptVersion string) (string, string, time.Time) {
	return userPromptVersion, systemPromptVersion, time.Now()
}
