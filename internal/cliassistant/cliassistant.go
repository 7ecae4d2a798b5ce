// Package cliassistant implements supervisor.Assistant by spawning the
// Assistant CLI as a one-shot subprocess per session, speaking a
// newline-delimited JSON protocol over stdin/stdout — the concrete
// realization of the black-box Assistant runtime contract named in
// spec.md §1 ("start(prompt), addStreamMessage(msg), stop(), a message
// callback"). Grounded on nevindra-oasis/code/subprocess.go's
// exec.CommandContext + bufio line-protocol shape, generalized from a
// single blocking call-and-collect-result run to a long-lived streaming
// run a caller can keep feeding messages into.
package cliassistant

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentworker/internal/supervisor"
)

// startupTimeout bounds how long Start waits for the subprocess's
// first ("system" init) line before giving up.
const startupTimeout = 30 * time.Second

// CLIAssistant spawns one subprocess per session and parses its
// stream-json stdout into supervisor.Message values.
type CLIAssistant struct {
	command   string
	onMessage func(runtimeSessionID string, msg supervisor.Message)
	onError   func(runtimeSessionID string, err error)

	mu    sync.Mutex
	procs map[string]*runningProcess
}

type runningProcess struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	cancel  context.CancelFunc
	stopped bool // set by Stop before cancel, so exit is reported as benign
}

// New builds a CLIAssistant that execs command (e.g. "claude") for
// every session, delivering every parsed message/error to onMessage/
// onError keyed by the runtime session id Start returns.
func New(command string, onMessage func(string, supervisor.Message), onError func(string, error)) *CLIAssistant {
	return &CLIAssistant{
		command:   command,
		onMessage: onMessage,
		onError:   onError,
		procs:     make(map[string]*runningProcess),
	}
}

// Start launches the subprocess, writes the initial prompt, and blocks
// until the subprocess's "system" init line arrives (or startupTimeout
// elapses), returning its session id.
func (a *CLIAssistant) Start(ctx context.Context, req supervisor.StartRequest) (string, error) {
	runCtx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(runCtx, a.command, buildArgs(req)...)
	cmd.Dir = req.WorkingDirectory

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return "", fmt.Errorf("cliassistant: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return "", fmt.Errorf("cliassistant: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return "", fmt.Errorf("cliassistant: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return "", fmt.Errorf("cliassistant: start: %w", err)
	}

	if err := writeLine(stdin, userLine(req.InitialPrompt)); err != nil {
		cancel()
		return "", fmt.Errorf("cliassistant: write initial prompt: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	sessionID, initErr := awaitInit(ctx, scanner)
	if initErr != nil {
		cancel()
		return "", initErr
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	go a.readStderr(sessionID, stderr)

	a.mu.Lock()
	a.procs[sessionID] = &runningProcess{cmd: cmd, stdin: stdin, cancel: cancel}
	a.mu.Unlock()

	go a.readMessages(sessionID, scanner, cmd)

	return sessionID, nil
}

// awaitInit reads the subprocess's first stdout line, which must be a
// "system" init message, within startupTimeout.
func awaitInit(ctx context.Context, scanner *bufio.Scanner) (string, error) {
	type firstLine struct {
		line []byte
		err  error
	}
	resultCh := make(chan firstLine, 1)
	go func() {
		if scanner.Scan() {
			resultCh <- firstLine{line: append([]byte(nil), scanner.Bytes()...)}
			return
		}
		resultCh <- firstLine{err: scanner.Err()}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return "", fmt.Errorf("cliassistant: read init line: %w", res.err)
		}
		wm, err := decodeWireMessage(res.line)
		if err != nil {
			return "", fmt.Errorf("cliassistant: decode init line: %w", err)
		}
		if wm.Type != "system" {
			return "", fmt.Errorf("cliassistant: expected system init, got %q", wm.Type)
		}
		return wm.SessionID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(startupTimeout):
		return "", fmt.Errorf("cliassistant: subprocess did not report ready within %s", startupTimeout)
	}
}

// readMessages parses every remaining stdout line, delivering each
// decoded message to onMessage, until the subprocess exits.
func (a *CLIAssistant) readMessages(sessionID string, scanner *bufio.Scanner, cmd *exec.Cmd) {
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		wm, err := decodeWireMessage(line)
		if err != nil {
			slog.Warn("cliassistant.decode_failed", "session_id", sessionID, "error", err)
			continue
		}
		for _, msg := range wm.toMessages(sessionID) {
			a.onMessage(sessionID, msg)
		}
	}

	waitErr := cmd.Wait()

	a.mu.Lock()
	proc, ok := a.procs[sessionID]
	wasStopped := ok && proc.stopped
	delete(a.procs, sessionID)
	a.mu.Unlock()

	switch {
	case wasStopped:
		a.onError(sessionID, &supervisor.AbortError{SessionID: sessionID})
	case waitErr != nil:
		a.onError(sessionID, fmt.Errorf("cliassistant: subprocess exited: %w", waitErr))
	}
}

func (a *CLIAssistant) readStderr(sessionID string, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		slog.Debug("cliassistant.stderr", "session_id", sessionID, "line", scanner.Text())
	}
}

// AddMessage enqueues additional user input into a running stream.
func (a *CLIAssistant) AddMessage(ctx context.Context, sessionID, text string) error {
	a.mu.Lock()
	proc, ok := a.procs[sessionID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("cliassistant: no running session %s", sessionID)
	}
	return writeLine(proc.stdin, userLine(text))
}

// Stop cooperatively cancels a running stream by canceling its
// subprocess context. Idempotent: stopping an unknown session id is a
// no-op.
func (a *CLIAssistant) Stop(ctx context.Context, sessionID string) error {
	a.mu.Lock()
	proc, ok := a.procs[sessionID]
	if ok {
		proc.stopped = true
	}
	a.mu.Unlock()
	if !ok {
		return nil
	}
	proc.cancel()
	_ = proc.stdin.Close()
	return nil
}

func userLine(text string) []byte {
	payload := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": text,
		},
	}
	b, _ := json.Marshal(payload)
	return b
}

func writeLine(w io.Writer, line []byte) error {
	if _, err := w.Write(line); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n"))
	return err
}
