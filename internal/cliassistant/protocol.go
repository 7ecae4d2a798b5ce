package cliassistant

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/agentworker/internal/supervisor"
)

// buildArgs translates a StartRequest into the Assistant CLI's
// stream-json invocation flags.
func buildArgs(req supervisor.StartRequest) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.FallbackModel != "" {
		args = append(args, "--fallback-model", req.FallbackModel)
	}
	if req.AppendSystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.AppendSystemPrompt)
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}
	if len(req.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(req.DisallowedTools, ","))
	}
	for _, dir := range req.AllowedDirectories {
		args = append(args, "--add-dir", dir)
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", fmt.Sprintf("%d", req.MaxTurns))
	}
	if req.ResumeSessionID != "" {
		args = append(args, "--resume", req.ResumeSessionID)
	}
	return args
}

// contentBlock is one element of a wireMessage's content array.
type contentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Thinking  string `json:"thinking,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// wireMessage is one line of the Assistant CLI's stream-json protocol.
type wireMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
	Result    string `json:"result,omitempty"`
	Message   *struct {
		Role    string         `json:"role"`
		Content []contentBlock `json:"content"`
	} `json:"message,omitempty"`
}

func decodeWireMessage(line []byte) (wireMessage, error) {
	var wm wireMessage
	if err := json.Unmarshal(line, &wm); err != nil {
		return wireMessage{}, err
	}
	return wm, nil
}

// toMessages converts a wireMessage into zero or more supervisor
// messages. "system" init lines are handled separately by awaitInit
// and never reach this path.
func (wm wireMessage) toMessages(sessionID string) []supervisor.Message {
	switch wm.Type {
	case "assistant":
		if wm.Message == nil {
			return nil
		}
		var out []supervisor.Message
		for _, block := range wm.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					out = append(out, supervisor.Message{SessionID: sessionID, Kind: "assistant", Content: block.Text})
				}
			case "thinking":
				if block.Thinking != "" {
					out = append(out, supervisor.Message{SessionID: sessionID, Kind: "thought", Content: block.Thinking})
				}
			case "tool_use":
				out = append(out, supervisor.Message{SessionID: sessionID, Kind: "tool_use", Content: block.Name, ToolUseID: block.ID})
			}
		}
		return out
	case "user":
		if wm.Message == nil {
			return nil
		}
		var out []supervisor.Message
		for _, block := range wm.Message.Content {
			if block.Type == "tool_result" {
				out = append(out, supervisor.Message{SessionID: sessionID, Kind: "tool_result", Content: block.Content, ToolUseID: block.ToolUseID})
			}
		}
		return out
	case "result":
		content := wm.Result
		if wm.IsError && content == "" {
			content = "assistant run failed"
		}
		return []supervisor.Message{{SessionID: sessionID, Kind: "result", Content: content, Final: true}}
	default:
		return nil
	}
}
