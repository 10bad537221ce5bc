package runtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ClaudeStrategy adapts the Claude Code CLI. Output is stream-json NDJSON;
// multi-turn conversations run on a pooled long-lived process fed JSON-framed
// user turns over stdin.
type ClaudeStrategy struct{}

func NewClaudeStrategy() *ClaudeStrategy { return &ClaudeStrategy{} }

func (s *ClaudeStrategy) ID() string                { return "claude" }
func (s *ClaudeStrategy) DefaultBinary() string     { return "claude" }
func (s *ClaudeStrategy) DefaultModel() string      { return "sonnet" }
func (s *ClaudeStrategy) MultiTurn() MultiTurnMode  { return MultiTurnProcessPool }
func (s *ClaudeStrategy) OutputMode(*InvokeContext) OutputMode { return OutputJSONL }

func (s *ClaudeStrategy) BuildArgs(ic *InvokeContext) []string {
	args := []string{"-p", "--output-format", "stream-json", "--verbose",
		"--dangerously-skip-permissions"}
	if ic.Model != "" {
		args = append(args, "--model", ic.Model)
	}
	if tools := FilterTools(ic.Model, ic.Opts.Tools); len(tools) > 0 {
		args = append(args, "--allowedTools", strings.Join(tools, ","))
	}
	if ic.UseStdin {
		args = append(args, "--input-format", "stream-json")
		return args
	}
	return append(args, "--", ic.Opts.Prompt)
}

func (s *ClaudeStrategy) BuildPoolArgs(ic *InvokeContext) []string {
	args := []string{
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
		"--dangerously-skip-permissions",
	}
	if ic.Model != "" {
		args = append(args, "--model", ic.Model)
	}
	if tools := FilterTools(ic.Model, ic.Opts.Tools); len(tools) > 0 {
		args = append(args, "--allowedTools", strings.Join(tools, ","))
	}
	return args
}

// claudeContentBlock mirrors the CLI's content block shape, both directions.
type claudeContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`

	Source *claudeImageSource `json:"source,omitempty"`
}

type claudeImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type claudeUserFrame struct {
	Type      string            `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	Message   claudeUserMessage `json:"message"`
}

type claudeUserMessage struct {
	Role    string               `json:"role"`
	Content []claudeContentBlock `json:"content"`
}

func claudeContent(prompt string, images []Image) []claudeContentBlock {
	blocks := make([]claudeContentBlock, 0, len(images)+1)
	for _, img := range images {
		blocks = append(blocks, claudeContentBlock{
			Type: "image",
			Source: &claudeImageSource{
				Type:      "base64",
				MediaType: img.MediaType,
				Data:      img.Base64,
			},
		})
	}
	return append(blocks, claudeContentBlock{Type: "text", Text: prompt})
}

func (s *ClaudeStrategy) BuildStdinPayload(ic *InvokeContext) ([]byte, error) {
	frame := claudeUserFrame{
		Type: "user",
		Message: claudeUserMessage{
			Role:    "user",
			Content: claudeContent(ic.Opts.Prompt, ic.Opts.Images),
		},
	}
	return json.Marshal(frame)
}

func (s *ClaudeStrategy) FrameUserTurn(prompt string, images []Image, sessionID string) ([]byte, error) {
	frame := claudeUserFrame{
		Type:      "user",
		SessionID: sessionID,
		Message: claudeUserMessage{
			Role:    "user",
			Content: claudeContent(prompt, images),
		},
	}
	return json.Marshal(frame)
}

// claudeStreamEvent is one stream-json NDJSON line.
type claudeStreamEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

type claudeMessagePayload struct {
	Content []claudeContentBlock `json:"content"`
}

func (s *ClaudeStrategy) ParseLine(line []byte, ic *InvokeContext) *ParsedLine {
	var ev claudeStreamEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil
	}

	out := &ParsedLine{SessionID: ev.SessionID}

	switch ev.Type {
	case "system":
		out.Activity = true

	case "assistant":
		var msg claudeMessagePayload
		if err := json.Unmarshal(ev.Message, &msg); err != nil {
			return out
		}
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				out.Text += block.Text
			case "tool_use":
				inUse := true
				out.InToolUse = &inUse
				out.Activity = true
				out.Extra = append(out.Extra, Event{Type: EventToolStart, ToolName: block.Name})
			case "image":
				if block.Source != nil {
					out.ResultImages = append(out.ResultImages, Image{
						MediaType: block.Source.MediaType,
						Base64:    block.Source.Data,
					})
				}
			}
		}

	case "user":
		// Tool results come back framed as user messages.
		inUse := false
		out.InToolUse = &inUse
		out.Activity = true
		out.Extra = append(out.Extra, Event{Type: EventToolEnd})

	case "stream_event":
		out.Activity = true

	case "result":
		out.TurnDone = true
		if ev.IsError {
			out.ErrorText = coalesce(ev.Result, "claude reported an error result")
		} else {
			out.ResultText = ev.Result
		}
	}
	return out
}

func (s *ClaudeStrategy) SanitizeError(raw string) string {
	if strings.Contains(raw, staleSessionSignature) {
		return staleSessionRecovery
	}
	if strings.Contains(raw, "Invalid API key") || strings.Contains(raw, "OAuth token has expired") {
		return "claude is not authenticated. Run `claude login` on the host."
	}
	return ""
}

func (s *ClaudeStrategy) HandleSpawnError(err error) string {
	if err == nil {
		return ""
	}
	if strings.Contains(err.Error(), "executable file not found") {
		return "claude CLI not found. Install: npm install -g @anthropic-ai/claude-code"
	}
	return ""
}

func (s *ClaudeStrategy) HandleExitError(exitCode int, stderrTail, stdoutTail string) (string, bool) {
	if strings.Contains(stderrTail, staleSessionSignature) || strings.Contains(stdoutTail, staleSessionSignature) {
		return staleSessionRecovery, true
	}
	if exitCode == 143 {
		// SIGTERM exit, the wrapper already reports the reason.
		return fmt.Sprintf("claude exited after termination signal (exit %d)", exitCode), true
	}
	return "", false
}

func (s *ClaudeStrategy) StderrNoise() []string {
	return []string{
		"[dotenv",
		"npm warn",
		"(node:",
		"ExperimentalWarning",
	}
}
