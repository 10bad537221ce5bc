package runtime

import (
	"encoding/json"
	"strings"
)

// CodexStrategy adapts the Codex CLI. Output is `codex exec --json` NDJSON;
// multi-turn conversations resume by thread ID on the next invocation rather
// than through a persistent process.
type CodexStrategy struct{}

func NewCodexStrategy() *CodexStrategy { return &CodexStrategy{} }

func (s *CodexStrategy) ID() string                { return "codex" }
func (s *CodexStrategy) DefaultBinary() string     { return "codex" }
func (s *CodexStrategy) DefaultModel() string      { return "gpt-5-codex" }
func (s *CodexStrategy) MultiTurn() MultiTurnMode  { return MultiTurnSessionResume }
func (s *CodexStrategy) OutputMode(*InvokeContext) OutputMode { return OutputJSONL }

func (s *CodexStrategy) BuildArgs(ic *InvokeContext) []string {
	args := []string{"exec"}
	if ic.SessionID != "" {
		args = append(args, "resume", ic.SessionID)
	}
	args = append(args, "--json", "--skip-git-repo-check")
	if ic.Model != "" {
		args = append(args, "--model", ic.Model)
	}
	if ic.UseStdin {
		// "-" makes codex read the prompt from stdin.
		return append(args, "-")
	}
	return append(args, "--", ic.Opts.Prompt)
}

// codexEvent is one `codex exec --json` NDJSON line.
type codexEvent struct {
	Type     string    `json:"type"`
	ThreadID string    `json:"thread_id,omitempty"`
	Item     codexItem `json:"item,omitempty"`
	Message  string    `json:"message,omitempty"`
}

type codexItem struct {
	Type    string `json:"item_type"`
	Text    string `json:"text,omitempty"`
	Command string `json:"command,omitempty"`
}

func (s *CodexStrategy) ParseLine(line []byte, ic *InvokeContext) *ParsedLine {
	var ev codexEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil
	}

	out := &ParsedLine{}
	switch ev.Type {
	case "thread.started":
		out.SessionID = ev.ThreadID
		out.Activity = true

	case "item.started":
		switch ev.Item.Type {
		case "command_execution":
			inUse := true
			out.InToolUse = &inUse
			out.Activity = true
			out.Extra = append(out.Extra, Event{Type: EventToolStart, ToolName: "command"})
		default:
			out.Activity = true
		}

	case "item.completed":
		switch ev.Item.Type {
		case "agent_message":
			out.ResultText = ev.Item.Text
		case "reasoning":
			out.Activity = true
		case "command_execution":
			inUse := false
			out.InToolUse = &inUse
			out.Activity = true
			out.Extra = append(out.Extra, Event{Type: EventToolEnd})
		}

	case "turn.completed":
		out.TurnDone = true

	case "turn.failed", "error":
		out.TurnDone = true
		out.ErrorText = coalesce(ev.Message, "codex reported a failed turn")
	}
	return out
}

func (s *CodexStrategy) SanitizeError(raw string) string {
	if strings.Contains(raw, "401 Unauthorized") || strings.Contains(raw, "Not logged in") {
		return "codex is not authenticated. Run `codex login` on the host."
	}
	if strings.Contains(raw, "stream disconnected") {
		return "codex lost its upstream connection mid-turn"
	}
	return ""
}

func (s *CodexStrategy) HandleSpawnError(err error) string {
	if err == nil {
		return ""
	}
	if strings.Contains(err.Error(), "executable file not found") {
		return "codex CLI not found. Install: npm install -g @openai/codex"
	}
	return ""
}

func (s *CodexStrategy) StderrNoise() []string {
	return []string{
		"[2m", // residual ANSI timestamps
		"Reading prompt from stdin",
		"warning:",
	}
}
