package cron

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Sentinel outputs: a model emitting exactly one of these ran successfully
// and intentionally has nothing to say.
const (
	SentinelHeartbeat = "HEARTBEAT_OK"
	SentinelNoOutput  = "(no output)"
)

// MaxStatePromptChars bounds the serialized state embedded in a prompt.
const MaxStatePromptChars = 8192

// StateTruncatedMarker trails a state dump cut at MaxStatePromptChars.
const StateTruncatedMarker = "(state truncated)"

// UpstreamStateKey is the reserved state key carrying a chained upstream
// run's output into a downstream job.
const UpstreamStateKey = "__upstream"

// MaxChainDepth stops runaway chain recursion: at depth 10 and beyond no
// downstream job fires.
const MaxChainDepth = 10

// PromptInput feeds the cron prompt body builder.
type PromptInput struct {
	JobName        string
	PromptTemplate string
	Channel        string
	ChannelID      string
	Silent         bool
	JSONRouting    bool
	// AvailableChannels extends the default channel in JSON routing mode,
	// "name" or "name:id" entries.
	AvailableChannels []string
	State             json.RawMessage
}

// BuildPromptBody renders the cron-specific prompt section.
func BuildPromptBody(in PromptInput) string {
	state := compactState(in.State)

	expanded := in.PromptTemplate
	expanded = strings.ReplaceAll(expanded, "{{channel}}", in.Channel)
	expanded = strings.ReplaceAll(expanded, "{{channelId}}", in.ChannelID)
	expanded = strings.ReplaceAll(expanded, "{{state}}", state)

	var b strings.Builder
	fmt.Fprintf(&b, "## Scheduled Job: %s\n\n", in.JobName)
	b.WriteString(strings.TrimSpace(expanded))
	b.WriteString("\n\n")

	if in.JSONRouting {
		writeJSONRoutingInstructions(&b, in)
	} else {
		fmt.Fprintf(&b, "Post your output to the #%s channel.\n", in.Channel)
		if in.Silent {
			fmt.Fprintf(&b, "If there is nothing worth reporting, reply with exactly `%s` and nothing else.\n", SentinelHeartbeat)
		}
	}

	if state != "" && state != "{}" {
		b.WriteString("\n## Persistent State\n\n")
		b.WriteString(truncateState(state))
		b.WriteString("\nTo update this state, include a <cron-state>{...}</cron-state> block in your reply.\n")
	}
	return b.String()
}

func writeJSONRoutingInstructions(b *strings.Builder, in PromptInput) {
	b.WriteString("Reply with a JSON array of routing entries, each shaped " +
		`{"channel": "<name>", "content": "<message>"}` + ". " +
		"Do not wrap the array in code fences or add any prose around it.\n")

	channels := dedupeChannels(append([]string{in.Channel}, in.AvailableChannels...))
	fmt.Fprintf(b, "Available channels: %s\n", strings.Join(channels, ", "))

	if in.Silent {
		b.WriteString("If there is nothing worth reporting, reply with exactly `[]`.\n")
	}
}

// dedupeChannels keeps first occurrences, comparing case-insensitively on
// both the name and any ":id" suffix.
func dedupeChannels(channels []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		name, id, _ := strings.Cut(ch, ":")
		nameKey := strings.ToLower(name)
		idKey := strings.ToLower(id)
		if seen[nameKey] || (idKey != "" && seen["id:"+idKey]) {
			continue
		}
		seen[nameKey] = true
		if idKey != "" {
			seen["id:"+idKey] = true
		}
		out = append(out, ch)
	}
	return out
}

// compactState renders state as compact JSON, "{}" when absent or empty.
func compactState(state json.RawMessage) string {
	if len(state) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, state); err != nil {
		return "{}"
	}
	return buf.String()
}

func truncateState(state string) string {
	if len(state) <= MaxStatePromptChars {
		return state
	}
	return state[:MaxStatePromptChars] + " " + StateTruncatedMarker
}
