// Package chunk splits model output into platform-sized message pieces while
// keeping code fences intact across boundaries, and parses JSON fan-out
// route entries from model output.
package chunk

import (
	"encoding/json"
	"strings"
)

// MessageLimit is the platform's per-message content cap.
const MessageLimit = 2000

// MaxAttachmentsPerMessage caps image attachments on a single message.
const MaxAttachmentsPerMessage = 10

const fenceMarker = "```"

// Split breaks text into pieces of at most limit characters on safe
// boundaries (newline preferred, then space). A chunk that ends inside a
// code fence gets the fence closed, and the next chunk reopens it with the
// same language tag.
func Split(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 {
		limit = MessageLimit
	}
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	openFence := "" // language tag of the currently open fence, "" if closed

	for len(text) > 0 {
		prefix := ""
		if openFence != "" {
			prefix = fenceMarker + openFence + "\n"
		}

		if len(prefix)+len(text) <= limit {
			chunks = append(chunks, prefix+text)
			break
		}

		// Reserve room for the prefix and a possible closing fence.
		room := limit - len(prefix) - len(fenceMarker) - 1
		cut := safeCut(text, room)
		piece := prefix + text[:cut]
		text = strings.TrimLeft(text[cut:], "\n ")

		openFence = trailingFence(piece)
		if openFence != "" {
			piece = strings.TrimRight(piece, "\n") + "\n" + fenceMarker
		}
		chunks = append(chunks, strings.TrimSpace(piece))
	}
	return chunks
}

// safeCut picks a cut position at or before max, preferring the last newline
// in the second half of the window, then the last space, then a hard cut.
func safeCut(text string, max int) int {
	if max >= len(text) {
		return len(text)
	}
	window := text[:max]
	if idx := strings.LastIndex(window, "\n"); idx > max/2 {
		return idx
	}
	if idx := strings.LastIndex(window, " "); idx > max/2 {
		return idx
	}
	return max
}

// trailingFence reports whether s ends inside an unclosed code fence and
// returns the fence's language tag ("" means no open fence).
func trailingFence(s string) string {
	open := false
	lang := ""
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, fenceMarker) {
			continue
		}
		if open {
			open = false
			lang = ""
		} else {
			open = true
			lang = strings.TrimPrefix(trimmed, fenceMarker)
			// "```go extra" style info strings keep only the first word.
			if i := strings.IndexByte(lang, ' '); i >= 0 {
				lang = lang[:i]
			}
		}
	}
	if !open {
		return ""
	}
	return lang
}

// RouteEntry is one element of a JSON fan-out array.
type RouteEntry struct {
	Channel string `json:"channel"`
	Content string `json:"content"`
}

// ParseRouteEntries parses model output as a JSON array of route entries.
// It is tolerant of surrounding prose and triple-backtick fences. A nil
// result means the output is not usable as routing JSON at all; an empty
// non-nil slice means a valid empty array (the JSON-mode silence sentinel).
// Shape-mismatched entries are dropped.
func ParseRouteEntries(raw string) []RouteEntry {
	payload := extractJSONArray(raw)
	if payload == "" {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return nil
	}

	entries := make([]RouteEntry, 0, len(items))
	for _, item := range items {
		var e RouteEntry
		if err := json.Unmarshal(item, &e); err != nil {
			continue
		}
		if e.Channel == "" || e.Content == "" {
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

// extractJSONArray strips code fences and surrounding prose, returning the
// outermost [...] span, or "" when none exists.
func extractJSONArray(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, fenceMarker) {
		s = strings.TrimPrefix(s, fenceMarker)
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), fenceMarker)
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
