// Package runtime wraps heterogeneous model CLIs behind a uniform streaming
// event interface with subprocess lifecycle management, stall detection and
// sanitized error reporting.
package runtime

// EventType discriminates the invocation event union.
type EventType string

const (
	EventTextDelta EventType = "text_delta"
	EventTextFinal EventType = "text_final"
	EventImageData EventType = "image_data"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
	EventLogLine   EventType = "log_line"
	EventError     EventType = "error"
	EventDone      EventType = "done"
)

// Image is an inline image produced by a runtime.
type Image struct {
	MediaType string // e.g. "image/png"
	Base64    string
}

// Event is one element of an invocation stream. Every invocation ends with
// exactly one Done; Error is always followed directly by Done.
type Event struct {
	Type EventType

	// EventTextDelta / EventTextFinal
	Text string

	// EventImageData
	Image *Image

	// EventToolStart / EventToolEnd
	ToolName  string
	ToolInput string
	ToolOK    bool

	// EventLogLine
	Stream string // "stdout" or "stderr"
	Line   string

	// EventError
	Message string
}

// Aborted is the canonical cancellation error message.
const Aborted = "aborted"

func errorEvent(msg string) Event { return Event{Type: EventError, Message: msg} }
func doneEvent() Event            { return Event{Type: EventDone} }
