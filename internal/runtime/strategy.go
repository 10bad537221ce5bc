package runtime

import "time"

// OutputMode selects how subprocess stdout is parsed.
type OutputMode string

const (
	OutputText  OutputMode = "text"
	OutputJSONL OutputMode = "jsonl"
)

// MultiTurnMode describes how a strategy carries conversation state.
type MultiTurnMode string

const (
	MultiTurnNone          MultiTurnMode = "none"
	MultiTurnProcessPool   MultiTurnMode = "process-pool"
	MultiTurnSessionResume MultiTurnMode = "session-resume"
)

// StdinThreshold is the prompt size above which the prompt moves from argv
// to stdin. Prompts of exactly this size still use argv.
const StdinThreshold = 100_000

// MaxImagesPerInvocation caps emitted image_data events per invocation.
// Excess images are dropped, not queued.
const MaxImagesPerInvocation = 4

// InvokeOptions are the caller-supplied parameters of one invocation.
type InvokeOptions struct {
	Prompt     string
	Model      string
	Images     []Image
	Tools      []string
	SessionKey string
	WorkDir    string

	Timeout              time.Duration
	StreamStallTimeout   time.Duration // 0 disables
	ProgressStallTimeout time.Duration // 0 disables
}

// InvokeContext is the resolved view a strategy sees while building the
// command line and parsing output.
type InvokeContext struct {
	Opts      InvokeOptions
	Model     string // resolved (opts override > strategy default)
	UseStdin  bool   // prompt goes over stdin instead of argv
	SessionID string // recorded session for session-resume strategies
}

// ParsedLine is a strategy's interpretation of one JSONL stdout line.
type ParsedLine struct {
	Text         string  // streamed delta text
	ResultText   string  // authoritative final text, overrides deltas
	Image        *Image  // inline image
	ResultImages []Image // images attached to the final result
	Activity     bool    // progress signal without user-visible text
	Extra        []Event // additional events to emit verbatim
	InToolUse    *bool   // enter/leave a tool-use span
	SessionID    string  // session identifier surfaced by the runtime
	TurnDone     bool    // terminates a pooled multi-turn exchange
	ErrorText    string  // runtime-reported failure for this invocation
}

// Strategy adapts one model CLI to the framework.
type Strategy interface {
	ID() string
	DefaultBinary() string
	DefaultModel() string
	MultiTurn() MultiTurnMode

	// BuildArgs returns the full command line (excluding the binary). When
	// ctx.UseStdin is false the prompt must be appended as the trailing
	// positional argument behind a "--" terminator.
	BuildArgs(ctx *InvokeContext) []string

	OutputMode(ctx *InvokeContext) OutputMode
}

// StdinPayloadBuilder lets a strategy shape the stdin payload (e.g. image
// content blocks). Absent, the raw prompt bytes are written.
type StdinPayloadBuilder interface {
	BuildStdinPayload(ctx *InvokeContext) ([]byte, error)
}

// LineParser interprets JSONL stdout lines. Only consulted in OutputJSONL
// mode; a nil result skips the line.
type LineParser interface {
	ParseLine(line []byte, ctx *InvokeContext) *ParsedLine
}

// ErrorSanitizer rewrites a raw diagnostic into a user-safe string.
type ErrorSanitizer interface {
	SanitizeError(raw string) string
}

// SpawnErrorHandler maps a spawn failure to a user-safe message.
type SpawnErrorHandler interface {
	HandleSpawnError(err error) string
}

// ExitErrorHandler maps a non-zero exit to a user-safe message. ok=false
// defers to the default sanitization path.
type ExitErrorHandler interface {
	HandleExitError(exitCode int, stderrTail, stdoutTail string) (string, bool)
}

// NoiseFilter lists stderr prefixes that carry no diagnostic value.
type NoiseFilter interface {
	StderrNoise() []string
}

// PoolStrategy is implemented by process-pool strategies.
type PoolStrategy interface {
	Strategy

	// BuildPoolArgs returns the command line for a long-lived process that
	// accepts JSON-framed user turns on stdin.
	BuildPoolArgs(ctx *InvokeContext) []string

	// FrameUserTurn encodes one user turn for the pooled process stdin,
	// newline-terminated by the caller.
	FrameUserTurn(prompt string, images []Image, sessionID string) ([]byte, error)
}
