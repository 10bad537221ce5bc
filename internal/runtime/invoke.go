package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// killGracePeriod is how long a SIGTERM'd subprocess gets before SIGKILL.
const killGracePeriod = 5 * time.Second

// toolUseBlockRe strips tool-use XML-like spans from accumulated jsonl text
// before the final event.
var toolUseBlockRe = regexp.MustCompile(`(?s)<tool[_-]?use>.*?</tool[_-]?use>`)

// Framework owns subprocess invocation for all registered strategies plus the
// per-strategy session bookkeeping for multi-turn modes.
type Framework struct {
	logger  zerolog.Logger
	tracker *Tracker

	mu       sync.Mutex
	sessions map[string]string // "<strategyID>/<sessionKey>" -> sessionID
	pools    map[string]*Pool  // strategyID -> pool
}

// NewFramework creates a runtime framework.
func NewFramework(logger zerolog.Logger) *Framework {
	return &Framework{
		logger:   logger.With().Str("component", "runtime").Logger(),
		tracker:  GlobalTracker(),
		sessions: make(map[string]string),
		pools:    make(map[string]*Pool),
	}
}

// Invoke runs one invocation and returns its lazy event stream. The stream
// always terminates with exactly one Done event; errors never escape as
// panics or returned errors.
func (f *Framework) Invoke(ctx context.Context, strat Strategy, opts InvokeOptions) <-chan Event {
	events := make(chan Event, 256)
	go func() {
		defer close(events)
		f.run(ctx, strat, opts, events)
	}()
	return events
}

func (f *Framework) run(ctx context.Context, strat Strategy, opts InvokeOptions, events chan<- Event) {
	emit := func(e Event) { events <- e }

	// Never spawn when the caller has already cancelled.
	if ctx.Err() != nil {
		emit(errorEvent(Aborted))
		emit(doneEvent())
		return
	}

	ic := &InvokeContext{
		Opts:     opts,
		Model:    coalesce(opts.Model, strat.DefaultModel()),
		UseStdin: len(opts.Prompt) > StdinThreshold || len(opts.Images) > 0,
	}

	if strat.MultiTurn() == MultiTurnSessionResume && opts.SessionKey != "" {
		ic.SessionID = f.Session(strat.ID(), opts.SessionKey)
	}

	bin := f.resolveBinary(strat)
	args := strat.BuildArgs(ic)

	cmd := exec.Command(bin, args...)
	cmd.Dir = opts.WorkDir
	cmd.Env = append(os.Environ(), "NO_COLOR=1", "FORCE_COLOR=0", "TERM=dumb")

	if ic.UseStdin {
		payload := []byte(opts.Prompt)
		if builder, ok := strat.(StdinPayloadBuilder); ok {
			built, err := builder.BuildStdinPayload(ic)
			if err != nil {
				emit(errorEvent(spawnFailureMessage(strat.ID(), false, "stdin payload")))
				emit(doneEvent())
				return
			}
			payload = built
		}
		cmd.Stdin = bytes.NewReader(payload)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		emit(errorEvent(spawnFailureMessage(strat.ID(), false, err.Error())))
		emit(doneEvent())
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		emit(errorEvent(spawnFailureMessage(strat.ID(), false, err.Error())))
		emit(doneEvent())
		return
	}

	if err := cmd.Start(); err != nil {
		emit(errorEvent(f.spawnError(strat, err)))
		emit(doneEvent())
		return
	}

	f.tracker.Register(cmd.Process)
	defer f.tracker.Unregister(cmd.Process)

	var (
		aborted   atomic.Bool
		timedOut  atomic.Bool
		stallKind atomic.Value // "" | "stream" | "progress"
		termOnce  sync.Once
	)
	stallKind.Store("")

	terminate := func() {
		termOnce.Do(func() {
			proc := cmd.Process
			_ = proc.Signal(syscall.SIGTERM)
			time.AfterFunc(killGracePeriod, func() {
				_ = proc.Signal(syscall.SIGKILL)
			})
		})
	}

	var timeoutTimer *time.Timer
	if opts.Timeout > 0 {
		timeoutTimer = time.AfterFunc(opts.Timeout, func() {
			timedOut.Store(true)
			terminate()
		})
		defer timeoutTimer.Stop()
	}

	streamStall := newStallTimer(opts.StreamStallTimeout, func() {
		stallKind.CompareAndSwap("", "stream")
		terminate()
	})
	defer streamStall.Stop()
	progressStall := newStallTimer(opts.ProgressStallTimeout, func() {
		stallKind.CompareAndSwap("", "progress")
		terminate()
	})
	defer progressStall.Stop()

	// Cancellation propagation: SIGKILL immediately, the caller is gone.
	cancelWatch := make(chan struct{})
	defer close(cancelWatch)
	go func() {
		select {
		case <-ctx.Done():
			aborted.Store(true)
			_ = cmd.Process.Signal(syscall.SIGKILL)
		case <-cancelWatch:
		}
	}()

	mode := strat.OutputMode(ic)
	parser, _ := strat.(LineParser)

	st := &streamState{
		emit:     emit,
		ic:       ic,
		dedupe:   newImageDeduper(),
		progress: progressStall,
	}

	var stderrTail tailBuffer
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			streamStall.Reset()
			line := scanner.Text()
			stderrTail.Add(line)
			emit(Event{Type: EventLogLine, Stream: "stderr", Line: line})
		}
	}()

	readStdout(stdout, mode, parser, streamStall, st)

	wg.Wait()
	waitErr := cmd.Wait()
	streamStall.Stop()
	progressStall.Stop()
	if timeoutTimer != nil {
		timeoutTimer.Stop()
	}

	// Persist any session ID the runtime surfaced mid-stream.
	if st.sessionID != "" && opts.SessionKey != "" {
		f.SetSession(strat.ID(), opts.SessionKey, st.sessionID)
	}

	switch {
	case aborted.Load() || ctx.Err() != nil:
		emit(errorEvent(Aborted))

	case timedOut.Load():
		emit(errorEvent(timeoutMessage(strat.ID(), opts.Timeout.Milliseconds())))

	case stallKind.Load() == "stream":
		emit(errorEvent(streamStallMessage(opts.StreamStallTimeout.Milliseconds())))

	case stallKind.Load() == "progress":
		emit(errorEvent(progressStallMessage(opts.ProgressStallTimeout.Milliseconds())))

	case waitErr != nil:
		if strat.MultiTurn() == MultiTurnSessionResume && opts.SessionKey != "" {
			// A failed turn invalidates any recorded session so the next
			// one starts fresh.
			f.ClearSession(strat.ID(), opts.SessionKey)
		}
		emit(errorEvent(f.exitError(strat, waitErr, stderrTail.Join(), st.textTail())))

	case st.runtimeErr != "":
		emit(errorEvent(f.sanitize(strat, st.runtimeErr)))

	default:
		final := st.finalText(mode)
		emit(Event{Type: EventTextFinal, Text: final})
	}
	emit(doneEvent())
}

// streamState accumulates per-invocation parse state shared between the
// stdout reader and the finish logic.
type streamState struct {
	emit     func(Event)
	ic       *InvokeContext
	dedupe   *imageDeduper
	progress *stallTimer

	text       strings.Builder
	resultText string
	runtimeErr string
	sessionID  string
	inToolUse  bool
}

func (st *streamState) textTail() string {
	s := st.text.String()
	if len(s) > 2000 {
		s = s[len(s)-2000:]
	}
	return s
}

func (st *streamState) finalText(mode OutputMode) string {
	final := st.resultText
	if final == "" {
		final = st.text.String()
	}
	if mode == OutputJSONL {
		final = toolUseBlockRe.ReplaceAllString(final, "")
	}
	return strings.TrimSpace(final)
}

func (st *streamState) admitImage(img *Image) {
	if st.dedupe.Admit(img) {
		st.emit(Event{Type: EventImageData, Image: img})
	}
}

// apply folds one parsed line into the stream.
func (st *streamState) apply(parsed *ParsedLine) {
	if parsed == nil {
		return
	}
	if parsed.SessionID != "" {
		st.sessionID = parsed.SessionID
		st.ic.SessionID = parsed.SessionID
	}
	if parsed.InToolUse != nil {
		st.inToolUse = *parsed.InToolUse
	}
	if parsed.Text != "" {
		st.text.WriteString(parsed.Text)
		if !st.inToolUse {
			st.emit(Event{Type: EventTextDelta, Text: parsed.Text})
			st.progress.Reset()
		}
	}
	if parsed.Activity {
		st.progress.Reset()
	}
	if parsed.ResultText != "" {
		st.resultText = parsed.ResultText
	}
	if parsed.Image != nil {
		st.admitImage(parsed.Image)
	}
	for i := range parsed.ResultImages {
		st.admitImage(&parsed.ResultImages[i])
	}
	for _, extra := range parsed.Extra {
		st.emit(extra)
	}
	if parsed.ErrorText != "" {
		st.runtimeErr = parsed.ErrorText
	}
}

// readStdout pumps subprocess stdout through the mode-appropriate parser.
// The trailing partial line is flushed as if complete.
func readStdout(r io.Reader, mode OutputMode, parser LineParser, streamStall *stallTimer, st *streamState) {
	buf := make([]byte, 32*1024)
	var lineBuf []byte

	processLine := func(line []byte) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || parser == nil {
			return
		}
		if !json.Valid(line) {
			return
		}
		st.apply(parser.ParseLine(line, st.ic))
	}

	for {
		n, err := r.Read(buf)
		if n > 0 {
			streamStall.Reset()
			chunk := buf[:n]
			if mode == OutputText {
				st.text.Write(chunk)
				st.emit(Event{Type: EventTextDelta, Text: string(chunk)})
				st.progress.Reset()
			} else {
				lineBuf = append(lineBuf, chunk...)
				for {
					idx := bytes.IndexByte(lineBuf, '\n')
					if idx < 0 {
						break
					}
					processLine(lineBuf[:idx])
					lineBuf = lineBuf[idx+1:]
				}
			}
		}
		if err != nil {
			break
		}
	}
	if mode == OutputJSONL && len(lineBuf) > 0 {
		processLine(lineBuf)
	}
}

// stallTimer is a resettable watchdog. A zero duration disables it and every
// method becomes a no-op.
type stallTimer struct {
	d time.Duration
	t *time.Timer
}

func newStallTimer(d time.Duration, onFire func()) *stallTimer {
	if d <= 0 {
		return &stallTimer{}
	}
	return &stallTimer{d: d, t: time.AfterFunc(d, onFire)}
}

func (s *stallTimer) Reset() {
	if s.t != nil {
		s.t.Reset(s.d)
	}
}

func (s *stallTimer) Stop() {
	if s.t != nil {
		s.t.Stop()
	}
}

// tailBuffer keeps the last few lines of a stream for diagnostics.
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
}

func (b *tailBuffer) Add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > 20 {
		b.lines = b.lines[len(b.lines)-20:]
	}
}

func (b *tailBuffer) Join() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}

// resolveBinary honors <ID>_BIN env overrides (CLAUDE_BIN, CODEX_BIN,
// GEMINI_BIN) before falling back to the strategy default.
func (f *Framework) resolveBinary(strat Strategy) string {
	if override := os.Getenv(strings.ToUpper(strat.ID()) + "_BIN"); override != "" {
		return override
	}
	return strat.DefaultBinary()
}

func (f *Framework) spawnError(strat Strategy, err error) string {
	if handler, ok := strat.(SpawnErrorHandler); ok {
		if msg := handler.HandleSpawnError(err); msg != "" {
			return msg
		}
	}
	notFound := errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist)
	detail := ""
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		detail = pathErr.Err.Error()
	}
	return spawnFailureMessage(strat.ID(), notFound, detail)
}

func (f *Framework) exitError(strat Strategy, waitErr error, stderrTail, stdoutTail string) string {
	code := -1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code = exitErr.ExitCode()
	}

	if handler, ok := strat.(ExitErrorHandler); ok {
		if msg, handled := handler.HandleExitError(code, stderrTail, stdoutTail); handled {
			return msg
		}
	}

	raw := coalesce(stderrTail, stdoutTail, fmt.Sprintf("exit %d", code))
	return f.sanitize(strat, raw)
}

func (f *Framework) sanitize(strat Strategy, raw string) string {
	if s, ok := strat.(ErrorSanitizer); ok {
		if msg := s.SanitizeError(raw); msg != "" {
			return msg
		}
	}
	var noise []string
	if nf, ok := strat.(NoiseFilter); ok {
		noise = nf.StderrNoise()
	}
	if msg := sanitizeDiagnostic(raw, noise); msg != "" {
		return msg
	}
	return "The model encountered an error"
}

// Session returns the recorded session ID for a strategy/key pair.
func (f *Framework) Session(strategyID, key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[strategyID+"/"+key]
}

// SetSession records a session ID.
func (f *Framework) SetSession(strategyID, key, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[strategyID+"/"+key] = sessionID
}

// ClearSession forgets a session ID so the next turn starts fresh.
func (f *Framework) ClearSession(strategyID, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, strategyID+"/"+key)
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
