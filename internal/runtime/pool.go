package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Pool defaults. Turns that exceed turnTimeout on a pooled process evict it;
// processes idle past idleTimeout are reaped by the janitor.
const (
	defaultPoolTurnTimeout = 10 * time.Minute
	defaultPoolIdleTimeout = 15 * time.Minute
	poolJanitorInterval    = time.Minute
)

// errPoolFallback marks pool failures the caller should transparently retry
// as a one-shot invocation.
var errPoolFallback = errors.New("long-running: pool turn failed")

// Pool maintains long-lived subprocesses keyed by session, for strategies
// that support JSON-framed multi-turn stdin conversation.
type Pool struct {
	framework *Framework
	strat     PoolStrategy
	parser    LineParser
	logger    zerolog.Logger

	turnTimeout time.Duration
	idleTimeout time.Duration

	mu    sync.Mutex
	procs map[string]*pooledProc
	stop  chan struct{}
	once  sync.Once
}

func newPool(f *Framework, strat PoolStrategy, logger zerolog.Logger) *Pool {
	parser, _ := strat.(LineParser)
	p := &Pool{
		framework:   f,
		strat:       strat,
		parser:      parser,
		logger:      logger.With().Str("component", "runtime-pool").Str("runtime", strat.ID()).Logger(),
		turnTimeout: defaultPoolTurnTimeout,
		idleTimeout: defaultPoolIdleTimeout,
		procs:       make(map[string]*pooledProc),
		stop:        make(chan struct{}),
	}
	go p.janitor()
	return p
}

// InvokeTurn runs one conversational turn. Process-pool strategies with a
// session key go through the pool and fall back to a one-shot invocation
// when the pooled process misbehaves; everything else is a plain Invoke.
func (f *Framework) InvokeTurn(ctx context.Context, strat Strategy, opts InvokeOptions) <-chan Event {
	ps, ok := strat.(PoolStrategy)
	if !ok || strat.MultiTurn() != MultiTurnProcessPool || opts.SessionKey == "" {
		return f.Invoke(ctx, strat, opts)
	}
	return f.poolFor(ps).SendTurn(ctx, opts)
}

func (f *Framework) poolFor(ps PoolStrategy) *Pool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pools[ps.ID()]; ok {
		return p
	}
	p := newPool(f, ps, f.logger)
	f.pools[ps.ID()] = p
	f.tracker.RegisterPool(p)
	return p
}

// SendTurn writes one user turn to the pooled process and streams its events
// until the turn terminator. Pool failures evict the process and re-run the
// turn as a one-shot invocation.
func (p *Pool) SendTurn(ctx context.Context, opts InvokeOptions) <-chan Event {
	out := make(chan Event, 256)
	go func() {
		defer close(out)
		err := p.sendPooled(ctx, opts, out)
		if err == nil {
			return
		}
		p.evict(opts.SessionKey)
		p.logger.Warn().Err(err).Str("sessionKey", opts.SessionKey).Msg("Pool turn failed, falling back to one-shot invocation")
		for ev := range p.framework.Invoke(ctx, p.strat, opts) {
			out <- ev
		}
	}()
	return out
}

func (p *Pool) sendPooled(ctx context.Context, opts InvokeOptions, out chan<- Event) error {
	if ctx.Err() != nil {
		out <- errorEvent(Aborted)
		out <- doneEvent()
		return nil
	}

	proc, err := p.ensureProc(opts)
	if err != nil {
		return fmt.Errorf("%w: %v", errPoolFallback, err)
	}

	turn, err := proc.beginTurn(out)
	if err != nil {
		return fmt.Errorf("%w: %v", errPoolFallback, err)
	}

	frame, err := p.strat.FrameUserTurn(opts.Prompt, opts.Images, proc.sessionID())
	if err != nil {
		proc.abandonTurn()
		return fmt.Errorf("%w: %v", errPoolFallback, err)
	}
	if err := proc.write(frame); err != nil {
		proc.abandonTurn()
		return fmt.Errorf("%w: %v", errPoolFallback, err)
	}

	select {
	case <-turn.done:
		proc.touch()
		return nil
	case <-ctx.Done():
		proc.kill()
		p.evict(opts.SessionKey)
		out <- errorEvent(Aborted)
		out <- doneEvent()
		return nil
	case <-time.After(p.turnTimeout):
		proc.kill()
		p.evict(opts.SessionKey)
		if !turn.produced() {
			// Nothing streamed yet: the fallback can transparently retry.
			return fmt.Errorf("%w: turn hang", errPoolFallback)
		}
		out <- errorEvent(fmt.Sprintf("%s pooled turn hung mid-stream", p.strat.ID()))
		out <- doneEvent()
		return nil
	}
}

// ensureProc returns the live process for the session, spawning on demand.
func (p *Pool) ensureProc(opts InvokeOptions) (*pooledProc, error) {
	p.mu.Lock()
	if proc, ok := p.procs[opts.SessionKey]; ok && !proc.isDead() {
		p.mu.Unlock()
		return proc, nil
	}
	p.mu.Unlock()

	ic := &InvokeContext{Opts: opts, Model: coalesce(opts.Model, p.strat.DefaultModel())}
	bin := p.framework.resolveBinary(p.strat)
	args := p.strat.BuildPoolArgs(ic)

	cmd := exec.Command(bin, args...)
	cmd.Dir = opts.WorkDir
	cmd.Env = append(os.Environ(), "NO_COLOR=1", "FORCE_COLOR=0", "TERM=dumb")
	cmd.Stderr = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p.framework.tracker.Register(cmd.Process)

	proc := &pooledProc{
		pool:     p,
		key:      opts.SessionKey,
		cmd:      cmd,
		stdin:    stdin,
		ic:       ic,
		lastUsed: time.Now(),
	}
	go proc.readLoop(stdout)

	p.mu.Lock()
	p.procs[opts.SessionKey] = proc
	p.mu.Unlock()

	p.logger.Debug().Str("sessionKey", opts.SessionKey).Int("pid", cmd.Process.Pid).Msg("Spawned pooled runtime process")
	return proc, nil
}

func (p *Pool) evict(key string) {
	p.mu.Lock()
	proc, ok := p.procs[key]
	if ok {
		delete(p.procs, key)
	}
	p.mu.Unlock()
	if ok {
		proc.kill()
	}
}

// KillAll tears down every pooled process. Used at host shutdown.
func (p *Pool) KillAll() {
	p.once.Do(func() { close(p.stop) })
	p.mu.Lock()
	procs := make([]*pooledProc, 0, len(p.procs))
	for _, proc := range p.procs {
		procs = append(procs, proc)
	}
	p.procs = make(map[string]*pooledProc)
	p.mu.Unlock()
	for _, proc := range procs {
		proc.kill()
	}
}

func (p *Pool) janitor() {
	ticker := time.NewTicker(poolJanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}
		p.mu.Lock()
		var idle []string
		for key, proc := range p.procs {
			if time.Since(proc.last()) > p.idleTimeout || proc.isDead() {
				idle = append(idle, key)
			}
		}
		p.mu.Unlock()
		for _, key := range idle {
			p.logger.Debug().Str("sessionKey", key).Msg("Evicting idle pooled process")
			p.evict(key)
		}
	}
}

// pooledProc is one live subprocess plus its current turn, if any.
type pooledProc struct {
	pool  *Pool
	key   string
	cmd   *exec.Cmd
	stdin io.WriteCloser
	ic    *InvokeContext

	mu       sync.Mutex
	turn     *poolTurn
	sid      string
	dead     bool
	lastUsed time.Time
}

type poolTurn struct {
	st   *streamState
	out  chan<- Event
	done chan struct{}
	once sync.Once
}

func (t *poolTurn) produced() bool {
	return t.st.text.Len() > 0 || t.st.resultText != ""
}

func (pp *pooledProc) beginTurn(out chan<- Event) (*poolTurn, error) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if pp.dead {
		return nil, errors.New("process dead")
	}
	if pp.turn != nil {
		return nil, errors.New("turn already in progress")
	}
	turn := &poolTurn{
		out:  out,
		done: make(chan struct{}),
	}
	turn.st = &streamState{
		emit:     func(e Event) { out <- e },
		ic:       pp.ic,
		dedupe:   newImageDeduper(),
		progress: newStallTimer(0, nil),
	}
	pp.turn = turn
	return turn, nil
}

func (pp *pooledProc) abandonTurn() {
	pp.mu.Lock()
	pp.turn = nil
	pp.mu.Unlock()
}

func (pp *pooledProc) write(frame []byte) error {
	pp.mu.Lock()
	stdin := pp.stdin
	pp.mu.Unlock()
	if stdin == nil {
		return errors.New("stdin closed")
	}
	_, err := stdin.Write(append(frame, '\n'))
	return err
}

func (pp *pooledProc) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !json.Valid([]byte(line)) {
			continue
		}
		if pp.pool.parser == nil {
			continue
		}
		parsed := pp.pool.parser.ParseLine([]byte(line), pp.ic)
		if parsed == nil {
			continue
		}

		pp.mu.Lock()
		if parsed.SessionID != "" {
			pp.sid = parsed.SessionID
		}
		turn := pp.turn
		pp.mu.Unlock()
		if turn == nil {
			continue
		}

		turn.st.apply(parsed)
		if parsed.TurnDone {
			pp.finishTurn(turn, parsed.ErrorText)
		}
	}

	// Process exited; fail any in-flight turn.
	_ = pp.cmd.Wait()
	pp.pool.framework.tracker.Unregister(pp.cmd.Process)
	pp.mu.Lock()
	pp.dead = true
	turn := pp.turn
	pp.turn = nil
	pp.mu.Unlock()
	if turn != nil {
		turn.once.Do(func() {
			turn.out <- errorEvent(fmt.Sprintf("%s pooled process exited mid-turn", pp.pool.strat.ID()))
			turn.out <- doneEvent()
			close(turn.done)
		})
	}
}

func (pp *pooledProc) finishTurn(turn *poolTurn, errText string) {
	pp.mu.Lock()
	pp.turn = nil
	pp.lastUsed = time.Now()
	pp.mu.Unlock()

	turn.once.Do(func() {
		if errText != "" {
			turn.out <- errorEvent(pp.pool.framework.sanitize(pp.pool.strat, errText))
		} else {
			turn.out <- Event{Type: EventTextFinal, Text: turn.st.finalText(OutputJSONL)}
		}
		turn.out <- doneEvent()
		close(turn.done)
	})
}

func (pp *pooledProc) sessionID() string {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.sid
}

func (pp *pooledProc) isDead() bool {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.dead
}

func (pp *pooledProc) touch() {
	pp.mu.Lock()
	pp.lastUsed = time.Now()
	pp.mu.Unlock()
}

func (pp *pooledProc) last() time.Time {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.lastUsed
}

func (pp *pooledProc) kill() {
	pp.mu.Lock()
	cmd := pp.cmd
	pp.dead = true
	pp.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGKILL)
	}
}
