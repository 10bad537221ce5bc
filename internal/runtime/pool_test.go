package runtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoPoolStrategy frames turns as JSON lines and parses the echo coming
// back from a pooled `cat` process, so the pool plumbing is exercised with a
// real long-lived subprocess.
type echoPoolStrategy struct {
	scriptStrategy

	// frameNoEcho frames a turn the parser treats as never finishing, which
	// simulates a hung pooled process.
	frameNoEcho bool
}

func newEchoPoolStrategy() *echoPoolStrategy {
	s := &echoPoolStrategy{}
	s.id = "echo"
	s.mode = OutputJSONL
	s.multiTurn = MultiTurnProcessPool
	s.script = `printf '{"prompt":"one-shot fallback","done":true}\n'`
	s.parse = func(line []byte, _ *InvokeContext) *ParsedLine {
		var msg struct {
			Prompt string `json:"prompt"`
			Sid    string `json:"session_id"`
			Done   bool   `json:"done"`
		}
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil
		}
		return &ParsedLine{
			ResultText: msg.Prompt,
			SessionID:  msg.Sid,
			TurnDone:   msg.Done,
		}
	}
	return s
}

func (s *echoPoolStrategy) BuildPoolArgs(*InvokeContext) []string {
	return []string{"-c", "cat"}
}

func (s *echoPoolStrategy) FrameUserTurn(prompt string, _ []Image, sessionID string) ([]byte, error) {
	if s.frameNoEcho {
		return json.Marshal(map[string]any{"done": false})
	}
	return json.Marshal(map[string]any{
		"prompt":     prompt,
		"session_id": "pool-sess",
		"done":       true,
	})
}

func TestPoolTurnRoundTrip(t *testing.T) {
	f := newTestFramework()
	strat := newEchoPoolStrategy()

	events := collect(f.InvokeTurn(context.Background(), strat, InvokeOptions{
		Prompt:     "first turn",
		SessionKey: "thread-1",
	}))

	require.NotEmpty(t, events)
	assert.Equal(t, EventDone, events[len(events)-1].Type)
	assert.Equal(t, "first turn", finalTextOf(events))
}

func TestPoolReusesProcessAcrossTurns(t *testing.T) {
	f := newTestFramework()
	strat := newEchoPoolStrategy()

	collect(f.InvokeTurn(context.Background(), strat, InvokeOptions{Prompt: "a", SessionKey: "thread-2"}))

	pool := f.poolFor(strat)
	pool.mu.Lock()
	proc, ok := pool.procs["thread-2"]
	pool.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, "pool-sess", proc.sessionID())

	events := collect(f.InvokeTurn(context.Background(), strat, InvokeOptions{Prompt: "b", SessionKey: "thread-2"}))
	assert.Equal(t, "b", finalTextOf(events))

	pool.mu.Lock()
	same := pool.procs["thread-2"] == proc
	pool.mu.Unlock()
	assert.True(t, same)
}

func TestPoolFallsBackToOneShotWhenTurnHangs(t *testing.T) {
	f := newTestFramework()
	strat := newEchoPoolStrategy()
	// The pooled process swallows input without answering; the hung turn
	// must evict it and fall back to a one-shot invocation.
	strat.frameNoEcho = true

	pool := f.poolFor(strat)
	pool.turnTimeout = 200 * time.Millisecond

	events := collect(f.InvokeTurn(context.Background(), strat, InvokeOptions{
		Prompt:     "ignored",
		SessionKey: "thread-3",
	}))

	assert.Equal(t, "one-shot fallback", finalTextOf(events))

	pool.mu.Lock()
	_, alive := pool.procs["thread-3"]
	pool.mu.Unlock()
	assert.False(t, alive)
}

func TestPoolNoSessionKeyBypassesPool(t *testing.T) {
	f := newTestFramework()
	strat := newEchoPoolStrategy()
	// Without a session key the one-shot path runs the script directly.
	events := collect(f.InvokeTurn(context.Background(), strat, InvokeOptions{Prompt: "x"}))

	assert.Equal(t, "one-shot fallback", finalTextOf(events))

	f.mu.Lock()
	_, created := f.pools["echo"]
	f.mu.Unlock()
	assert.False(t, created)
}

func TestPoolKillAllTearsDownProcesses(t *testing.T) {
	f := newTestFramework()
	strat := newEchoPoolStrategy()

	collect(f.InvokeTurn(context.Background(), strat, InvokeOptions{Prompt: "a", SessionKey: "thread-4"}))

	pool := f.poolFor(strat)
	pool.KillAll()

	pool.mu.Lock()
	remaining := len(pool.procs)
	pool.mu.Unlock()
	assert.Zero(t, remaining)
}
