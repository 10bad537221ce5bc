package actions

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultSpawnParallelism bounds concurrent spawnAgent executions.
const DefaultSpawnParallelism = 4

// MaxSpawnDepth rejects nested agent spawning: a spawned agent may not spawn
// further agents.
const MaxSpawnDepth = 1

// Context carries the origin of the output being dispatched.
type Context struct {
	GuildID   string
	ChannelID string
	UserID    string

	// Depth is 0 for direct invocations, 1 inside a spawned agent.
	Depth int
}

// HandlerFunc executes one directive and returns a user-facing summary.
type HandlerFunc func(ctx context.Context, actx Context, a Action) (string, error)

// Result mirrors one dispatched action.
type Result struct {
	Type    string
	OK      bool
	Summary string
	Error   string
}

// Dispatcher executes parsed directives through registered handlers.
type Dispatcher struct {
	logger           zerolog.Logger
	handlers         map[string]HandlerFunc
	spawnParallelism int
}

func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		logger:           logger.With().Str("component", "actions").Logger(),
		handlers:         make(map[string]HandlerFunc),
		spawnParallelism: DefaultSpawnParallelism,
	}
}

// Register installs the handler for a directive type. Registering a type the
// parser does not recognise is a programming error.
func (d *Dispatcher) Register(actionType string, h HandlerFunc) {
	if _, known := typeCategories[actionType]; !known {
		panic(fmt.Sprintf("actions: handler for unrecognised type %q", actionType))
	}
	d.handlers[actionType] = h
}

// Dispatch executes actions and returns a result list parallel to the input.
// Spawn actions run as a separate bounded-parallel batch; everything else is
// sequential in input order.
func (d *Dispatcher) Dispatch(ctx context.Context, actx Context, list []Action) []Result {
	results := make([]Result, len(list))

	var spawnIdx []int
	for i, a := range list {
		if a.Type == "spawnAgent" {
			spawnIdx = append(spawnIdx, i)
			continue
		}
		results[i] = d.runOne(ctx, actx, a)
	}

	if len(spawnIdx) > 0 {
		d.runSpawnBatch(ctx, actx, list, spawnIdx, results)
	}
	return results
}

func (d *Dispatcher) runOne(ctx context.Context, actx Context, a Action) Result {
	h, ok := d.handlers[a.Type]
	if !ok {
		return Result{Type: a.Type, OK: false, Error: "no handler registered"}
	}

	summary, err := h(ctx, actx, a)
	if err != nil {
		d.logger.Warn().Str("action", a.Type).Err(err).Msg("Action failed")
		return Result{Type: a.Type, OK: false, Error: err.Error()}
	}
	return Result{Type: a.Type, OK: true, Summary: summary}
}

// runSpawnBatch executes spawnAgent directives with a bounded worker window,
// writing results back in input order.
func (d *Dispatcher) runSpawnBatch(ctx context.Context, actx Context, list []Action, idx []int, results []Result) {
	if actx.Depth >= MaxSpawnDepth {
		for _, i := range idx {
			results[i] = Result{Type: list[i].Type, OK: false, Error: "spawned agents cannot spawn further agents"}
		}
		return
	}

	sem := make(chan struct{}, d.spawnParallelism)
	var wg sync.WaitGroup
	for _, i := range idx {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			child := actx
			child.Depth++
			results[i] = d.runOne(ctx, child, list[i])
		}(i)
	}
	wg.Wait()
}

// DisplayLines renders one formatted line per result, in order.
func DisplayLines(results []Result) string {
	var b strings.Builder
	for _, r := range results {
		if r.OK {
			summary := r.Summary
			if summary == "" {
				summary = "done"
			}
			fmt.Fprintf(&b, "✅ %s: %s\n", r.Type, summary)
		} else {
			fmt.Fprintf(&b, "⚠️ %s: %s\n", r.Type, r.Error)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// RetryPlaceholder synthesizes the follow-up prompt line for the first
// non-query failure, or "" when no retry is warranted.
func RetryPlaceholder(results []Result) string {
	for _, r := range results {
		if r.OK || queryTypes[r.Type] {
			continue
		}
		return fmt.Sprintf("Action failed (`%s`: %s). Retrying…", r.Type, r.Error)
	}
	return ""
}
