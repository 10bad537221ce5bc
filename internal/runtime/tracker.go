package runtime

import (
	"os"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// Tracker is a process-wide registry of live runtime subprocesses and pools.
// The host's shutdown handler calls KillAll so no orphaned CLI processes
// outlive a SIGTERM.
type Tracker struct {
	mu    sync.Mutex
	procs map[int]*os.Process
	pools map[*Pool]struct{}
}

var (
	trackerOnce sync.Once
	tracker     *Tracker
)

// GlobalTracker returns the singleton tracker.
func GlobalTracker() *Tracker {
	trackerOnce.Do(func() {
		tracker = &Tracker{
			procs: make(map[int]*os.Process),
			pools: make(map[*Pool]struct{}),
		}
	})
	return tracker
}

// Register adds a live subprocess.
func (t *Tracker) Register(p *os.Process) {
	if p == nil {
		return
	}
	t.mu.Lock()
	t.procs[p.Pid] = p
	t.mu.Unlock()
}

// Unregister removes a subprocess, normally after Wait returns.
func (t *Tracker) Unregister(p *os.Process) {
	if p == nil {
		return
	}
	t.mu.Lock()
	delete(t.procs, p.Pid)
	t.mu.Unlock()
}

// RegisterPool adds a process pool for shutdown.
func (t *Tracker) RegisterPool(p *Pool) {
	t.mu.Lock()
	t.pools[p] = struct{}{}
	t.mu.Unlock()
}

// KillAll SIGKILLs every tracked subprocess and shuts down every pool.
func (t *Tracker) KillAll(logger zerolog.Logger) {
	t.mu.Lock()
	procs := make([]*os.Process, 0, len(t.procs))
	for _, p := range t.procs {
		procs = append(procs, p)
	}
	pools := make([]*Pool, 0, len(t.pools))
	for p := range t.pools {
		pools = append(pools, p)
	}
	t.procs = make(map[int]*os.Process)
	t.pools = make(map[*Pool]struct{})
	t.mu.Unlock()

	for _, p := range procs {
		_ = p.Signal(syscall.SIGKILL)
	}
	for _, p := range pools {
		p.KillAll()
	}
	if len(procs) > 0 || len(pools) > 0 {
		logger.Info().Int("processes", len(procs)).Int("pools", len(pools)).Msg("Killed tracked runtime subprocesses")
	}
}
