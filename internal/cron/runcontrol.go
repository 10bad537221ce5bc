package cron

import (
	"context"
	"sync"
)

// RunControl maps in-progress job IDs to cancel hooks so external actions
// (a cancelRun directive, host shutdown) can interrupt a running job.
type RunControl struct {
	mu   sync.Mutex
	runs map[string]context.CancelFunc
}

func NewRunControl() *RunControl {
	return &RunControl{runs: make(map[string]context.CancelFunc)}
}

func (rc *RunControl) register(cronID string, cancel context.CancelFunc) {
	rc.mu.Lock()
	rc.runs[cronID] = cancel
	rc.mu.Unlock()
}

func (rc *RunControl) unregister(cronID string) {
	rc.mu.Lock()
	delete(rc.runs, cronID)
	rc.mu.Unlock()
}

// Cancel requests cancellation of an in-progress run. Reports whether a run
// was actually in progress.
func (rc *RunControl) Cancel(cronID string) bool {
	rc.mu.Lock()
	cancel, ok := rc.runs[cronID]
	rc.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Active reports whether a run is in progress for the job.
func (rc *RunControl) Active(cronID string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	_, ok := rc.runs[cronID]
	return ok
}

// CancelAll interrupts every in-progress run.
func (rc *RunControl) CancelAll() {
	rc.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(rc.runs))
	for _, c := range rc.runs {
		cancels = append(cancels, c)
	}
	rc.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}
