package cron

import "sync/atomic"

// Metrics counts run outcomes for the status surface.
type Metrics struct {
	success atomic.Int64
	failure atomic.Int64
	skipped atomic.Int64
}

func (m *Metrics) RecordSuccess() { m.success.Add(1) }
func (m *Metrics) RecordError()   { m.failure.Add(1) }
func (m *Metrics) RecordSkipped() { m.skipped.Add(1) }

// Snapshot returns (success, error, skipped) totals.
func (m *Metrics) Snapshot() (int64, int64, int64) {
	return m.success.Load(), m.failure.Load(), m.skipped.Load()
}
