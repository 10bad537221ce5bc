// Package cron fires scheduled jobs and executes them with single-flight
// guarantees across processes.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// scheduleParser accepts standard 5-field expressions plus descriptors like
// "@daily". Per-job timezones ride on a CRON_TZ prefix.
var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is one scheduler registration. Jobs with an empty schedule are
// registered for lookup but never self-fire (webhook/manual trigger only).
type Job struct {
	CronID   string
	Name     string
	Schedule string
	Timezone string

	entryID cron.EntryID
}

// ExecuteFunc runs one job. The context is cancelled on scheduler shutdown.
type ExecuteFunc func(ctx context.Context, cronID string)

// Scheduler owns the in-memory schedule set. Firing never waits on a prior
// run; overlap skipping is the executor's job.
type Scheduler struct {
	cron    *cron.Cron
	execute ExecuteFunc
	logger  zerolog.Logger

	mu      sync.RWMutex
	jobs    map[string]*Job
	running bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(execute ExecuteFunc, logger zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithParser(scheduleParser)),
		execute: execute,
		logger:  logger.With().Str("component", "cron").Logger(),
		jobs:    make(map[string]*Job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// specFor renders the robfig spec string with the job's timezone applied.
func specFor(job *Job) string {
	if job.Timezone == "" {
		return job.Schedule
	}
	return fmt.Sprintf("CRON_TZ=%s %s", job.Timezone, job.Schedule)
}

// ValidateSchedule reports whether expr parses as a firing schedule.
func ValidateSchedule(expr string) error {
	_, err := scheduleParser.Parse(expr)
	return err
}

// Register adds or replaces a job. An invalid expression is an error; an
// empty expression registers the job without a firing entry.
func (s *Scheduler) Register(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[job.CronID]; ok && old.entryID != 0 {
		s.cron.Remove(old.entryID)
	}

	j := job
	if j.Schedule != "" {
		cronID := j.CronID
		entryID, err := s.cron.AddFunc(specFor(&j), func() {
			go s.execute(s.ctx, cronID)
		})
		if err != nil {
			return fmt.Errorf("cron: registering %s: %w", j.CronID, err)
		}
		j.entryID = entryID
	}

	s.jobs[j.CronID] = &j
	s.logger.Debug().Str("cronId", j.CronID).Str("schedule", j.Schedule).Msg("Registered cron job")
	return nil
}

// Unregister removes a job and its firing entry.
func (s *Scheduler) Unregister(cronID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[cronID]
	if !ok {
		return
	}
	if job.entryID != 0 {
		s.cron.Remove(job.entryID)
	}
	delete(s.jobs, cronID)
}

// GetJob returns a snapshot of one registration.
func (s *Scheduler) GetJob(cronID string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[cronID]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// ListJobs returns a snapshot of all registrations.
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	return out
}

// NextRun returns the next firing time, zero for unscheduled jobs.
func (s *Scheduler) NextRun(cronID string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[cronID]
	if !ok || job.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(job.entryID).Next
}

// RunNow fires a job immediately, bypassing its schedule.
func (s *Scheduler) RunNow(cronID string) error {
	s.mu.RLock()
	_, ok := s.jobs[cronID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("cron: job not found: %s", cronID)
	}
	go s.execute(s.ctx, cronID)
	return nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Cron scheduler started")
}

// Stop halts firing and cancels in-flight run contexts.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cron.Stop()
	s.cancel()
	s.running = false
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
