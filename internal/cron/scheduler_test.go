package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRegisterAndList(t *testing.T) {
	s := NewScheduler(func(context.Context, string) {}, zerolog.Nop())

	require.NoError(t, s.Register(Job{CronID: "cron-1", Name: "daily", Schedule: "0 9 * * *"}))
	require.NoError(t, s.Register(Job{CronID: "cron-2", Name: "webhook-only"}))

	assert.Len(t, s.ListJobs(), 2)

	job, ok := s.GetJob("cron-1")
	require.True(t, ok)
	assert.Equal(t, "0 9 * * *", job.Schedule)
}

func TestSchedulerRejectsInvalidExpression(t *testing.T) {
	s := NewScheduler(func(context.Context, string) {}, zerolog.Nop())

	err := s.Register(Job{CronID: "cron-1", Schedule: "not a schedule"})
	assert.Error(t, err)
	_, ok := s.GetJob("cron-1")
	assert.False(t, ok)
}

func TestSchedulerEmptyScheduleNeverSelfFires(t *testing.T) {
	var fired atomic.Int32
	s := NewScheduler(func(context.Context, string) { fired.Add(1) }, zerolog.Nop())

	require.NoError(t, s.Register(Job{CronID: "cron-1"}))
	s.Start()
	defer s.Stop()

	assert.True(t, s.NextRun("cron-1").IsZero())
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestSchedulerNextRunHonorsTimezone(t *testing.T) {
	s := NewScheduler(func(context.Context, string) {}, zerolog.Nop())

	require.NoError(t, s.Register(Job{CronID: "cron-1", Schedule: "0 9 * * *", Timezone: "America/New_York"}))
	s.Start()
	defer s.Stop()

	next := s.NextRun("cron-1")
	require.False(t, next.IsZero())
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, 9, next.In(loc).Hour())
}

func TestSchedulerRunNow(t *testing.T) {
	fired := make(chan string, 1)
	s := NewScheduler(func(_ context.Context, id string) { fired <- id }, zerolog.Nop())

	require.NoError(t, s.Register(Job{CronID: "cron-1"}))
	require.NoError(t, s.RunNow("cron-1"))

	select {
	case id := <-fired:
		assert.Equal(t, "cron-1", id)
	case <-time.After(time.Second):
		t.Fatal("RunNow never fired")
	}

	assert.Error(t, s.RunNow("missing"))
}

func TestSchedulerUnregisterRemovesEntry(t *testing.T) {
	s := NewScheduler(func(context.Context, string) {}, zerolog.Nop())

	require.NoError(t, s.Register(Job{CronID: "cron-1", Schedule: "* * * * *"}))
	s.Unregister("cron-1")

	_, ok := s.GetJob("cron-1")
	assert.False(t, ok)
	assert.True(t, s.NextRun("cron-1").IsZero())
}

func TestSchedulerReregisterReplacesSchedule(t *testing.T) {
	s := NewScheduler(func(context.Context, string) {}, zerolog.Nop())
	s.Start()
	defer s.Stop()

	require.NoError(t, s.Register(Job{CronID: "cron-1", Schedule: "0 9 * * *"}))
	require.NoError(t, s.Register(Job{CronID: "cron-1", Schedule: "0 18 * * *"}))

	assert.Len(t, s.ListJobs(), 1)
	next := s.NextRun("cron-1")
	require.False(t, next.IsZero())
	assert.Equal(t, 18, next.Local().Hour())
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("*/5 * * * *"))
	assert.NoError(t, ValidateSchedule("@hourly"))
	assert.Error(t, ValidateSchedule("61 * * * *"))
	assert.Error(t, ValidateSchedule(""))
}
