package cron

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRunLockRoundTrip(t *testing.T) {
	dir := t.TempDir()

	lock, err := acquireRunLock(dir, "cron-1", zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, lock)

	path := filepath.Join(dir, "cron-1.lock")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var content lockFileContent
	require.NoError(t, json.Unmarshal(data, &content))
	assert.Equal(t, os.Getpid(), content.PID)
	assert.NotEmpty(t, content.Token)

	lock.Release()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireRunLockContentionIsQuietSkip(t *testing.T) {
	dir := t.TempDir()

	first, err := acquireRunLock(dir, "cron-1", zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, first)
	defer first.Release()

	second, err := acquireRunLock(dir, "cron-1", zerolog.Nop())
	assert.NoError(t, err)
	assert.Nil(t, second)

	// A different job is unaffected.
	other, err := acquireRunLock(dir, "cron-2", zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, other)
	other.Release()
}

func TestAcquireRunLockReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()

	first, err := acquireRunLock(dir, "cron-1", zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, first)
	first.Release()

	second, err := acquireRunLock(dir, "cron-1", zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, second)
	second.Release()
}

func TestAcquireRunLockBreaksStaleLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cron-1.lock")

	// Use a real-but-dead PID so the liveness probe fails honestly.
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	deadPID := cmd.Process.Pid
	require.NoError(t, cmd.Wait())

	stale, err := json.Marshal(lockFileContent{
		Token:      "stale-token",
		PID:        deadPID,
		AcquiredAt: time.Now().Add(-time.Hour).UnixMilli(),
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, stale, 0o644))

	lock, err := acquireRunLock(dir, "cron-1", zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, lock)
	lock.Release()
}

func TestAcquireRunLockLeavesUnreadableLockAlone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cron-1.lock")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	lock, err := acquireRunLock(dir, "cron-1", zerolog.Nop())
	assert.NoError(t, err)
	assert.Nil(t, lock)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestReleaseLeavesReplacedLockUntouched(t *testing.T) {
	dir := t.TempDir()

	lock, err := acquireRunLock(dir, "cron-1", zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, lock)

	// Simulate another process breaking and re-taking the lock.
	path := filepath.Join(dir, "cron-1.lock")
	replaced, err := json.Marshal(lockFileContent{Token: "other-token", PID: os.Getpid(), AcquiredAt: time.Now().UnixMilli()})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, replaced, 0o644))

	lock.Release()
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
