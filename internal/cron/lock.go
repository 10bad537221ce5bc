package cron

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// lockFileContent is written into each lock file so a later process can tell
// who owns a lock and whether that owner is still alive.
type lockFileContent struct {
	Token      string `json:"token"`
	PID        int    `json:"pid"`
	AcquiredAt int64  `json:"acquiredAt"`
}

// runLock serializes executions of one cron job across host instances. The
// lock is an exclusively created file under a shared directory, keyed by
// cronId.
type runLock struct {
	path  string
	token string
}

// acquireRunLock attempts the atomic exclusive create. A held lock returns
// (nil, nil): lock contention is a quiet skip, not an error. Locks whose
// owning PID is dead are broken and re-tried once.
func acquireRunLock(lockDir, cronID string, logger zerolog.Logger) (*runLock, error) {
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("cron: creating lock dir: %w", err)
	}
	path := filepath.Join(lockDir, cronID+".lock")

	for attempt := 0; attempt < 2; attempt++ {
		lock, err := tryCreateLock(path)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		if attempt > 0 || !breakIfStale(path, logger) {
			return nil, nil
		}
	}
	return nil, nil
}

func tryCreateLock(path string) (*runLock, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := uuid.NewString()
	content, err := json.Marshal(lockFileContent{
		Token:      token,
		PID:        os.Getpid(),
		AcquiredAt: time.Now().UnixMilli(),
	})
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	if _, err := f.Write(content); err != nil {
		os.Remove(path)
		return nil, err
	}
	return &runLock{path: path, token: token}, nil
}

// breakIfStale removes a lock whose owning process is gone. Unreadable lock
// files are left alone: they may belong to a writer mid-flight.
func breakIfStale(path string, logger zerolog.Logger) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var content lockFileContent
	if err := json.Unmarshal(data, &content); err != nil || content.PID <= 0 {
		return false
	}
	if pidAlive(content.PID) {
		return false
	}
	logger.Warn().Str("lock", path).Int("pid", content.PID).Msg("Breaking stale run lock from dead process")
	return os.Remove(path) == nil
}

// pidAlive probes a PID with signal 0.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Release removes the lock file. Only the token owner releases; a lock file
// replaced by someone else (after a stale break) is left untouched.
func (l *runLock) Release() {
	data, err := os.ReadFile(l.path)
	if err == nil {
		var content lockFileContent
		if json.Unmarshal(data, &content) == nil && content.Token != l.token {
			return
		}
	}
	os.Remove(l.path)
}
