// Package infra provides infrastructure utilities.
package infra

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/forumclaw/forumclaw/internal/config"
)

// Paths holds commonly used paths.
var Paths = struct {
	ConfigDir string
	DataDir   string
	LockDir   string
	LogDir    string
}{
	ConfigDir: resolveConfigDir(),
	DataDir:   resolveDataDir(),
	LockDir:   resolveLockDir(),
	LogDir:    resolveLogDir(),
}

func resolveConfigDir() string {
	return config.StateDir()
}

func resolveDataDir() string {
	return filepath.Join(config.StateDir(), "data")
}

func resolveLockDir() string {
	return config.LockDir()
}

func resolveLogDir() string {
	home, _ := os.UserHomeDir()

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Logs", "forumclaw")
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData != "" {
			return filepath.Join(localAppData, "Forumclaw", "logs")
		}
		return filepath.Join(home, "Forumclaw", "logs")
	default:
		return filepath.Join(home, ".local", "state", "forumclaw", "logs")
	}
}

// Resolve re-evaluates all paths. Call after changing FORUMCLAW_STATE_DIR.
func Resolve() {
	Paths.ConfigDir = resolveConfigDir()
	Paths.DataDir = resolveDataDir()
	Paths.LockDir = resolveLockDir()
	Paths.LogDir = resolveLogDir()
}

// EnsureDirs creates all required directories.
func EnsureDirs() error {
	dirs := []string{
		Paths.ConfigDir,
		Paths.DataDir,
		Paths.LockDir,
		Paths.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}
