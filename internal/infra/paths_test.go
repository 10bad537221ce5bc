package infra

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathResolution(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("FORUMCLAW_STATE_DIR", tempDir)
	Resolve()
	defer Resolve()

	assert.Equal(t, tempDir, resolveConfigDir())
	assert.Equal(t, filepath.Join(tempDir, "data"), resolveDataDir())
	assert.Equal(t, filepath.Join(tempDir, "locks"), resolveLockDir())
}

func TestEnsureDirs(t *testing.T) {
	tempDir := t.TempDir()

	oldPaths := Paths
	defer func() { Paths = oldPaths }()

	Paths.ConfigDir = tempDir + "/config"
	Paths.DataDir = tempDir + "/data"
	Paths.LockDir = tempDir + "/locks"
	Paths.LogDir = tempDir + "/log"

	err := EnsureDirs()
	assert.NoError(t, err)

	assert.DirExists(t, Paths.ConfigDir)
	assert.DirExists(t, Paths.DataDir)
	assert.DirExists(t, Paths.LockDir)
	assert.DirExists(t, Paths.LogDir)
}
