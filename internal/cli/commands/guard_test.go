package commands

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenGuardCleanTree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("nothing here\n"), 0o644))

	out, err := execCommand(t, NewTokenGuardCommand(), "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "legacy-token-guard: 1 files scanned, no legacy tokens found")
}

func TestTokenGuardReportsViolations(t *testing.T) {
	root := t.TempDir()
	key := "sk-ant-" + strings.Repeat("a", 24)
	require.NoError(t, os.WriteFile(filepath.Join(root, "env.txt"), []byte("KEY="+key+"\n"), 0o644))

	out, err := execCommand(t, NewTokenGuardCommand(), "--root", root)
	require.Error(t, err)
	assert.Contains(t, out, "env.txt:1:5 [anthropic-api-key]")
	assert.Contains(t, err.Error(), "1 legacy token(s) found")
}
