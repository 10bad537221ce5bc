package utils

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCronID(t *testing.T) {
	id := NewCronID()
	require.True(t, strings.HasPrefix(id, "cron-"))
	assert.Len(t, id, len("cron-")+8)
	assert.NotEqual(t, id, NewCronID())
}

func TestExpandPath(t *testing.T) {
	abs := ExpandPath("~/state")
	assert.True(t, filepath.IsAbs(abs))
	assert.True(t, strings.HasSuffix(abs, "state"))

	assert.True(t, filepath.IsAbs(ExpandPath("relative/dir")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "hello w...", Truncate("hello world and more", 10))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "🦉 daily", TruncateRunes("🦉 daily", 10))
	got := TruncateRunes("🦉 daily digest", 8)
	assert.Equal(t, 8, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "HEARTBEAT_OK", CollapseWhitespace("  HEARTBEAT_OK \n"))
	assert.Equal(t, "a b c", CollapseWhitespace("a\t b\n\nc"))
}

func TestCoalesceString(t *testing.T) {
	assert.Equal(t, "b", CoalesceString("", "b", "c"))
	assert.Equal(t, "", CoalesceString("", ""))
}

func TestContains(t *testing.T) {
	assert.True(t, Contains([]string{"a", "b"}, "b"))
	assert.False(t, Contains([]int{1, 2}, 3))
}
