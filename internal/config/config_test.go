package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateState(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FORUMCLAW_STATE_DIR", dir)
	t.Setenv("FORUMCLAW_CONFIG_PATH", "")
	return dir
}

func TestStateDirOverride(t *testing.T) {
	dir := isolateState(t)
	assert.Equal(t, dir, StateDir())
	assert.Equal(t, filepath.Join(dir, "forumclaw.json"), ConfigPath())
	assert.Equal(t, filepath.Join(dir, "cron-stats.json"), StatsPath())
	assert.Equal(t, filepath.Join(dir, "locks"), LockDir())
}

func TestLoadMissingConfig(t *testing.T) {
	isolateState(t)
	_, err := Load()
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoadAppliesDefaultsAndExpandsEnv(t *testing.T) {
	dir := isolateState(t)
	t.Setenv("DISCORD_BOT_TOKEN", "tok-123")

	doc := `{
		"discord": {"token": "${DISCORD_BOT_TOKEN}", "guildId": "g-1"},
		"sync": {"tagMapPath": "/tmp/tagmap.json"}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "forumclaw.json"), []byte(doc), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "tok-123", cfg.Discord.Token)
	assert.Equal(t, "g-1", cfg.Discord.GuildID)
	assert.Equal(t, "general", cfg.Discord.DefaultChannel)
	assert.Equal(t, "sonnet", cfg.Cron.DefaultModel)
	assert.Equal(t, 300_000, cfg.Cron.TimeoutMs)
	assert.Equal(t, 250, cfg.Sync.ThrottleMs)
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, "/tmp/tagmap.json", cfg.Sync.TagMapPath)
}

func TestSaveRoundTrip(t *testing.T) {
	isolateState(t)

	cfg := &Config{}
	cfg.Discord.Token = "tok"
	cfg.Discord.GuildID = "g-2"
	cfg.Cron.DefaultModel = "opus"
	cfg.Cron.TimeoutMs = 1000
	require.NoError(t, Save(cfg))

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "g-2", loaded.Discord.GuildID)
	assert.Equal(t, "opus", loaded.Cron.DefaultModel)
	assert.Equal(t, 1000, loaded.Cron.TimeoutMs)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.Discord.Token = "tok"
	cfg.Discord.GuildID = "g"
	cfg.Discord.DefaultChannel = "general"
	cfg.Cron.DefaultModel = "sonnet"
	cfg.Cron.TimeoutMs = 1

	assert.NoError(t, cfg.Validate())

	cfg.Discord.GuildID = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GuildID")

	cfg.Discord.GuildID = "g"
	cfg.Status.Probes = []ProbeConfig{{Name: "api", URL: "not a url"}}
	assert.Error(t, cfg.Validate())
}

func TestCronTimeoutHelpers(t *testing.T) {
	c := CronConfig{TimeoutMs: 1500, StreamStallTimeoutMs: 200, ProgressStallTimeoutMs: 300}
	assert.Equal(t, 1500*time.Millisecond, c.Timeout())
	assert.Equal(t, 200*time.Millisecond, c.StreamStall())
	assert.Equal(t, 300*time.Millisecond, c.ProgressStall())
}

func TestTimezone(t *testing.T) {
	var warn strings.Builder

	t.Setenv("DEFAULT_TIMEZONE", "")
	assert.Equal(t, time.Local, Timezone(&warn))
	assert.Empty(t, warn.String())

	t.Setenv("DEFAULT_TIMEZONE", "America/New_York")
	loc := Timezone(&warn)
	require.NotNil(t, loc)
	assert.Equal(t, "America/New_York", loc.String())
	assert.Empty(t, warn.String())

	t.Setenv("DEFAULT_TIMEZONE", "Mars/Olympus_Mons")
	assert.Equal(t, time.Local, Timezone(&warn))
	assert.Contains(t, warn.String(), "Mars/Olympus_Mons")
}

func TestSmokeTestTimeout(t *testing.T) {
	t.Setenv("SMOKE_TEST_TIMEOUT_MS", "")
	d, err := SmokeTestTimeout()
	require.NoError(t, err)
	assert.Zero(t, d)

	t.Setenv("SMOKE_TEST_TIMEOUT_MS", "2500")
	d, err = SmokeTestTimeout()
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, d)

	for _, bad := range []string{"0", "-5", "abc", "1.5"} {
		t.Setenv("SMOKE_TEST_TIMEOUT_MS", bad)
		_, err = SmokeTestTimeout()
		assert.Error(t, err, bad)
	}
}
