// Package config provides configuration management for forumclaw.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrConfigNotFound indicates no usable config file was found.
var ErrConfigNotFound = errors.New("config not found")

// Config matches the structure of forumclaw.json.
type Config struct {
	Meta      MetaConfig      `json:"meta" mapstructure:"meta"`
	Discord   DiscordConfig   `json:"discord" mapstructure:"discord"`
	Cron      CronConfig      `json:"cron" mapstructure:"cron"`
	Sync      SyncConfig      `json:"sync" mapstructure:"sync"`
	Overrides OverridesConfig `json:"overrides" mapstructure:"overrides"`
	Status    StatusConfig    `json:"status" mapstructure:"status"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
}

type MetaConfig struct {
	LastTouchedVersion string `json:"lastTouchedVersion" mapstructure:"lastTouchedVersion"`
	LastTouchedAt      string `json:"lastTouchedAt" mapstructure:"lastTouchedAt"`
}

type DiscordConfig struct {
	Token          string `json:"token" mapstructure:"token" validate:"required"`
	GuildID        string `json:"guildId" mapstructure:"guildId" validate:"required"`
	ForumChannelID string `json:"forumChannelId" mapstructure:"forumChannelId"`
	DefaultChannel string `json:"defaultChannel" mapstructure:"defaultChannel" validate:"required"`
	// AllowedChannels restricts JSON routing targets; empty allows all.
	AllowedChannels []string `json:"allowedChannels" mapstructure:"allowedChannels"`
}

type CronConfig struct {
	DefaultModel string   `json:"defaultModel" mapstructure:"defaultModel" validate:"required"`
	Tools        []string `json:"tools" mapstructure:"tools"`
	// ContextFiles are workspace documents prepended to every prompt.
	ContextFiles     []string `json:"contextFiles" mapstructure:"contextFiles"`
	SecurityPreamble string   `json:"securityPreamble" mapstructure:"securityPreamble"`

	TimeoutMs              int `json:"timeoutMs" mapstructure:"timeoutMs" validate:"gt=0"`
	StreamStallTimeoutMs   int `json:"streamStallTimeoutMs" mapstructure:"streamStallTimeoutMs" validate:"gte=0"`
	ProgressStallTimeoutMs int `json:"progressStallTimeoutMs" mapstructure:"progressStallTimeoutMs" validate:"gte=0"`

	ActionsEnabled bool `json:"actionsEnabled" mapstructure:"actionsEnabled"`
}

type SyncConfig struct {
	Enabled    bool             `json:"enabled" mapstructure:"enabled"`
	ThrottleMs int              `json:"throttleMs" mapstructure:"throttleMs" validate:"gte=0"`
	TagMapPath string           `json:"tagMapPath" mapstructure:"tagMapPath"`
	IntervalMs int              `json:"intervalMs" mapstructure:"intervalMs" validate:"gte=0"`
	Classifier ClassifierConfig `json:"classifier" mapstructure:"classifier"`
}

type ClassifierConfig struct {
	// APIKey may reference an env var (e.g. "${OPENAI_API_KEY}"). Empty
	// disables classification; the sync engine degrades gracefully.
	APIKey string `json:"apiKey" mapstructure:"apiKey"`
	Model  string `json:"model" mapstructure:"model"`
}

type OverridesConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

type StatusConfig struct {
	Probes     []ProbeConfig `json:"probes" mapstructure:"probes"`
	WatchFiles []string      `json:"watchFiles" mapstructure:"watchFiles"`
}

type ProbeConfig struct {
	Name      string `json:"name" mapstructure:"name" validate:"required"`
	URL       string `json:"url" mapstructure:"url" validate:"required,url"`
	TimeoutMs int    `json:"timeoutMs" mapstructure:"timeoutMs" validate:"gte=0"`
}

type LoggingConfig struct {
	Verbose bool `json:"verbose" mapstructure:"verbose"`
}

// StateDir returns the forumclaw state directory path.
// Can be overridden via FORUMCLAW_STATE_DIR environment variable.
// Default: ~/.forumclaw
func StateDir() string {
	if override := strings.TrimSpace(os.Getenv("FORUMCLAW_STATE_DIR")); override != "" {
		return expandPath(override)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".forumclaw"
	}
	return filepath.Join(home, ".forumclaw")
}

// ConfigPath returns the default config file path.
// Can be overridden via FORUMCLAW_CONFIG_PATH environment variable.
// Default: ~/.forumclaw/forumclaw.json
func ConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("FORUMCLAW_CONFIG_PATH")); override != "" {
		return expandPath(override)
	}
	return filepath.Join(StateDir(), "forumclaw.json")
}

// StatsPath returns the cron run-stats document path.
func StatsPath() string {
	return filepath.Join(StateDir(), "cron-stats.json")
}

// LockDir returns the directory holding per-run lock files.
func LockDir() string {
	return filepath.Join(StateDir(), "locks")
}

// expandPath expands ~ to home directory and resolves the path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = strings.Replace(path, "~", home, 1)
		}
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}

// ShellEnvExpectedKeys defines the environment variables forumclaw reads.
var ShellEnvExpectedKeys = []string{
	"DISCORD_BOT_TOKEN",
	"OPENAI_API_KEY",
	"CLAUDE_BIN",
	"CODEX_BIN",
	"GEMINI_BIN",
	"DEFAULT_TIMEZONE",
	"FORUMCLAW_TOOL_TIERS",
	"SMOKE_TEST_TIERS",
	"GEMINI_SMOKE_TEST_TIERS",
	"OPENAI_SMOKE_TEST_TIERS",
	"CODEX_SMOKE_TEST_TIERS",
	"SMOKE_TEST_TIMEOUT_MS",
}

// LoadViper loads the configuration into a Viper instance.
func LoadViper() (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	if configPath := strings.TrimSpace(os.Getenv("FORUMCLAW_CONFIG_PATH")); configPath != "" {
		expandedPath := expandPath(configPath)
		fileInfo, err := os.Stat(expandedPath)
		if err == nil && fileInfo.IsDir() {
			v.SetConfigName("forumclaw")
			v.AddConfigPath(expandedPath)
		} else {
			v.SetConfigFile(expandedPath)
		}
	} else {
		v.SetConfigName("forumclaw")
		v.AddConfigPath(StateDir())
	}

	v.SetEnvPrefix("FORUMCLAW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, ErrConfigNotFound
		}
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	return v, nil
}

// Load reads the configuration from file or environment variables.
func Load() (*Config, error) {
	v, err := LoadViper()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	expandEnvVars(&cfg)

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("cron.defaultModel", "sonnet")
	v.SetDefault("cron.timeoutMs", 300_000)
	v.SetDefault("cron.streamStallTimeoutMs", 90_000)
	v.SetDefault("cron.progressStallTimeoutMs", 180_000)
	v.SetDefault("cron.actionsEnabled", true)

	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.throttleMs", 250)
	v.SetDefault("sync.intervalMs", 3_600_000)
	v.SetDefault("sync.classifier.model", "gpt-4o-mini")

	v.SetDefault("discord.defaultChannel", "general")
}

// expandEnvVars expands environment variables in sensitive fields.
func expandEnvVars(cfg *Config) {
	cfg.Discord.Token = os.ExpandEnv(cfg.Discord.Token)
	cfg.Sync.Classifier.APIKey = os.ExpandEnv(cfg.Sync.Classifier.APIKey)
}

// Save saves the configuration to the config file. Only JSON format is
// supported.
func Save(cfg *Config) error {
	configPath := ConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}

// Validate checks for semantic errors in the config.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return err
		}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("config field %s failed %q validation", first.Namespace(), first.Tag())
		}
		return err
	}
	return nil
}

// Timeout helpers on CronConfig keep millisecond config fields out of the
// executor wiring.

func (c CronConfig) Timeout() time.Duration       { return time.Duration(c.TimeoutMs) * time.Millisecond }
func (c CronConfig) StreamStall() time.Duration   { return time.Duration(c.StreamStallTimeoutMs) * time.Millisecond }
func (c CronConfig) ProgressStall() time.Duration { return time.Duration(c.ProgressStallTimeoutMs) * time.Millisecond }

// Timezone resolves DEFAULT_TIMEZONE. Invalid names fall back to the system
// timezone with a warning on warn (normally stderr).
func Timezone(warn io.Writer) *time.Location {
	name := strings.TrimSpace(os.Getenv("DEFAULT_TIMEZONE"))
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		fmt.Fprintf(warn, "Warning: invalid DEFAULT_TIMEZONE %q, using system timezone\n", name)
		return time.Local
	}
	return loc
}

// SmokeTestTimeout parses SMOKE_TEST_TIMEOUT_MS. Unset returns (0, nil);
// anything but a positive integer is a configuration error.
func SmokeTestTimeout() (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv("SMOKE_TEST_TIMEOUT_MS"))
	if raw == "" {
		return 0, nil
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("SMOKE_TEST_TIMEOUT_MS must be a positive integer, got %q", raw)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
